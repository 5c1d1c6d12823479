package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/starmark/internal/store"
)

func TestStorePutUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewStore(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO documents").
		WithArgs("chatCrawl", "https://x.test", []byte(`{"status":"started"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Put(context.Background(), "chatCrawl", "https://x.test", json.RawMessage(`{"status":"started"}`)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetMissingIsNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewStore(mock, "documents")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT data FROM documents").
		WithArgs("settings", "locale").
		WillReturnError(pgx.ErrNoRows)

	_, err = s.Get(context.Background(), "settings", "locale")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetAll(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewStore(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, data FROM documents").
		WithArgs("settings").
		WillReturnRows(pgxmock.NewRows([]string{"id", "data"}).
			AddRow("aiModelType", []byte(`"gpt-4o"`)).
			AddRow("locale", []byte(`"en-US"`)))

	records, err := s.GetAll(context.Background(), "settings")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "locale", records[1].ID)
	require.JSONEq(t, `"en-US"`, string(records[1].Data))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewStore(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM documents").
		WithArgs("chatCrawl", "https://x.test").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, s.Delete(context.Background(), "chatCrawl", "https://x.test"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewStore(mock, "documents; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")
	_, err = NewRunStore(nil, "")
	require.ErrorContains(t, err, "pool is required")
}

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewRunStore(mock, "")
	require.NoError(t, err)

	ctx := context.Background()
	runID := uuid.New()
	start := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO batch_runs").
		WithArgs(runID, start, store.RunRunning, 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE batch_runs").
		WithArgs(int64(2), int64(1), int64(0), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE batch_runs").
		WithArgs(start.Add(time.Minute), store.RunCompleted, (*string)(nil), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.UpsertRunStart(ctx, runID, start, 3))
	require.NoError(t, s.AddOutcomes(ctx, runID, store.OutcomeDelta{Finished: 2, Failed: 1}))
	require.NoError(t, s.AddOutcomes(ctx, runID, store.OutcomeDelta{}))
	require.NoError(t, s.CompleteRun(ctx, runID, start.Add(time.Minute), store.RunCompleted, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreCompleteMissing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewRunStore(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("UPDATE batch_runs").
		WithArgs(pgxmock.AnyArg(), store.RunError, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	msg := "boom"
	err = s.CompleteRun(context.Background(), uuid.New(), time.Now(), store.RunError, &msg)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunStoreGetAndList(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewRunStore(mock, "")
	require.NoError(t, err)

	runID := uuid.New()
	start := time.Unix(1700000000, 0).UTC()
	columns := []string{"id", "started_at", "finished_at", "status", "error_message", "total", "finished", "failed", "decode_failed"}

	mock.ExpectQuery("SELECT (.+) FROM batch_runs WHERE id").
		WithArgs(runID).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(runID, start, (*time.Time)(nil), store.RunRunning, (*string)(nil), 4, int64(1), int64(0), int64(0)))
	mock.ExpectQuery("SELECT (.+) FROM batch_runs").
		WithArgs(pgxmock.AnyArg(), 10, 0).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(runID, start, (*time.Time)(nil), store.RunRunning, (*string)(nil), 4, int64(1), int64(0), int64(0)))
	mock.ExpectQuery("SELECT (.+) FROM batch_runs WHERE id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	run, err := s.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, 4, run.Total)
	require.EqualValues(t, 1, run.Finished)

	runs, err := s.ListRuns(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	_, err = s.GetRun(context.Background(), uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
