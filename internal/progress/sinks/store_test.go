package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/starmark/internal/progress"
	"github.com/JakeFAU/starmark/internal/storage/memory"
	"github.com/JakeFAU/starmark/internal/store"
)

func TestStoreSinkRecordsRun(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	run := progress.UUIDToBytes(runUUID)
	now := time.Now()

	batch := []progress.Event{
		{RunID: run, TS: now, Stage: progress.StageBatchStart, Total: 4},
		{RunID: run, TS: now, Stage: progress.StageCrawlStarted, URL: "https://a.test"},
		{RunID: run, TS: now, Stage: progress.StageCrawlFinished, URL: "https://a.test"},
		{RunID: run, TS: now, Stage: progress.StageCrawlFinished, URL: "https://b.test"},
		{RunID: run, TS: now, Stage: progress.StageCrawlFailed, URL: "https://c.test"},
		{RunID: run, TS: now, Stage: progress.StageCrawlDecodeError, URL: "https://d.test"},
		{TS: now, Stage: progress.StageCrawlFinished, URL: "https://solo.test"},
		{RunID: run, TS: now.Add(time.Minute), Stage: progress.StageBatchDone},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	got, err := repo.GetRun(context.Background(), runUUID)
	require.NoError(t, err)
	require.Equal(t, store.RunCompleted, got.Status)
	require.Equal(t, 4, got.Total)
	require.Equal(t, int64(2), got.Finished)
	require.Equal(t, int64(1), got.Failed)
	require.Equal(t, int64(1), got.DecodeFailed)
	require.NotNil(t, got.FinishedAt)
	require.Nil(t, got.ErrorMessage)
}

func TestStoreSinkPausedAndErrorRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewRunStore()
	sink := NewStoreSink(repo, nil)
	paused, failed := uuid.New(), uuid.New()
	now := time.Now()

	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{RunID: progress.UUIDToBytes(paused), TS: now, Stage: progress.StageBatchStart, Total: 1},
		{RunID: progress.UUIDToBytes(failed), TS: now, Stage: progress.StageBatchStart, Total: 1},
	}))
	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{RunID: progress.UUIDToBytes(paused), TS: now, Stage: progress.StageBatchPaused},
		{RunID: progress.UUIDToBytes(failed), TS: now, Stage: progress.StageBatchError, Note: "store down"},
	}))

	p, err := repo.GetRun(ctx, paused)
	require.NoError(t, err)
	require.Equal(t, store.RunPaused, p.Status)

	f, err := repo.GetRun(ctx, failed)
	require.NoError(t, err)
	require.Equal(t, store.RunError, f.Status)
	require.NotNil(t, f.ErrorMessage)
	require.Equal(t, "store down", *f.ErrorMessage)
}

func TestStoreSinkSurfacesRepoErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(failingRepo{}, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageBatchStart},
	})
	require.ErrorContains(t, err, "upsert run start")
}

type failingRepo struct{ store.RunRepository }

func (failingRepo) UpsertRunStart(context.Context, uuid.UUID, time.Time, int) error {
	return errors.New("boom")
}
