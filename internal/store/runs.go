package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus mirrors the batch_runs status column.
type RunStatus string

// Batch run statuses.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPaused    RunStatus = "paused"
	RunError     RunStatus = "error"
)

// Run is one batch crawl invocation.
type Run struct {
	ID uuid.UUID
	// StartedAt is when the run was first marked running.
	StartedAt time.Time
	// FinishedAt stays nil until the run completes or pauses.
	FinishedAt   *time.Time
	Status       RunStatus
	ErrorMessage *string
	// Total is the number of targets the run was started with.
	Total        int
	Finished     int64
	Failed       int64
	DecodeFailed int64
}

// OutcomeDelta holds per-URL outcome increments for a run.
type OutcomeDelta struct {
	Finished     int64
	Failed       int64
	DecodeFailed int64
}

// Empty reports whether the delta changes nothing.
func (d OutcomeDelta) Empty() bool {
	return d.Finished == 0 && d.Failed == 0 && d.DecodeFailed == 0
}

// RunRepository persists batch run history.
type RunRepository interface {
	// UpsertRunStart records the run as running; repeating it is harmless.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time, total int) error
	// CompleteRun stamps the final status and optional error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// AddOutcomes applies outcome increments.
	AddOutcomes(ctx context.Context, runID uuid.UUID, delta OutcomeDelta) error
	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
