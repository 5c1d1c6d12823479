package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/progress"
	"github.com/JakeFAU/starmark/internal/store"
)

// StoreSink records batch runs in a store.RunRepository. Per-URL outcomes
// are summed per run so each flush costs one write per run.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink builds a sink over repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type runEnd struct {
	id  uuid.UUID
	evt progress.Event
}

// Consume applies run starts first, then outcome deltas, then run ends, so
// counters land on an existing row before it is closed.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]*store.OutcomeDelta)
	var order []uuid.UUID
	var ends []runEnd

	for _, evt := range batch {
		if !evt.HasRun() {
			continue
		}
		id := evt.RunUUID()
		switch evt.Stage {
		case progress.StageBatchStart:
			if err := s.repo.UpsertRunStart(ctx, id, evt.TS, evt.Total); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StageBatchDone, progress.StageBatchPaused, progress.StageBatchError:
			ends = append(ends, runEnd{id: id, evt: evt})
		case progress.StageCrawlFinished, progress.StageCrawlFailed, progress.StageCrawlDecodeError:
			d, ok := deltas[id]
			if !ok {
				d = &store.OutcomeDelta{}
				deltas[id] = d
				order = append(order, id)
			}
			switch evt.Stage {
			case progress.StageCrawlFinished:
				d.Finished++
			case progress.StageCrawlFailed:
				d.Failed++
			default:
				d.DecodeFailed++
			}
		}
	}

	for _, id := range order {
		if err := s.repo.AddOutcomes(ctx, id, *deltas[id]); err != nil {
			return fmt.Errorf("add run outcomes: %w", err)
		}
	}
	for _, end := range ends {
		status := store.RunCompleted
		var note *string
		switch end.evt.Stage {
		case progress.StageBatchPaused:
			status = store.RunPaused
		case progress.StageBatchError:
			status = store.RunError
		}
		if end.evt.Note != "" {
			msg := end.evt.Note
			note = &msg
		}
		if err := s.repo.CompleteRun(ctx, end.id, end.evt.TS, status, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
		s.logger.Debug("batch run recorded", zap.Stringer("run_id", end.id), zap.String("status", string(status)))
	}
	return nil
}

// Close is a no-op.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
