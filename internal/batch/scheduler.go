package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Resumer continues a paused batch. *Runner satisfies it.
type Resumer interface {
	Resume(ctx context.Context) (Summary, error)
}

// Scheduler resumes pending targets on a cron schedule. A tick that fires
// while a batch is still running is skipped.
type Scheduler struct {
	cron    *cron.Cron
	resumer Resumer
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler parses spec (standard five-field cron, or descriptors such as
// "@every 10m") and binds it to r.
func NewScheduler(spec string, r Resumer, logger *zap.Logger) (*Scheduler, error) {
	if r == nil {
		return nil, errors.New("resumer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		resumer: r,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing ticks. Runs started by a tick are cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info("batch schedule started", zap.Time("next", s.Next()))
}

// Stop halts the schedule, pauses any running batch, and waits for it.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
}

// Next returns the next scheduled tick, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick() {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	sum, err := s.resumer.Resume(ctx)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		s.logger.Debug("batch already running, skipping tick")
	case err != nil:
		s.logger.Error("scheduled resume failed", zap.Error(err))
	case sum.Total == 0:
		s.logger.Debug("nothing pending")
	default:
		s.logger.Info("scheduled resume ended",
			zap.String("status", string(sum.Status)),
			zap.Int("processed", sum.Processed))
	}
}
