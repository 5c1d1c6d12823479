// Package batch runs lists of crawl targets one at a time under the crawl-slot
// limiter, keeping enough state in the task store to resume after a stop.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/crawler"
	"github.com/JakeFAU/starmark/internal/metrics"
	"github.com/JakeFAU/starmark/internal/progress"
	"github.com/JakeFAU/starmark/internal/store"
)

// ErrAlreadyRunning is returned when Run is called while a batch is active.
var ErrAlreadyRunning = errors.New("batch already running")

// minDenialWait bounds the wait after a denied slot when the window end is
// already in the past.
const minDenialWait = time.Second

// Classifier runs one target to completion. *crawler.Orchestrator satisfies it.
type Classifier interface {
	Classify(ctx context.Context, target crawler.CrawlTarget, onProgress crawler.ProgressFunc) (crawler.ChatCrawlResult, error)
}

// Limiter hands out crawl slots. *ratelimit.WindowLimiter satisfies it.
type Limiter interface {
	TryAcquire(ctx context.Context) (bool, error)
	ResetETA(ctx context.Context) (time.Time, error)
}

// RunIDs issues batch run identifiers.
type RunIDs interface {
	NewRunID() (uuid.UUID, error)
}

// Summary describes how a Run ended.
type Summary struct {
	RunID        uuid.UUID
	Status       crawler.ProgressStatus
	Total        int
	Processed    int
	Skipped      int
	Finished     int
	Failed       int
	DecodeFailed int
}

// Runner processes targets sequentially.
type Runner struct {
	classifier Classifier
	results    crawler.ResultStore
	tasks      crawler.TaskStore
	limiter    Limiter

	ids     RunIDs
	emitter progress.Emitter
	clock   crawler.Clock
	wait    func(ctx context.Context, d time.Duration) error
	recrawl bool
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
}

// Option customizes a Runner.
type Option func(*Runner)

// WithEmitter sends batch events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(r *Runner) {
		if e != nil {
			r.emitter = e
		}
	}
}

// WithRunIDs overrides the run id source.
func WithRunIDs(ids RunIDs) Option {
	return func(r *Runner) {
		if ids != nil {
			r.ids = ids
		}
	}
}

// WithClock overrides the time source.
func WithClock(c crawler.Clock) Option {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithWait replaces the wait used while the limiter is full.
func WithWait(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) {
		if fn != nil {
			r.wait = fn
		}
	}
}

// WithRecrawl processes targets even when a finished result exists.
func WithRecrawl(on bool) Option {
	return func(r *Runner) { r.recrawl = on }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

type uuidV7 struct{}

func (uuidV7) NewRunID() (uuid.UUID, error) { return uuid.NewV7() }

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// NewRunner wires a Runner. Every argument is required.
func NewRunner(
	classifier Classifier,
	results crawler.ResultStore,
	tasks crawler.TaskStore,
	limiter Limiter,
	opts ...Option,
) (*Runner, error) {
	switch {
	case classifier == nil:
		return nil, errors.New("classifier is required")
	case results == nil:
		return nil, errors.New("result store is required")
	case tasks == nil:
		return nil, errors.New("task store is required")
	case limiter == nil:
		return nil, errors.New("limiter is required")
	}
	r := &Runner{
		classifier: classifier,
		results:    results,
		tasks:      tasks,
		limiter:    limiter,
		ids:        uuidV7{},
		emitter:    progress.Nop{},
		clock:      utcClock{},
		wait:       sleepCtx,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Running reports whether a batch is in progress.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Resume runs the pending targets left by a previous, paused Run.
func (r *Runner) Resume(ctx context.Context) (Summary, error) {
	pending, err := r.tasks.LoadPending(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load pending targets: %w", err)
	}
	if len(pending) == 0 {
		return Summary{Status: crawler.ProgressIdle}, nil
	}
	return r.Run(ctx, pending)
}

// Run crawls targets in order. Cancelling ctx pauses the batch between URLs:
// the remaining targets stay pending and Run returns a paused Summary with
// a nil error. Errors are returned only when the limiter or task store fail.
func (r *Runner) Run(ctx context.Context, targets []crawler.CrawlTarget) (Summary, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return Summary{}, ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	runID, err := r.ids.NewRunID()
	if err != nil {
		return Summary{}, fmt.Errorf("new run id: %w", err)
	}
	b := &batch{
		r:       r,
		targets: targets,
		start:   r.clock.Now(),
		logger:  r.logger.With(zap.String("run_id", runID.String())),
		sum:     Summary{RunID: runID, Status: crawler.ProgressRunning, Total: len(targets)},
	}
	ctx = progress.WithRunID(ctx, runID)
	// Bookkeeping writes must land even after the caller cancels.
	bookCtx := context.WithoutCancel(ctx)

	if err := b.checkpoint(bookCtx, 0); err != nil {
		return b.sum, err
	}
	b.emit(progress.StageBatchStart, "")
	b.logger.Info("batch started", zap.Int("targets", len(targets)))

	for i, target := range targets {
		if ctx.Err() != nil {
			return b.pause(bookCtx, i)
		}
		if r.alreadyFinished(ctx, target) {
			b.sum.Skipped++
			if err := b.checkpoint(bookCtx, i+1); err != nil {
				return b.abort(bookCtx, err)
			}
			continue
		}
		if err := b.acquire(ctx); err != nil {
			if ctx.Err() != nil {
				return b.pause(bookCtx, i)
			}
			return b.abort(bookCtx, err)
		}
		// A stop lets the in-flight target finish; ctx is only checked
		// between targets.
		res, err := r.classifier.Classify(context.WithoutCancel(ctx), target, nil)
		b.record(target, res, err)
		if err := b.checkpoint(bookCtx, i+1); err != nil {
			return b.abort(bookCtx, err)
		}
	}

	b.sum.Status = crawler.ProgressCompleted
	if err := b.checkpoint(bookCtx, len(targets)); err != nil {
		return b.abort(bookCtx, err)
	}
	b.emit(progress.StageBatchDone, "")
	b.logger.Info("batch completed",
		zap.Int("finished", b.sum.Finished),
		zap.Int("failed", b.sum.Failed),
		zap.Int("skipped", b.sum.Skipped))
	return b.sum, nil
}

func (r *Runner) alreadyFinished(ctx context.Context, target crawler.CrawlTarget) bool {
	if r.recrawl {
		return false
	}
	res, err := r.results.GetResult(ctx, target.URL)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("lookup existing result failed", zap.String("url", target.URL), zap.Error(err))
		}
		return false
	}
	return res.Status == crawler.StatusFinished
}

// batch is the state of one Run.
type batch struct {
	r       *Runner
	targets []crawler.CrawlTarget
	start   time.Time
	logger  *zap.Logger
	sum     Summary
}

// acquire blocks until a crawl slot is granted or ctx ends.
func (b *batch) acquire(ctx context.Context) error {
	for {
		ok, err := b.r.limiter.TryAcquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire crawl slot: %w", err)
		}
		if ok {
			return nil
		}
		eta, err := b.r.limiter.ResetETA(ctx)
		if err != nil {
			return fmt.Errorf("read window reset: %w", err)
		}
		d := eta.Sub(b.r.clock.Now())
		if d < minDenialWait {
			d = minDenialWait
		}
		b.logger.Info("crawl slots exhausted, waiting", zap.Duration("wait", d))
		if err := b.r.wait(ctx, d); err != nil {
			return err
		}
	}
}

func (b *batch) record(target crawler.CrawlTarget, res crawler.ChatCrawlResult, err error) {
	b.sum.Processed++
	switch {
	case err != nil:
		b.sum.Failed++
		b.logger.Warn("classify failed", zap.String("url", target.URL), zap.Error(err))
	case res.DecodeFailed:
		b.sum.DecodeFailed++
	case res.Status == crawler.StatusFinished:
		b.sum.Finished++
	default:
		b.sum.Failed++
	}
}

// checkpoint persists progress with done targets behind us.
func (b *batch) checkpoint(ctx context.Context, done int) error {
	remaining := b.targets[done:]
	if err := b.r.tasks.SavePending(ctx, remaining); err != nil {
		return fmt.Errorf("save pending targets: %w", err)
	}
	pct := 100
	if len(b.targets) > 0 {
		pct = done * 100 / len(b.targets)
	}
	snapshot := crawler.CrawlProgress{
		Status:         b.sum.Status,
		Progress:       pct,
		LastRunTime:    b.r.clock.Now().UnixMilli(),
		RemainingItems: len(remaining),
	}
	if err := b.r.tasks.SaveProgress(ctx, snapshot); err != nil {
		return fmt.Errorf("save crawl progress: %w", err)
	}
	metrics.SetBatchRemaining(len(remaining))
	return nil
}

func (b *batch) pause(ctx context.Context, at int) (Summary, error) {
	b.sum.Status = crawler.ProgressPaused
	if err := b.checkpoint(ctx, at); err != nil {
		b.logger.Error("save paused progress failed", zap.Error(err))
	}
	b.emit(progress.StageBatchPaused, "")
	b.logger.Info("batch paused", zap.Int("remaining", len(b.targets)-at))
	return b.sum, nil
}

func (b *batch) abort(ctx context.Context, cause error) (Summary, error) {
	b.sum.Status = crawler.ProgressPaused
	p, err := b.r.tasks.LoadProgress(ctx)
	if err == nil {
		p.Status = crawler.ProgressPaused
		if err := b.r.tasks.SaveProgress(ctx, p); err != nil {
			b.logger.Error("save progress after failure", zap.Error(err))
		}
	}
	b.emit(progress.StageBatchError, cause.Error())
	b.logger.Error("batch stopped", zap.Error(cause))
	return b.sum, cause
}

func (b *batch) emit(stage progress.Stage, note string) {
	evt := progress.Event{
		RunID: progress.UUIDToBytes(b.sum.RunID),
		TS:    b.r.clock.Now(),
		Stage: stage,
		Total: b.sum.Total,
		Note:  note,
	}
	if stage != progress.StageBatchStart {
		evt.Dur = b.r.clock.Now().Sub(b.start)
		if evt.Dur < 0 {
			evt.Dur = 0
		}
	}
	b.r.emitter.Emit(evt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
