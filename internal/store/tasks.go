package store

import (
	"context"
	"errors"

	"github.com/JakeFAU/starmark/internal/crawler"
)

// Record ids inside the crawlTask collection.
const (
	TaskCrawlLimit      = "crawlLimit"
	TaskCurrentProgress = "currentProgress"
	TaskPendingTargets  = "pendingTargets"
)

// Tasks keeps batch bookkeeping in the crawlTask collection: the crawl-slot
// window, the current progress snapshot and the pending target list. It
// implements crawler.WindowStore and crawler.TaskStore.
type Tasks struct {
	s Store
}

// NewTasks wraps s.
func NewTasks(s Store) *Tasks {
	return &Tasks{s: s}
}

// LoadWindow returns the stored window, or a zero window when none exists.
func (t *Tasks) LoadWindow(ctx context.Context) (crawler.RateLimitWindow, error) {
	var w crawler.RateLimitWindow
	if err := GetJSON(ctx, t.s, CollectionCrawlTask, TaskCrawlLimit, &w); err != nil {
		if errors.Is(err, ErrNotFound) {
			return crawler.RateLimitWindow{}, nil
		}
		return crawler.RateLimitWindow{}, err
	}
	return w, nil
}

// SaveWindow stores w.
func (t *Tasks) SaveWindow(ctx context.Context, w crawler.RateLimitWindow) error {
	return PutJSON(ctx, t.s, CollectionCrawlTask, TaskCrawlLimit, w)
}

// LoadProgress returns the stored snapshot, or an idle one when none exists.
func (t *Tasks) LoadProgress(ctx context.Context) (crawler.CrawlProgress, error) {
	p := crawler.CrawlProgress{Status: crawler.ProgressIdle}
	if err := GetJSON(ctx, t.s, CollectionCrawlTask, TaskCurrentProgress, &p); err != nil {
		if errors.Is(err, ErrNotFound) {
			return crawler.CrawlProgress{Status: crawler.ProgressIdle}, nil
		}
		return crawler.CrawlProgress{}, err
	}
	return p, nil
}

// SaveProgress stores p.
func (t *Tasks) SaveProgress(ctx context.Context, p crawler.CrawlProgress) error {
	return PutJSON(ctx, t.s, CollectionCrawlTask, TaskCurrentProgress, p)
}

// LoadPending returns the targets not yet processed.
func (t *Tasks) LoadPending(ctx context.Context) ([]crawler.CrawlTarget, error) {
	var targets []crawler.CrawlTarget
	if err := GetJSON(ctx, t.s, CollectionCrawlTask, TaskPendingTargets, &targets); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return targets, nil
}

// SavePending replaces the pending target list.
func (t *Tasks) SavePending(ctx context.Context, targets []crawler.CrawlTarget) error {
	if targets == nil {
		targets = []crawler.CrawlTarget{}
	}
	return PutJSON(ctx, t.s, CollectionCrawlTask, TaskPendingTargets, targets)
}
