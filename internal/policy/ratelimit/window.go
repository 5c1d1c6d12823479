package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/crawler"
	"github.com/JakeFAU/starmark/internal/metrics"
)

// Defaults for the crawl-slot window.
const (
	DefaultWindow    = 60 * time.Second
	DefaultMaxPerWin = 5
)

// WindowConfig sizes the fixed crawl-slot window.
type WindowConfig struct {
	Window time.Duration
	Max    int
}

// WindowLimiter grants at most Max crawl starts per Window. The window state
// lives in a WindowStore so limits hold across restarts.
type WindowLimiter struct {
	mu     sync.Mutex
	store  crawler.WindowStore
	window time.Duration
	max    int
	now    func() time.Time
	logger *zap.Logger
}

// WindowOption customizes a WindowLimiter.
type WindowOption func(*WindowLimiter)

// WithClock overrides the time source.
func WithClock(clock crawler.Clock) WindowOption {
	return func(l *WindowLimiter) {
		if clock != nil {
			l.now = clock.Now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) WindowOption {
	return func(l *WindowLimiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewWindowLimiter builds a limiter over store. Non-positive config values
// take the defaults of five starts per minute.
func NewWindowLimiter(store crawler.WindowStore, cfg WindowConfig, opts ...WindowOption) *WindowLimiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMaxPerWin
	}
	l := &WindowLimiter{
		store:  store,
		window: cfg.Window,
		max:    cfg.Max,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire claims one crawl slot. It returns false, leaving the stored
// window untouched, when the current window is already full.
func (l *WindowLimiter) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, err := l.store.LoadWindow(ctx)
	if err != nil {
		return false, fmt.Errorf("load rate window: %w", err)
	}
	now := l.now()
	switch {
	case now.Sub(w.LastResetTime()) > l.window:
		w = crawler.RateLimitWindow{Count: 1, LastReset: now.UnixMilli()}
	case w.Count < l.max:
		w.Count++
	default:
		metrics.ObserveRateWindow("rejected")
		l.logger.Debug("crawl slot denied",
			zap.Int("count", w.Count),
			zap.Time("reset_at", w.LastResetTime().Add(l.window)))
		return false, nil
	}
	if err := l.store.SaveWindow(ctx, w); err != nil {
		return false, fmt.Errorf("save rate window: %w", err)
	}
	metrics.ObserveRateWindow("acquired")
	return true, nil
}

// ResetETA returns when the current window ends.
func (l *WindowLimiter) ResetETA(ctx context.Context) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, err := l.store.LoadWindow(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("load rate window: %w", err)
	}
	return w.LastResetTime().Add(l.window), nil
}

// Window returns the configured window length and capacity.
func (l *WindowLimiter) Window() (time.Duration, int) {
	return l.window, l.max
}
