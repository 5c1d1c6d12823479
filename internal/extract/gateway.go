package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/crawler"
	"github.com/JakeFAU/starmark/internal/metrics"
)

// ErrNotInitialized is reported when a Gateway is used without its backends.
var ErrNotInitialized = errors.New("extraction backend not initialized")

// Backend labels recorded on ExtractedContent.
const (
	BackendPrimary   = "jina"
	BackendSecondary = "firecrawl"
)

// DefaultSettleDomains need a second primary attempt after a pause.
var DefaultSettleDomains = []string{"twitter.com", "x.com"}

// DefaultSettleDelay is the pause before the second attempt.
const DefaultSettleDelay = 2 * time.Second

// DefaultFormats are requested from the secondary backend.
var DefaultFormats = []string{"markdown", "html"}

// Config tunes the Gateway. Nil slices take the defaults; use an empty
// non-nil slice to disable a list.
type Config struct {
	SettleDomains []string      `mapstructure:"settle_domains"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	Signatures    []string      `mapstructure:"signatures"`
	Formats       []string      `mapstructure:"formats"`
}

// ScreenshotToggle reports whether screenshots are wanted right now. It is
// read per call so a settings change applies to the next URL.
type ScreenshotToggle func(ctx context.Context) bool

// Gateway implements crawler.ContentExtractor.
type Gateway struct {
	primary   crawler.PrimaryBackend
	secondary crawler.SecondaryBackend

	capturer    crawler.ScreenshotCapturer
	screenshots ScreenshotToggle

	settle     []string
	delay      time.Duration
	signatures *Signatures
	formats    []string
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *zap.Logger
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithScreenshots captures a screenshot per URL whenever enabled says so.
func WithScreenshots(c crawler.ScreenshotCapturer, enabled ScreenshotToggle) Option {
	return func(g *Gateway) {
		g.capturer = c
		g.screenshots = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithSleep replaces the settle wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.sleep = fn
		}
	}
}

// NewGateway wires both backends.
func NewGateway(primary crawler.PrimaryBackend, secondary crawler.SecondaryBackend, cfg Config, opts ...Option) (*Gateway, error) {
	if primary == nil || secondary == nil {
		return nil, ErrNotInitialized
	}
	if cfg.SettleDomains == nil {
		cfg.SettleDomains = DefaultSettleDomains
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Signatures == nil {
		cfg.Signatures = DefaultSignatures
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = DefaultFormats
	}
	g := &Gateway{
		primary:    primary,
		secondary:  secondary,
		settle:     cfg.SettleDomains,
		delay:      cfg.SettleDelay,
		signatures: NewSignatures(cfg.Signatures),
		formats:    append([]string(nil), cfg.Formats...),
		sleep:      sleepCtx,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// FetchContent never returns an error: every failure, including a panic in a
// backend, ends up in ExtractedContent.Error with Success false.
func (g *Gateway) FetchContent(ctx context.Context, target string) (out crawler.ExtractedContent) {
	if g == nil || g.primary == nil || g.secondary == nil {
		return crawler.ExtractedContent{Error: ErrNotInitialized.Error()}
	}
	start := time.Now()
	var screenshot string
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("extraction panicked", zap.String("url", target), zap.Any("panic", r))
			out = crawler.ExtractedContent{Error: fmt.Sprintf("extraction failed: %v", r), ScreenshotRef: screenshot}
		}
		result, backend := "success", out.Backend
		if !out.Success {
			result = "failure"
		}
		if backend == "" {
			backend = "none"
		}
		metrics.ObserveExtraction(backend, result, time.Since(start))
	}()

	logger := g.logger.With(zap.String("url", target))

	page, primaryErr := g.primary.Markdown(ctx, target)
	if g.needsSettle(target) {
		if err := g.sleep(ctx, g.delay); err == nil {
			page, primaryErr = g.primary.Markdown(ctx, target)
		}
	}
	primaryDur := time.Since(start)

	screenshot = g.captureScreenshot(ctx, target, logger)

	reason := g.primaryFailure(page, primaryErr)
	if reason == "" {
		return crawler.ExtractedContent{
			Success:       true,
			Title:         page.Title,
			Markdown:      page.Content,
			ScreenshotRef: screenshot,
			Backend:       BackendPrimary,
		}
	}
	logger.Info("primary extraction unusable, falling back", zap.String("reason", reason))
	metrics.ObserveExtraction(BackendPrimary, "fallback", primaryDur)

	res, err := g.secondary.Scrape(ctx, target, g.formats)
	switch {
	case err != nil:
		return crawler.ExtractedContent{
			Error:         fmt.Sprintf("primary: %s; secondary: %v", reason, err),
			ScreenshotRef: screenshot,
			Backend:       BackendSecondary,
		}
	case !res.Success || strings.TrimSpace(res.Markdown) == "":
		msg := res.Error
		if msg == "" {
			msg = "empty content"
		}
		return crawler.ExtractedContent{
			Error:         fmt.Sprintf("primary: %s; secondary: %s", reason, msg),
			ScreenshotRef: screenshot,
			Backend:       BackendSecondary,
		}
	}
	return crawler.ExtractedContent{
		Success:       true,
		Title:         res.Title,
		Markdown:      res.Markdown,
		HTML:          res.HTML,
		ScreenshotRef: screenshot,
		Backend:       BackendSecondary,
	}
}

// primaryFailure explains why page is unusable, or returns "" if it is fine.
func (g *Gateway) primaryFailure(page crawler.Page, err error) string {
	if err != nil {
		return err.Error()
	}
	if strings.TrimSpace(page.Content) == "" {
		return "empty content"
	}
	if sig, ok := g.signatures.Find(page.Content); ok {
		return fmt.Sprintf("failure signature %q", sig)
	}
	return ""
}

func (g *Gateway) captureScreenshot(ctx context.Context, target string, logger *zap.Logger) string {
	if g.capturer == nil || g.screenshots == nil || !g.screenshots(ctx) {
		return ""
	}
	ref, err := g.capturer.Capture(ctx, target)
	if err != nil {
		logger.Warn("screenshot capture failed", zap.Error(err))
		return ""
	}
	return ref
}

func (g *Gateway) needsSettle(target string) bool {
	if len(g.settle) == 0 {
		return false
	}
	host := target
	if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	for _, d := range g.settle {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
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
