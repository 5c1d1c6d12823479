// Package headless captures page screenshots with a local headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/starmark/internal/crawler"
)

const (
	defaultNavTimeout = 45 * time.Second
	defaultQuality    = 80
	settleDelay       = 500 * time.Millisecond
)

// Config controls the browser.
type Config struct {
	// MaxParallel caps concurrent tabs; zero means unlimited.
	MaxParallel       int           `mapstructure:"max_parallel"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	// Quality is the JPEG quality for full-page captures (1-100).
	Quality int `mapstructure:"quality"`
	// Width and Height set the viewport before capture.
	Width  int64 `mapstructure:"width"`
	Height int64 `mapstructure:"height"`
}

// Capturer implements crawler.ScreenshotSource with chromedp.
type Capturer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp prepares an exec allocator. Chrome is started lazily on the
// first capture.
func NewChromedp(cfg Config) (*Capturer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = defaultQuality
	}
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 800
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Capturer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (c *Capturer) Close() {
	c.allocCancel()
}

// Screenshot renders url and returns a full-page JPEG.
func (c *Capturer) Screenshot(ctx context.Context, url string) (crawler.Image, error) {
	if err := c.acquire(ctx); err != nil {
		return crawler.Image{}, err
	}
	defer c.release()

	tabCtx, tabCancel := chromedp.NewContext(c.allocator)
	defer tabCancel()
	// Tie the tab to the caller's cancellation as well as the nav timeout.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, c.navTimeout())
	defer cancel()

	var buf []byte
	err := chromedp.Run(tabCtx,
		c.setupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
		chromedp.FullScreenshot(&buf, c.cfg.Quality),
	)
	if err != nil {
		return crawler.Image{}, fmt.Errorf("chromedp screenshot: %w", err)
	}
	if len(buf) == 0 {
		return crawler.Image{}, errors.New("chromedp returned an empty screenshot")
	}
	return crawler.Image{Data: buf, ContentType: "image/jpeg", SourceURL: url}, nil
}

func (c *Capturer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if c.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if err := emulation.SetDeviceMetricsOverride(c.cfg.Width, c.cfg.Height, 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		return nil
	})
}

func (c *Capturer) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (c *Capturer) release() {
	if c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}

func (c *Capturer) navTimeout() time.Duration {
	if c.cfg.NavigationTimeout > 0 {
		return c.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}
