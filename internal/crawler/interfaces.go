package crawler

import (
	"context"
	"io"
	"time"
)

// ContentExtractor turns a URL into ExtractedContent. Implementations never
// return errors; failures are reported through ExtractedContent.Error.
type ContentExtractor interface {
	FetchContent(ctx context.Context, url string) ExtractedContent
}

// PrimaryBackend is the reader-style extraction service.
type PrimaryBackend interface {
	Markdown(ctx context.Context, url string) (Page, error)
	Screenshot(ctx context.Context, url string) (string, error)
}

// SecondaryBackend is the scrape-style fallback extraction service.
type SecondaryBackend interface {
	Scrape(ctx context.Context, url string, formats []string) (ScrapeResult, error)
}

// ScreenshotSource produces a screenshot image for a URL.
type ScreenshotSource interface {
	Screenshot(ctx context.Context, url string) (Image, error)
}

// ScreenshotCapturer captures and archives a screenshot, returning a reference
// to the stored artifact.
type ScreenshotCapturer interface {
	Capture(ctx context.Context, url string) (string, error)
}

// ResultStore persists ChatCrawlResult records keyed by URL.
type ResultStore interface {
	SaveResult(ctx context.Context, result ChatCrawlResult) error
	GetResult(ctx context.Context, url string) (ChatCrawlResult, error)
	ListResults(ctx context.Context) ([]ChatCrawlResult, error)
	DeleteResult(ctx context.Context, url string) error
}

// ImagePreviewStore keeps a data URI preview per site URL.
type ImagePreviewStore interface {
	SavePreview(ctx context.Context, siteURL string, dataURI string) error
	GetPreview(ctx context.Context, siteURL string) (string, error)
}

// WindowStore persists the crawl-slot rate-limit window.
type WindowStore interface {
	LoadWindow(ctx context.Context) (RateLimitWindow, error)
	SaveWindow(ctx context.Context, window RateLimitWindow) error
}

// TaskStore persists batch progress and the targets still waiting to run.
type TaskStore interface {
	LoadProgress(ctx context.Context) (CrawlProgress, error)
	SaveProgress(ctx context.Context, progress CrawlProgress) error
	LoadPending(ctx context.Context) ([]CrawlTarget, error)
	SavePending(ctx context.Context, targets []CrawlTarget) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Throttle paces outbound calls per host.
type Throttle interface {
	Wait(ctx context.Context, url string) error
}

// RetryPolicy decides whether and when a failed call is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
