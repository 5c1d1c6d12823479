package crawler

import (
	"encoding/json"
	"time"
)

// CrawlType selects the classification prompt applied to a target.
type CrawlType string

// Supported crawl types.
const (
	CrawlTypeBookmarks   CrawlType = "bookmarks"
	CrawlTypeGithubStars CrawlType = "github-stars"
)

// Valid reports whether t is non-empty. Unknown types are classified with the
// GitHub-star prompt, matching how bookmarks are singled out.
func (t CrawlType) Valid() bool {
	return t != ""
}

// CrawlTarget identifies a single URL to crawl and classify. The URL is the
// identity key everywhere results are stored.
type CrawlTarget struct {
	URL  string    `json:"url"`
	Type CrawlType `json:"type"`
}

// ExtractedContent is the outcome of a content extraction attempt. Success
// implies Markdown is non-empty.
type ExtractedContent struct {
	Success       bool   `json:"success"`
	Title         string `json:"title,omitempty"`
	Markdown      string `json:"markdown,omitempty"`
	HTML          string `json:"html,omitempty"`
	ScreenshotRef string `json:"screenshot,omitempty"`
	Backend       string `json:"backend,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ChatCrawlResult is the persisted per-URL record of a crawl and
// classification run. A re-crawl overwrites the previous record.
type ChatCrawlResult struct {
	URL          string            `json:"url"`
	Status       Status            `json:"status"`
	Type         CrawlType         `json:"type"`
	CrawlData    *ExtractedContent `json:"crawlData,omitempty"`
	ChatData     json.RawMessage   `json:"chatData,omitempty"`
	Error        string            `json:"error,omitempty"`
	DecodeFailed bool              `json:"decodeFailed,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// RateLimitWindow is the persisted crawl-slot counter. LastReset is a Unix
// millisecond timestamp so the record stays readable by other tools.
type RateLimitWindow struct {
	Count     int   `json:"count"`
	LastReset int64 `json:"lastReset"`
}

// LastResetTime converts LastReset to a time.Time.
func (w RateLimitWindow) LastResetTime() time.Time {
	return time.UnixMilli(w.LastReset)
}

// ProgressStatus is the lifecycle state of a batch crawl task.
type ProgressStatus string

// Batch task states.
const (
	ProgressIdle      ProgressStatus = "idle"
	ProgressRunning   ProgressStatus = "running"
	ProgressPaused    ProgressStatus = "paused"
	ProgressCompleted ProgressStatus = "completed"
)

// CrawlProgress is the persisted snapshot of the current batch task.
type CrawlProgress struct {
	Status         ProgressStatus `json:"status"`
	Progress       int            `json:"progress"`
	LastRunTime    int64          `json:"lastRunTime"`
	RemainingItems int            `json:"remainingItems"`
}

// Page is what the primary extraction backend returns for a URL.
type Page struct {
	Title         string
	Content       string
	ScreenshotURL string
}

// ScrapeResult mirrors the secondary backend's scrape response.
type ScrapeResult struct {
	Success  bool
	Markdown string
	HTML     string
	Title    string
	Error    string
}

// Image is a captured screenshot ready to be archived.
type Image struct {
	Data        []byte
	ContentType string
	SourceURL   string
}
