// Package firecrawl is the scrape-style fallback extraction backend.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/crawler"
)

// DefaultEndpoint is the hosted scrape API.
const DefaultEndpoint = "https://api.firecrawl.dev"

// PreviewKey is the shared key used when the user has not configured one.
const PreviewKey = "this_is_just_a_preview_token"

const (
	service      = "firecrawl"
	scrapePath   = "/v1/scrape"
	maxErrorBody = 512
)

// Config configures the client.
type Config struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Client implements crawler.SecondaryBackend.
type Client struct {
	endpoint string
	apiKey   string
	keyFn    func(ctx context.Context) string
	http     *http.Client
	throttle crawler.Throttle
	retry    crawler.RetryPolicy
	logger   *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithThrottle paces requests to the endpoint.
func WithThrottle(t crawler.Throttle) Option {
	return func(cl *Client) { cl.throttle = t }
}

// WithRetry retries transient failures under p.
func WithRetry(p crawler.RetryPolicy) Option {
	return func(cl *Client) { cl.retry = p }
}

// WithKeySource reads the API key per request; "" keeps the configured key.
func WithKeySource(fn func(ctx context.Context) string) Option {
	return func(cl *Client) { cl.keyFn = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// New builds a Client. An empty key falls back to PreviewKey.
func New(cfg Config, opts ...Option) *Client {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	key := cfg.APIKey
	if key == "" {
		key = PreviewKey
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	c := &Client{
		endpoint: endpoint,
		apiKey:   key,
		http:     &http.Client{Timeout: timeout},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Markdown string `json:"markdown"`
		HTML     string `json:"html"`
		Metadata struct {
			Title string `json:"title"`
		} `json:"metadata"`
	} `json:"data"`
}

// Scrape fetches url in the requested formats. Service-level failures come
// back as ScrapeResult{Success: false}; transport failures as errors.
// Transient statuses are retried before being reported.
func (c *Client) Scrape(ctx context.Context, url string, formats []string) (crawler.ScrapeResult, error) {
	var out crawler.ScrapeResult
	err := crawler.Retry(ctx, c.retry, func(ctx context.Context) error {
		var err error
		out, err = c.once(ctx, url, formats)
		return err
	})
	var statusErr *crawler.StatusError
	if errors.As(err, &statusErr) {
		return crawler.ScrapeResult{Success: false, Error: statusErr.Error()}, nil
	}
	if err != nil {
		c.logger.Debug("scrape request failed", zap.String("url", url), zap.Error(err))
		return crawler.ScrapeResult{}, err
	}
	return out, nil
}

func (c *Client) once(ctx context.Context, url string, formats []string) (crawler.ScrapeResult, error) {
	if c.throttle != nil {
		if err := c.throttle.Wait(ctx, c.endpoint); err != nil {
			return crawler.ScrapeResult{}, fmt.Errorf("throttle %s: %w", service, err)
		}
	}
	body, err := json.Marshal(scrapeRequest{URL: url, Formats: formats})
	if err != nil {
		return crawler.ScrapeResult{}, fmt.Errorf("encode scrape request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+scrapePath, bytes.NewReader(body))
	if err != nil {
		return crawler.ScrapeResult{}, fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	key := c.apiKey
	if c.keyFn != nil {
		if k := c.keyFn(ctx); k != "" {
			key = k
		}
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.http.Do(req)
	if err != nil {
		return crawler.ScrapeResult{}, fmt.Errorf("%s request: %w", service, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return crawler.ScrapeResult{}, fmt.Errorf("read %s response: %w", service, err)
	}
	var out scrapeResponse
	jsonErr := json.Unmarshal(raw, &out)
	if resp.StatusCode >= 300 {
		msg := out.Error
		if msg == "" {
			msg = truncate(strings.TrimSpace(string(raw)), maxErrorBody)
		}
		return crawler.ScrapeResult{}, &crawler.StatusError{Service: service, Code: resp.StatusCode, Body: msg}
	}
	if jsonErr != nil {
		return crawler.ScrapeResult{}, fmt.Errorf("decode %s response: %w", service, jsonErr)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "scrape unsuccessful"
		}
		return crawler.ScrapeResult{Success: false, Error: msg}, nil
	}

	title := out.Data.Metadata.Title
	if title == "" && out.Data.HTML != "" {
		title = titleFromHTML(out.Data.HTML)
	}
	c.logger.Debug("scrape succeeded", zap.String("url", url), zap.Int("markdown_len", len(out.Data.Markdown)))
	return crawler.ScrapeResult{
		Success:  true,
		Markdown: out.Data.Markdown,
		HTML:     out.Data.HTML,
		Title:    title,
	}, nil
}

func titleFromHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	if t := strings.TrimSpace(doc.Find("head > title").First().Text()); t != "" {
		return t
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// CheckKey reports whether key can scrape a well-known page.
func CheckKey(ctx context.Context, cfg Config, key string, opts ...Option) bool {
	cfg.APIKey = key
	res, err := New(cfg, opts...).Scrape(ctx, "https://www.google.com", []string{"markdown"})
	return err == nil && res.Success
}
