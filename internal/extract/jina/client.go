// Package jina is the reader-style primary extraction backend. It asks the
// Jina reader for either a page's markdown or a screenshot URL.
package jina

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/crawler"
)

// DefaultEndpoint is the public reader API.
const DefaultEndpoint = "https://r.jina.ai/"

// Return formats understood by the X-Return-Format header.
const (
	FormatMarkdown   = "markdown"
	FormatScreenshot = "screenshot"
)

const (
	service      = "jina"
	keyPrefix    = "jina_"
	maxErrorBody = 512
)

// Config configures the client. Only keys with the jina_ prefix are sent;
// anything else is treated as anonymous access.
type Config struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Client talks to the reader API. It implements crawler.PrimaryBackend.
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

// WithKeySource reads the API key per request, falling back to the
// configured key when fn returns "".
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

// New builds a Client.
func New(cfg Config, opts ...Option) *Client {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type readerRequest struct {
	URL string `json:"url"`
}

type readerResponse struct {
	Code int `json:"code"`
	Data struct {
		Title         string `json:"title"`
		Content       string `json:"content"`
		ScreenshotURL string `json:"screenshotUrl"`
	} `json:"data"`
}

// Markdown returns the page title and markdown body.
func (c *Client) Markdown(ctx context.Context, url string) (crawler.Page, error) {
	resp, err := c.read(ctx, url, FormatMarkdown)
	if err != nil {
		return crawler.Page{}, err
	}
	return crawler.Page{Title: resp.Data.Title, Content: resp.Data.Content}, nil
}

// Screenshot returns the URL of a rendered screenshot of the page.
func (c *Client) Screenshot(ctx context.Context, url string) (string, error) {
	resp, err := c.read(ctx, url, FormatScreenshot)
	if err != nil {
		return "", err
	}
	if resp.Data.ScreenshotURL == "" {
		return "", fmt.Errorf("%s: response has no screenshot url", service)
	}
	return resp.Data.ScreenshotURL, nil
}

func (c *Client) read(ctx context.Context, url, format string) (readerResponse, error) {
	var out readerResponse
	err := crawler.Retry(ctx, c.retry, func(ctx context.Context) error {
		var err error
		out, err = c.once(ctx, url, format)
		return err
	})
	if err != nil {
		c.logger.Debug("reader request failed",
			zap.String("url", url),
			zap.String("format", format),
			zap.Error(err))
		return readerResponse{}, err
	}
	return out, nil
}

func (c *Client) once(ctx context.Context, url, format string) (readerResponse, error) {
	if c.throttle != nil {
		if err := c.throttle.Wait(ctx, c.endpoint); err != nil {
			return readerResponse{}, fmt.Errorf("throttle %s: %w", service, err)
		}
	}
	body, err := json.Marshal(readerRequest{URL: url})
	if err != nil {
		return readerResponse{}, fmt.Errorf("encode reader request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return readerResponse{}, fmt.Errorf("build reader request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Return-Format", format)
	if key := c.key(ctx); strings.HasPrefix(key, keyPrefix) {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return readerResponse{}, fmt.Errorf("%s request: %w", service, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return readerResponse{}, &crawler.StatusError{Service: service, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	var out readerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return readerResponse{}, fmt.Errorf("decode %s response: %w", service, err)
	}
	if out.Code != http.StatusOK {
		return readerResponse{}, fmt.Errorf("%s: API error: code %d", service, out.Code)
	}
	return out, nil
}

func (c *Client) key(ctx context.Context) string {
	if c.keyFn != nil {
		if k := c.keyFn(ctx); k != "" {
			return k
		}
	}
	return c.apiKey
}

// CheckKey reports whether key can read a well-known page. It uses a
// throwaway client so the caller's configuration is untouched.
func CheckKey(ctx context.Context, cfg Config, key string, opts ...Option) bool {
	cfg.APIKey = key
	_, err := New(cfg, opts...).Markdown(ctx, "https://www.google.com")
	return err == nil
}
