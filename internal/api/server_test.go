package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/batch"
	"github.com/JakeFAU/starmark/internal/config"
	"github.com/JakeFAU/starmark/internal/crawler"
	"github.com/JakeFAU/starmark/internal/llm"
	"github.com/JakeFAU/starmark/internal/settings"
	"github.com/JakeFAU/starmark/internal/storage/memory"
	"github.com/JakeFAU/starmark/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestHealthzAndRequestID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *config.Config) {
		c.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	})

	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/v1/results", "").Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/results?api_key=secret", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/results", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	rec := newHarness(t).do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUnifiedCrawl(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.crawler.content = crawler.ExtractedContent{Success: true, Title: "Example", Markdown: "# hi", Backend: "jina"}

	rec := h.do(http.MethodPost, "/v1/crawl", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var got crawler.ExtractedContent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "# hi", got.Markdown)

	h.crawler.content = crawler.ExtractedContent{Error: "both backends failed"}
	rec = h.do(http.MethodPost, "/v1/crawl", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "both backends failed")

	require.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/v1/crawl", `{"url":"ftp://x"}`).Code)
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/v1/crawl", `{nope`).Code)
}

func TestChatCrawlStreamsText(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.crawler.stream = func() *llm.TextStream { return llm.StreamFromText(`{"category":"tools"}`) }

	rec := h.do(http.MethodPost, "/v1/chatcrawl", `{"url":"https://github.com/a/b","type":"github-stars"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, `{"category":"tools"}`, rec.Body.String())
	require.True(t, rec.Flushed)
	require.Equal(t, crawler.CrawlTarget{URL: "https://github.com/a/b", Type: crawler.CrawlTypeGithubStars}, h.crawler.lastTarget())
}

func TestChatCrawlRateLimited(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.limiter.deny = true
	h.limiter.eta = testNow.Add(90*time.Second + 200*time.Millisecond)

	rec := h.do(http.MethodPost, "/v1/chatcrawl", `{"url":"https://example.com","type":"bookmarks"}`)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "91", rec.Header().Get("Retry-After"))
	require.Zero(t, h.crawler.calls())
}

func TestChatCrawlRetryAfterFloor(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.limiter.deny = true
	h.limiter.eta = testNow.Add(-time.Minute)

	rec := h.do(http.MethodPost, "/v1/chatcrawl", `{"url":"https://example.com","type":"bookmarks"}`)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestChatCrawlErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		setup  func(h *harness)
		status int
		want   string
	}{
		{
			name:   "missing type",
			body:   `{"url":"https://example.com"}`,
			status: http.StatusBadRequest,
			want:   "type is required",
		},
		{
			name: "invalid provider",
			body: `{"url":"https://example.com","type":"bookmarks"}`,
			setup: func(h *harness) {
				h.crawler.err = fmt.Errorf("start classification: %w", llm.ErrInvalidProvider)
			},
			status: http.StatusBadRequest,
			want:   "invalid provider",
		},
		{
			name: "unexpected failure",
			body: `{"url":"https://example.com","type":"bookmarks"}`,
			setup: func(h *harness) {
				h.crawler.err = errors.New("load model settings: disk gone")
			},
			status: http.StatusInternalServerError,
			want:   "disk gone",
		},
		{
			name: "extraction failed",
			body: `{"url":"https://example.com","type":"bookmarks"}`,
			setup: func(h *harness) {
				h.crawler.progress = []crawler.ChatCrawlResult{
					{URL: "https://example.com", Status: crawler.StatusStarted},
					{URL: "https://example.com", Status: crawler.StatusFailed, Error: "blocked"},
				}
			},
			status: http.StatusBadGateway,
			want:   `"error":"blocked"`,
		},
		{
			name: "limiter error",
			body: `{"url":"https://example.com","type":"bookmarks"}`,
			setup: func(h *harness) {
				h.limiter.err = errors.New("store down")
			},
			status: http.StatusInternalServerError,
			want:   "rate limiter unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}
			rec := h.do(http.MethodPost, "/v1/chatcrawl", tt.body)
			require.Equal(t, tt.status, rec.Code)
			require.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestResultsRoutes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	target := "https://example.com/a?b=c"
	require.NoError(t, h.results.SaveResult(ctx, crawler.ChatCrawlResult{
		URL: target, Type: crawler.CrawlTypeBookmarks, Status: crawler.StatusFinished,
	}))
	require.NoError(t, h.results.SaveResult(ctx, crawler.ChatCrawlResult{
		URL: "https://example.org", Type: crawler.CrawlTypeGithubStars, Status: crawler.StatusFailed,
	}))

	var list struct {
		Results []crawler.ChatCrawlResult `json:"results"`
	}
	rec := h.do(http.MethodGet, "/v1/results", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Results, 2)

	rec = h.do(http.MethodGet, "/v1/results?status=finished", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Results, 1)
	require.Equal(t, target, list.Results[0].URL)

	path := "/v1/results/" + url.PathEscape(target)
	rec = h.do(http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"finished"`)

	require.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, path, "").Code)
	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, path, "").Code)
}

func TestRateLimitRoute(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.limiter.eta = testNow.Add(time.Minute)

	rec := h.do(http.MethodGet, "/v1/ratelimit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.EqualValues(t, 60, body["windowSeconds"])
	require.EqualValues(t, 10, body["max"])
}

func TestSettingsRoutes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	rec := h.do(http.MethodPut, "/v1/settings/locale", `{"value":"en-US"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(http.MethodPut, "/v1/settings/modelKey", `{"value":"sk-123456789"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Settings map[string]any `json:"settings"`
	}
	rec = h.do(http.MethodGet, "/v1/settings", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "en-US", body.Settings[settings.KeyLocale])
	require.Equal(t, "********6789", body.Settings[settings.KeyModelKey])

	rec = h.do(http.MethodGet, "/v1/settings?reveal=true", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "sk-123456789", body.Settings[settings.KeyModelKey])

	require.Equal(t, http.StatusNotFound, h.do(http.MethodPut, "/v1/settings/theme", `{"value":"dark"}`).Code)
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodPut, "/v1/settings/enableScreenshotCache", `{"value":"yes"}`).Code)
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodPut, "/v1/settings/locale", `{}`).Code)
}

func TestModelsRoutes(t *testing.T) {
	t.Parallel()

	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2:latest","model":"llama3.2:latest"}]}`))
	}))
	t.Cleanup(ollama.Close)

	h := newHarness(t)

	rec := h.do(http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"value":"anthropic"`)

	rec = h.do(http.MethodGet, "/v1/models/openai", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "gpt-4o-mini")

	rec = h.do(http.MethodGet, "/v1/models/ollama?endpoint="+url.QueryEscape(ollama.URL+"/api"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "llama3.2:latest")

	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/models/skynet", "").Code)
}

func TestCheckRoute(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(http.MethodGet, "/v1/check", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"jina":true,"firecrawl":false,"model":true}`, rec.Body.String())
}

func TestBatchLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	rec := h.do(http.MethodPost, "/v1/batch", `{"urls":["https://a.example","https://b.example"],"type":"bookmarks"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"targets":2`)
	<-h.runner.started

	rec = h.do(http.MethodPost, "/v1/batch", `{"urls":["https://c.example"],"type":"bookmarks"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodGet, "/v1/batch", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"running":true`)

	rec = h.do(http.MethodDelete, "/v1/batch", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, h.runner.Running())
	require.Len(t, h.runner.lastTargets(), 2)
}

func TestBatchValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/v1/batch", `{}`).Code)
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/v1/batch", `{"urls":["https://a.example"]}`).Code)
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/v1/batch", `{"targets":[{"url":"nope","type":"bookmarks"}]}`).Code)
}

func TestResumeBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(http.MethodPost, "/v1/batch/resume", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	<-h.runner.started
	require.NoError(t, h.server.Close(context.Background()))
	require.EqualValues(t, 1, h.runner.resumes)
}

func TestRunRoutes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	runID := uuid.New()
	require.NoError(t, h.runs.UpsertRunStart(context.Background(), runID, testNow, 3))

	rec := h.do(http.MethodGet, "/v1/runs?status=running&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), runID.String())

	rec = h.do(http.MethodGet, "/v1/runs/"+runID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total":3`)

	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/runs/"+uuid.NewString(), "").Code)
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/v1/runs/not-a-uuid", "").Code)
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/v1/runs?limit=-1", "").Code)
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/v1/runs?status=weird", "").Code)
}

func TestRunHandlerWithoutRepo(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(nil, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNewServerRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Dependencies{}, config.Config{})
	require.ErrorContains(t, err, "crawler is required")
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type harness struct {
	server  *Server
	crawler *fakeCrawler
	limiter *fakeLimiter
	runner  *fakeRunner
	results *store.Results
	runs    *memory.RunStore
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()

	docs := memory.NewStore()
	h := &harness{
		crawler: &fakeCrawler{},
		limiter: &fakeLimiter{window: time.Minute, max: 10},
		runner:  newFakeRunner(),
		results: store.NewResults(docs),
		runs:    memory.NewRunStore(),
	}
	cfg := config.Config{Server: config.ServerConfig{RequestTimeout: 5 * time.Second}}
	for _, m := range mutate {
		m(&cfg)
	}
	srv, err := NewServer(Dependencies{
		Crawler:  h.crawler,
		Results:  h.results,
		Limiter:  h.limiter,
		Settings: settings.New(docs, settings.DefaultDefaults(), nil),
		Tasks:    store.NewTasks(docs),
		Batch:    h.runner,
		Runs:     h.runs,
		Checker:  staticChecker{"jina": true, "firecrawl": false, "model": true},
		IDs:      &fakeIDGen{ids: []string{"req-1"}},
		Clock:    &fakeClock{now: testNow},
	}, cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	h.server = srv
	t.Cleanup(func() { _ = srv.Close(context.Background()) })
	return h
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeCrawler struct {
	mu       sync.Mutex
	content  crawler.ExtractedContent
	stream   func() *llm.TextStream
	progress []crawler.ChatCrawlResult
	err      error
	targets  []crawler.CrawlTarget
}

func (f *fakeCrawler) UnifiedCrawl(context.Context, string) crawler.ExtractedContent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content
}

func (f *fakeCrawler) ChatCrawl(_ context.Context, target crawler.CrawlTarget, onProgress crawler.ProgressFunc) (*llm.TextStream, error) {
	f.mu.Lock()
	f.targets = append(f.targets, target)
	progress, mk, err := f.progress, f.stream, f.err
	f.mu.Unlock()
	for _, p := range progress {
		onProgress(p)
	}
	if err != nil || mk == nil {
		return nil, err
	}
	return mk(), nil
}

func (f *fakeCrawler) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.targets)
}

func (f *fakeCrawler) lastTarget() crawler.CrawlTarget {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.targets[len(f.targets)-1]
}

type fakeLimiter struct {
	deny   bool
	err    error
	eta    time.Time
	window time.Duration
	max    int
}

func (f *fakeLimiter) TryAcquire(context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return !f.deny, nil
}

func (f *fakeLimiter) ResetETA(context.Context) (time.Time, error) { return f.eta, nil }

func (f *fakeLimiter) Window() (time.Duration, int) { return f.window, f.max }

// fakeRunner blocks each run until its context ends, like a long batch.
type fakeRunner struct {
	mu      sync.Mutex
	running bool
	targets []crawler.CrawlTarget
	resumes int
	started chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan struct{}, 4)}
}

func (f *fakeRunner) Run(ctx context.Context, targets []crawler.CrawlTarget) (batch.Summary, error) {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return batch.Summary{}, batch.ErrAlreadyRunning
	}
	f.running = true
	f.targets = targets
	f.mu.Unlock()
	f.started <- struct{}{}

	<-ctx.Done()
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	return batch.Summary{Status: crawler.ProgressPaused, Total: len(targets)}, nil
}

func (f *fakeRunner) Resume(ctx context.Context) (batch.Summary, error) {
	f.mu.Lock()
	f.resumes++
	f.mu.Unlock()
	return f.Run(ctx, []crawler.CrawlTarget{{URL: "https://pending.example", Type: crawler.CrawlTypeBookmarks}})
}

func (f *fakeRunner) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeRunner) lastTargets() []crawler.CrawlTarget {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.targets
}

type staticChecker map[string]bool

func (c staticChecker) CheckKeys(context.Context) map[string]bool { return c }

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "id-default", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
