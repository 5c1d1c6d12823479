package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/starmark/internal/config"
	"github.com/JakeFAU/starmark/internal/crawler"
	"github.com/JakeFAU/starmark/internal/llm"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"
	return &cfg
}

func TestBuildInMemory(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(t), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	require.NotNil(t, app.Orchestrator())
	require.NotNil(t, app.Runner())
	require.NotNil(t, app.Results())
	require.NotNil(t, app.Settings())

	results, err := app.ListResults(context.Background())
	require.NoError(t, err)
	require.Empty(t, results)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ratelimit", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var window map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &window))
	require.EqualValues(t, 60, window["windowSeconds"])
	require.EqualValues(t, 10, window["max"])
}

func TestBuildSQLiteAndLocalBlobs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Store.Backend = "sqlite"
	cfg.Store.SQLitePath = filepath.Join(dir, "starmark.db")
	cfg.Blob.Backend = "local"
	cfg.Blob.Local.BaseDir = filepath.Join(dir, "shots")
	cfg.PubSub.Backend = "memory"
	cfg.Screenshot.Provider = "none"

	app, err := Build(context.Background(), cfg, WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Batch.Schedule = "not a cron line"
	_, err := Build(context.Background(), cfg, WithRegisterer(prometheus.NewRegistry()))
	require.Error(t, err)
	require.Contains(t, err.Error(), "batch schedule")
}

func TestCheckKeys(t *testing.T) {
	t.Parallel()

	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"data":{"title":"Google","content":"search"}}`))
	}))
	t.Cleanup(reader.Close)
	denied := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	t.Cleanup(denied.Close)

	cfg := testConfig(t)
	cfg.Extract.Jina.Endpoint = reader.URL
	cfg.Extract.Firecrawl.Endpoint = denied.URL
	cfg.Settings.Provider = llm.ProviderOllama
	cfg.Settings.CustomModelURL = strings.TrimSuffix(denied.URL, "/")

	app, err := Build(context.Background(), cfg, WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	got := app.CheckKeys(context.Background())
	require.Equal(t, map[string]bool{"jina": true, "firecrawl": false, "model": false}, got)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Server.Port = 0
	app, err := Build(context.Background(), cfg, WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, app.Run(ctx))
}

func TestStarredTargets(t *testing.T) {
	t.Parallel()

	gh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/octo/starred" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"full_name":"octo/hello","html_url":"https://github.com/octo/hello"}]`))
	}))
	t.Cleanup(gh.Close)

	cfg := testConfig(t)
	cfg.GitHub.Endpoint = gh.URL
	app, err := Build(context.Background(), cfg, WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	targets, err := app.StarredTargets(context.Background(), "octo")
	require.NoError(t, err)
	require.Len(t, targets, 1)
	require.Equal(t, "https://github.com/octo/hello", targets[0].URL)
	require.Equal(t, crawler.CrawlTypeGithubStars, targets[0].Type)
}
