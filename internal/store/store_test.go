package store_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/starmark/internal/crawler"
	"github.com/JakeFAU/starmark/internal/storage/memory"
	"github.com/JakeFAU/starmark/internal/store"
)

func TestResultsRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	results := store.NewResults(memory.NewStore())

	res := crawler.ChatCrawlResult{
		URL:      "https://b.example",
		Status:   crawler.StatusFinished,
		Type:     crawler.CrawlTypeBookmarks,
		ChatData: json.RawMessage(`{"a":1}`),
	}
	require.NoError(t, results.SaveResult(ctx, res))
	require.NoError(t, results.SaveResult(ctx, crawler.ChatCrawlResult{
		URL: "https://a.example", Status: crawler.StatusStarted, Type: crawler.CrawlTypeGithubStars,
	}))

	got, err := results.GetResult(ctx, "https://b.example")
	require.NoError(t, err)
	require.Equal(t, crawler.StatusFinished, got.Status)
	require.JSONEq(t, `{"a":1}`, string(got.ChatData))

	all, err := results.ListResults(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "https://a.example", all[0].URL)

	require.NoError(t, results.DeleteResult(ctx, "https://a.example"))
	_, err = results.GetResult(ctx, "https://a.example")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestResultsRejectsMissingType(t *testing.T) {
	t.Parallel()

	results := store.NewResults(memory.NewStore())
	err := results.SaveResult(context.Background(), crawler.ChatCrawlResult{URL: "https://x.test"})
	require.ErrorContains(t, err, "type is required")
}

func TestTasksDefaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tasks := store.NewTasks(memory.NewStore())

	w, err := tasks.LoadWindow(ctx)
	require.NoError(t, err)
	require.Equal(t, crawler.RateLimitWindow{}, w)

	p, err := tasks.LoadProgress(ctx)
	require.NoError(t, err)
	require.Equal(t, crawler.ProgressIdle, p.Status)

	pending, err := tasks.LoadPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestTasksPersist(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tasks := store.NewTasks(memory.NewStore())

	require.NoError(t, tasks.SaveWindow(ctx, crawler.RateLimitWindow{Count: 2, LastReset: 1000}))
	require.NoError(t, tasks.SaveProgress(ctx, crawler.CrawlProgress{Status: crawler.ProgressRunning, Progress: 40, RemainingItems: 3}))
	targets := []crawler.CrawlTarget{{URL: "https://x.test", Type: crawler.CrawlTypeBookmarks}}
	require.NoError(t, tasks.SavePending(ctx, targets))

	w, err := tasks.LoadWindow(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, w.Count)

	p, err := tasks.LoadProgress(ctx)
	require.NoError(t, err)
	require.Equal(t, 40, p.Progress)

	pending, err := tasks.LoadPending(ctx)
	require.NoError(t, err)
	require.Equal(t, targets, pending)
}

func TestPreviews(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	previews := store.NewPreviews(memory.NewStore())

	require.NoError(t, previews.SavePreview(ctx, "https://x.test", "data:image/png;base64,AA=="))
	got, err := previews.GetPreview(ctx, "https://x.test")
	require.NoError(t, err)
	require.Equal(t, "data:image/png;base64,AA==", got)

	_, err = previews.GetPreview(ctx, "https://missing.test")
	require.ErrorIs(t, err, store.ErrNotFound)
}
