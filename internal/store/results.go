package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/JakeFAU/starmark/internal/crawler"
)

// Results persists ChatCrawlResult records in the chatCrawl collection, keyed
// by URL. It implements crawler.ResultStore.
type Results struct {
	s Store
}

// NewResults wraps s.
func NewResults(s Store) *Results {
	return &Results{s: s}
}

// SaveResult upserts result. Records without a URL or type are rejected.
func (r *Results) SaveResult(ctx context.Context, result crawler.ChatCrawlResult) error {
	if result.URL == "" {
		return errors.New("result url is required")
	}
	if !result.Type.Valid() {
		return fmt.Errorf("result %s: type is required", result.URL)
	}
	return PutJSON(ctx, r.s, CollectionChatCrawl, result.URL, result)
}

// GetResult loads the record for url.
func (r *Results) GetResult(ctx context.Context, url string) (crawler.ChatCrawlResult, error) {
	var out crawler.ChatCrawlResult
	if err := GetJSON(ctx, r.s, CollectionChatCrawl, url, &out); err != nil {
		return crawler.ChatCrawlResult{}, err
	}
	if out.URL == "" {
		out.URL = url
	}
	return out, nil
}

// ListResults returns every stored record ordered by URL.
func (r *Results) ListResults(ctx context.Context) ([]crawler.ChatCrawlResult, error) {
	records, err := r.s.GetAll(ctx, CollectionChatCrawl)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	out := make([]crawler.ChatCrawlResult, 0, len(records))
	for _, rec := range records {
		var res crawler.ChatCrawlResult
		if err := json.Unmarshal(rec.Data, &res); err != nil {
			return nil, fmt.Errorf("decode result %s: %w", rec.ID, err)
		}
		if res.URL == "" {
			res.URL = rec.ID
		}
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// DeleteResult removes the record for url.
func (r *Results) DeleteResult(ctx context.Context, url string) error {
	if err := r.s.Delete(ctx, CollectionChatCrawl, url); err != nil {
		return fmt.Errorf("delete result %s: %w", url, err)
	}
	return nil
}
