package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Collections used by the pipeline.
const (
	CollectionSettings      = "settings"
	CollectionImagePreviews = "imagePreviews"
	CollectionCrawlTask     = "crawlTask"
	CollectionChatCrawl     = "chatCrawl"
)

// Record is one stored document and its id.
type Record struct {
	ID   string
	Data json.RawMessage
}

// Store is a key-value interface over named collections. Put is an upsert.
// Get returns ErrNotFound for missing ids; Delete of a missing id is not an
// error.
type Store interface {
	Put(ctx context.Context, collection, id string, data json.RawMessage) error
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)
	GetAll(ctx context.Context, collection string) ([]Record, error)
	Delete(ctx context.Context, collection, id string) error
}

// PutJSON marshals v and stores it under (collection, id).
func PutJSON(ctx context.Context, s Store, collection, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", collection, id, err)
	}
	if err := s.Put(ctx, collection, id, raw); err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

// GetJSON loads (collection, id) into v. Missing records yield ErrNotFound.
func GetJSON(ctx context.Context, s Store, collection, id string, v any) error {
	raw, err := s.Get(ctx, collection, id)
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return nil
}
