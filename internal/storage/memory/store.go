// Package memory holds in-process implementations of the storage interfaces
// for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/JakeFAU/starmark/internal/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]json.RawMessage
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{collections: make(map[string]map[string]json.RawMessage)}
}

// Put upserts a copy of data.
func (s *Store) Put(_ context.Context, collection, id string, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		c = make(map[string]json.RawMessage)
		s.collections[collection] = c
	}
	c[id] = append(json.RawMessage(nil), data...)
	return nil
}

// Get returns a copy of the stored document.
func (s *Store) Get(_ context.Context, collection, id string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.collections[collection][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append(json.RawMessage(nil), data...), nil
}

// GetAll returns every document in collection ordered by id.
func (s *Store) GetAll(_ context.Context, collection string) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.collections[collection]
	out := make([]store.Record, 0, len(c))
	for id, data := range c {
		out = append(out, store.Record{ID: id, Data: append(json.RawMessage(nil), data...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete removes the document if present.
func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections[collection], id)
	return nil
}
