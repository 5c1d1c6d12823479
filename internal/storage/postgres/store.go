package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/starmark/internal/store"
)

const defaultDocumentsTable = "documents"

// Store implements store.Store over a single documents table:
//
//	CREATE TABLE documents (
//		collection TEXT NOT NULL,
//		id         TEXT NOT NULL,
//		data       JSONB NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//		PRIMARY KEY (collection, id)
//	);
type Store struct {
	pool  Pool
	table string
}

// NewStore wraps pool. An empty table name means "documents".
func NewStore(pool Pool, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, defaultDocumentsTable)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, table: name}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Put upserts a document.
func (s *Store) Put(ctx context.Context, collection, id string, data json.RawMessage) error {
	query := fmt.Sprintf(`
INSERT INTO %s (collection, id, data, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (collection, id) DO UPDATE
SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, collection, id, []byte(data)); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// Get loads one document.
func (s *Store) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE collection = $1 AND id = $2`, s.table)
	var data []byte
	if err := s.pool.QueryRow(ctx, query, collection, id).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return json.RawMessage(data), nil
}

// GetAll loads every document in collection ordered by id.
func (s *Store) GetAll(ctx context.Context, collection string) ([]store.Record, error) {
	query := fmt.Sprintf(`SELECT id, data FROM %s WHERE collection = $1 ORDER BY id`, s.table)
	rows, err := s.pool.Query(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, store.Record{ID: id, Data: json.RawMessage(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE collection = $1 AND id = $2`, s.table)
	if _, err := s.pool.Exec(ctx, query, collection, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}
