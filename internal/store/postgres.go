package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is a SharedStore backed by a single Postgres table, for fleets
// whose processes do not share memory. Change notifications are not
// pushed; consumers rely on their periodic reconciliation poll, which
// the SharedStore contract allows.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPGStore creates a Postgres-backed store and ensures its table
// exists.
func NewPGStore(ctx context.Context, db *pgxpool.Pool) (*PGStore, error) {
	query := `
		CREATE TABLE IF NOT EXISTS kv_entries (
			key        TEXT PRIMARY KEY,
			value      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := db.Exec(ctx, query); err != nil {
		return nil, fmt.Errorf("failed to create kv_entries table: %w", err)
	}
	return &PGStore{db: db}, nil
}

// Get retrieves the value stored under key.
func (s *PGStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value FROM kv_entries WHERE key = $1`
	var value []byte
	err := s.db.QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, nil
}

// Set upserts value under key. Last writer wins at the key level.
func (s *PGStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO kv_entries (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = $3
	`
	_, err := s.db.Exec(ctx, query, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is a no-op.
func (s *PGStore) Remove(ctx context.Context, key string) error {
	query := `DELETE FROM kv_entries WHERE key = $1`
	if _, err := s.db.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("failed to remove key %s: %w", key, err)
	}
	return nil
}

// Watch is a no-op for the Postgres store; peers observe writes through
// their reconciliation poll.
func (s *PGStore) Watch(handler func(key string)) {}
