package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/johnperry/ISN/internal/domain"
)

// Store is a durable bucketed key-value store. Buckets are created
// implicitly by the first Put. All methods return [domain.ErrClosed]
// after Close.
type Store struct {
	DB *sql.DB

	closed atomic.Bool
}

// NewStore wraps an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Get returns the value stored under bucket/key.
func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, domain.ErrClosed
	}
	var value []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE bucket = ? AND key = ?`, bucket, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return value, nil
}

// Put inserts or replaces the value under bucket/key.
func (s *Store) Put(ctx context.Context, bucket, key string, value []byte) error {
	if s.closed.Load() {
		return domain.ErrClosed
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO kv (bucket, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (bucket, key) DO UPDATE SET value = excluded.value`,
		bucket, key, value,
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Remove deletes bucket/key. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, bucket, key string) error {
	if s.closed.Load() {
		return domain.ErrClosed
	}
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM kv WHERE bucket = ? AND key = ?`, bucket, key,
	)
	if err != nil {
		return fmt.Errorf("remove %s/%s: %w", bucket, key, err)
	}
	return nil
}

// ForEach calls fn for every entry of a bucket in key order. A non-nil
// error from fn stops the iteration and is returned.
func (s *Store) ForEach(ctx context.Context, bucket string, fn func(key string, value []byte) error) error {
	if s.closed.Load() {
		return domain.ErrClosed
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE bucket = ? ORDER BY key`, bucket,
	)
	if err != nil {
		return fmt.Errorf("iterate %s: %w", bucket, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scan %s: %w", bucket, err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close marks the store closed and closes the database. Close is
// idempotent.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.DB.Close()
}
