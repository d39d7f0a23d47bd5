package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	namespace  TEXT NOT NULL,
	value      JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	ttl_ns     BIGINT NOT NULL,
	version    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS cache_entries_namespace_idx ON cache_entries (namespace);
`

// PostgresStore persists entries in a Postgres table with a JSONB value column.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and ensures the cache table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s, err := NewPostgres(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an open connection pool and ensures the cache table exists.
func NewPostgres(ctx context.Context, conn *sql.DB) (*PostgresStore, error) {
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := conn.ExecContext(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create cache_entries: %w", err)
	}
	return &PostgresStore{db: conn}, nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, key string) (Record, bool, error) {
	var (
		rec   Record
		value pqtype.NullRawMessage
		ttlNs int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT namespace, value, created_at, ttl_ns, version FROM cache_entries WHERE key = $1`, key,
	).Scan(&rec.Namespace, &value, &rec.CreatedAt, &ttlNs, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("query cache by key: %w", err)
	}
	if value.Valid {
		rec.Value = value.RawMessage
	}
	rec.TTL = time.Duration(ttlNs)
	return rec, true, nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, key string, rec Record) error {
	value := pqtype.NullRawMessage{RawMessage: rec.Value, Valid: len(rec.Value) > 0}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, namespace, value, created_at, ttl_ns, version)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			namespace = EXCLUDED.namespace,
			value = EXCLUDED.value,
			created_at = EXCLUDED.created_at,
			ttl_ns = EXCLUDED.ttl_ns,
			version = EXCLUDED.version`,
		key, rec.Namespace, value, rec.CreatedAt, int64(rec.TTL), rec.Version,
	)
	if err != nil {
		return fmt.Errorf("upsert cache key: %w", err)
	}
	return nil
}

// Remove implements Store.
func (s *PostgresStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete cache key: %w", err)
	}
	return nil
}

// RemoveNamespace implements Store.
func (s *PostgresStore) RemoveNamespace(ctx context.Context, namespace string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = $1`, namespace); err != nil {
		return fmt.Errorf("delete cache namespace: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("clear cache table: %w", err)
	}
	return nil
}

// Purge implements Purger.
func (s *PostgresStore) Purge(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cache_entries
		WHERE ttl_ns > 0 AND created_at + (ttl_ns / 1000.0) * interval '1 microsecond' < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired cache rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired cache rows: %w", err)
	}
	return int(n), nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
