// Package store holds the optional persistent tiers the cache manager
// mirrors its entries into. Every implementation keys records by the
// derived cache key and keeps the namespace alongside so a whole
// namespace can be dropped without enumerating keys.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kinds accepted by Open.
const (
	KindNone     = "none"
	KindMemory   = "memory"
	KindFile     = "file"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

var (
	// ErrUnknownKind is returned by Open for an unsupported store kind.
	ErrUnknownKind = errors.New("unknown backing store kind")
	// ErrMissingDSN is returned when a database kind is selected without a DSN.
	ErrMissingDSN = errors.New("backing store DSN is required")
)

// Record is the persisted form of a cache entry.
type Record struct {
	Namespace string          `json:"namespace"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	TTL       time.Duration   `json:"ttl"`
	Version   string          `json:"version"`
}

// Expired reports whether the record is past its TTL at now.
// A non-positive TTL never expires.
func (r Record) Expired(now time.Time) bool {
	return r.TTL > 0 && now.Sub(r.CreatedAt) > r.TTL
}

// ExpiresAt returns the expiry instant, or the zero time when the record never expires.
func (r Record) ExpiresAt() time.Time {
	if r.TTL <= 0 {
		return time.Time{}
	}
	return r.CreatedAt.Add(r.TTL)
}

// Store is a key/value tier addressed by derived cache keys.
type Store interface {
	// Load returns the record at key. A missing key is (Record{}, false, nil).
	Load(ctx context.Context, key string) (Record, bool, error)
	// Save upserts the record at key.
	Save(ctx context.Context, key string, rec Record) error
	// Remove deletes key; removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// RemoveNamespace deletes every record saved under namespace.
	RemoveNamespace(ctx context.Context, namespace string) error
	// Clear deletes every record.
	Clear(ctx context.Context) error
	// Close releases the underlying resources.
	Close() error
}

// Purger is implemented by stores that do not expire records on their
// own and can drop every record that expired before now.
type Purger interface {
	Purge(ctx context.Context, now time.Time) (int, error)
}

// Config selects and parameterises a backing store.
type Config struct {
	Kind      string
	DSN       string // sqlite path or postgres connection string
	Dir       string // base directory of the file store
	MaxSizeMB int64  // memory store budget
}

// Open builds the store described by cfg. KindNone and the empty kind
// return a nil Store and a nil error.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", KindNone:
		return nil, nil
	case KindMemory:
		return NewRistretto(cfg.MaxSizeMB)
	case KindFile:
		return NewFile(cfg.Dir)
	case KindSQLite:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("sqlite: %w", ErrMissingDSN)
		}
		return OpenSQLite(ctx, cfg.DSN)
	case KindPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres: %w", ErrMissingDSN)
		}
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}
