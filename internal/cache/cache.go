package cache

import (
	"errors"
	"time"
)

const (
	// DefaultTTL applies when neither the write nor the manager overrides it.
	DefaultTTL = 5 * time.Minute

	// NoExpiration marks an entry that never expires.
	NoExpiration time.Duration = -1

	// DefaultVersion is the version tag of a write that does not supply one.
	DefaultVersion = "0"
)

// ErrAlreadyInitialized is returned by Configure once the shared instance exists.
var ErrAlreadyInitialized = errors.New("cache: shared instance already initialized")

// Cache is the subset of the manager that request-level consumers such as
// the HTTP client depend on.
type Cache interface {
	// Get returns the live value stored for the derived key.
	// The boolean is false when nothing live is cached.
	Get(namespace, key string, params any) (any, bool)

	// Set stores value, replacing whatever the derived key held.
	Set(namespace, key string, value any, cfg *SetConfig, params any)

	// Has reports whether Get would currently return a value.
	Has(namespace, key string, params any) bool

	// Delete removes the derived key if present.
	Delete(namespace, key string, params any)
}

// SetConfig overrides the manager defaults for a single write.
// The zero value means "use the defaults".
type SetConfig struct {
	// TTL of the entry. Zero selects the manager default, NoExpiration
	// (or any negative value) keeps the entry until it is removed.
	TTL time.Duration
	// Version tag recorded with the entry. Empty selects DefaultVersion.
	Version string
}

// Entry is a stored value and its metadata.
type Entry struct {
	Namespace string
	Value     any
	CreatedAt time.Time
	TTL       time.Duration
	Version   string

	key string
}

// Key returns the derived key the entry is stored under.
func (e *Entry) Key() string { return e.key }

// Expired reports whether the entry is past its TTL at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// Stats is a snapshot of the process-wide counters.
type Stats struct {
	TotalHits   uint64  `json:"totalHits"`
	TotalMisses uint64  `json:"totalMisses"`
	HitRate     float64 `json:"hitRate"`    // percent, two decimals
	MemorySize  int     `json:"memorySize"` // entries held, expired ones included
}
