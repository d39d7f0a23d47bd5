package store

import (
	"context"
	"sync"

	"github.com/dgraph-io/ristretto"
)

// RistrettoStore is a size-bounded in-process tier backed by ristretto.
// Records live only as long as the process, so it mostly serves as a
// shared second level between managers and in development.
type RistrettoStore struct {
	cache *ristretto.Cache

	mu         sync.Mutex
	namespaces map[string]map[string]struct{}
}

// NewRistretto creates a ristretto tier capped at maxSizeMB megabytes.
func NewRistretto(maxSizeMB int64) (*RistrettoStore, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 64
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,                  // ~10x the expected number of entries
		MaxCost:     maxSizeMB * 1024 * 1024, // bytes
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &RistrettoStore{
		cache:      cache,
		namespaces: make(map[string]map[string]struct{}),
	}, nil
}

// Load implements Store.
func (s *RistrettoStore) Load(_ context.Context, key string) (Record, bool, error) {
	val, found := s.cache.Get(key)
	if !found {
		return Record{}, false, nil
	}
	rec, ok := val.(Record)
	if !ok {
		s.cache.Del(key)
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Save implements Store.
func (s *RistrettoStore) Save(_ context.Context, key string, rec Record) error {
	cost := int64(len(rec.Value) + len(key) + len(rec.Namespace) + len(rec.Version))
	if rec.TTL > 0 {
		s.cache.SetWithTTL(key, rec, cost, rec.TTL)
	} else {
		s.cache.Set(key, rec, cost)
	}
	// Make the write visible to the next Load.
	s.cache.Wait()

	s.mu.Lock()
	keys, ok := s.namespaces[rec.Namespace]
	if !ok {
		keys = make(map[string]struct{})
		s.namespaces[rec.Namespace] = keys
	}
	keys[key] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Remove implements Store.
func (s *RistrettoStore) Remove(_ context.Context, key string) error {
	s.cache.Del(key)
	s.mu.Lock()
	for _, keys := range s.namespaces {
		delete(keys, key)
	}
	s.mu.Unlock()
	return nil
}

// RemoveNamespace implements Store.
func (s *RistrettoStore) RemoveNamespace(_ context.Context, namespace string) error {
	s.mu.Lock()
	keys := s.namespaces[namespace]
	delete(s.namespaces, namespace)
	s.mu.Unlock()

	for key := range keys {
		s.cache.Del(key)
	}
	return nil
}

// Clear implements Store.
func (s *RistrettoStore) Clear(_ context.Context) error {
	s.cache.Clear()
	s.mu.Lock()
	s.namespaces = make(map[string]map[string]struct{})
	s.mu.Unlock()
	return nil
}

// Close implements Store.
func (s *RistrettoStore) Close() error {
	s.cache.Close()
	return nil
}
