package cache

import (
	"container/list"
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/cachemanager/internal/logger"
	"github.com/onnwee/cachemanager/internal/metrics"
	"github.com/onnwee/cachemanager/internal/store"
)

// Config controls a Manager.
//
// Zero values select the defaults: DefaultTTL, no background cleanup,
// no backing store, time.Now and the component logger.
type Config struct {
	DefaultTTL time.Duration

	// CleanupInterval > 0 starts a goroutine that purges expired entries.
	// Expiry is enforced on read regardless.
	CleanupInterval time.Duration

	// Store enables write-through/read-through to a persistent tier.
	Store        store.Store
	StoreTimeout time.Duration
	Breaker      BreakerConfig

	Clock  func() time.Time
	Logger *slog.Logger
}

// Manager is the cache manager. It is safe for concurrent use.
type Manager struct {
	mu    sync.RWMutex
	items map[string]*list.Element
	order *list.List // insertion order, front = oldest

	hits   atomic.Uint64
	misses atomic.Uint64

	// Bumped by Delete and the clears once memory and store are both
	// invalidated. A read-through that straddles a bump does not insert.
	invalidations atomic.Uint64

	defaultTTL time.Duration
	now        func() time.Time
	log        *slog.Logger
	tier       *tier

	// Janitor ownership.
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	cleanupEvery time.Duration
	closeOnce    sync.Once
}

// New constructs an independent manager. Most callers want GetInstance.
func New(cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		items:        make(map[string]*list.Element),
		order:        list.New(),
		defaultTTL:   cfg.DefaultTTL,
		now:          cfg.Clock,
		log:          cfg.Logger,
		ctx:          ctx,
		cancel:       cancel,
		cleanupEvery: cfg.CleanupInterval,
	}
	if m.defaultTTL == 0 {
		m.defaultTTL = DefaultTTL
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.log == nil {
		m.log = logger.WithComponent("cache")
	}
	if cfg.Store != nil {
		m.tier = newTier(cfg.Store, cfg.StoreTimeout, cfg.Breaker, m.log)
	}

	if m.cleanupEvery > 0 {
		m.wg.Add(1)
		go m.expiryLoop()
	}

	return m
}

// Close stops the cleanup goroutine. The manager stays usable and the
// backing store is left open for its owner to close. Safe to call twice.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
	})
	return nil
}

// GenerateKey derives the storage key for (namespace, key, params).
func (m *Manager) GenerateKey(namespace, key string, params any) string {
	return GenerateKey(namespace, key, params)
}

// Set stores value under the derived key, replacing any previous entry,
// including one written with a different version.
func (m *Manager) Set(namespace, key string, value any, cfg *SetConfig, params any) {
	ttl, version := m.resolve(cfg)
	e := &Entry{
		Namespace: namespace,
		Value:     value,
		CreatedAt: m.now(),
		TTL:       ttl,
		Version:   version,
		key:       GenerateKey(namespace, key, params),
	}

	m.mu.Lock()
	m.storeLocked(e)
	m.mu.Unlock()

	metrics.CacheWrites.WithLabelValues(namespace).Inc()
	m.tier.save(e)
}

func (m *Manager) resolve(cfg *SetConfig) (time.Duration, string) {
	ttl, version := m.defaultTTL, DefaultVersion
	if cfg != nil {
		if cfg.TTL != 0 {
			ttl = cfg.TTL
		}
		if cfg.Version != "" {
			version = cfg.Version
		}
	}
	if ttl < 0 {
		ttl = NoExpiration
	}
	return ttl, version
}

// Get returns the live value for the derived key and records a hit, or
// records a miss and returns (nil, false).
func (m *Manager) Get(namespace, key string, params any) (any, bool) {
	e, ok := m.lookup(GenerateKey(namespace, key, params))
	if !ok {
		m.misses.Add(1)
		metrics.CacheLookups.WithLabelValues(namespace, "miss").Inc()
		return nil, false
	}
	m.hits.Add(1)
	metrics.CacheLookups.WithLabelValues(namespace, "hit").Inc()
	return e.Value, true
}

// Has reports whether a live entry exists. It never touches the counters.
func (m *Manager) Has(namespace, key string, params any) bool {
	_, ok := m.lookup(GenerateKey(namespace, key, params))
	return ok
}

// GetEntry returns a copy of the live entry with its metadata without
// touching the counters.
func (m *Manager) GetEntry(namespace, key string, params any) (Entry, bool) {
	e, ok := m.lookup(GenerateKey(namespace, key, params))
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// lookup finds a live entry in memory, falling back to the backing store.
func (m *Manager) lookup(derived string) (*Entry, bool) {
	now := m.now()

	m.mu.RLock()
	e, ok := m.liveLocked(derived, now)
	m.mu.RUnlock()
	if ok {
		return e, true
	}
	if m.tier == nil {
		return nil, false
	}
	return m.readThrough(derived, now, m.invalidations.Load())
}

func (m *Manager) readThrough(derived string, now time.Time, gen uint64) (*Entry, bool) {
	e, ok := m.tier.load(derived, now)
	if !ok {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A concurrent Set may have landed while the store was consulted.
	if cur, ok := m.liveLocked(derived, now); ok {
		return cur, true
	}
	// An invalidation ran while the record was in flight; it may already
	// be gone from the store, so it must not come back into memory.
	if m.invalidations.Load() != gen {
		return e, true
	}
	m.storeLocked(e)
	return e, true
}

// Delete removes the derived key. Removing an absent key is a no-op.
func (m *Manager) Delete(namespace, key string, params any) {
	derived := GenerateKey(namespace, key, params)

	// Store first, memory last: a read-through that loaded the record
	// before it was removed either sees the bump or is swept below.
	m.tier.remove(derived)

	m.mu.Lock()
	m.deleteLocked(derived)
	m.invalidations.Add(1)
	m.mu.Unlock()

	metrics.CacheInvalidations.WithLabelValues("key").Inc()
}

// ClearNamespace removes every entry written under namespace.
func (m *Manager) ClearNamespace(namespace string) {
	m.tier.removeNamespace(namespace)

	m.mu.Lock()
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if e := el.Value.(*Entry); e.Namespace == namespace {
			delete(m.items, e.key)
			m.order.Remove(el)
		}
		el = next
	}
	m.invalidations.Add(1)
	m.mu.Unlock()

	metrics.CacheInvalidations.WithLabelValues("namespace").Inc()
}

// ClearAll removes every entry. The hit/miss counters are kept.
func (m *Manager) ClearAll() {
	m.tier.clear()

	m.mu.Lock()
	m.items = make(map[string]*list.Element)
	m.order.Init()
	m.invalidations.Add(1)
	m.mu.Unlock()

	metrics.CacheInvalidations.WithLabelValues("all").Inc()
}

// GetStats computes a fresh snapshot of the counters.
func (m *Manager) GetStats() Stats {
	hits, misses := m.hits.Load(), m.misses.Load()

	var rate float64
	if total := hits + misses; total > 0 {
		rate = math.Round(float64(hits)/float64(total)*10000) / 100
	}

	return Stats{
		TotalHits:   hits,
		TotalMisses: misses,
		HitRate:     rate,
		MemorySize:  m.Len(),
	}
}

// GetKeys returns every stored derived key in insertion order, including
// expired entries that have not been reclaimed yet.
func (m *Manager) GetKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, m.order.Len())
	for el := m.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Entry).key)
	}
	return out
}

// Len returns the number of stored entries, expired ones included.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Purge physically removes expired entries and returns how many went.
func (m *Manager) Purge() int {
	now := m.now()

	m.mu.Lock()
	removed := 0
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if e := el.Value.(*Entry); e.Expired(now) {
			delete(m.items, e.key)
			m.order.Remove(el)
			removed++
		}
		el = next
	}
	m.mu.Unlock()

	if removed > 0 {
		metrics.CacheExpiredReclaimed.Add(float64(removed))
	}
	return removed
}

func (m *Manager) liveLocked(derived string, now time.Time) (*Entry, bool) {
	el, ok := m.items[derived]
	if !ok {
		return nil, false
	}
	e := el.Value.(*Entry)
	if e.Expired(now) {
		return nil, false
	}
	return e, true
}

// storeLocked inserts e, or replaces the entry at the same derived key
// while keeping its original insertion position.
func (m *Manager) storeLocked(e *Entry) {
	if el, ok := m.items[e.key]; ok {
		el.Value = e
		return
	}
	m.items[e.key] = m.order.PushBack(e)
}

func (m *Manager) deleteLocked(derived string) {
	el, ok := m.items[derived]
	if !ok {
		return
	}
	delete(m.items, derived)
	m.order.Remove(el)
}
