package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/cachemanager/internal/circuitbreaker"
	"github.com/onnwee/cachemanager/internal/errorreporting"
	"github.com/onnwee/cachemanager/internal/metrics"
	"github.com/onnwee/cachemanager/internal/store"
)

const defaultStoreTimeout = 2 * time.Second

// BreakerConfig tunes the circuit breaker in front of the backing store.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// tier mirrors the manager into a persistent store. Every method is
// best-effort: failures are logged and counted, never returned. A nil
// *tier is valid and does nothing.
type tier struct {
	store   store.Store
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
	log     *slog.Logger
}

func newTier(s store.Store, timeout time.Duration, bc BreakerConfig, log *slog.Logger) *tier {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &tier{
		store:   s,
		timeout: timeout,
		log:     log,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "cache_backing_store",
			FailureThreshold: bc.FailureThreshold,
			Timeout:          bc.Cooldown,
			OnTrip: func(name string, lastErr error) {
				log.Warn("backing store circuit opened", "breaker", name, "error", lastErr)
				errorreporting.CaptureErrorWithContext(lastErr,
					map[string]string{"component": "cache", "breaker": name}, nil)
			},
		}),
	}
}

// do runs op against the store with a timeout, behind the breaker.
func (t *tier) do(op string, fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backing store %s panicked: %v", op, r)
		}
		metrics.BackingStoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.BackingStoreErrors.WithLabelValues(op).Inc()
			if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
				t.log.Warn("backing store operation failed", "op", op, "error", err)
			}
		}
	}()

	return t.breaker.Call(func() error { return fn(ctx) })
}

func (t *tier) save(e *Entry) {
	if t == nil {
		return
	}
	// Values without a JSON form (cycles, funcs, channels) stay memory-only.
	raw, err := encodeValue(e.Value)
	if err != nil {
		metrics.BackingStoreErrors.WithLabelValues("encode").Inc()
		t.log.Debug("value not persisted", "key", e.key, "error", err)
		// The slot must not keep serving an older persisted value.
		t.remove(e.key)
		return
	}
	rec := store.Record{
		Namespace: e.Namespace,
		Value:     raw,
		CreatedAt: e.CreatedAt,
		TTL:       e.TTL,
		Version:   e.Version,
	}
	_ = t.do("save", func(ctx context.Context) error {
		return t.store.Save(ctx, e.key, rec)
	})
}

func encodeValue(v any) (raw []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("encode value: %v", r)
		}
	}()
	return json.Marshal(v)
}

// load returns the live persisted entry at derived, decoded into generic
// JSON values (map[string]any, []any, float64, string, bool, nil).
func (t *tier) load(derived string, now time.Time) (*Entry, bool) {
	var (
		rec   store.Record
		found bool
	)
	err := t.do("load", func(ctx context.Context) error {
		var err error
		rec, found, err = t.store.Load(ctx, derived)
		return err
	})
	if err != nil || !found || rec.Expired(now) {
		return nil, false
	}

	var value any
	if err := json.Unmarshal(rec.Value, &value); err != nil {
		metrics.BackingStoreErrors.WithLabelValues("decode").Inc()
		t.log.Warn("discarding undecodable persisted entry", "key", derived, "error", err)
		return nil, false
	}
	return &Entry{
		Namespace: rec.Namespace,
		Value:     value,
		CreatedAt: rec.CreatedAt,
		TTL:       rec.TTL,
		Version:   rec.Version,
		key:       derived,
	}, true
}

func (t *tier) remove(derived string) {
	if t == nil {
		return
	}
	_ = t.do("remove", func(ctx context.Context) error {
		return t.store.Remove(ctx, derived)
	})
}

func (t *tier) removeNamespace(namespace string) {
	if t == nil {
		return
	}
	_ = t.do("remove_namespace", func(ctx context.Context) error {
		return t.store.RemoveNamespace(ctx, namespace)
	})
}

func (t *tier) clear() {
	if t == nil {
		return
	}
	_ = t.do("clear", func(ctx context.Context) error {
		return t.store.Clear(ctx)
	})
}

// purge drops expired records from stores that cannot expire them natively.
func (t *tier) purge(now time.Time) int {
	if t == nil {
		return 0
	}
	p, ok := t.store.(store.Purger)
	if !ok {
		return 0
	}
	var n int
	_ = t.do("purge", func(ctx context.Context) error {
		var err error
		n, err = p.Purge(ctx, now)
		return err
	})
	return n
}
