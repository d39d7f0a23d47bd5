package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/onnwee/cachemanager/internal/apierr"
	"github.com/onnwee/cachemanager/internal/cache"
	"github.com/onnwee/cachemanager/internal/logger"
	"github.com/onnwee/cachemanager/internal/middleware"
)

// CacheAdmin is the part of *cache.Manager the admin endpoints use.
type CacheAdmin interface {
	Get(namespace, key string, params any) (any, bool)
	GetEntry(namespace, key string, params any) (cache.Entry, bool)
	Set(namespace, key string, value any, cfg *cache.SetConfig, params any)
	Delete(namespace, key string, params any)
	ClearNamespace(namespace string)
	ClearAll()
	GetStats() cache.Stats
	GetKeys() []string
}

// CacheAdminHandler exposes the cache manager over HTTP.
type CacheAdminHandler struct {
	cache CacheAdmin
}

// NewCacheAdminHandler creates a new cache admin handler.
func NewCacheAdminHandler(c CacheAdmin) *CacheAdminHandler {
	return &CacheAdminHandler{cache: c}
}

// EntryResponse describes one cached value and its metadata.
type EntryResponse struct {
	Namespace string     `json:"namespace"`
	Key       string     `json:"key"`
	CacheKey  string     `json:"cacheKey"`
	Value     any        `json:"value"`
	Version   string     `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	TTLMs     int64      `json:"ttlMs"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// PutEntryRequest is the body of PUT /api/cache/entries/{namespace}/{key}.
// TTLMs of 0 or absent selects the default TTL, a negative value never expires.
type PutEntryRequest struct {
	Value   json.RawMessage `json:"value"`
	TTLMs   int64           `json:"ttlMs"`
	Version string          `json:"version"`
	Params  json.RawMessage `json:"params"`
}

// KeysResponse lists derived keys in insertion order.
type KeysResponse struct {
	Keys  []string `json:"keys"`
	Count int      `json:"count"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// entryTarget pulls and validates namespace and key from the route.
func entryTarget(r *http.Request) (namespace, key string, apiErr *apierr.Error) {
	vars := mux.Vars(r)
	namespace, key = vars["namespace"], vars["key"]
	if err := middleware.ValidateSegment("namespace", namespace); err != nil {
		return "", "", apierr.CacheInvalidKey(err.Error())
	}
	if err := middleware.ValidateSegment("key", key); err != nil {
		return "", "", apierr.CacheInvalidKey(err.Error())
	}
	return namespace, key, nil
}

// decodeParams parses a JSON params document. Empty input and JSON null
// both mean "no params".
func decodeParams(raw []byte) (any, *apierr.Error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var params any
	if err := dec.Decode(&params); err != nil {
		return nil, apierr.CacheInvalidParams("params must be a JSON document")
	}
	if dec.More() {
		return nil, apierr.CacheInvalidParams("params must be a single JSON document")
	}
	return normalizeNumbers(params), nil
}

// normalizeNumbers turns json.Number leaves into the Go numbers a native
// caller would pass, so 7, 7.0 and 7e0 address the same slot. Integers
// stay int64 to keep their precision.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
	}
	return v
}

func entryResponse(namespace, key string, e cache.Entry) EntryResponse {
	resp := EntryResponse{
		Namespace: namespace,
		Key:       key,
		CacheKey:  e.Key(),
		Value:     e.Value,
		Version:   e.Version,
		CreatedAt: e.CreatedAt,
		TTLMs:     e.TTL.Milliseconds(),
	}
	if e.TTL > 0 {
		exp := e.CreatedAt.Add(e.TTL)
		resp.ExpiresAt = &exp
	}
	return resp
}

// GetStats returns current cache statistics.
// GET /api/cache/stats
func (h *CacheAdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.GetStats())
}

// GetKeys lists every derived key, expired ones included until reclaimed.
// GET /api/cache/keys
func (h *CacheAdminHandler) GetKeys(w http.ResponseWriter, r *http.Request) {
	keys := h.cache.GetKeys()
	writeJSON(w, http.StatusOK, KeysResponse{Keys: keys, Count: len(keys)})
}

// GetEntry returns a cached value. The lookup counts toward hit/miss stats.
// GET /api/cache/entries/{namespace}/{key}?params={json}
func (h *CacheAdminHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	namespace, key, apiErr := entryTarget(r)
	if apiErr != nil {
		apierr.WriteErrorWithContext(w, r, apiErr)
		return
	}
	params, apiErr := decodeParams([]byte(r.URL.Query().Get("params")))
	if apiErr != nil {
		apierr.WriteErrorWithContext(w, r, apiErr)
		return
	}

	value, ok := h.cache.Get(namespace, key, params)
	if !ok {
		apierr.WriteErrorWithContext(w, r, apierr.CacheEntryNotFound(namespace, key))
		return
	}
	// Metadata may be gone if the entry expired after Get; the value stands.
	e, _ := h.cache.GetEntry(namespace, key, params)
	e.Value = value
	writeJSON(w, http.StatusOK, entryResponse(namespace, key, e))
}

// PutEntry stores a value.
// PUT /api/cache/entries/{namespace}/{key}
func (h *CacheAdminHandler) PutEntry(w http.ResponseWriter, r *http.Request) {
	namespace, key, apiErr := entryTarget(r)
	if apiErr != nil {
		apierr.WriteErrorWithContext(w, r, apiErr)
		return
	}

	var req PutEntryRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		if errors.Is(err, middleware.ErrNotJSON) {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("Content-Type", err.Error()))
			return
		}
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON())
		return
	}
	if req.Value == nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("value"))
		return
	}

	var value any
	dec := json.NewDecoder(bytes.NewReader(req.Value))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON())
		return
	}
	params, apiErr := decodeParams(req.Params)
	if apiErr != nil {
		apierr.WriteErrorWithContext(w, r, apiErr)
		return
	}

	cfg := &cache.SetConfig{
		TTL:     time.Duration(req.TTLMs) * time.Millisecond,
		Version: req.Version,
	}
	h.cache.Set(namespace, key, value, cfg, params)
	logger.DebugContext(r.Context(), "cache entry stored via API", "namespace", namespace, "key", key)

	e, ok := h.cache.GetEntry(namespace, key, params)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, entryResponse(namespace, key, e))
}

// DeleteEntry removes a value. Removing an absent entry still succeeds.
// DELETE /api/cache/entries/{namespace}/{key}?params={json}
func (h *CacheAdminHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	namespace, key, apiErr := entryTarget(r)
	if apiErr != nil {
		apierr.WriteErrorWithContext(w, r, apiErr)
		return
	}
	params, apiErr := decodeParams([]byte(r.URL.Query().Get("params")))
	if apiErr != nil {
		apierr.WriteErrorWithContext(w, r, apiErr)
		return
	}
	h.cache.Delete(namespace, key, params)
	w.WriteHeader(http.StatusNoContent)
}

// ClearNamespace drops every entry in a namespace.
// DELETE /api/cache/namespaces/{namespace}
func (h *CacheAdminHandler) ClearNamespace(w http.ResponseWriter, r *http.Request) {
	namespace := mux.Vars(r)["namespace"]
	if err := middleware.ValidateSegment("namespace", namespace); err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.CacheInvalidKey(err.Error()))
		return
	}
	h.cache.ClearNamespace(namespace)
	logger.InfoContext(r.Context(), "cache namespace cleared via API", "namespace", namespace)
	w.WriteHeader(http.StatusNoContent)
}

// ClearAll drops every entry. Hit and miss counters are kept.
// DELETE /api/cache
func (h *CacheAdminHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	h.cache.ClearAll()
	logger.InfoContext(r.Context(), "cache cleared via API")
	w.WriteHeader(http.StatusNoContent)
}
