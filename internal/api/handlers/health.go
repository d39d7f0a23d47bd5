package handlers

import (
	"encoding/json"
	"net/http"
)

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Cache   string `json:"cache"` // enabled, disabled
	Entries int    `json:"entries"`
}

// Health returns a handler reporting liveness and whether a cache manager is
// attached. c may be nil.
func Health(c CacheAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := HealthResponse{Status: "ok", Cache: "disabled"}
		if c != nil {
			out.Cache = "enabled"
			out.Entries = c.GetStats().MemorySize
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(out)
	}
}
