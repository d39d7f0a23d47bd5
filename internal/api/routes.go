package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/cachemanager/internal/api/handlers"
	"github.com/onnwee/cachemanager/internal/middleware"
)

// Deps are the collaborators the router wires into handlers. Cache may be
// nil, in which case the cache routes answer 503. RateLimiter and Stream
// are optional and owned by the caller.
type Deps struct {
	Cache       handlers.CacheAdmin
	AdminToken  string
	CORS        *middleware.CORSConfig
	RateLimiter *middleware.RateLimiter
	Stream      *handlers.StatsStreamHandler
}

// NewRouter builds the HTTP surface of the cache service.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RecoverWithSentry)
	r.Use(middleware.Observe)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(d.CORS))
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Limit)
	}
	r.Use(middleware.Compress)

	r.HandleFunc("/health", handlers.Health(d.Cache)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Preflight requests are answered by the CORS middleware, which only
	// runs once a route has matched.
	r.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	admin := func(h http.Handler) http.Handler {
		return middleware.AdminAuth(d.AdminToken)(middleware.LimitRequestBody(h))
	}

	if d.Cache == nil {
		unavailable := admin(http.HandlerFunc(handlers.Unavailable))
		r.Handle("/api/cache", unavailable)
		r.PathPrefix("/api/cache/").Handler(unavailable)
		return r
	}

	h := handlers.NewCacheAdminHandler(d.Cache)

	r.Handle("/api/cache", admin(http.HandlerFunc(h.ClearAll))).Methods(http.MethodDelete)

	c := r.PathPrefix("/api/cache").Subrouter()
	c.Use(middleware.AdminAuth(d.AdminToken))
	c.Use(middleware.LimitRequestBody)

	c.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)
	if d.Stream != nil {
		c.HandleFunc("/stats/stream", d.Stream.HandleWebSocket).Methods(http.MethodGet)
	}
	c.Handle("/keys", middleware.ETag(http.HandlerFunc(h.GetKeys))).Methods(http.MethodGet)
	c.Handle("/entries/{namespace}/{key}", middleware.ETag(http.HandlerFunc(h.GetEntry))).Methods(http.MethodGet)
	c.HandleFunc("/entries/{namespace}/{key}", h.PutEntry).Methods(http.MethodPut)
	c.HandleFunc("/entries/{namespace}/{key}", h.DeleteEntry).Methods(http.MethodDelete)
	c.HandleFunc("/namespaces/{namespace}", h.ClearNamespace).Methods(http.MethodDelete)

	return r
}
