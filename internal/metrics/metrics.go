package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cache manager metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Total number of cache lookups by namespace and outcome",
		},
		[]string{"namespace", "result"}, // result: hit, miss
	)

	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_writes_total",
			Help: "Total number of cache writes",
		},
		[]string{"namespace"},
	)

	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Total number of explicit cache invalidations",
		},
		[]string{"scope"}, // scope: key, namespace, all
	)

	CacheExpiredReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_expired_reclaimed_total",
			Help: "Total number of expired entries physically removed",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of entries held in memory, expired ones included",
		},
	)

	CacheHitRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_hit_rate_percent",
			Help: "Process-wide cache hit rate in percent",
		},
	)

	// Backing store metrics
	BackingStoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_backing_store_duration_seconds",
			Help:    "Duration of backing store operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"operation"},
	)

	BackingStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_backing_store_errors_total",
			Help: "Total number of swallowed backing store errors",
		},
		[]string{"operation"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"component"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"component"},
	)

	// Outbound HTTP client metrics
	HTTPClientRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_client_requests_total",
			Help: "Total number of outbound HTTP requests",
		},
		[]string{"status"}, // status: success, retry, error
	)

	HTTPClientRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "http_client_retries_total",
			Help: "Total number of outbound HTTP request retries",
		},
	)

	HTTPClientRetryAfterWaits = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "http_client_retry_after_wait_seconds",
			Help:    "Duration of Retry-After waits in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	HTTPClientCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_client_cache_results_total",
			Help: "Outbound requests answered from cache versus fetched",
		},
		[]string{"namespace", "result"}, // result: cached, fetched
	)

	// API request metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"endpoint", "method", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"endpoint", "method", "status"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active stats stream connections",
		},
	)

	WebSocketMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of stats snapshots pushed to stream clients",
		},
	)
)
