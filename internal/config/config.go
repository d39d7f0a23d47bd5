package config

import (
	"context"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/onnwee/cachemanager/internal/store"
	"github.com/onnwee/cachemanager/internal/utils"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	// Server settings
	Env             string
	HTTPAddr        string
	AdminAPIToken   string // Bearer token gating admin endpoints; empty disables auth
	ShutdownTimeout time.Duration
	// Cache manager settings
	CacheDefaultTTL      time.Duration
	CacheCleanupInterval time.Duration // 0 disables the janitor
	CacheStore           string        // none, memory, file, sqlite, postgres
	CacheStoreDSN        string
	CacheDir             string
	CacheStoreTimeout    time.Duration
	CacheStoreMaxMB      int
	CacheBreakerFailures int
	CacheBreakerCooldown time.Duration
	// Outbound HTTP client settings
	HTTPMaxRetries int
	HTTPRetryBase  time.Duration
	HTTPTimeout    time.Duration
	LogHTTPRetries bool
	HTTPClientRPS  float64 // 0 = unthrottled
	// Security settings
	RateLimitGlobal      float64  // requests per second globally
	RateLimitGlobalBurst int      // burst size for global rate limit
	RateLimitPerIP       float64  // requests per second per IP
	RateLimitPerIPBurst  int      // burst size for per-IP rate limit
	CORSAllowedOrigins   []string // allowed CORS origins
	EnableRateLimit      bool     // enable rate limiting middleware
	// Stats stream push period
	StatsStreamInterval time.Duration
	// Observability settings
	LogLevel          string  // log level: debug, info, warn, error
	ServiceVersion    string
	OTELEnabled       bool    // enable OpenTelemetry tracing
	OTELEndpoint      string  // OpenTelemetry collector endpoint
	OTELSampleRate    float64 // trace sampling rate (0.0 to 1.0)
	SentryDSN         string  // Sentry DSN for error reporting
	SentryEnvironment string  // Sentry environment (dev, staging, production)
	SentryRelease     string  // Sentry release version
	SentrySampleRate  float64 // Sentry error sampling rate (0.0 to 1.0)
}

var cached *Config

// Load reads env vars once and caches them.
func Load() *Config {
	if cached != nil {
		return cached
	}
	cached = &Config{
		Env:             utils.GetEnvAsString("ENV", "development"),
		HTTPAddr:        utils.GetEnvAsString("HTTP_ADDR", ":8000"),
		AdminAPIToken:   strings.TrimSpace(os.Getenv("ADMIN_API_TOKEN")),
		ShutdownTimeout: utils.GetEnvAsMillis("SHUTDOWN_TIMEOUT_MS", 10*time.Second),

		CacheDefaultTTL:      utils.GetEnvAsMillis("CACHE_DEFAULT_TTL_MS", 5*time.Minute),
		CacheCleanupInterval: utils.GetEnvAsMillis("CACHE_CLEANUP_INTERVAL_MS", time.Minute),
		CacheStore:           strings.ToLower(utils.GetEnvAsString("CACHE_STORE", store.KindNone)),
		CacheStoreDSN:        strings.TrimSpace(os.Getenv("CACHE_STORE_DSN")),
		CacheDir:             utils.GetEnvAsString("CACHE_DIR", store.DefaultDir()),
		CacheStoreTimeout:    utils.GetEnvAsMillis("CACHE_STORE_TIMEOUT_MS", 2*time.Second),
		CacheStoreMaxMB:      utils.GetEnvAsInt("CACHE_STORE_MAX_MB", 64),
		CacheBreakerFailures: utils.GetEnvAsInt("CACHE_BREAKER_FAILURES", 5),
		CacheBreakerCooldown: utils.GetEnvAsMillis("CACHE_BREAKER_COOLDOWN_MS", 30*time.Second),

		HTTPMaxRetries: utils.GetEnvAsInt("HTTP_MAX_RETRIES", 3),
		HTTPRetryBase:  utils.GetEnvAsMillis("HTTP_RETRY_BASE_MS", 300*time.Millisecond),
		HTTPTimeout:    utils.GetEnvAsMillis("HTTP_TIMEOUT_MS", 15*time.Second),
		LogHTTPRetries: utils.GetEnvAsBool("LOG_HTTP_RETRIES", false),
		HTTPClientRPS:  utils.GetEnvAsFloat("HTTP_CLIENT_RPS", 0),

		// Security settings with sensible defaults
		RateLimitGlobal:      utils.GetEnvAsFloat("RATE_LIMIT_GLOBAL", 100.0),
		RateLimitGlobalBurst: utils.GetEnvAsInt("RATE_LIMIT_GLOBAL_BURST", 200),
		RateLimitPerIP:       utils.GetEnvAsFloat("RATE_LIMIT_PER_IP", 10.0),
		RateLimitPerIPBurst:  utils.GetEnvAsInt("RATE_LIMIT_PER_IP_BURST", 20),
		EnableRateLimit:      utils.GetEnvAsBool("ENABLE_RATE_LIMIT", true),
		// Default to common development origins
		CORSAllowedOrigins: utils.GetEnvAsSlice("CORS_ALLOWED_ORIGINS",
			[]string{"http://localhost:5173", "http://localhost:3000"}, ","),

		StatsStreamInterval: utils.GetEnvAsMillis("STATS_STREAM_INTERVAL_MS", 2*time.Second),

		LogLevel:          strings.ToLower(utils.GetEnvAsString("LOG_LEVEL", "info")),
		ServiceVersion:    utils.GetEnvAsString("SERVICE_VERSION", "dev"),
		OTELEnabled:       utils.GetEnvAsBool("OTEL_ENABLED", false),
		OTELEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTELSampleRate:    utils.GetEnvAsFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
		SentryDSN:         strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		SentryEnvironment: strings.TrimSpace(os.Getenv("SENTRY_ENVIRONMENT")),
		SentryRelease:     strings.TrimSpace(os.Getenv("SENTRY_RELEASE")),
		SentrySampleRate:  utils.GetEnvAsFloat("SENTRY_SAMPLE_RATE", 1.0),
	}
	if cached.SentryEnvironment == "" {
		cached.SentryEnvironment = cached.Env
	}
	if cached.SentryRelease == "" {
		cached.SentryRelease = cached.ServiceVersion
	}

	return cached
}

// ResetForTest clears cached config; for use in tests only.
func ResetForTest() { cached = nil }

// ValidateWithContext checks the loaded values before anything is started.
func (c *Config) ValidateWithContext(ctx context.Context) error {
	needsDSN := c.CacheStore == store.KindSQLite || c.CacheStore == store.KindPostgres
	return validation.ValidateStructWithContext(ctx, c,
		validation.Field(&c.HTTPAddr, validation.Required),
		validation.Field(&c.ShutdownTimeout, validation.Required),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "warning", "error")),
		validation.Field(&c.CacheDefaultTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.CacheCleanupInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.CacheStore, validation.Required, validation.In(
			store.KindNone, store.KindMemory, store.KindFile, store.KindSQLite, store.KindPostgres)),
		validation.Field(&c.CacheStoreDSN, validation.When(needsDSN, validation.Required)),
		validation.Field(&c.CacheDir, validation.When(c.CacheStore == store.KindFile, validation.Required)),
		validation.Field(&c.CacheStoreTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.CacheStoreMaxMB, validation.Required, validation.Min(1)),
		validation.Field(&c.CacheBreakerFailures, validation.Required, validation.Min(1)),
		validation.Field(&c.CacheBreakerCooldown, validation.Min(time.Duration(0))),
		validation.Field(&c.HTTPMaxRetries, validation.Min(0)),
		validation.Field(&c.HTTPTimeout, validation.Required),
		validation.Field(&c.HTTPClientRPS, validation.Min(0.0)),
		validation.Field(&c.StatsStreamInterval, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&c.OTELSampleRate, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.SentrySampleRate, validation.Min(0.0), validation.Max(1.0)),
	)
}

// Validate is ValidateWithContext with a background context.
func (c *Config) Validate() error {
	return c.ValidateWithContext(context.Background())
}

// StoreConfig maps the cache store settings onto store.Config.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Kind:      c.CacheStore,
		DSN:       c.CacheStoreDSN,
		Dir:       c.CacheDir,
		MaxSizeMB: int64(c.CacheStoreMaxMB),
	}
}
