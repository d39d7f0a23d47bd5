package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/cachemanager/internal/cache"
	"github.com/onnwee/cachemanager/internal/config"
	"github.com/onnwee/cachemanager/internal/errorreporting"
	"github.com/onnwee/cachemanager/internal/logger"
	"github.com/onnwee/cachemanager/internal/secrets"
	"github.com/onnwee/cachemanager/internal/server"
	"github.com/onnwee/cachemanager/internal/store"
	"github.com/onnwee/cachemanager/internal/tracing"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (falling back to system env)")
	}

	// Load configuration
	cfg := config.Load()

	// Initialize structured logging
	logger.Init(cfg.LogLevel)
	logger.Info("Initializing cache server", "version", cfg.ServiceVersion, "log_level", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.ValidateWithContext(ctx); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.AdminAPIToken == "" {
		logger.Warn("ADMIN_API_TOKEN not set; admin endpoints are unauthenticated")
	} else {
		logger.Debug("Admin auth enabled", "token", secrets.Mask(cfg.AdminAPIToken))
	}

	// Initialize error reporting
	if err := errorreporting.Init(errorreporting.Options{
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		Release:     cfg.SentryRelease,
		SampleRate:  cfg.SentrySampleRate,
	}); err != nil {
		logger.Warn("Failed to initialize error reporting", "error", err)
	} else if errorreporting.IsSentryEnabled() {
		logger.Info("Error reporting initialized", "environment", cfg.SentryEnvironment)
		defer func() {
			logger.Info("Flushing error reports...")
			errorreporting.Flush(2 * time.Second)
		}()
	}

	// Initialize tracing
	shutdownTracing, err := tracing.Init(tracing.Options{
		Enabled:     cfg.OTELEnabled,
		ServiceName: "cachemanager",
		Version:     cfg.ServiceVersion,
		Endpoint:    cfg.OTELEndpoint,
		SampleRate:  cfg.OTELSampleRate,
	})
	if err != nil {
		logger.Warn("Failed to initialize tracing", "error", err)
	} else if cfg.OTELEnabled {
		logger.Info("Tracing initialized", "endpoint", cfg.OTELEndpoint, "sample_rate", cfg.OTELSampleRate)
		defer func() {
			logger.Info("Shutting down tracer...")
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("Failed to shutdown tracer", "error", err)
			}
		}()
	}

	// Open the optional persistent tier
	backing, err := store.Open(ctx, cfg.StoreConfig())
	if err != nil {
		logger.Error("Failed to open backing store", "kind", cfg.CacheStore, "error", err)
		errorreporting.CaptureError(err)
		os.Exit(1)
	}
	if backing != nil {
		logger.Info("Backing store enabled", "kind", cfg.CacheStore, "dsn", secrets.MaskDSN(cfg.CacheStoreDSN))
		defer func() {
			if err := backing.Close(); err != nil {
				logger.Warn("Failed to close backing store", "error", err)
			}
		}()
	}

	if err := cache.Configure(cache.Config{
		DefaultTTL:      cfg.CacheDefaultTTL,
		CleanupInterval: cfg.CacheCleanupInterval,
		Store:           backing,
		StoreTimeout:    cfg.CacheStoreTimeout,
		Breaker: cache.BreakerConfig{
			FailureThreshold: cfg.CacheBreakerFailures,
			Cooldown:         cfg.CacheBreakerCooldown,
		},
		Logger: logger.WithComponent("cache"),
	}); err != nil {
		logger.Error("Failed to configure cache", "error", err)
		os.Exit(1)
	}
	manager := cache.GetInstance()
	defer manager.Close()

	srv := server.NewServer(cfg, manager)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Server stopped with error", "error", err)
		errorreporting.CaptureError(err)
		return
	}
	logger.Info("Shutdown complete")
}
