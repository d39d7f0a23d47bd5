// Package server assembles the cache service: router, middleware state,
// background workers and the HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/cachemanager/internal/api"
	"github.com/onnwee/cachemanager/internal/api/handlers"
	"github.com/onnwee/cachemanager/internal/cache"
	"github.com/onnwee/cachemanager/internal/config"
	"github.com/onnwee/cachemanager/internal/logger"
	"github.com/onnwee/cachemanager/internal/metrics"
	"github.com/onnwee/cachemanager/internal/middleware"
)

const (
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 120 * time.Second
	collectInterval   = 15 * time.Second
)

// Server owns the HTTP listener and the workers that live alongside it.
type Server struct {
	Cache *cache.Manager

	http            *http.Server
	limiter         *middleware.RateLimiter
	stream          *handlers.StatsStreamHandler
	collector       *metrics.Collector
	shutdownTimeout time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewServer wires m behind the admin API described by cfg.
func NewServer(cfg *config.Config, m *cache.Manager) *Server {
	s := &Server{
		Cache:           m,
		stream:          handlers.NewStatsStreamHandler(m, cfg.StatsStreamInterval),
		shutdownTimeout: cfg.ShutdownTimeout,
		collector: metrics.NewCollector(func() metrics.Gauges {
			st := m.GetStats()
			return metrics.Gauges{Entries: st.MemorySize, HitRate: st.HitRate}
		}, collectInterval),
	}
	if cfg.EnableRateLimit {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimitGlobal, cfg.RateLimitGlobalBurst,
			cfg.RateLimitPerIP, cfg.RateLimitPerIPBurst)
	}

	cors := middleware.DefaultCORSConfig()
	if len(cfg.CORSAllowedOrigins) > 0 {
		cors.AllowedOrigins = cfg.CORSAllowedOrigins
	}

	router := api.NewRouter(api.Deps{
		Cache:       m,
		AdminToken:  cfg.AdminAPIToken,
		CORS:        cors,
		RateLimiter: s.limiter,
		Stream:      s.stream,
	})

	s.http = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start launches the background workers.
func (s *Server) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.collector.Start(ctx)
	})
}

// Run listens on the configured address until ctx is done, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", ln.Addr().String())
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.stopWorkers()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, waits for in-flight ones and stops
// the workers. The cache manager is left to its owner.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down HTTP server")
	// Hijacked stream connections are not tracked by http.Server.
	s.stream.Close()
	err := s.http.Shutdown(ctx)
	s.stopWorkers()
	if err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) stopWorkers() {
	s.stopOnce.Do(func() {
		s.stream.Close()
		s.collector.Stop()
		if s.limiter != nil {
			s.limiter.Stop()
		}
	})
}
