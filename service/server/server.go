package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/myfinance/service/config"
	"github.com/brojonat/myfinance/service/ledger"
	"github.com/brojonat/myfinance/service/metrics"
	"github.com/brojonat/myfinance/service/temporal"
)

// Version is reported by the health action.
var Version = "1.0.0"

// Server represents the HTTP query facade over the ledger.
type Server struct {
	addr      string
	cfg       *config.Config
	store     ledger.Store
	prices    ledger.PriceSource
	scheduler temporal.Scheduler
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// prices is optional; without it the portfolio carries no valuation.
// scheduler is optional; without it the reconcile trigger returns 503.
// metrics is optional; without it /metrics is not served.
func New(addr string, cfg *config.Config, store ledger.Store, prices ledger.PriceSource, scheduler temporal.Scheduler, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:      addr,
		cfg:       cfg,
		store:     store,
		prices:    prices,
		scheduler: scheduler,
		metrics:   m,
		logger:    logger,
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	instrument := func(name string, h http.Handler) http.Handler {
		if s.metrics == nil {
			return h
		}
		return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}

	basis := s.cfg.UnitsPerShareBasis

	// Dashboard query surface
	mux.Handle("GET /api", instrument("api_get", handleAPIGet(s.store, s.prices, basis, s.logger)))
	mux.Handle("POST /api", instrument("api_post", handleAPIPost(s.store, s.logger)))

	// Operator routes
	mux.Handle("POST /api/v1/reconcile", instrument("reconcile_trigger", handleTriggerReconcile(s.scheduler, s.logger)))

	mux.Handle("GET /health", handleHealth(s.store, s.logger))

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
		// Portfolio requests wait on the rate-limited price source.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
