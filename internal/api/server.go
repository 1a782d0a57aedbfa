// Package api is the operator-facing HTTP surface: mesh snapshots, node
// management, manual failover, and the history query sub-API. It holds no
// domain logic; every mutation goes through the registry or the engine.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/advisor"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/aggregator"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/config"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/eventlog"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/failover"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/history"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/metrics"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/probe"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/registry"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/validation"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Deps collects the collaborators the server exposes. Metrics and the
// advisor are optional; their routes respond accordingly when absent.
type Deps struct {
	Store      registry.Store
	Events     eventlog.Store
	Samples    history.Store
	Aggregator *aggregator.Aggregator
	Engine     *failover.Engine
	Prober     probe.Prober
	Advisor    *advisor.Advisor
	Metrics    *metrics.Metrics
}

// Server is the operator HTTP API.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	deps       Deps
	validator  *validation.Validator

	requestCount int64
	startTime    time.Time
}

// NewServer wires routes over the given collaborators.
func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) (*Server, error) {
	validator, err := validation.New()
	if err != nil {
		return nil, fmt.Errorf("compile request schemas: %w", err)
	}

	s := &Server{
		config:    cfg,
		logger:    logger,
		router:    mux.NewRouter(),
		deps:      deps,
		validator: validator,
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods("GET")
	}

	s.router.HandleFunc("/api/v1/mesh", s.handleMeshSnapshot).Methods("GET")

	s.router.HandleFunc("/api/v1/nodes", s.handleListNodes).Methods("GET")
	s.router.HandleFunc("/api/v1/nodes", s.handleCreateNode).Methods("POST")
	s.router.HandleFunc("/api/v1/nodes/{provider}", s.handleGetNode).Methods("GET")
	s.router.HandleFunc("/api/v1/nodes/{provider}/enabled", s.handleSetEnabled).Methods("PATCH")
	s.router.HandleFunc("/api/v1/nodes/{provider}/test", s.handleTestNode).Methods("POST")

	s.router.HandleFunc("/api/v1/failover", s.handleManualFailover).Methods("POST")
	s.router.HandleFunc("/api/v1/suggestions", s.handleSuggestions).Methods("GET")

	// History queries live on their own chi sub-router.
	historyAPI := NewHistoryHandler(s.deps.Events, s.deps.Samples, s.logger)
	s.router.PathPrefix("/api/v1/history/").Handler(
		http.StripPrefix("/api/v1/history", historyAPI.Routes()))

	s.router.Use(s.loggingMiddleware)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting operator API",
		zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.requestCount, 1)
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
