// Package server implements the HTTP API: trace and span writes, reads,
// queries, legacy analytics and an OTLP/HTTP receiver.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Agenta-AI/agenta-sub004/internal/auth"
	"github.com/Agenta-AI/agenta-sub004/internal/ratelimit"
	"github.com/Agenta-AI/agenta-sub004/internal/service/tracing"
)

// Server is the tracing HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Limiter and MetricsHandler are optional.
type ServerConfig struct {
	Service *tracing.Service
	JWTMgr  *auth.JWTManager
	Logger  *slog.Logger

	// Limiter rate limits authenticated requests per project. Nil disables it.
	Limiter ratelimit.Limiter
	// MetricsHandler is served at GET /metrics when non-nil.
	MetricsHandler http.Handler

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(cfg.Service, cfg.Logger, cfg.Version, cfg.MaxRequestBodyBytes)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/traces", h.HandleAddTrace)
	mux.HandleFunc("PUT /v1/traces", h.HandleEditTrace)
	mux.HandleFunc("GET /v1/traces/{trace_id}", h.HandleFetchTrace)
	mux.HandleFunc("DELETE /v1/traces/{trace_id}", h.HandleRemoveTrace)
	mux.HandleFunc("GET /v1/traces/{trace_id}/spans/{span_id}", h.HandleFetchSpan)

	mux.HandleFunc("POST /v1/spans", h.HandleIngestSpans)
	mux.HandleFunc("POST /v1/spans/query", h.HandleQuerySpans)
	mux.HandleFunc("POST /v1/analytics", h.HandleAnalytics)

	mux.HandleFunc("POST /otlp/v1/traces", h.HandleOTLPTraces)

	// Health and metrics (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → auth → rate limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = rateLimitMiddleware(cfg.Limiter, cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(newHTTPMetrics(cfg.Logger), handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
