package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-security/kestrel/internal/decision"
	"github.com/opensource-security/kestrel/internal/domain"
	"github.com/opensource-security/kestrel/internal/reputation"
	"github.com/opensource-security/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *decision.Engine, overrides *rules.Engine, rep *reputation.Provider, version string) *Server {
	handler := NewHandler(repo, cache, bus, engine, overrides, rep, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Schema inspection (no tenant required)
	router.Get("/schemas", handler.ListSchemas)
	router.Get("/schemas/{type}", handler.GetSchema)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Event evaluation
		r.Post("/evaluate/handshake", handler.EvaluateHandshake)
		r.Post("/evaluate/file", handler.EvaluateFile)

		// Evaluation retrieval
		r.Get("/evaluations/{id}", handler.GetEvaluation)

		// Event retrieval
		r.Get("/events/{id}", handler.GetEvent)
		r.Get("/events/{id}/evaluations", handler.ListEventEvaluations)

		// Threshold override management
		r.Get("/overrides", handler.ListOverrides)
		r.Get("/overrides/{id}", handler.GetOverride)
		r.Post("/overrides", handler.CreateOverride)
		r.Delete("/overrides/{id}", handler.DeleteOverride)
		r.Post("/overrides/reload", handler.ReloadOverrides)

		// Reputation feed
		r.Put("/reputations/{ip}", handler.PutReputation)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
