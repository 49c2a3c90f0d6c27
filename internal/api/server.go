// Package api exposes the analytics, audit and monitoring endpoints over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/keeper/internal/auth"
	"github.com/opensource-finance/keeper/internal/domain"
	"github.com/opensource-finance/keeper/internal/metrics"
	"github.com/opensource-finance/keeper/internal/report"
	"github.com/opensource-finance/keeper/internal/rules"
)

// Deps are the collaborators the API serves from.
type Deps struct {
	Repo    domain.Repository
	Cache   domain.Cache
	Bus     domain.EventBus
	Engine  *rules.Engine
	Reports *report.Service
	Auth    *auth.Authenticator
	Metrics *metrics.Metrics

	// Rate limit settings for audit report generation.
	Monitoring domain.MonitoringConfig

	Version string
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)                  // CORS for browser clients
	router.Use(RecoverMiddleware)               // Recover from panics
	router.Use(TracingMiddleware)               // OpenTelemetry tracing
	router.Use(LoggingMiddleware)               // Request logging
	router.Use(MetricsMiddleware(deps.Metrics)) // Prometheus request metrics
	router.Use(middleware.RealIP)               // Extract real IP
	router.Use(middleware.Compress(5))          // Gzip compression

	// Unauthenticated endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Use(deps.Auth.Middleware)
		r.Use(recordCaller)

		// Analytics
		r.Get("/analytics/overview", handler.Overview)
		r.With(auth.RequireRole(domain.RoleAdmin, domain.RoleFinance)).
			Get("/analytics/financial", handler.Financial)
		r.With(auth.RequireRole(domain.RoleAdmin, domain.RoleCompliance)).
			Get("/analytics/compliance", handler.Compliance)

		// Audit export
		r.With(auth.RequireRole(domain.RoleAdmin, domain.RoleCompliance), handler.RateLimit).
			Post("/audit/reports", handler.AuditReport)

		// Monitoring
		r.With(auth.RequireRole(domain.RoleAdmin, domain.RoleCompliance)).
			Get("/monitoring/activity", handler.Activity)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(domain.RoleAdmin))

			r.Get("/monitoring/security", handler.Security)

			// Detection rule management
			r.Get("/monitoring/rules", handler.ListRules)
			r.Post("/monitoring/rules", handler.CreateRule)
			r.Post("/monitoring/rules/reload", handler.ReloadRules)
			r.Get("/monitoring/rules/{id}", handler.GetRule)
			r.Delete("/monitoring/rules/{id}", handler.DeleteRule)
		})
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
