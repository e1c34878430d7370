package server

import (
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/appid"
	"github.com/llmgate/llmgate/internal/observability"
	"github.com/llmgate/llmgate/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)

	s.router.Method("GET", "/metrics", s.metrics)

	if s.gateway != nil {
		s.router.Route("/v1", func(r chi.Router) {
			r.Post("/agents/{agent}/completions", s.gateway.Complete)
			r.Get("/providers", s.gateway.Providers)
			r.Get("/providers/{provider}", s.gateway.Provider)
			r.Get("/concurrency", s.gateway.Concurrency)
			r.Get("/conversations/{id}", s.gateway.Conversation)
		})
	}

	// Admin signal endpoint (optional, requires LLMGATE_ADMIN_TOKEN)
	s.registerAdminEndpoint()
}

// registerAdminEndpoint exposes POST /admin/signal so operators can trigger a
// config reload without shell access to the host.
func (s *Server) registerAdminEndpoint() {
	identity := appid.Get()
	tokenVar := identity.EnvVar("ADMIN_TOKEN")
	adminToken := strings.TrimSpace(os.Getenv(tokenVar))
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + tokenVar + " set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10, // per minute
		RateBurst: 5,
		Manager:   nil, // global manager, where serve registers OnReload
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
