package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gifmotion/gifmotion/internal/observability"
	"github.com/gifmotion/gifmotion/internal/server/handlers"
	servermw "github.com/gifmotion/gifmotion/internal/server/middleware"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", s.health.HealthHandler)
	s.router.Get("/health/live", s.health.LivenessHandler)
	s.router.Get("/health/ready", s.health.ReadinessHandler)
	s.router.Get("/health/startup", s.health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)

	// Metrics endpoint (in server package to access HandleError)
	s.router.Get("/metrics", MetricsHandler)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(servermw.Gate(s.gate))
		r.Method("POST", "/generate", s.generate)
	})

	s.registerAdminEndpoint()
}

// registerAdminEndpoint registers the admin signal endpoint when a token is set.
func (s *Server) registerAdminEndpoint() {
	logger := observability.ServerLogger

	if s.adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no GIFMOTION_ADMIN_TOKEN set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.adminToken,
		RateLimit: 10, // per minute
		RateBurst: 5,
		Manager:   nil, // default global manager
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
