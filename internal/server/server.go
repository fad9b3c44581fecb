package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/gifmotion/gifmotion/internal/errors"
	"github.com/gifmotion/gifmotion/internal/observability"
	"github.com/gifmotion/gifmotion/internal/server/handlers"
	servermw "github.com/gifmotion/gifmotion/internal/server/middleware"
)

// Default timeouts. The write timeout has to outlast one full poll budget.
const (
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 6 * time.Minute
	DefaultIdleTimeout  = 120 * time.Second
)

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	host   string
	port   int

	generate   http.Handler
	gate       servermw.GateConfig
	health     *handlers.HealthManager
	adminToken string

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithGenerateHandler serves POST /api/generate with h.
func WithGenerateHandler(h http.Handler) Option {
	return func(s *Server) { s.generate = h }
}

// WithGate sets the referer check and rate limit in front of /api.
func WithGate(cfg servermw.GateConfig) Option {
	return func(s *Server) { s.gate = cfg }
}

// WithHealthManager shares hm with the caller, e.g. to flip readiness on shutdown.
func WithHealthManager(hm *handlers.HealthManager) Option {
	return func(s *Server) { s.health = hm }
}

// WithTimeouts overrides the http.Server timeouts. Zero keeps the default.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// WithAdminToken enables POST /admin/signal behind bearer auth.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// New creates a new HTTP server instance
func New(host string, port int, opts ...Option) *Server {
	r := chi.NewRouter()

	// Standard chi middleware
	r.Use(middleware.RealIP)

	// RequestID → Tracing → Metrics → Recovery
	r.Use(servermw.RequestID)
	r.Use(servermw.Tracing)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router:       r,
		host:         host,
		port:         port,
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		idleTimeout:  DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = handlers.NewHealthManager(handlers.AppVersion)
	}
	if s.generate == nil {
		s.generate = handlers.NewGenerateHandler(nil)
	}
	if s.gate.Respond == nil {
		s.gate.Respond = HandleError
	}

	// Ensure handlers use the centralized error responder
	handlers.SetHTTPErrorResponder(HandleError)

	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	observability.ServerLogger.Info("Starting HTTP server",
		zap.String("host", s.host),
		zap.Int("port", s.port),
		zap.String("addr", addr),
		zap.Duration("write_timeout", s.writeTimeout))

	return s.server.ListenAndServe()
}

// Shutdown marks the server as draining and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetDraining(true)
	if s.server == nil {
		return nil
	}
	observability.ServerLogger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Health returns the server's health manager.
func (s *Server) Health() *handlers.HealthManager {
	return s.health
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.port
}
