package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/config"
	apperrors "github.com/llmgate/llmgate/internal/errors"
	"github.com/llmgate/llmgate/internal/observability"
	"github.com/llmgate/llmgate/internal/server/handlers"
	servermw "github.com/llmgate/llmgate/internal/server/middleware"
)

// Server represents the HTTP server
type Server struct {
	router  *chi.Mux
	server  *http.Server
	host    string
	port    int
	gateway *handlers.GatewayHandler
	timeout config.ServerConfig
	metrics *metricsProxy
}

// Option customizes a Server.
type Option func(*Server)

// WithGateway mounts the completion and status API.
func WithGateway(gateway *handlers.GatewayHandler) Option {
	return func(s *Server) { s.gateway = gateway }
}

// WithTimeouts overrides the HTTP server timeouts. Zero values keep defaults.
func WithTimeouts(cfg config.ServerConfig) Option {
	return func(s *Server) { s.timeout = cfg }
}

// WithMetricsPort sets the exporter port /metrics proxies to when the
// exporter has not reported its bound port.
func WithMetricsPort(port int) Option {
	return func(s *Server) { s.metrics = newMetricsProxy(port) }
}

// New creates a new HTTP server instance
func New(host string, port int, opts ...Option) *Server {
	r := chi.NewRouter()

	// Standard chi middleware
	r.Use(middleware.RealIP)

	// Request ids first so metrics, logs and error envelopes share them;
	// Recovery sits inside metrics so panics are still counted as 500s.
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router:  r,
		host:    host,
		port:    port,
		metrics: newMetricsProxy(0),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Ensure handlers use the centralized error responder
	handlers.SetHTTPErrorResponder(HandleError)

	// Register routes
	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  durationOr(s.timeout.ReadTimeout, 30*time.Second),
		WriteTimeout: durationOr(s.timeout.WriteTimeout, 2*time.Minute),
		IdleTimeout:  durationOr(s.timeout.IdleTimeout, 120*time.Second),
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("host", s.host),
			zap.Int("port", s.port),
			zap.String("addr", addr))
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.port
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
