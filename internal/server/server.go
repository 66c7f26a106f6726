// Package server exposes the HTTP and WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/depthsim/internal/domain"
	"github.com/alanyoungcy/depthsim/internal/server/handler"
	"github.com/alanyoungcy/depthsim/internal/server/middleware"
	"github.com/alanyoungcy/depthsim/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// PublicReads exempts GET requests from the API key.
	PublicReads bool

	SimulateLimit  int
	SimulateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Exchanges *handler.ExchangeHandler
	Feed      *handler.FeedHandler
	Book      *handler.BookHandler
	Simulate  *handler.SimulateHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on a ServeMux and
// wrapped in logging, CORS and auth middleware. limiter guards the simulate
// endpoint and may be nil; wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      Routes(cfg, handlers, wsHub, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the full handler chain. It is exported for tests.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/exchanges", handlers.Exchanges.ListExchanges)
	mux.HandleFunc("GET /api/exchanges/{exchange}/symbols", handlers.Exchanges.ListSymbols)

	mux.HandleFunc("GET /api/feed", handlers.Feed.GetFeed)
	mux.HandleFunc("PUT /api/feed", handlers.Feed.SwitchFeed)
	mux.HandleFunc("DELETE /api/feed", handlers.Feed.StopFeed)

	mux.HandleFunc("GET /api/book", handlers.Book.GetBook)

	simulate := middleware.RateLimit(limiter, "simulate", cfg.SimulateLimit, cfg.SimulateWindow, logger)
	mux.Handle("POST /api/simulate", simulate(http.HandlerFunc(handlers.Simulate.Simulate)))
	mux.HandleFunc("GET /api/simulate/latest", handlers.Simulate.LatestSimulation)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(middleware.AuthConfig{
		APIKey:      cfg.APIKey,
		PublicPaths: []string{"/api/health"},
		PublicReads: cfg.PublicReads,
	})(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server is shut down. It returns nil after a
// graceful Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
