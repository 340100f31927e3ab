// Package server exposes the operator HTTP API, the event WebSocket and
// Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/server/handler"
	"github.com/alanyoungcy/updownbot/internal/server/middleware"
	"github.com/alanyoungcy/updownbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards mutating routes; empty disables auth.
	APIKey string
	// RateLimit is requests per minute per client; zero disables it.
	RateLimit int
}

// Handlers are the route targets. Nil Hub skips /ws.
type Handlers struct {
	Health   *handler.HealthHandler
	Engine   *handler.EngineHandler
	Settings *handler.SettingsHandler
	Trades   *handler.TradesHandler
	Hub      *ws.Hub
}

// Server is the HTTP surface.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and wraps them in middleware. limiter may be nil.
func NewServer(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      Routes(cfg, h, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the full handler chain.
func Routes(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.Auth(cfg.APIKey)

	mux.HandleFunc("GET /healthz", h.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/state", h.Engine.State)
	mux.Handle("POST /api/engine/start", auth(http.HandlerFunc(h.Engine.Start)))
	mux.Handle("POST /api/engine/stop", auth(http.HandlerFunc(h.Engine.Stop)))
	mux.Handle("POST /api/breaker/reset", auth(http.HandlerFunc(h.Engine.ResetBreaker)))

	mux.HandleFunc("GET /api/settings", h.Settings.Get)
	mux.Handle("PUT /api/settings", auth(http.HandlerFunc(h.Settings.Update)))

	mux.HandleFunc("GET /api/trades", h.Trades.List)

	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}

	mws := []middleware.Middleware{
		middleware.CORS(cfg.CORSOrigins),
		middleware.RequestID(),
		middleware.Logging(logger),
	}
	if limiter != nil && cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger))
	}
	return middleware.Chain(mux, mws...)
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Run serves until ctx ends, then shuts down with a grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}
