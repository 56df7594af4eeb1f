// Package server exposes the marketplace over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/groupmarket/internal/domain"
	"github.com/alanyoungcy/groupmarket/internal/server/handler"
	"github.com/alanyoungcy/groupmarket/internal/server/middleware"
	"github.com/alanyoungcy/groupmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // view requests per window and client; 0 disables
	CommandRate int    // command submissions per window and client; 0 uses RateLimit
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Commands *handler.CommandHandler
	Views    *handler.ViewHandler
	Audit    *handler.AuditHandler // optional
}

// Server is the headless HTTP + WebSocket API server for the marketplace.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (request logging, CORS, auth, rate limiting) and
// attaches the WebSocket hub when one is given. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Commands.
	mux.HandleFunc("POST /api/commands", handlers.Commands.Submit)
	mux.HandleFunc("GET /api/commands/ops", handlers.Commands.ListOps)

	// Groups and items.
	mux.HandleFunc("GET /api/groups", handlers.Views.ListGroups)
	mux.HandleFunc("GET /api/groups/{index}", handlers.Views.GetGroup)
	mux.HandleFunc("GET /api/groups/{index}/items/{id}", handlers.Views.GetItem)

	// Listings.
	mux.HandleFunc("GET /api/listings/{mechanism}/{id}", handlers.Views.GetListing)
	mux.HandleFunc("GET /api/listings/dutch/{id}/price", handlers.Views.GetDutchPrice)
	mux.HandleFunc("GET /api/listings/{mechanism}/{id}/pending/{address}", handlers.Views.GetPendingReturn)

	// Accounts.
	mux.HandleFunc("GET /api/balances/{address}", handlers.Views.GetBalance)
	mux.HandleFunc("GET /api/payments/{address}", handlers.Views.GetPayment)

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
		mux.HandleFunc("GET /api/events", handlers.Audit.ListEvents)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.RateLimit(limiter, middleware.Limits{
		View:    cfg.RateLimit,
		Command: cfg.CommandRate,
		Window:  cfg.RateWindow,
	}, logger)(h)
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.CORS(middleware.Origins(cfg.CORSOrigins))(h)
	h = middleware.Logging(logger)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
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
