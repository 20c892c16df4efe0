// Package server hosts the HTTP and WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cadencefi/dcad/internal/domain"
	"github.com/cadencefi/dcad/internal/server/handler"
	"github.com/cadencefi/dcad/internal/server/middleware"
	"github.com/cadencefi/dcad/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// Tokens maps bearer tokens to the principal address each one acts as.
	// Empty disables authentication; every caller is the zero principal.
	Tokens map[string]common.Address

	// RateLimiter, when set, bounds each client IP to RateLimit requests
	// per RateWindow.
	RateLimiter domain.RateLimiter
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Execute   *handler.ExecuteHandler
	Events    *handler.EventsHandler
	Prices    *handler.PricesHandler
	Admin     *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (CORS, logging, rate limit, auth) wired around it.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Position lifecycle.
	mux.HandleFunc("POST /api/positions", handlers.Positions.Create)
	mux.HandleFunc("GET /api/positions", handlers.Positions.List)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.Get)
	mux.HandleFunc("PATCH /api/positions/{id}", handlers.Positions.Modify)
	mux.HandleFunc("DELETE /api/positions/{id}", handlers.Positions.Cancel)
	mux.HandleFunc("POST /api/positions/{id}/pause", handlers.Positions.Pause)
	mux.HandleFunc("POST /api/positions/{id}/resume", handlers.Positions.Resume)
	mux.HandleFunc("POST /api/positions/{id}/deposit", handlers.Positions.Deposit)
	mux.HandleFunc("POST /api/positions/{id}/withdraw", handlers.Positions.Withdraw)
	mux.HandleFunc("POST /api/positions/{id}/transfer", handlers.Positions.Transfer)
	mux.HandleFunc("POST /api/positions/{id}/emergency/arm", handlers.Positions.EmergencyArm)
	mux.HandleFunc("POST /api/positions/{id}/emergency/withdraw", handlers.Positions.EmergencyWithdraw)

	// Execution.
	mux.HandleFunc("POST /api/positions/{id}/execute", handlers.Execute.Execute)
	mux.HandleFunc("GET /api/positions/{id}/eligibility", handlers.Execute.Eligibility)
	mux.HandleFunc("GET /api/executions/pending", handlers.Execute.Pending)

	// Telemetry and prices.
	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.List)
	}
	mux.HandleFunc("GET /api/prices/{asset}", handlers.Prices.Latest)
	mux.HandleFunc("GET /api/twap", handlers.Prices.Twap)

	// Admin surface.
	mux.HandleFunc("GET /api/admin/config", handlers.Admin.GetConfig)
	mux.HandleFunc("PUT /api/admin/config", handlers.Admin.UpdateConfig)
	mux.HandleFunc("PUT /api/admin/keepers", handlers.Admin.UpdateKeepers)
	mux.HandleFunc("GET /api/admin/fees", handlers.Admin.GetFees)
	mux.HandleFunc("PUT /api/admin/fees", handlers.Admin.UpdateFees)
	mux.HandleFunc("GET /api/admin/breaker", handlers.Admin.GetBreaker)
	mux.HandleFunc("PUT /api/admin/breaker", handlers.Admin.UpdateBreaker)
	mux.HandleFunc("POST /api/admin/breaker/reset", handlers.Admin.ResetBreaker)
	mux.HandleFunc("GET /api/admin/routing", handlers.Admin.GetRouting)
	mux.HandleFunc("PUT /api/admin/routing", handlers.Admin.UpdateRouting)

	// WebSocket event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	h = middleware.Auth(cfg.Tokens)(h)

	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateWindow)(h)
	}

	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting",
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
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0 // allow all if none specified
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
