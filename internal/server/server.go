// Package server exposes the settlement engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fateprotocol/fate-engine/internal/domain"
	"github.com/fateprotocol/fate-engine/internal/server/handler"
	"github.com/fateprotocol/fate-engine/internal/server/middleware"
	"github.com/fateprotocol/fate-engine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey protects mutating endpoints; empty disables authentication.
	APIKey string
	// RateLimit caps requests per client per RateLimitWindow. Zero disables.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Matches   *handler.MatchHandler
	Proposals *handler.ProposalHandler
}

// Server is the HTTP + WebSocket API for the settlement engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. It wires up
// middleware (rate limiting, auth, logging, CORS) and attaches the
// WebSocket hub. limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Match lifecycle.
	mux.HandleFunc("GET /api/matches", handlers.Matches.ListMatches)
	mux.HandleFunc("POST /api/matches", handlers.Matches.CreateMatch)
	mux.HandleFunc("GET /api/matches/{id}", handlers.Matches.GetMatch)
	mux.HandleFunc("POST /api/matches/{id}/join", handlers.Matches.JoinMatch)
	mux.HandleFunc("POST /api/matches/{id}/predict", handlers.Matches.SubmitPrediction)
	mux.HandleFunc("POST /api/matches/{id}/resolve", handlers.Matches.ResolveMatch)
	mux.HandleFunc("POST /api/matches/{id}/claim", handlers.Matches.ClaimWinnings)
	mux.HandleFunc("POST /api/matches/{id}/cancel", handlers.Matches.CancelMatch)

	// Proposal lifecycle.
	mux.HandleFunc("GET /api/proposals", handlers.Proposals.ListProposals)
	mux.HandleFunc("POST /api/proposals", handlers.Proposals.CreateProposal)
	mux.HandleFunc("GET /api/proposals/{id}", handlers.Proposals.GetProposal)
	mux.HandleFunc("POST /api/proposals/{id}/vote", handlers.Proposals.Vote)
	mux.HandleFunc("POST /api/proposals/{id}/resolve", handlers.Proposals.ResolveProposal)
	mux.HandleFunc("POST /api/proposals/{id}/claim", handlers.Proposals.ClaimTokens)
	mux.HandleFunc("POST /api/proposals/{id}/execute", handlers.Proposals.ExecuteProposal)
	mux.HandleFunc("POST /api/proposals/{id}/cancel", handlers.Proposals.CancelProposal)

	// WebSocket event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

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
