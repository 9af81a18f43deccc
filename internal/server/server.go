package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/promptfun/launchpad/internal/domain"
	"github.com/promptfun/launchpad/internal/server/handler"
	"github.com/promptfun/launchpad/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimits maps endpoint names (quote, trade, claim) to their
	// fixed-window rules. Endpoints without a rule are not limited.
	RateLimits map[string]middleware.RateLimitRule
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Agents  *handler.AgentHandler
	Quotes  *handler.QuoteHandler
	Trades  *handler.TradeHandler
	Rewards *handler.RewardHandler
}

// Server is the HTTP API server for the launchpad trading engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and per-endpoint rate limits.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// limited wraps a handler func with the rate-limit rule registered for
	// the named endpoint, if any.
	limited := func(endpoint string, hf http.HandlerFunc) http.Handler {
		rule, ok := cfg.RateLimits[endpoint]
		if !ok || limiter == nil {
			return hf
		}
		return middleware.RateLimit(limiter, endpoint, rule, logger)(hf)
	}

	// Health check (no auth, no limit).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Agent endpoints.
	mux.HandleFunc("GET /api/agents/{id}", handlers.Agents.GetAgent)
	mux.Handle("POST /api/agents", limited("create_agent", handlers.Agents.CreateAgent))

	// Pricing preview.
	mux.Handle("GET /api/quote", limited("quote", handlers.Quotes.GetQuote))

	// Trade execution and history.
	mux.Handle("POST /api/trades", limited("trade", handlers.Trades.ExecuteTrade))
	mux.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)

	// Reward endpoints.
	mux.Handle("POST /api/rewards/claim", limited("claim", handlers.Rewards.ClaimReward))
	mux.HandleFunc("GET /api/rewards", handlers.Rewards.GetReward)

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
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
		mux:        mux,
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
