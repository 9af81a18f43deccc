// Package app provides the top-level application lifecycle management for the
// launchpad trading engine. It wires together all dependencies (stores,
// caches, blob storage, services) and runs the HTTP server plus background
// workers until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/promptfun/launchpad/internal/config"
	"github.com/promptfun/launchpad/internal/fees"
	"github.com/promptfun/launchpad/internal/server"
	"github.com/promptfun/launchpad/internal/server/handler"
	"github.com/promptfun/launchpad/internal/server/middleware"
	"github.com/promptfun/launchpad/internal/service"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the HTTP
// server and background workers, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("storage", a.cfg.Storage),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	policy, err := fees.NewPolicy(
		a.cfg.Fees.TradingFeeBps,
		a.cfg.Fees.CreatorPct,
		a.cfg.Fees.VaultPct,
		a.cfg.Fees.TreasuryPct,
	)
	if err != nil {
		return fmt.Errorf("app: fee policy: %w", err)
	}

	trades := service.NewTradeService(
		deps.Ledger,
		deps.TradeLog,
		policy,
		deps.SignalBus,
		deps.Audit,
		a.cfg.Curve.TradeableCap,
		a.cfg.Fees.VaultAddress,
		a.cfg.Fees.TreasuryAddress,
		a.logger,
	)
	agents := service.NewAgentService(
		deps.Ledger,
		a.cfg.Curve.TradeableCap,
		a.cfg.Curve.DefaultP0,
		a.cfg.Curve.DefaultP1,
		a.logger,
	)
	rewards := service.NewRewardService(deps.Ledger, deps.Audit, a.logger)

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimits:  rateLimitRules(a.cfg),
	}, server.Handlers{
		Health:  handler.NewHealthHandler(),
		Agents:  handler.NewAgentHandler(agents, a.logger),
		Quotes:  handler.NewQuoteHandler(trades, a.logger),
		Trades:  handler.NewTradeHandler(trades, a.logger),
		Rewards: handler.NewRewardHandler(rewards, a.logger),
	}, deps.RateLimiter, a.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if a.cfg.Archive.Enabled && deps.BlobWriter != nil {
		archiver := service.NewTradeArchiver(
			deps.TradeLog,
			deps.BlobWriter,
			a.cfg.Archive.RetentionDays,
			a.cfg.Archive.BatchSize,
			a.logger,
		)
		g.Go(func() error {
			return archiver.RunPeriodic(gctx, a.cfg.Archive.Interval.Duration)
		})
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return ctx.Err()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// rateLimitRules converts the configured endpoint rules to the middleware's
// representation.
func rateLimitRules(cfg *config.Config) map[string]middleware.RateLimitRule {
	rules := make(map[string]middleware.RateLimitRule, len(cfg.RateLimit.Endpoints))
	for name, rule := range cfg.RateLimit.Endpoints {
		rules[name] = middleware.RateLimitRule{
			MaxRequests: rule.MaxRequests,
			Window:      rule.Window.Duration,
			FailOpen:    rule.FailOpen,
		}
	}
	return rules
}
