package app

import (
	"context"
	"fmt"
	"strings"

	s3blob "github.com/promptfun/launchpad/internal/blob/s3"
	memcache "github.com/promptfun/launchpad/internal/cache/memory"
	"github.com/promptfun/launchpad/internal/cache/redis"
	"github.com/promptfun/launchpad/internal/config"
	"github.com/promptfun/launchpad/internal/domain"
	memstore "github.com/promptfun/launchpad/internal/store/memory"
	"github.com/promptfun/launchpad/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// needs to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	Ledger      domain.LedgerStore
	TradeLog    domain.TradeLog
	Audit       domain.AuditStore
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	BlobWriter  domain.BlobWriter
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	switch strings.ToLower(cfg.Storage) {
	case "memory":
		// Self-contained backend: no Postgres, no Redis. Everything lives
		// in process memory and disappears on restart.
		ledger := memstore.NewLedger(cfg.Curve.TradeableCap, cfg.Curve.GraduationThreshold)
		deps.Ledger = ledger
		deps.TradeLog = ledger
		deps.Audit = memstore.NewAuditStore()
		deps.RateLimiter = memcache.NewRateLimiter()
		deps.SignalBus = memcache.NewSignalBus()

	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Ledger = postgres.NewLedgerStore(pool, cfg.Curve.TradeableCap, cfg.Curve.GraduationThreshold)
		deps.TradeLog = postgres.NewTradeLog(pool)
		deps.Audit = postgres.NewAuditStore(pool)

		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 blob storage (only when archival is enabled) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	return deps, cleanup, nil
}
