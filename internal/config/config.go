// Package config defines the top-level configuration for the launchpad
// trading engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LAUNCHPAD_* environment variables.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Curve     CurveConfig     `toml:"curve"`
	Fees      FeesConfig      `toml:"fees"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Archive   ArchiveConfig   `toml:"archive"`

	// Storage selects the ledger backend: "postgres" for the durable store,
	// "memory" for a self-contained process with no external services.
	Storage  string `toml:"storage"`
	LogLevel string `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the trade
// archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CurveConfig holds the bonding curve parameters shared by every agent.
type CurveConfig struct {
	// TradeableCap is the total number of shares each curve can sell.
	TradeableCap float64 `toml:"tradeable_cap"`

	// GraduationThreshold is the cumulative raised amount at which an agent
	// permanently leaves the curve.
	GraduationThreshold float64 `toml:"graduation_threshold"`

	// DefaultP0 and DefaultP1 are the starting and final share prices used
	// when an agent is registered without explicit curve endpoints.
	DefaultP0 float64 `toml:"default_p0"`
	DefaultP1 float64 `toml:"default_p1"`
}

// FeesConfig holds the trading fee rate and its beneficiary split.
type FeesConfig struct {
	TradingFeeBps int `toml:"trading_fee_bps"`

	// CreatorPct, VaultPct, and TreasuryPct must sum to 100.
	CreatorPct  int `toml:"creator_pct"`
	VaultPct    int `toml:"vault_pct"`
	TreasuryPct int `toml:"treasury_pct"`

	// VaultAddress and TreasuryAddress receive the non-creator fee shares.
	VaultAddress    string `toml:"vault_address"`
	TreasuryAddress string `toml:"treasury_address"`
}

// RateLimitRule configures one endpoint's fixed window.
type RateLimitRule struct {
	MaxRequests int      `toml:"max_requests"`
	Window      duration `toml:"window"`

	// FailOpen lets requests through when the limiter backend is down.
	FailOpen bool `toml:"fail_open"`
}

// RateLimitConfig maps endpoint names to their fixed-window rules.
type RateLimitConfig struct {
	Endpoints map[string]RateLimitRule `toml:"endpoints"`
}

// ArchiveConfig holds trade archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
	BatchSize     int      `toml:"batch_size"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "launchpad",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "launchpad-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Curve: CurveConfig{
			TradeableCap:        300_000_000,
			GraduationThreshold: 12_500,
			DefaultP0:           0.00004,
			DefaultP1:           0.00024,
		},
		Fees: FeesConfig{
			TradingFeeBps: 500,
			CreatorPct:    40,
			VaultPct:      40,
			TreasuryPct:   20,
		},
		RateLimit: RateLimitConfig{
			Endpoints: map[string]RateLimitRule{
				"trade": {
					MaxRequests: 10,
					Window:      duration{time.Minute},
					FailOpen:    false,
				},
				"quote": {
					MaxRequests: 60,
					Window:      duration{time.Minute},
					FailOpen:    true,
				},
				"claim": {
					MaxRequests: 5,
					Window:      duration{time.Minute},
					FailOpen:    false,
				},
				"create_agent": {
					MaxRequests: 5,
					Window:      duration{time.Minute},
					FailOpen:    false,
				},
			},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
			BatchSize:     5000,
		},
		Storage:  "postgres",
		LogLevel: "info",
	}
}

// validStorages enumerates the accepted values for Config.Storage.
var validStorages = map[string]bool{
	"postgres": true,
	"memory":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Storage
	if !validStorages[strings.ToLower(c.Storage)] {
		errs = append(errs, fmt.Sprintf("unknown storage %q (valid: postgres, memory)", c.Storage))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	// Postgres is only required for the durable backend.
	if strings.ToLower(c.Storage) == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Curve
	if c.Curve.TradeableCap <= 0 {
		errs = append(errs, "curve: tradeable_cap must be > 0")
	}
	if c.Curve.GraduationThreshold <= 0 {
		errs = append(errs, "curve: graduation_threshold must be > 0")
	}
	if c.Curve.DefaultP0 <= 0 {
		errs = append(errs, "curve: default_p0 must be > 0")
	}
	if c.Curve.DefaultP1 < c.Curve.DefaultP0 {
		errs = append(errs, "curve: default_p1 must be >= default_p0")
	}

	// Fees
	if c.Fees.TradingFeeBps < 0 || c.Fees.TradingFeeBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("fees: trading_fee_bps must be in [0, 10000), got %d", c.Fees.TradingFeeBps))
	}
	if c.Fees.CreatorPct+c.Fees.VaultPct+c.Fees.TreasuryPct != 100 {
		errs = append(errs, "fees: creator_pct + vault_pct + treasury_pct must equal 100")
	}
	if c.Fees.TradingFeeBps > 0 {
		if c.Fees.VaultAddress == "" {
			errs = append(errs, "fees: vault_address must be set when trading_fee_bps > 0")
		}
		if c.Fees.TreasuryAddress == "" {
			errs = append(errs, "fees: treasury_address must be set when trading_fee_bps > 0")
		}
	}

	// Rate limits
	for name, rule := range c.RateLimit.Endpoints {
		if rule.MaxRequests <= 0 {
			errs = append(errs, fmt.Sprintf("rate_limit: endpoint %q max_requests must be > 0", name))
		}
		if rule.Window.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("rate_limit: endpoint %q window must be > 0", name))
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1 when enabled")
		}
		if c.Archive.BatchSize < 1 {
			errs = append(errs, "archive: batch_size must be >= 1 when enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0 when enabled")
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
