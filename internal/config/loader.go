package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LAUNCHPAD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LAUNCHPAD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "LAUNCHPAD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LAUNCHPAD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "LAUNCHPAD_SERVER_API_KEY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LAUNCHPAD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LAUNCHPAD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LAUNCHPAD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LAUNCHPAD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LAUNCHPAD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LAUNCHPAD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LAUNCHPAD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LAUNCHPAD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LAUNCHPAD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LAUNCHPAD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LAUNCHPAD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LAUNCHPAD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LAUNCHPAD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LAUNCHPAD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LAUNCHPAD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LAUNCHPAD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "LAUNCHPAD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LAUNCHPAD_S3_REGION")
	setStr(&cfg.S3.Bucket, "LAUNCHPAD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LAUNCHPAD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LAUNCHPAD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LAUNCHPAD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LAUNCHPAD_S3_FORCE_PATH_STYLE")

	// ── Curve ──
	setFloat64(&cfg.Curve.TradeableCap, "LAUNCHPAD_CURVE_TRADEABLE_CAP")
	setFloat64(&cfg.Curve.GraduationThreshold, "LAUNCHPAD_CURVE_GRADUATION_THRESHOLD")
	setFloat64(&cfg.Curve.DefaultP0, "LAUNCHPAD_CURVE_DEFAULT_P0")
	setFloat64(&cfg.Curve.DefaultP1, "LAUNCHPAD_CURVE_DEFAULT_P1")

	// ── Fees ──
	setInt(&cfg.Fees.TradingFeeBps, "LAUNCHPAD_FEES_TRADING_FEE_BPS")
	setInt(&cfg.Fees.CreatorPct, "LAUNCHPAD_FEES_CREATOR_PCT")
	setInt(&cfg.Fees.VaultPct, "LAUNCHPAD_FEES_VAULT_PCT")
	setInt(&cfg.Fees.TreasuryPct, "LAUNCHPAD_FEES_TREASURY_PCT")
	setStr(&cfg.Fees.VaultAddress, "LAUNCHPAD_FEES_VAULT_ADDRESS")
	setStr(&cfg.Fees.TreasuryAddress, "LAUNCHPAD_FEES_TREASURY_ADDRESS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "LAUNCHPAD_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "LAUNCHPAD_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "LAUNCHPAD_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.BatchSize, "LAUNCHPAD_ARCHIVE_BATCH_SIZE")

	// ── Top-level ──
	setStr(&cfg.Storage, "LAUNCHPAD_STORAGE")
	setStr(&cfg.LogLevel, "LAUNCHPAD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
