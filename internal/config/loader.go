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
// built-in defaults, applies EDB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known EDB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "EDB_CHAIN_RPC_URL")
	setStr(&cfg.Chain.ContractAddress, "EDB_CHAIN_CONTRACT_ADDRESS")
	setUint64(&cfg.Chain.StartBlock, "EDB_CHAIN_START_BLOCK")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "EDB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "EDB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "EDB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "EDB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "EDB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "EDB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "EDB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "EDB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "EDB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "EDB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "EDB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "EDB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "EDB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "EDB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "EDB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "EDB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "EDB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "EDB_S3_REGION")
	setStr(&cfg.S3.Bucket, "EDB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "EDB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "EDB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "EDB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "EDB_S3_FORCE_PATH_STYLE")

	// ── Ingest ──
	setInt(&cfg.Ingest.Workers, "EDB_INGEST_WORKERS")
	setUint64(&cfg.Ingest.BackfillBatch, "EDB_INGEST_BACKFILL_BATCH")
	setDuration(&cfg.Ingest.CheckpointInterval, "EDB_INGEST_CHECKPOINT_INTERVAL")
	setBool(&cfg.Ingest.LeaderLock, "EDB_INGEST_LEADER_LOCK")
	setDuration(&cfg.Ingest.LeaderTTL, "EDB_INGEST_LEADER_TTL")
	setDuration(&cfg.Ingest.RetryBackoff, "EDB_INGEST_RETRY_BACKOFF")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "EDB_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "EDB_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "EDB_ARCHIVE_CRON")

	// ── Publish ──
	setBool(&cfg.Publish.Enabled, "EDB_PUBLISH_ENABLED")
	setStr(&cfg.Publish.ChannelPrefix, "EDB_PUBLISH_CHANNEL_PREFIX")

	// ── Top-level ──
	setStr(&cfg.Mode, "EDB_MODE")
	setStr(&cfg.LogLevel, "EDB_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil {
			*dst = n
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
