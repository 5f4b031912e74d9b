// Package config defines the top-level configuration for the backend and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by EDB_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Ingest   IngestConfig   `toml:"ingest"`
	Archive  ArchiveConfig  `toml:"archive"`
	Publish  PublishConfig  `toml:"publish"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds the Ethereum node endpoint and exchange contract
// parameters.
type ChainConfig struct {
	// RPCURL should be a ws:// or wss:// endpoint so the live log
	// subscription works; http endpoints only support backfill.
	RPCURL          string `toml:"rpc_url"`
	ContractAddress string `toml:"contract_address"`
	// StartBlock is the contract deployment block, used when no ingest
	// checkpoint exists yet.
	StartBlock uint64 `toml:"start_block"`
}

// PostgresConfig holds PostgreSQL connection parameters. DSN, when set,
// wins over the individual fields.
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

// S3Config holds S3-compatible object storage parameters for the archive
// bucket.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// IngestConfig holds tuning knobs for the log ingestion pipeline.
type IngestConfig struct {
	// Workers bounds concurrent event processing during backfill.
	Workers int `toml:"workers"`
	// BackfillBatch is the block span of one log query.
	BackfillBatch uint64 `toml:"backfill_batch"`
	// CheckpointInterval is how often live progress is persisted.
	CheckpointInterval duration `toml:"checkpoint_interval"`
	// LeaderLock enables the Redis leader lock so only one instance
	// ingests at a time.
	LeaderLock bool     `toml:"leader_lock"`
	LeaderTTL  duration `toml:"leader_ttl"`
	// RetryBackoff is the pause before restarting a failed ingest cycle.
	RetryBackoff duration `toml:"retry_backoff"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// PublishConfig controls the Redis pub/sub fan-out of reconciliation
// outcomes.
type PublishConfig struct {
	Enabled bool `toml:"enabled"`
	// ChannelPrefix namespaces the channels, e.g. "edb" publishes to
	// edb.trades, edb.transfers, and edb.orders.
	ChannelPrefix string `toml:"channel_prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder
// can parse duration strings like "5m" or "30s".
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
		Chain: ChainConfig{
			RPCURL: "wss://mainnet.infura.io/ws/v3/",
			// EtherDelta exchange contract and its deployment block.
			ContractAddress: "0x8d12A197cB00D4747a1fe03395095ce2A5CC6819",
			StartBlock:      3154100,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "etherdelta",
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
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "etherdelta-archive",
			ForcePathStyle: true,
		},
		Ingest: IngestConfig{
			Workers:            8,
			BackfillBatch:      5000,
			CheckpointInterval: duration{30 * time.Second},
			LeaderLock:         true,
			LeaderTTL:          duration{15 * time.Second},
			RetryBackoff:       duration{5 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Publish: PublishConfig{
			Enabled:       true,
			ChannelPrefix: "edb",
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"ingest":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: ingest, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	needsChain := c.Mode != "archive"
	if needsChain {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if !common.IsHexAddress(c.Chain.ContractAddress) {
			errs = append(errs, fmt.Sprintf("chain: contract_address %q is not a hex address", c.Chain.ContractAddress))
		}
	}

	// Postgres
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

	// Redis is required for the leader lock and pub/sub fan-out.
	needsRedis := (needsChain && c.Ingest.LeaderLock) || c.Publish.Enabled
	if needsRedis {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 is only reached when archival runs.
	needsS3 := c.Archive.Enabled || c.Mode == "archive"
	if needsS3 {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	// Ingest
	if c.Ingest.Workers < 1 {
		errs = append(errs, "ingest: workers must be >= 1")
	}
	if c.Ingest.BackfillBatch < 1 {
		errs = append(errs, "ingest: backfill_batch must be >= 1")
	}
	if c.Ingest.LeaderLock && c.Ingest.LeaderTTL.Duration < 3*time.Second {
		errs = append(errs, "ingest: leader_ttl must be at least 3s")
	}

	// Publish
	if c.Publish.Enabled && c.Publish.ChannelPrefix == "" {
		errs = append(errs, "publish: channel_prefix must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
