package app

import (
	"context"
	"fmt"
	"strings"

	s3blob "github.com/POA-Delta/backend-replacement/internal/blob/s3"
	"github.com/POA-Delta/backend-replacement/internal/cache/redis"
	"github.com/POA-Delta/backend-replacement/internal/config"
	"github.com/POA-Delta/backend-replacement/internal/domain"
	"github.com/POA-Delta/backend-replacement/internal/platform/eth"
	"github.com/POA-Delta/backend-replacement/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	OrderStore      domain.OrderStore
	TradeStore      domain.TradeStore
	TransferStore   domain.TransferStore
	CheckpointStore domain.CheckpointStore

	// Chain access
	Chain *eth.Client

	// Redis
	LockManager domain.LockManager
	Publisher   domain.Publisher

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver
}

// needsChain returns true for modes that talk to the Ethereum node.
func needsChain(mode string) bool {
	switch mode {
	case "ingest", "full":
		return true
	default:
		return false
	}
}

// needsS3 returns true for modes that reach object storage.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "archive" || cfg.Archive.Enabled
}

// needsRedis returns true when the leader lock or pub/sub fan-out is on.
func needsRedis(cfg *config.Config) bool {
	return (needsChain(cfg.Mode) && cfg.Ingest.LeaderLock) || cfg.Publish.Enabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	mode := strings.ToLower(cfg.Mode)

	// --- PostgreSQL ---
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
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.TransferStore = postgres.NewTransferStore(pool)
	deps.CheckpointStore = postgres.NewCheckpointStore(pool)

	// --- Ethereum node (only for modes that ingest) ---
	if needsChain(mode) {
		chain, err := eth.Dial(ctx, eth.ClientConfig{
			RPCURL:          cfg.Chain.RPCURL,
			ContractAddress: cfg.Chain.ContractAddress,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: ethereum: %w", err)
		}
		closers = append(closers, chain.Close)
		deps.Chain = chain
	}

	// --- Redis (leader lock and pub/sub fan-out) ---
	if needsRedis(cfg) {
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

		if cfg.Ingest.LeaderLock {
			deps.LockManager = redis.NewLockManager(redisClient)
		}
		if cfg.Publish.Enabled {
			deps.Publisher = redis.NewPublisher(redisClient)
		}
	}

	// --- S3 blob storage (only when archival runs) ---
	if needsS3(cfg) {
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
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.TradeStore, deps.TransferStore)
	}

	return deps, cleanup, nil
}
