package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/POA-Delta/backend-replacement/internal/domain"
)

// CheckpointStore implements domain.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a new CheckpointStore backed by the given
// connection pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Get returns the checkpointed block number for name, or domain.ErrNotFound
// when no checkpoint has been recorded yet.
func (s *CheckpointStore) Get(ctx context.Context, name string) (uint64, error) {
	var blockNumber int64
	err := s.pool.QueryRow(ctx,
		`SELECT block_number FROM checkpoints WHERE name = $1`, name,
	).Scan(&blockNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: get checkpoint %s: %w", name, err)
	}
	return uint64(blockNumber), nil
}

// Set records the checkpointed block number for name.
func (s *CheckpointStore) Set(ctx context.Context, name string, blockNumber uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (name, block_number, updated)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name)
			DO UPDATE SET block_number = $2, updated = NOW()`,
		name, int64(blockNumber))
	if err != nil {
		return fmt.Errorf("postgres: set checkpoint %s: %w", name, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.CheckpointStore = (*CheckpointStore)(nil)
