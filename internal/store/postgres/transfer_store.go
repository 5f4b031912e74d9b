package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/POA-Delta/backend-replacement/internal/domain"
)

// TransferStore implements domain.TransferStore using PostgreSQL.
type TransferStore struct {
	pool *pgxpool.Pool
}

// NewTransferStore creates a new TransferStore backed by the given
// connection pool.
func NewTransferStore(pool *pgxpool.Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

const insertTransferStmt = `
	INSERT INTO transfers
	(
		block_number, transaction_hash, log_index,
		direction, token, "user", amount, balance_after, date
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT ON CONSTRAINT index_transfers_on_event_identifier DO NOTHING`

// Insert records the transfer fact. It reports false without error when the
// (transaction hash, log index) pair was already recorded.
func (s *TransferStore) Insert(ctx context.Context, t domain.Transfer) (bool, error) {
	tag, err := s.pool.Exec(ctx, insertTransferStmt,
		int64(t.BlockNumber),
		t.TransactionHash.Bytes(),
		int32(t.LogIndex),
		t.Direction,
		t.Token.Bytes(),
		t.User.Bytes(),
		numericFromBig(t.Amount),
		numericFromBig(t.BalanceAfter),
		t.Date,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert transfer: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const transferSelectCols = `block_number, transaction_hash, log_index,
	direction, token, "user", amount, balance_after, date`

func scanTransferRows(rows pgx.Rows) ([]domain.Transfer, error) {
	var transfers []domain.Transfer
	for rows.Next() {
		var (
			t        domain.Transfer
			blockNum int64
			txHash   []byte
			logIndex int32
			token    []byte
			user     []byte
			amount   pgtype.Numeric
			balance  pgtype.Numeric
		)
		if err := rows.Scan(
			&blockNum, &txHash, &logIndex,
			&t.Direction, &token, &user, &amount, &balance, &t.Date,
		); err != nil {
			return nil, err
		}

		t.BlockNumber = uint64(blockNum)
		t.TransactionHash = common.BytesToHash(txHash)
		t.LogIndex = uint(logIndex)
		t.Token = common.BytesToAddress(token)
		t.User = common.BytesToAddress(user)

		var err error
		if t.Amount, err = bigFromNumeric(amount); err != nil {
			return nil, err
		}
		if t.BalanceAfter, err = bigFromNumeric(balance); err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// ListBefore returns all transfers dated strictly before the given time,
// oldest first (for archiving).
func (s *TransferStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Transfer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transferSelectCols+` FROM transfers WHERE date < $1 ORDER BY date ASC`,
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transfers before: %w", err)
	}
	defer rows.Close()

	transfers, err := scanTransferRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan transfers before: %w", err)
	}
	return transfers, nil
}

// DeleteBefore deletes all transfers dated before the given time. Returns
// the number deleted.
func (s *TransferStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transfers WHERE date < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete transfers before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TransferStore = (*TransferStore)(nil)
