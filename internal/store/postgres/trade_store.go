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

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// insertTradeStmt relies on the unique (transaction_hash, log_index)
// constraint for de-duplication; ON CONFLICT DO NOTHING makes redelivery a
// zero-row no-op instead of an error, atomically.
const insertTradeStmt = `
	INSERT INTO trades
	(
		block_number, transaction_hash, log_index,
		token_give, amount_give, token_get, amount_get,
		addr_give, addr_get, date
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT ON CONSTRAINT index_trades_on_event_identifier DO NOTHING`

// Insert records the trade fact. It reports false without error when the
// (transaction hash, log index) pair was already recorded.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) (bool, error) {
	tag, err := s.pool.Exec(ctx, insertTradeStmt,
		int64(t.BlockNumber),
		t.TransactionHash.Bytes(),
		int32(t.LogIndex),
		t.TokenGive.Bytes(),
		numericFromBig(t.AmountGive),
		t.TokenGet.Bytes(),
		numericFromBig(t.AmountGet),
		t.AddrGive.Bytes(),
		t.AddrGet.Bytes(),
		t.Date,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert trade: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const tradeSelectCols = `block_number, transaction_hash, log_index,
	token_give, amount_give, token_get, amount_get, addr_give, addr_get, date`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var (
			t          domain.Trade
			blockNum   int64
			txHash     []byte
			logIndex   int32
			tokenGive  []byte
			tokenGet   []byte
			addrGive   []byte
			addrGet    []byte
			amountGive pgtype.Numeric
			amountGet  pgtype.Numeric
		)
		if err := rows.Scan(
			&blockNum, &txHash, &logIndex,
			&tokenGive, &amountGive, &tokenGet, &amountGet,
			&addrGive, &addrGet, &t.Date,
		); err != nil {
			return nil, err
		}

		t.BlockNumber = uint64(blockNum)
		t.TransactionHash = common.BytesToHash(txHash)
		t.LogIndex = uint(logIndex)
		t.TokenGive = common.BytesToAddress(tokenGive)
		t.TokenGet = common.BytesToAddress(tokenGet)
		t.AddrGive = common.BytesToAddress(addrGive)
		t.AddrGet = common.BytesToAddress(addrGet)

		var err error
		if t.AmountGive, err = bigFromNumeric(amountGive); err != nil {
			return nil, err
		}
		if t.AmountGet, err = bigFromNumeric(amountGet); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListBefore returns all trades dated strictly before the given time, oldest
// first (for archiving).
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE date < $1 ORDER BY date ASC`,
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return trades, nil
}

// DeleteBefore deletes all trades dated before the given time. Returns the
// number deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE date < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
