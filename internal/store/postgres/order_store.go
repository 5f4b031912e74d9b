package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/POA-Delta/backend-replacement/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. The reconciler's
// concurrency control is entirely in the SQL below: both mutations are
// single conditional statements, so concurrent calls for the same order
// serialize on the row and the monotonic-fill / terminal-state invariants
// hold regardless of event arrival order.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `signature, source, token_give, amount_give, token_get, amount_get,
	expires, nonce, "user", state, v, r, s, date, amount_fill, updated`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o          domain.Order
		signature  []byte
		tokenGive  []byte
		tokenGet   []byte
		user       []byte
		amountGive pgtype.Numeric
		amountGet  pgtype.Numeric
		expires    pgtype.Numeric
		nonce      pgtype.Numeric
		amountFill pgtype.Numeric
	)

	err := row.Scan(
		&signature, &o.Source, &tokenGive, &amountGive, &tokenGet, &amountGet,
		&expires, &nonce, &user, &o.State, &o.V, &o.R, &o.S,
		&o.Date, &amountFill, &o.Updated,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Signature = common.BytesToHash(signature)
	o.TokenGive = common.BytesToAddress(tokenGive)
	o.TokenGet = common.BytesToAddress(tokenGet)
	o.User = common.BytesToAddress(user)

	for _, conv := range []struct {
		dst **big.Int
		src pgtype.Numeric
	}{
		{&o.AmountGive, amountGive},
		{&o.AmountGet, amountGet},
		{&o.Expires, expires},
		{&o.Nonce, nonce},
		{&o.AmountFill, amountFill},
	} {
		v, err := bigFromNumeric(conv.src)
		if err != nil {
			return domain.Order{}, err
		}
		*conv.dst = v
	}
	return o, nil
}

const findAffectedStmt = `
	SELECT ` + orderSelectCols + `
	FROM orders
	WHERE "user" = $1
		AND (token_give = $2 OR token_get = $2)
		AND expires >= $3`

// FindAffected returns the maker's orders touching token that expire at or
// after the given bound. An empty result means nothing to refresh.
func (s *OrderStore) FindAffected(ctx context.Context, maker common.Address, token common.Address, expiresAtOrAfter *big.Int) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx, findAffectedStmt,
		maker.Bytes(), token.Bytes(), numericFromBig(expiresAtOrAfter))
	if err != nil {
		return nil, fmt.Errorf("postgres: find affected orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan affected order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// updateFillStmt never regresses amount_fill and recomputes state against
// the resulting fill. Terminal states are preserved by the CASE, so a stale
// or out-of-order refresh can never reopen or shrink an order.
const updateFillStmt = `
	UPDATE orders
	SET amount_fill = GREATEST(amount_fill, $1),
		state = (CASE
					WHEN state IN ('FILLED'::orderstate, 'CANCELED'::orderstate) THEN state
					WHEN amount_get <= GREATEST(amount_fill, $1) THEN 'FILLED'::orderstate
					ELSE 'OPEN'::orderstate END),
		updated = $2
	WHERE signature = $3`

// UpdateFill applies the monotonic fill update. False with a nil error means
// no order with that signature exists yet.
func (s *OrderStore) UpdateFill(ctx context.Context, signature common.Hash, amountFill *big.Int, updatedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, updateFillStmt,
		numericFromBig(amountFill), updatedAt, signature.Bytes())
	if err != nil {
		return false, fmt.Errorf("postgres: update order fill: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// upsertCanceledStmt inserts a CANCELED order record, or updates an existing
// one only while it is still OPEN. A cancel landing after FILLED or a prior
// CANCELED affects zero rows.
const upsertCanceledStmt = `
	INSERT INTO orders
	(
		source, signature,
		token_give, amount_give, token_get, amount_get,
		expires, nonce, "user", state, v, r, s, date,
		amount_fill, updated
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT ON CONSTRAINT index_orders_on_signature
		DO UPDATE SET
			state = $10, amount_fill = $15, updated = $16
			WHERE orders.signature = $2
				AND orders.state = 'OPEN'::orderstate`

// UpsertCanceled records the cancellation, synthesizing the order row when
// this is the first sighting. It reports whether any write occurred.
func (s *OrderStore) UpsertCanceled(ctx context.Context, order domain.Order) (bool, error) {
	tag, err := s.pool.Exec(ctx, upsertCanceledStmt,
		order.Source,
		order.Signature.Bytes(),
		order.TokenGive.Bytes(),
		numericFromBig(order.AmountGive),
		order.TokenGet.Bytes(),
		numericFromBig(order.AmountGet),
		numericFromBig(order.Expires),
		numericFromBig(order.Nonce),
		order.User.Bytes(),
		order.State,
		order.V,
		order.R,
		order.S,
		order.Date,
		numericFromBig(order.AmountFill),
		order.Updated,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: upsert canceled order: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetBySignature returns the order with the given signature hash.
func (s *OrderStore) GetBySignature(ctx context.Context, signature common.Hash) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE signature = $1`,
		signature.Bytes())

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order by signature: %w", err)
	}
	return o, nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
