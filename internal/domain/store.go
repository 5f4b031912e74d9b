package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TradeStore persists trade facts.
type TradeStore interface {
	// Insert records the trade under the (transaction hash, log index)
	// uniqueness constraint. It reports false, without error, when the fact
	// was already present. Callers never check existence first; the store
	// rejects duplicates atomically.
	Insert(ctx context.Context, trade Trade) (inserted bool, err error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// TransferStore persists deposit/withdrawal facts with the same
// de-duplication contract as TradeStore.
type TransferStore interface {
	Insert(ctx context.Context, transfer Transfer) (inserted bool, err error)
	ListBefore(ctx context.Context, before time.Time) ([]Transfer, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OrderStore persists orders and hosts the conditional writes the
// reconciler depends on. Both UpdateFill and UpsertCanceled must be single
// atomic statements so concurrent reconciliation of the same order
// serializes at the row level.
type OrderStore interface {
	// FindAffected returns every order belonging to maker where either side
	// of the order is token and the order expires at or after the given
	// bound. An empty result is not an error.
	FindAffected(ctx context.Context, maker common.Address, token common.Address, expiresAtOrAfter *big.Int) ([]Order, error)

	// UpdateFill advances the order's fill to max(current, amountFill) and
	// recomputes state against the resulting fill; terminal states are left
	// untouched. It reports false when no row matched the signature.
	UpdateFill(ctx context.Context, signature common.Hash, amountFill *big.Int, updatedAt time.Time) (updated bool, err error)

	// UpsertCanceled inserts the order as CANCELED with fill = amount_get,
	// or, when a row with the signature exists, applies the same update only
	// if the current state is OPEN. It reports whether any write occurred.
	UpsertCanceled(ctx context.Context, order Order) (wrote bool, err error)

	GetBySignature(ctx context.Context, signature common.Hash) (Order, error)
}

// CheckpointStore tracks ingest progress so a restart resumes from the last
// fully-dispatched block instead of the contract's genesis.
type CheckpointStore interface {
	Get(ctx context.Context, name string) (uint64, error)
	Set(ctx context.Context, name string, blockNumber uint64) error
}
