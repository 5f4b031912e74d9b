package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ChainClient is the reconciler's view of the blockchain collaborator:
// block timestamps and the contract's authoritative per-order fill
// accessor. Event delivery is a separate, ingest-side concern.
type ChainClient interface {
	// BlockTimestamp returns the timestamp of the given block.
	BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)

	// LatestBlockTimestamp returns the timestamp of the chain head.
	LatestBlockTimestamp(ctx context.Context) (time.Time, error)

	// OrderFills returns the cumulative filled amount the contract knows for
	// (maker, order hash) as of the latest block.
	OrderFills(ctx context.Context, maker common.Address, orderHash common.Hash) (*big.Int, error)
}
