package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderState tracks the order lifecycle. OPEN is the only non-terminal
// state: once an order reaches FILLED or CANCELED it never changes again.
type OrderState string

const (
	OrderStateOpen     OrderState = "OPEN"
	OrderStateFilled   OrderState = "FILLED"
	OrderStateCanceled OrderState = "CANCELED"
)

// Terminal reports whether the state admits no further transitions.
func (s OrderState) Terminal() bool {
	return s == OrderStateFilled || s == OrderStateCanceled
}

// OrderSource records where an order was first seen. Orders carrying a
// signature component were submitted off-chain; orders without one exist
// only on the contract.
type OrderSource string

const (
	OrderSourceOffchain OrderSource = "OFFCHAIN"
	OrderSourceOnchain  OrderSource = "ONCHAIN"
)

// Order is a persisted exchange order, uniquely identified by the
// deterministic hash of its terms. AmountFill is monotonically
// non-decreasing and is only ever advanced by the reconciler; FILLED and
// CANCELED are terminal.
type Order struct {
	Signature  common.Hash
	Source     OrderSource
	TokenGive  common.Address
	AmountGive *big.Int
	TokenGet   common.Address
	AmountGet  *big.Int
	Expires    *big.Int
	Nonce      *big.Int
	User       common.Address
	State      OrderState
	V          *int16 // nil for on-chain orders
	R          []byte
	S          []byte
	Date       time.Time
	AmountFill *big.Int
	Updated    time.Time
}
