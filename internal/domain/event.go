package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind identifies which contract event a normalized record came from.
type EventKind string

const (
	EventKindTrade    EventKind = "Trade"
	EventKindDeposit  EventKind = "Deposit"
	EventKindWithdraw EventKind = "Withdraw"
	EventKindCancel   EventKind = "Cancel"
)

// EventMeta carries the chain coordinates every normalized event shares.
// (TxHash, LogIndex) is the identity used for de-duplication.
type EventMeta struct {
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// Event is a normalized, ephemeral contract event. Events are never
// persisted directly; they drive writes to the order, trade, and transfer
// records.
type Event interface {
	Kind() EventKind
	Meta() EventMeta
}

// TradeEvent is a normalized Trade emission: one executed match.
type TradeEvent struct {
	EventMeta
	TokenGet   common.Address
	AmountGet  *big.Int
	TokenGive  common.Address
	AmountGive *big.Int
	Get        common.Address // maker
	Give       common.Address // taker
}

func (e TradeEvent) Kind() EventKind { return EventKindTrade }
func (e TradeEvent) Meta() EventMeta { return e.EventMeta }

// TransferEvent is a normalized Deposit or Withdraw emission.
type TransferEvent struct {
	EventMeta
	Direction TransferDirection
	Token     common.Address
	User      common.Address
	Amount    *big.Int
	Balance   *big.Int
}

func (e TransferEvent) Kind() EventKind {
	if e.Direction == TransferWithdraw {
		return EventKindWithdraw
	}
	return EventKindDeposit
}
func (e TransferEvent) Meta() EventMeta { return e.EventMeta }

// CancelEvent is a normalized Cancel emission. It carries the full order
// terms, which lets the reconciler synthesize an order record on first
// sighting, plus the signature hash computed from those terms.
type CancelEvent struct {
	EventMeta
	Signature  common.Hash
	TokenGet   common.Address
	AmountGet  *big.Int
	TokenGive  common.Address
	AmountGive *big.Int
	Expires    *big.Int
	Nonce      *big.Int
	User       common.Address
	V          *int16
	R          []byte
	S          []byte
}

func (e CancelEvent) Kind() EventKind { return EventKindCancel }
func (e CancelEvent) Meta() EventMeta { return e.EventMeta }
