// Package events contains the event-to-state reconciliation core: the
// normalizer that coerces raw contract logs into typed events, and the
// recorder that applies those events to the persisted order, trade, and
// transfer records.
package events

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/POA-Delta/backend-replacement/internal/domain"
	"github.com/POA-Delta/backend-replacement/internal/orderhash"
)

// Normalizer decodes raw contract logs into typed domain events. It is pure:
// no side effects, no I/O.
type Normalizer struct {
	abi      abi.ABI
	contract common.Address
}

// NewNormalizer creates a Normalizer for the given contract ABI and address.
// The address participates in the cancel-event order hash.
func NewNormalizer(contractABI abi.ABI, contract common.Address) *Normalizer {
	return &Normalizer{abi: contractABI, contract: contract}
}

// Normalize decodes one raw log. Errors wrap domain.ErrMalformedEvent: the
// log is of an unknown kind, or required fields are absent or undecodable.
func (n *Normalizer) Normalize(lg types.Log) (domain.Event, error) {
	if len(lg.Topics) == 0 {
		return nil, fmt.Errorf("%w: log has no topics", domain.ErrMalformedEvent)
	}
	if lg.TxHash == (common.Hash{}) {
		return nil, fmt.Errorf("%w: missing transaction hash", domain.ErrMalformedEvent)
	}

	event, err := n.abi.EventByID(lg.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: unknown event topic %s", domain.ErrMalformedEvent, lg.Topics[0])
	}

	values, err := event.Inputs.UnpackValues(lg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s args: %v", domain.ErrMalformedEvent, event.Name, err)
	}

	meta := domain.EventMeta{
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
	}

	switch event.Name {
	case "Trade":
		return n.normalizeTrade(meta, values)
	case "Deposit":
		return n.normalizeTransfer(meta, values, domain.TransferDeposit)
	case "Withdraw":
		return n.normalizeTransfer(meta, values, domain.TransferWithdraw)
	case "Cancel":
		return n.normalizeCancel(meta, values)
	default:
		return nil, fmt.Errorf("%w: unhandled event %s", domain.ErrMalformedEvent, event.Name)
	}
}

func (n *Normalizer) normalizeTrade(meta domain.EventMeta, values []any) (domain.Event, error) {
	if len(values) != 6 {
		return nil, fmt.Errorf("%w: Trade expects 6 args, got %d", domain.ErrMalformedEvent, len(values))
	}

	ev := domain.TradeEvent{EventMeta: meta}
	var err error
	if ev.TokenGet, err = asAddress(values[0], "tokenGet"); err != nil {
		return nil, err
	}
	if ev.AmountGet, err = asBig(values[1], "amountGet"); err != nil {
		return nil, err
	}
	if ev.TokenGive, err = asAddress(values[2], "tokenGive"); err != nil {
		return nil, err
	}
	if ev.AmountGive, err = asBig(values[3], "amountGive"); err != nil {
		return nil, err
	}
	if ev.Get, err = asAddress(values[4], "get"); err != nil {
		return nil, err
	}
	if ev.Give, err = asAddress(values[5], "give"); err != nil {
		return nil, err
	}
	return ev, nil
}

func (n *Normalizer) normalizeTransfer(meta domain.EventMeta, values []any, direction domain.TransferDirection) (domain.Event, error) {
	if len(values) != 4 {
		return nil, fmt.Errorf("%w: %s expects 4 args, got %d", domain.ErrMalformedEvent, direction, len(values))
	}

	ev := domain.TransferEvent{EventMeta: meta, Direction: direction}
	var err error
	if ev.Token, err = asAddress(values[0], "token"); err != nil {
		return nil, err
	}
	if ev.User, err = asAddress(values[1], "user"); err != nil {
		return nil, err
	}
	if ev.Amount, err = asBig(values[2], "amount"); err != nil {
		return nil, err
	}
	if ev.Balance, err = asBig(values[3], "balance"); err != nil {
		return nil, err
	}
	return ev, nil
}

func (n *Normalizer) normalizeCancel(meta domain.EventMeta, values []any) (domain.Event, error) {
	if len(values) != 10 {
		return nil, fmt.Errorf("%w: Cancel expects 10 args, got %d", domain.ErrMalformedEvent, len(values))
	}

	ev := domain.CancelEvent{EventMeta: meta}
	var err error
	if ev.TokenGet, err = asAddress(values[0], "tokenGet"); err != nil {
		return nil, err
	}
	if ev.AmountGet, err = asBig(values[1], "amountGet"); err != nil {
		return nil, err
	}
	if ev.TokenGive, err = asAddress(values[2], "tokenGive"); err != nil {
		return nil, err
	}
	if ev.AmountGive, err = asBig(values[3], "amountGive"); err != nil {
		return nil, err
	}
	if ev.Expires, err = asBig(values[4], "expires"); err != nil {
		return nil, err
	}
	if ev.Nonce, err = asBig(values[5], "nonce"); err != nil {
		return nil, err
	}
	if ev.User, err = asAddress(values[6], "user"); err != nil {
		return nil, err
	}

	v, ok := values[7].(uint8)
	if !ok {
		return nil, fmt.Errorf("%w: field v: unexpected type %T", domain.ErrMalformedEvent, values[7])
	}
	r, err := asBytes32(values[8], "r")
	if err != nil {
		return nil, err
	}
	s, err := asBytes32(values[9], "s")
	if err != nil {
		return nil, err
	}

	// On-chain orders are cancelled without a signature; the contract emits
	// zeroed v/r/s for them. A non-zero r is the marker for an off-chain
	// order.
	if !allZero(r) {
		sv := int16(v)
		ev.V = &sv
		ev.R = r
		ev.S = s
	}

	ev.Signature = orderhash.Compute(orderhash.Terms{
		Contract:   n.contract,
		TokenGet:   ev.TokenGet,
		AmountGet:  ev.AmountGet,
		TokenGive:  ev.TokenGive,
		AmountGive: ev.AmountGive,
		Expires:    ev.Expires,
		Nonce:      ev.Nonce,
	})

	return ev, nil
}

func asAddress(v any, field string) (common.Address, error) {
	addr, ok := v.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: field %s: unexpected type %T", domain.ErrMalformedEvent, field, v)
	}
	return addr, nil
}

func asBig(v any, field string) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		return nil, fmt.Errorf("%w: field %s: unexpected type %T", domain.ErrMalformedEvent, field, v)
	}
	return n, nil
}

func asBytes32(v any, field string) ([]byte, error) {
	arr, ok := v.([32]byte)
	if !ok {
		return nil, fmt.Errorf("%w: field %s: unexpected type %T", domain.ErrMalformedEvent, field, v)
	}
	out := make([]byte, 32)
	copy(out, arr[:])
	return out, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
