package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/POA-Delta/backend-replacement/internal/domain"
)

// zeroAddr is the native-asset pseudo-address. A trade leg in the native
// asset does not move the maker's ERC20 balance, so the affected-order
// lookup must key on the other side of the trade.
var zeroAddr = common.Address{}

// Recorder applies normalized contract events to the persisted state. It
// holds no authoritative state of its own: every decision is a read or a
// conditional write against the store, which the event handlers share.
type Recorder struct {
	orders    domain.OrderStore
	trades    domain.TradeStore
	transfers domain.TransferStore
	chain     domain.ChainClient
	bus       domain.Publisher // optional
	channel   string
	logger    *slog.Logger
}

// NewRecorder creates a Recorder. bus may be nil, in which case no update
// messages are published. channel is the publish channel prefix.
func NewRecorder(
	orders domain.OrderStore,
	trades domain.TradeStore,
	transfers domain.TransferStore,
	chain domain.ChainClient,
	bus domain.Publisher,
	channel string,
	logger *slog.Logger,
) *Recorder {
	return &Recorder{
		orders:    orders,
		trades:    trades,
		transfers: transfers,
		chain:     chain,
		bus:       bus,
		channel:   channel,
		logger:    logger.With(slog.String("component", "recorder")),
	}
}

// ProcessTrade records the trade fact and, when (and only when) it was newly
// inserted, refreshes the fill state of every order the trade could have
// touched. Redelivered trades are absorbed silently.
func (r *Recorder) ProcessTrade(ctx context.Context, ev domain.TradeEvent) error {
	r.logger.Debug("received trade",
		slog.String("txid", ev.TxHash.Hex()),
		slog.Uint64("log_index", uint64(ev.LogIndex)),
	)

	inserted, err := r.recordTrade(ctx, ev)
	if err != nil {
		return err
	}
	if !inserted {
		r.logger.Debug("duplicate trade", slog.String("txid", ev.TxHash.Hex()))
		return nil
	}

	r.logger.Info("recorded trade",
		slog.String("txid", ev.TxHash.Hex()),
		slog.Uint64("log_index", uint64(ev.LogIndex)),
	)
	r.publish(ctx, "trades", tradeMessage(ev))

	// The maker side of a trade is recorded in `get`.
	maker := ev.Get
	coin := ev.TokenGive
	if coin == zeroAddr {
		coin = ev.TokenGet
	}

	affected, err := r.orders.FindAffected(ctx, maker, coin, new(big.Int).SetUint64(ev.BlockNumber))
	if err != nil {
		return fmt.Errorf("find affected orders for txid=%s: %w", ev.TxHash.Hex(), err)
	}
	if len(affected) == 0 {
		r.logger.Warn("no orders found for trade",
			slog.String("user", maker.Hex()),
			slog.String("token", coin.Hex()),
			slog.String("txid", ev.TxHash.Hex()),
		)
		return nil
	}

	r.logger.Debug("updating orders for trade",
		slog.Int("count", len(affected)),
		slog.String("txid", ev.TxHash.Hex()),
	)
	if err := r.RefreshOrderFills(ctx, affected); err != nil {
		return fmt.Errorf("refresh order fills for txid=%s: %w", ev.TxHash.Hex(), err)
	}
	r.logger.Debug("done order updates", slog.String("txid", ev.TxHash.Hex()))
	return nil
}

// recordTrade persists the trade fact. De-duplication happens entirely in
// the store's uniqueness constraint; there is deliberately no existence
// check here.
func (r *Recorder) recordTrade(ctx context.Context, ev domain.TradeEvent) (bool, error) {
	date, err := r.chain.BlockTimestamp(ctx, ev.BlockNumber)
	if err != nil {
		return false, fmt.Errorf("block timestamp %d: %w", ev.BlockNumber, err)
	}

	return r.trades.Insert(ctx, domain.Trade{
		BlockNumber:     ev.BlockNumber,
		TransactionHash: ev.TxHash,
		LogIndex:        ev.LogIndex,
		TokenGive:       ev.TokenGive,
		AmountGive:      ev.AmountGive,
		TokenGet:        ev.TokenGet,
		AmountGet:       ev.AmountGet,
		AddrGive:        ev.Give,
		AddrGet:         ev.Get,
		Date:            date,
	})
}

// RefreshOrderFills re-derives each order's cumulative fill from the
// contract's authoritative accessor and pushes it through the monotonic
// conditional update. The trade's own amount is never used: a single trade
// event does not reveal the order's total fill.
//
// A lookup failure is fatal for that order's refresh only; the remaining
// orders are still refreshed and the joined error is returned.
func (r *Recorder) RefreshOrderFills(ctx context.Context, orders []domain.Order) error {
	updatedAt, err := r.chain.LatestBlockTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("latest block timestamp: %w", err)
	}

	var errs []error
	for _, order := range orders {
		fill, err := r.chain.OrderFills(ctx, order.User, order.Signature)
		if err != nil {
			r.logger.Error("order fill lookup failed",
				slog.String("signature", order.Signature.Hex()),
				slog.String("user", order.User.Hex()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%w: order %s: %v", domain.ErrFillLookupFailed, order.Signature.Hex(), err))
			continue
		}

		updated, err := r.orders.UpdateFill(ctx, order.Signature, fill, updatedAt)
		if err != nil {
			errs = append(errs, fmt.Errorf("update fill for order %s: %w", order.Signature.Hex(), err))
			continue
		}
		if !updated {
			r.logger.Debug("fill update matched no order",
				slog.String("signature", order.Signature.Hex()),
			)
			continue
		}

		r.logger.Debug("refreshed order fill",
			slog.String("signature", order.Signature.Hex()),
			slog.String("amount_fill", fill.String()),
		)
		r.publishOrderUpdate(ctx, order.Signature)
	}
	return errors.Join(errs...)
}

// RecordDeposit records a deposit transfer fact.
func (r *Recorder) RecordDeposit(ctx context.Context, ev domain.TransferEvent) error {
	return r.recordTransfer(ctx, ev, domain.TransferDeposit)
}

// RecordWithdraw records a withdrawal transfer fact.
func (r *Recorder) RecordWithdraw(ctx context.Context, ev domain.TransferEvent) error {
	return r.recordTransfer(ctx, ev, domain.TransferWithdraw)
}

func (r *Recorder) recordTransfer(ctx context.Context, ev domain.TransferEvent, direction domain.TransferDirection) error {
	date, err := r.chain.BlockTimestamp(ctx, ev.BlockNumber)
	if err != nil {
		return fmt.Errorf("block timestamp %d: %w", ev.BlockNumber, err)
	}

	inserted, err := r.transfers.Insert(ctx, domain.Transfer{
		BlockNumber:     ev.BlockNumber,
		TransactionHash: ev.TxHash,
		LogIndex:        ev.LogIndex,
		Direction:       direction,
		Token:           ev.Token,
		User:            ev.User,
		Amount:          ev.Amount,
		BalanceAfter:    ev.Balance,
		Date:            date,
	})
	if err != nil {
		return err
	}
	if !inserted {
		r.logger.Debug("duplicate transfer",
			slog.String("txid", ev.TxHash.Hex()),
			slog.String("direction", string(direction)),
		)
		return nil
	}

	r.logger.Info("recorded transfer",
		slog.String("direction", string(direction)),
		slog.String("txid", ev.TxHash.Hex()),
		slog.Uint64("log_index", uint64(ev.LogIndex)),
	)
	r.publish(ctx, "transfers", transferMessage(ev, direction))
	return nil
}

// RecordCancel applies a cancellation. This may be the first sighting of an
// on-chain-only order, in which case the order record is synthesized from
// the cancel's own terms. The contract marks cancelled orders as fully
// filled, so amount_fill is set to amount_get. The write is guarded by the
// store: an order already FILLED or CANCELED is left untouched, which is an
// observable outcome, not an error.
func (r *Recorder) RecordCancel(ctx context.Context, ev domain.CancelEvent) error {
	date, err := r.chain.BlockTimestamp(ctx, ev.BlockNumber)
	if err != nil {
		return fmt.Errorf("block timestamp %d: %w", ev.BlockNumber, err)
	}

	source := domain.OrderSourceOnchain
	if len(ev.R) > 0 {
		source = domain.OrderSourceOffchain
	}

	wrote, err := r.orders.UpsertCanceled(ctx, domain.Order{
		Signature:  ev.Signature,
		Source:     source,
		TokenGive:  ev.TokenGive,
		AmountGive: ev.AmountGive,
		TokenGet:   ev.TokenGet,
		AmountGet:  ev.AmountGet,
		Expires:    ev.Expires,
		Nonce:      ev.Nonce,
		User:       ev.User,
		State:      domain.OrderStateCanceled,
		V:          ev.V,
		R:          ev.R,
		S:          ev.S,
		Date:       date,
		AmountFill: ev.AmountGet,
		Updated:    date,
	})
	if err != nil {
		return fmt.Errorf("upsert canceled order %s: %w", ev.Signature.Hex(), err)
	}
	if !wrote {
		r.logger.Info("cancel skipped, order already terminal",
			slog.String("signature", ev.Signature.Hex()),
			slog.String("txid", ev.TxHash.Hex()),
		)
		return nil
	}

	r.logger.Debug("recorded order cancel", slog.String("signature", ev.Signature.Hex()))
	r.publishOrderUpdate(ctx, ev.Signature)
	return nil
}

// ---------------------------------------------------------------------------
// update publishing
// ---------------------------------------------------------------------------

func tradeMessage(ev domain.TradeEvent) map[string]any {
	return map[string]any{
		"event":       "trade",
		"txid":        ev.TxHash.Hex(),
		"log_index":   ev.LogIndex,
		"token_get":   ev.TokenGet.Hex(),
		"amount_get":  ev.AmountGet.String(),
		"token_give":  ev.TokenGive.Hex(),
		"amount_give": ev.AmountGive.String(),
		"get":         ev.Get.Hex(),
		"give":        ev.Give.Hex(),
	}
}

func transferMessage(ev domain.TransferEvent, direction domain.TransferDirection) map[string]any {
	return map[string]any{
		"event":     "transfer",
		"direction": string(direction),
		"txid":      ev.TxHash.Hex(),
		"log_index": ev.LogIndex,
		"token":     ev.Token.Hex(),
		"user":      ev.User.Hex(),
		"amount":    ev.Amount.String(),
		"balance":   ev.Balance.String(),
	}
}

// publishOrderUpdate re-reads the order after a write so the published
// record carries the resolved state, not the caller's input.
func (r *Recorder) publishOrderUpdate(ctx context.Context, signature common.Hash) {
	if r.bus == nil {
		return
	}

	order, err := r.orders.GetBySignature(ctx, signature)
	if err != nil {
		r.logger.Warn("could not load order for update message",
			slog.String("signature", signature.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}

	r.publish(ctx, "orders", map[string]any{
		"event":       "order",
		"signature":   order.Signature.Hex(),
		"state":       string(order.State),
		"amount_fill": order.AmountFill.String(),
		"amount_get":  order.AmountGet.String(),
		"user":        order.User.Hex(),
		"updated":     order.Updated.UTC().Format(time.RFC3339),
	})
}

// publish sends a JSON message on channel "<prefix>.<topic>". Publish
// failures are logged, never surfaced: fan-out is best-effort and must not
// fail the event.
func (r *Recorder) publish(ctx context.Context, topic string, msg map[string]any) {
	if r.bus == nil {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Warn("marshal update message", slog.String("error", err.Error()))
		return
	}
	channel := r.channel + "." + topic
	if err := r.bus.Publish(ctx, channel, payload); err != nil {
		r.logger.Warn("publish update message",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
