// Package pipeline coordinates the ingestion goroutines: contract log
// backfill and subscription, event dispatch, and cold-storage archival.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/POA-Delta/backend-replacement/internal/domain"
	"github.com/POA-Delta/backend-replacement/internal/events"
)

// Dispatcher routes raw contract logs through the normalizer to the
// recorder handler for their event kind.
type Dispatcher struct {
	normalizer *events.Normalizer
	recorder   *events.Recorder
	workers    int
	logger     *slog.Logger
}

// NewDispatcher creates a Dispatcher. workers bounds the number of logs
// processed concurrently during batch backfill.
func NewDispatcher(normalizer *events.Normalizer, recorder *events.Recorder, workers int, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		normalizer: normalizer,
		recorder:   recorder,
		workers:    workers,
		logger:     logger,
	}
}

// Dispatch normalizes one log and records it. Logs removed by a chain
// reorg and logs that do not decode are dropped with a warning; recording
// errors are returned so the caller can retry the range.
func (d *Dispatcher) Dispatch(ctx context.Context, lg types.Log) error {
	if lg.Removed {
		d.logger.Warn("skipping log removed by reorg",
			slog.String("tx_hash", lg.TxHash.Hex()),
			slog.Uint64("log_index", uint64(lg.Index)),
		)
		return nil
	}

	ev, err := d.normalizer.Normalize(lg)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedEvent) {
			d.logger.Warn("dropping malformed log",
				slog.String("tx_hash", lg.TxHash.Hex()),
				slog.Uint64("log_index", uint64(lg.Index)),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return fmt.Errorf("pipeline: normalize log: %w", err)
	}

	switch e := ev.(type) {
	case domain.TradeEvent:
		return d.recorder.ProcessTrade(ctx, e)
	case domain.TransferEvent:
		if e.Direction == domain.TransferDeposit {
			return d.recorder.RecordDeposit(ctx, e)
		}
		return d.recorder.RecordWithdraw(ctx, e)
	case domain.CancelEvent:
		return d.recorder.RecordCancel(ctx, e)
	default:
		d.logger.Warn("dropping log with unhandled event kind",
			slog.String("kind", string(ev.Kind())),
		)
		return nil
	}
}

// DispatchBatch processes a backfill batch with bounded concurrency. A
// failed log never aborts its siblings: every log is attempted and the
// failures are joined. Every write behind it is idempotent, so a partially
// processed batch is safe to replay after an error.
func (d *Dispatcher) DispatchBatch(ctx context.Context, logs []types.Log) error {
	var g errgroup.Group
	g.SetLimit(d.workers)

	var (
		mu   sync.Mutex
		errs []error
	)
	for _, lg := range logs {
		lg := lg
		g.Go(func() error {
			if err := d.Dispatch(ctx, lg); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
