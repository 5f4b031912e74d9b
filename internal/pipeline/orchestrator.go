package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/POA-Delta/backend-replacement/internal/domain"
)

// leaderLockKey guards the contract subscription so only one backend
// instance ingests at a time.
const leaderLockKey = "ingest-leader"

// checkpointName is the row in the checkpoints table that tracks ingestion
// progress for the exchange contract.
const checkpointName = "exchange-events"

// ChainSource is the part of the Ethereum client the orchestrator needs.
type ChainSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, from, to uint64) ([]types.Log, error)
	SubscribeLogs(ctx context.Context, sink chan<- types.Log) (ethereum.Subscription, error)
}

// OrchestratorConfig carries the ingestion tuning knobs.
type OrchestratorConfig struct {
	// StartBlock is where ingestion begins when no checkpoint exists yet.
	StartBlock uint64
	// BackfillBatch is the block span of one FilterLogs call.
	BackfillBatch uint64
	// CheckpointInterval is how often the live checkpoint is persisted.
	CheckpointInterval time.Duration
	// LeaderTTL is the leader lock TTL. Leadership is skipped when the
	// lock manager is nil.
	LeaderTTL time.Duration
	// RetryBackoff is the pause before restarting a failed ingest cycle.
	RetryBackoff time.Duration
}

// Orchestrator manages ingestion end to end: it takes leadership, backfills
// missed blocks from the last checkpoint, then follows the live log
// subscription, and runs the archiver on its cron schedule alongside.
type Orchestrator struct {
	chain       ChainSource
	dispatcher  *Dispatcher
	checkpoints domain.CheckpointStore
	locks       domain.LockManager
	archiver    *Archiver
	archiveCron string
	cfg         OrchestratorConfig
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator. locks and archiver may be nil,
// which disables leader election and archival respectively.
func NewOrchestrator(
	chain ChainSource,
	dispatcher *Dispatcher,
	checkpoints domain.CheckpointStore,
	locks domain.LockManager,
	archiver *Archiver,
	archiveCron string,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.BackfillBatch == 0 {
		cfg.BackfillBatch = 5000
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Second
	}
	return &Orchestrator{
		chain:       chain,
		dispatcher:  dispatcher,
		checkpoints: checkpoints,
		locks:       locks,
		archiver:    archiver,
		archiveCron: archiveCron,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run blocks until ctx is cancelled. With a lock manager configured it
// first waits for leadership and stops ingesting if the lease is lost.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.locks == nil {
		return o.run(ctx)
	}

	o.logger.Info("waiting for ingest leadership", slog.String("lock", leaderLockKey))
	err := o.locks.WithLease(ctx, leaderLockKey, o.cfg.LeaderTTL, o.run)
	if ctx.Err() != nil {
		return nil // clean shutdown
	}
	return err
}

// run starts the ingest loop and the archiver cron as concurrent
// goroutines. If either returns a non-context error the shared context is
// cancelled and run returns that error.
func (o *Orchestrator) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		o.logger.Info("starting ingest loop")
		err := o.runIngest(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("ingest: %w", err)
	})

	if o.archiver != nil {
		g.Go(func() error {
			o.logger.Info("starting archiver cron")
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline stopped cleanly")
	return nil
}

// runIngest repeats backfill-then-subscribe cycles until ctx is cancelled.
// A failed cycle is logged and restarted after a backoff; the checkpoint
// makes the restart resume where the previous cycle left off.
func (o *Orchestrator) runIngest(ctx context.Context) error {
	for {
		err := o.ingestOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.logger.Error("ingest cycle failed, restarting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", o.cfg.RetryBackoff),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.RetryBackoff):
		}
	}
}

// ingestOnce backfills from the last checkpoint to the chain head, then
// follows the live subscription until it drops or ctx is cancelled.
func (o *Orchestrator) ingestOnce(ctx context.Context) error {
	from, err := o.resumeBlock(ctx)
	if err != nil {
		return err
	}

	last, err := o.backfill(ctx, from)
	if err != nil {
		return err
	}

	return o.follow(ctx, last)
}

// resumeBlock returns the block to start backfilling from: one past the
// checkpoint, or the configured start block on first run.
func (o *Orchestrator) resumeBlock(ctx context.Context) (uint64, error) {
	cp, err := o.checkpoints.Get(ctx, checkpointName)
	if errors.Is(err, domain.ErrNotFound) {
		o.logger.Info("no checkpoint, starting from configured block",
			slog.Uint64("start_block", o.cfg.StartBlock),
		)
		return o.cfg.StartBlock, nil
	}
	if err != nil {
		return 0, fmt.Errorf("pipeline: load checkpoint: %w", err)
	}
	return cp + 1, nil
}

// backfill replays contract logs from 'from' to the current head in
// batches, advancing the checkpoint after each batch. It returns the last
// block covered.
func (o *Orchestrator) backfill(ctx context.Context, from uint64) (uint64, error) {
	head, err := o.chain.LatestBlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("pipeline: head block: %w", err)
	}
	if from > head {
		return head, nil
	}

	o.logger.Info("backfilling contract logs",
		slog.Uint64("from", from),
		slog.Uint64("to", head),
	)

	for lo := from; lo <= head; lo += o.cfg.BackfillBatch {
		hi := lo + o.cfg.BackfillBatch - 1
		if hi > head {
			hi = head
		}

		logs, err := o.chain.FilterLogs(ctx, lo, hi)
		if err != nil {
			return 0, fmt.Errorf("pipeline: filter logs %d-%d: %w", lo, hi, err)
		}
		if err := o.dispatcher.DispatchBatch(ctx, logs); err != nil {
			return 0, fmt.Errorf("pipeline: dispatch batch %d-%d: %w", lo, hi, err)
		}
		if err := o.checkpoints.Set(ctx, checkpointName, hi); err != nil {
			return 0, fmt.Errorf("pipeline: save checkpoint: %w", err)
		}

		if len(logs) > 0 {
			o.logger.Info("backfilled batch",
				slog.Uint64("from", lo),
				slog.Uint64("to", hi),
				slog.Int("logs", len(logs)),
			)
		}
	}

	return head, nil
}

// follow consumes the live log subscription, dispatching each log in
// arrival order and persisting the checkpoint on a timer. Returning an
// error sends the caller back through backfill, which covers any gap
// between the checkpoint and the head.
func (o *Orchestrator) follow(ctx context.Context, from uint64) error {
	sink := make(chan types.Log, 256)
	sub, err := o.chain.SubscribeLogs(ctx, sink)
	if err != nil {
		return fmt.Errorf("pipeline: subscribe logs: %w", err)
	}
	defer sub.Unsubscribe()

	o.logger.Info("following live contract logs", slog.Uint64("from", from))

	highest := from
	ticker := time.NewTicker(o.cfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("pipeline: subscription dropped: %w", err)
		case lg := <-sink:
			if err := o.dispatcher.Dispatch(ctx, lg); err != nil {
				return err
			}
			if lg.BlockNumber > highest {
				highest = lg.BlockNumber
			}
		case <-ticker.C:
			if err := o.checkpoints.Set(ctx, checkpointName, highest); err != nil {
				return fmt.Errorf("pipeline: save checkpoint: %w", err)
			}
		}
	}
}
