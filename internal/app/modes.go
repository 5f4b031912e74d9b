package app

import (
	"context"
	"log/slog"

	"github.com/POA-Delta/backend-replacement/internal/events"
	"github.com/POA-Delta/backend-replacement/internal/pipeline"
	"github.com/POA-Delta/backend-replacement/internal/platform/eth"
)

// IngestMode follows the exchange contract and reconciles its events,
// without the archival cron.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	orch := a.buildOrchestrator(deps, false)
	return orch.Run(ctx)
}

// FullMode runs ingestion plus the archival cron when archival is enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	orch := a.buildOrchestrator(deps, a.cfg.Archive.Enabled)
	return orch.Run(ctx)
}

// ArchiveMode performs a single archive run and exits. It is meant for
// scheduled one-shot jobs next to a long-running ingest instance.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	archiver := pipeline.NewArchiver(
		deps.Archiver,
		deps.TradeStore,
		deps.TransferStore,
		a.cfg.Archive.RetentionDays,
		a.logger.With(slog.String("component", "archiver")),
	)
	return archiver.Run(ctx)
}

// buildOrchestrator assembles the ingest pipeline from wired dependencies.
func (a *App) buildOrchestrator(deps *Dependencies, withArchiver bool) *pipeline.Orchestrator {
	normalizer := events.NewNormalizer(eth.ExchangeABI, deps.Chain.Contract())

	var channel string
	if a.cfg.Publish.Enabled {
		channel = a.cfg.Publish.ChannelPrefix
	}
	recorder := events.NewRecorder(
		deps.OrderStore,
		deps.TradeStore,
		deps.TransferStore,
		deps.Chain,
		deps.Publisher,
		channel,
		a.logger,
	)

	dispatcher := pipeline.NewDispatcher(
		normalizer,
		recorder,
		a.cfg.Ingest.Workers,
		a.logger.With(slog.String("component", "dispatcher")),
	)

	var archiver *pipeline.Archiver
	if withArchiver && deps.Archiver != nil {
		archiver = pipeline.NewArchiver(
			deps.Archiver,
			deps.TradeStore,
			deps.TransferStore,
			a.cfg.Archive.RetentionDays,
			a.logger.With(slog.String("component", "archiver")),
		)
	}

	return pipeline.NewOrchestrator(
		deps.Chain,
		dispatcher,
		deps.CheckpointStore,
		deps.LockManager,
		archiver,
		a.cfg.Archive.Cron,
		pipeline.OrchestratorConfig{
			StartBlock:         a.cfg.Chain.StartBlock,
			BackfillBatch:      a.cfg.Ingest.BackfillBatch,
			CheckpointInterval: a.cfg.Ingest.CheckpointInterval.Duration,
			LeaderTTL:          a.cfg.Ingest.LeaderTTL.Duration,
			RetryBackoff:       a.cfg.Ingest.RetryBackoff.Duration,
		},
		a.logger.With(slog.String("component", "orchestrator")),
	)
}
