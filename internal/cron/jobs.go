package cron

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	defaultBackfillSchedule = "*/10 * * * *"
	defaultBackfillBatch    = 50
)

// BackfillStore is the subset of memory.Store needed by the backfill job.
type BackfillStore interface {
	Degraded(ctx context.Context, limit int) ([]string, error)
	Reembed(ctx context.Context, id string) (bool, error)
}

// EmbeddingBackfillJob re-embeds records that were stored with a zero
// vector because the embedding provider was unavailable. Each tick handles
// at most BatchSize records, oldest first.
type EmbeddingBackfillJob struct {
	Store        BackfillStore
	Logger       *slog.Logger
	BatchSize    int    // zero = 50
	ScheduleExpr string // empty = default "*/10 * * * *"
}

// Compile-time interface check.
var _ Job = (*EmbeddingBackfillJob)(nil)

// Name implements Job.
func (j *EmbeddingBackfillJob) Name() string { return "embedding_backfill" }

// Schedule implements Job.
func (j *EmbeddingBackfillJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return defaultBackfillSchedule
}

// Run re-embeds one batch. Per-record failures are logged and left for the
// next tick; only a failure to list candidates is returned.
func (j *EmbeddingBackfillJob) Run(ctx context.Context) error {
	batch := j.BatchSize
	if batch <= 0 {
		batch = defaultBackfillBatch
	}
	ids, err := j.Store.Degraded(ctx, batch)
	if err != nil {
		return fmt.Errorf("cron: list degraded records: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	var repaired, skipped, failed int
	for _, id := range ids {
		if ctx.Err() != nil {
			return fmt.Errorf("cron: embedding backfill cancelled: %w", ctx.Err())
		}
		ok, err := j.Store.Reembed(ctx, id)
		switch {
		case err != nil:
			failed++
			j.Logger.Warn("cron: re-embed failed", "record", id, "error", err)
		case ok:
			repaired++
		default:
			skipped++
		}
	}
	j.Logger.Info("cron: embedding backfill",
		"candidates", len(ids),
		"repaired", repaired,
		"skipped", skipped,
		"failed", failed,
	)
	return nil
}
