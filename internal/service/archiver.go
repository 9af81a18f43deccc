package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/promptfun/launchpad/internal/domain"
)

// TradeArchiver exports trade records older than the retention window to
// cold storage as JSON batches and prunes them from the hot table. Records
// are immutable, so the export never races with writers.
type TradeArchiver struct {
	log       domain.TradeLog
	blob      domain.BlobWriter
	retention time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewTradeArchiver creates a TradeArchiver that keeps retentionDays of
// trades in hot storage.
func NewTradeArchiver(log domain.TradeLog, blob domain.BlobWriter, retentionDays, batchSize int, logger *slog.Logger) *TradeArchiver {
	if batchSize <= 0 {
		batchSize = 5000
	}
	return &TradeArchiver{
		log:       log,
		blob:      blob,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "trade_archiver")),
	}
}

// Run executes a single archive pass: repeatedly export a batch of aged
// records, pruning each batch by id once its upload is confirmed.
func (a *TradeArchiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-a.retention)

	var exported int64
	for {
		trades, err := a.log.ListBefore(ctx, cutoff, a.batchSize)
		if err != nil {
			return fmt.Errorf("archiver: list trades before %v: %w", cutoff, err)
		}
		if len(trades) == 0 {
			break
		}

		if err := a.exportBatch(ctx, trades); err != nil {
			return err
		}
		exported += int64(len(trades))

		// Prune exactly the records just uploaded, by id. A timestamp
		// cutoff would also sweep records that share the last batch
		// entry's CreatedAt but were never exported.
		ids := make([]string, len(trades))
		for i, t := range trades {
			ids[i] = t.ID
		}
		if _, err := a.log.Delete(ctx, ids); err != nil {
			return fmt.Errorf("archiver: prune %d exported trades: %w", len(ids), err)
		}
	}

	if exported > 0 {
		a.logger.InfoContext(ctx, "archive pass complete",
			slog.Int64("exported", exported),
			slog.Time("cutoff", cutoff),
		)
	}
	return nil
}

func (a *TradeArchiver) exportBatch(ctx context.Context, trades []domain.TradeRecord) error {
	payload, err := json.Marshal(trades)
	if err != nil {
		return fmt.Errorf("archiver: marshal batch: %w", err)
	}

	first := trades[0].CreatedAt.UTC()
	path := fmt.Sprintf("trades/%04d/%02d/%02d/batch-%s.json",
		first.Year(), first.Month(), first.Day(), uuid.NewString())

	if err := a.blob.Put(ctx, path, bytes.NewReader(payload), "application/json"); err != nil {
		return fmt.Errorf("archiver: upload batch %s: %w", path, err)
	}

	a.logger.DebugContext(ctx, "archived trade batch",
		slog.String("path", path),
		slog.Int("count", len(trades)),
	)
	return nil
}

// RunPeriodic runs archive passes at the given interval until the context is
// cancelled. Individual pass failures are logged and retried on the next
// tick.
func (a *TradeArchiver) RunPeriodic(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
