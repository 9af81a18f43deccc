package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptfun/launchpad/internal/domain"
)

// TradeLog implements domain.TradeLog over the append-only trade_records
// table. Records are written by LedgerStore inside trade transactions; this
// type only reads and prunes them.
type TradeLog struct {
	pool *pgxpool.Pool
}

// NewTradeLog creates a TradeLog backed by the given connection pool.
func NewTradeLog(pool *pgxpool.Pool) *TradeLog {
	return &TradeLog{pool: pool}
}

const tradeSelectCols = `id, agent_id, holder_address, side, input_amount,
	output_amount, fee_amount, price_before, price_after,
	COALESCE(idempotency_key, ''), created_at`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var side string

		if err := rows.Scan(
			&t.ID, &t.AgentID, &t.HolderAddress, &side,
			&t.InputAmount, &t.OutputAmount, &t.FeeAmount,
			&t.PriceBefore, &t.PriceAfter,
			&t.IdempotencyKey, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		t.Side = domain.TradeSide(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (l *TradeLog) list(ctx context.Context, where string, key any, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trade_records WHERE ` + where
	args := []any{key}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListByAgent returns trades for a specific agent with pagination.
func (l *TradeLog) ListByAgent(ctx context.Context, agentID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	return l.list(ctx, "agent_id = $1", agentID, opts)
}

// ListByHolder returns trades for a specific holder with pagination.
func (l *TradeLog) ListByHolder(ctx context.Context, holder string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	return l.list(ctx, "holder_address = $1", holder, opts)
}

// ListBefore returns up to limit trades older than cutoff, oldest first,
// which the archiver exports before pruning. The id tiebreaker keeps batch
// boundaries stable when many records share a timestamp.
func (l *TradeLog) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TradeRecord, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trade_records
		 WHERE created_at < $1 ORDER BY created_at ASC, id ASC LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %v: %w", cutoff, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before %v: %w", cutoff, err)
	}
	return trades, nil
}

// Delete removes the trades with the given ids and returns the number of
// rows removed. Pruning by id means only records the caller has already
// exported are ever deleted, even when timestamps collide across batches.
func (l *TradeLog) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := l.pool.Exec(ctx,
		`DELETE FROM trade_records WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete %d trades: %w", len(ids), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeLog = (*TradeLog)(nil)
