package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptfun/launchpad/internal/domain"
)

// uniqueViolation is the PostgreSQL error code raised when the idempotency
// key index rejects a duplicate trade.
const uniqueViolation = "23505"

// dbtx is the subset of pgx operations shared by pgxpool.Pool and pgx.Tx,
// letting the atomic helpers run standalone or inside a trade transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LedgerStore implements domain.LedgerStore using PostgreSQL. Per-key
// serializability comes from PostgreSQL row locking: every mutation is either
// a single UPDATE (which locks the row it touches) or a transaction over the
// rows of one trade, so concurrent trades against the same agent serialize
// while trades on different agents proceed in parallel.
type LedgerStore struct {
	pool                *pgxpool.Pool
	cap                 float64
	graduationThreshold float64
}

// NewLedgerStore creates a LedgerStore with the deployment-wide tradeable cap
// and graduation threshold, both immutable after startup.
func NewLedgerStore(pool *pgxpool.Pool, tradeableCap, graduationThreshold float64) *LedgerStore {
	return &LedgerStore{
		pool:                pool,
		cap:                 tradeableCap,
		graduationThreshold: graduationThreshold,
	}
}

const agentSelectCols = `agent_id, creator_address, p0, p1, shares_sold,
	prompt_raised, last_price, phase, created_at, updated_at`

func scanAgentRow(row pgx.Row) (domain.AgentCurveState, error) {
	var a domain.AgentCurveState
	var phase string

	err := row.Scan(
		&a.AgentID, &a.CreatorAddress, &a.P0, &a.P1,
		&a.SharesSold, &a.PromptRaised, &a.LastPrice,
		&phase, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.AgentCurveState{}, err
	}
	a.Phase = domain.Phase(phase)
	return a, nil
}

// CreateAgent inserts a new agent curve row in the Active phase.
func (s *LedgerStore) CreateAgent(ctx context.Context, a domain.AgentCurveState) error {
	const query = `
		INSERT INTO agent_curve_states (
			agent_id, creator_address, p0, p1, shares_sold,
			prompt_raised, last_price, phase, created_at, updated_at
		) VALUES ($1, $2, $3, $4, 0, 0, $3, 'active', NOW(), NOW())`

	_, err := s.pool.Exec(ctx, query, a.AgentID, a.CreatorAddress, a.P0, a.P1)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: create agent %s: %w", a.AgentID, domain.ErrDuplicateRequest)
		}
		return fmt.Errorf("postgres: create agent %s: %w", a.AgentID, err)
	}
	return nil
}

// GetAgent retrieves a single agent curve state by its ID.
func (s *LedgerStore) GetAgent(ctx context.Context, agentID string) (domain.AgentCurveState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentSelectCols+` FROM agent_curve_states WHERE agent_id = $1`, agentID)

	a, err := scanAgentRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AgentCurveState{}, domain.ErrNotFound
		}
		return domain.AgentCurveState{}, fmt.Errorf("postgres: get agent %s: %w", agentID, err)
	}
	return a, nil
}

// GetPosition retrieves a holder position. A holder that has never bought
// returns ErrNotFound.
func (s *LedgerStore) GetPosition(ctx context.Context, agentID, holder string) (domain.HolderPosition, error) {
	p := domain.HolderPosition{AgentID: agentID, HolderAddress: holder}
	err := s.pool.QueryRow(ctx,
		`SELECT token_balance, updated_at FROM holder_positions
		 WHERE agent_id = $1 AND holder_address = $2`,
		agentID, holder,
	).Scan(&p.TokenBalance, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.HolderPosition{}, domain.ErrNotFound
		}
		return domain.HolderPosition{}, fmt.Errorf("postgres: get position %s/%s: %w", agentID, holder, err)
	}
	return p, nil
}

// ApplyAgentDelta atomically applies agent-level deltas. The single UPDATE
// re-checks the supply bound and latches the phase in the same statement, so
// at most one caller ever observes the Active→Graduated flip.
func (s *LedgerStore) ApplyAgentDelta(ctx context.Context, agentID string, d domain.AgentDelta) (domain.AgentUpdate, error) {
	return s.applyAgentDelta(ctx, s.pool, agentID, d)
}

func (s *LedgerStore) applyAgentDelta(ctx context.Context, q dbtx, agentID string, d domain.AgentDelta) (domain.AgentUpdate, error) {
	// The WHERE clause requires phase = 'active' before the update, so a
	// returned row in phase 'graduated' means this statement performed the
	// latch: should_graduate is true exactly once per agent.
	const query = `
		UPDATE agent_curve_states SET
			shares_sold   = shares_sold + $2,
			prompt_raised = GREATEST(prompt_raised + $3, 0),
			last_price    = $4,
			phase         = CASE WHEN prompt_raised + $3 >= $5 THEN 'graduated' ELSE phase END,
			updated_at    = NOW()
		WHERE agent_id = $1
		  AND phase = 'active'
		  AND shares_sold + $2 >= 0
		  AND shares_sold + $2 <= $6
		RETURNING shares_sold, prompt_raised, phase`

	var upd domain.AgentUpdate
	var phase string
	err := q.QueryRow(ctx, query,
		agentID, d.SharesDelta, d.PromptDelta, d.NewPrice,
		s.graduationThreshold, s.cap,
	).Scan(&upd.SharesSold, &upd.PromptRaised, &phase)
	if err == nil {
		upd.ShouldGraduate = phase == string(domain.PhaseGraduated)
		return upd, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.AgentUpdate{}, fmt.Errorf("postgres: apply agent delta %s: %w", agentID, err)
	}

	// No row matched: classify the rejection.
	var curPhase string
	var sharesSold float64
	selErr := q.QueryRow(ctx,
		`SELECT phase, shares_sold FROM agent_curve_states WHERE agent_id = $1`,
		agentID,
	).Scan(&curPhase, &sharesSold)
	switch {
	case errors.Is(selErr, pgx.ErrNoRows):
		return domain.AgentUpdate{}, domain.ErrNotFound
	case selErr != nil:
		return domain.AgentUpdate{}, fmt.Errorf("postgres: classify agent delta rejection %s: %w", agentID, selErr)
	case curPhase == string(domain.PhaseGraduated):
		return domain.AgentUpdate{}, domain.ErrAlreadyGraduated
	default:
		return domain.AgentUpdate{}, fmt.Errorf("%w: shares_sold %v with delta %v outside [0, %v]",
			domain.ErrCapacityExceeded, sharesSold, d.SharesDelta, s.cap)
	}
}

// ApplyPositionDelta atomically adjusts a holder balance, creating the row on
// first buy and rejecting any delta that would drive the balance negative.
func (s *LedgerStore) ApplyPositionDelta(ctx context.Context, agentID, holder string, delta float64) (float64, error) {
	return s.applyPositionDelta(ctx, s.pool, agentID, holder, delta)
}

func (s *LedgerStore) applyPositionDelta(ctx context.Context, q dbtx, agentID, holder string, delta float64) (float64, error) {
	if delta < 0 {
		const query = `
			UPDATE holder_positions SET
				token_balance = token_balance + $3,
				updated_at    = NOW()
			WHERE agent_id = $1 AND holder_address = $2
			  AND token_balance + $3 >= 0
			RETURNING token_balance`

		var balance float64
		err := q.QueryRow(ctx, query, agentID, holder, delta).Scan(&balance)
		if err == nil {
			return balance, nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the holder never bought or the balance is too small;
			// both reject the sell the same way.
			return 0, domain.ErrInsufficientBalance
		}
		return 0, fmt.Errorf("postgres: apply position delta %s/%s: %w", agentID, holder, err)
	}

	const upsert = `
		INSERT INTO holder_positions (agent_id, holder_address, token_balance, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (agent_id, holder_address) DO UPDATE SET
			token_balance = holder_positions.token_balance + EXCLUDED.token_balance,
			updated_at    = NOW()
		RETURNING token_balance`

	var balance float64
	if err := q.QueryRow(ctx, upsert, agentID, holder, delta).Scan(&balance); err != nil {
		return 0, fmt.Errorf("postgres: apply position delta %s/%s: %w", agentID, holder, err)
	}
	return balance, nil
}

// ApplyTrade commits a whole trade in one transaction: agent aggregates,
// holder position, fee accruals, and the trade record either all apply or
// none do. This removes the partial-failure window of running the agent and
// position updates as two separate atomic steps.
func (s *LedgerStore) ApplyTrade(ctx context.Context, app domain.TradeApplication) (domain.TradeResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("postgres: begin trade tx: %w", err)
	}
	defer tx.Rollback(ctx)

	upd, err := s.applyAgentDelta(ctx, tx, app.AgentID, app.Agent)
	if err != nil {
		return domain.TradeResult{}, err
	}

	balance, err := s.applyPositionDelta(ctx, tx, app.AgentID, app.HolderAddress, app.PositionDelta)
	if err != nil {
		return domain.TradeResult{}, err
	}

	for _, acc := range app.Accruals {
		if acc.Amount <= 0 {
			continue
		}
		if err := s.accrueReward(ctx, tx, app.AgentID, acc.Address, acc.RewardType, acc.Amount); err != nil {
			return domain.TradeResult{}, err
		}
	}

	record, err := s.insertTradeRecord(ctx, tx, app.Record)
	if err != nil {
		return domain.TradeResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.TradeResult{}, fmt.Errorf("postgres: commit trade tx: %w", err)
	}

	return domain.TradeResult{
		Record:       record,
		SharesSold:   upd.SharesSold,
		PromptRaised: upd.PromptRaised,
		NewBalance:   balance,
		Graduated:    upd.ShouldGraduate,
	}, nil
}

func (s *LedgerStore) insertTradeRecord(ctx context.Context, q dbtx, r domain.TradeRecord) (domain.TradeRecord, error) {
	const query = `
		INSERT INTO trade_records (
			id, agent_id, holder_address, side, input_amount, output_amount,
			fee_amount, price_before, price_after, idempotency_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NOW())
		RETURNING created_at`

	err := q.QueryRow(ctx, query,
		r.ID, r.AgentID, r.HolderAddress, string(r.Side),
		r.InputAmount, r.OutputAmount, r.FeeAmount,
		r.PriceBefore, r.PriceAfter, r.IdempotencyKey,
	).Scan(&r.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.TradeRecord{}, domain.ErrDuplicateRequest
		}
		return domain.TradeRecord{}, fmt.Errorf("postgres: insert trade record %s: %w", r.ID, err)
	}
	return r, nil
}

// AccrueReward adds to a beneficiary's accrued balance outside a trade
// transaction.
func (s *LedgerStore) AccrueReward(ctx context.Context, agentID, address string, rt domain.RewardType, amount float64) error {
	return s.accrueReward(ctx, s.pool, agentID, address, rt, amount)
}

func (s *LedgerStore) accrueReward(ctx context.Context, q dbtx, agentID, address string, rt domain.RewardType, amount float64) error {
	const query = `
		INSERT INTO reward_accruals (agent_id, address, reward_type, accrued, claimed, updated_at)
		VALUES ($1, $2, $3, $4, 0, NOW())
		ON CONFLICT (agent_id, address, reward_type) DO UPDATE SET
			accrued    = reward_accruals.accrued + EXCLUDED.accrued,
			updated_at = NOW()`

	if _, err := q.Exec(ctx, query, agentID, address, string(rt), amount); err != nil {
		return fmt.Errorf("postgres: accrue reward %s/%s/%s: %w", agentID, address, rt, err)
	}
	return nil
}

// ClaimReward atomically pays out the claimable delta and advances the
// claimed counter in the same statement. The locked read serializes
// concurrent claims for the same key, so the delta is paid at most once.
func (s *LedgerStore) ClaimReward(ctx context.Context, agentID, address string, rt domain.RewardType) (domain.ClaimResult, error) {
	const query = `
		WITH cur AS (
			SELECT accrued, claimed FROM reward_accruals
			WHERE agent_id = $1 AND address = $2 AND reward_type = $3
			FOR UPDATE
		)
		UPDATE reward_accruals r SET
			claimed    = cur.accrued,
			updated_at = NOW()
		FROM cur
		WHERE r.agent_id = $1 AND r.address = $2 AND r.reward_type = $3
		  AND cur.accrued > cur.claimed
		RETURNING cur.accrued, cur.accrued - cur.claimed`

	var res domain.ClaimResult
	err := s.pool.QueryRow(ctx, query, agentID, address, string(rt)).
		Scan(&res.TotalReward, &res.ClaimedAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ClaimResult{}, domain.ErrNothingToClaim
		}
		return domain.ClaimResult{}, fmt.Errorf("postgres: claim reward %s/%s/%s: %w", agentID, address, rt, err)
	}
	res.Remaining = 0
	return res, nil
}

// GetReward retrieves a beneficiary's reward balance.
func (s *LedgerStore) GetReward(ctx context.Context, agentID, address string, rt domain.RewardType) (domain.RewardBalance, error) {
	b := domain.RewardBalance{AgentID: agentID, Address: address, RewardType: rt}
	err := s.pool.QueryRow(ctx,
		`SELECT accrued, claimed, updated_at FROM reward_accruals
		 WHERE agent_id = $1 AND address = $2 AND reward_type = $3`,
		agentID, address, string(rt),
	).Scan(&b.Accrued, &b.Claimed, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RewardBalance{}, domain.ErrNotFound
		}
		return domain.RewardBalance{}, fmt.Errorf("postgres: get reward %s/%s/%s: %w", agentID, address, rt, err)
	}
	return b, nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
