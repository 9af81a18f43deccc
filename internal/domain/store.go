package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AgentDelta is the agent-level mutation of one trade.
type AgentDelta struct {
	SharesDelta float64
	PromptDelta float64
	NewPrice    float64
}

// AgentUpdate is the post-commit agent state returned by an atomic delta
// application. ShouldGraduate is true for exactly one update per agent: the
// one whose delta first pushes PromptRaised across the graduation threshold.
type AgentUpdate struct {
	SharesSold     float64
	PromptRaised   float64
	ShouldGraduate bool
}

// TradeApplication bundles everything a single trade mutates: the agent
// aggregates, the holder position, the fee accruals, and the appended trade
// record.
type TradeApplication struct {
	AgentID       string
	HolderAddress string
	Agent         AgentDelta
	PositionDelta float64
	Accruals      []FeeAccrual
	Record        TradeRecord
}

// LedgerStore is the durable source of truth for all trading state. Every
// mutating method is a single atomic unit of work: concurrent callers
// touching the same agent or (agent, holder) key are serialized, while
// callers on different keys proceed in parallel. No component may read the
// ledger and write it back outside these operations.
type LedgerStore interface {
	CreateAgent(ctx context.Context, agent AgentCurveState) error
	GetAgent(ctx context.Context, agentID string) (AgentCurveState, error)
	GetPosition(ctx context.Context, agentID, holder string) (HolderPosition, error)

	// ApplyAgentDelta atomically applies the delta to one agent row,
	// re-checking the [0, cap] bound and latching the graduation phase when
	// the threshold is first crossed. It fails with ErrCapacityExceeded when
	// the delta would leave the bound, and ErrAlreadyGraduated for agents
	// that have already latched.
	ApplyAgentDelta(ctx context.Context, agentID string, delta AgentDelta) (AgentUpdate, error)

	// ApplyPositionDelta atomically adjusts a holder balance, creating the
	// row on first buy. It fails with ErrInsufficientBalance when the delta
	// would drive the balance negative.
	ApplyPositionDelta(ctx context.Context, agentID, holder string, delta float64) (float64, error)

	// ApplyTrade commits an entire trade — agent deltas, position delta, fee
	// accruals, and the trade record — as one transaction, so a trade either
	// fully applies or not at all. Duplicate idempotency keys fail with
	// ErrDuplicateRequest.
	ApplyTrade(ctx context.Context, app TradeApplication) (TradeResult, error)

	// AccrueReward adds to a beneficiary's accrued reward balance.
	AccrueReward(ctx context.Context, agentID, address string, rt RewardType, amount float64) error

	// ClaimReward atomically pays out the claimable delta (accrued minus
	// already claimed) and advances the claimed counter in the same step. It
	// fails with ErrNothingToClaim when the delta is zero or negative.
	ClaimReward(ctx context.Context, agentID, address string, rt RewardType) (ClaimResult, error)

	GetReward(ctx context.Context, agentID, address string, rt RewardType) (RewardBalance, error)
}

// TradeLog provides read and retention access to the append-only trade
// records written by the ledger.
type TradeLog interface {
	ListByAgent(ctx context.Context, agentID string, opts ListOpts) ([]TradeRecord, error)
	ListByHolder(ctx context.Context, holder string, opts ListOpts) ([]TradeRecord, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]TradeRecord, error)
	Delete(ctx context.Context, ids []string) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only operational audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// RateLimitDecision is the outcome of a rate-limit check.
type RateLimitDecision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter gates trade, quote, and claim requests with fixed-window
// counters shared across all concurrent callers for the same
// (identifier, endpoint) key.
type RateLimiter interface {
	Check(ctx context.Context, identifier, endpoint string, maxRequests int, window time.Duration) (RateLimitDecision, error)
}

// SignalBus publishes engine events (trade executions, graduations) for
// downstream consumers such as analytics and the surrounding application.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BlobWriter uploads objects to cold storage, used by the trade archiver.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
