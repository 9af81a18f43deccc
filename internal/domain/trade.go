package domain

import "time"

// TradeSide distinguishes curve buys from sells.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Valid reports whether s is a recognized trade side.
func (s TradeSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Quote is a read-only pricing preview. For buys InputAmount is prompt and
// OutputAmount is shares; for sells InputAmount is shares and OutputAmount is
// the net prompt payout after the trading fee.
type Quote struct {
	AgentID      string    `json:"agent_id"`
	Side         TradeSide `json:"side"`
	InputAmount  float64   `json:"input_amount"`
	OutputAmount float64   `json:"output_amount"`
	FeeAmount    float64   `json:"fee_amount"`
	PriceBefore  float64   `json:"price_before"`
	PriceAfter   float64   `json:"price_after"`
}

// TradeRequest is a mutating trade submission. IdempotencyKey is optional;
// when present, replays with the same key are rejected with
// ErrDuplicateRequest instead of double-applying deltas.
type TradeRequest struct {
	AgentID        string
	HolderAddress  string
	Side           TradeSide
	Amount         float64
	IdempotencyKey string
}

// TradeRecord is one executed trade in the append-only audit log. Records are
// immutable once written.
type TradeRecord struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	HolderAddress  string    `json:"holder_address"`
	Side           TradeSide `json:"side"`
	InputAmount    float64   `json:"input_amount"`
	OutputAmount   float64   `json:"output_amount"`
	FeeAmount      float64   `json:"fee_amount"`
	PriceBefore    float64   `json:"price_before"`
	PriceAfter     float64   `json:"price_after"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TradeResult is the outcome of an executed trade: the recorded trade plus
// the post-trade ledger state.
type TradeResult struct {
	Record       TradeRecord `json:"record"`
	SharesSold   float64     `json:"shares_sold"`
	PromptRaised float64     `json:"prompt_raised"`
	NewBalance   float64     `json:"new_balance"`
	Graduated    bool        `json:"graduated"`
}
