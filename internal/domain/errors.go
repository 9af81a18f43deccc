package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidTrade        = errors.New("invalid trade parameters")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInsufficientSupply  = errors.New("insufficient curve supply")
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrCapacityExceeded    = errors.New("tradeable capacity exceeded")
	ErrAlreadyGraduated    = errors.New("agent already graduated")
	ErrNothingToClaim      = errors.New("nothing to claim")
	ErrRateLimited         = errors.New("rate limited")
	ErrDuplicateRequest    = errors.New("duplicate idempotency key")
)

// ConsistencyError reports a partially applied trade: the agent-level
// aggregates committed but the holder position update did not. The ledger is
// inconsistent until externally reconciled; callers must not retry the trade,
// since that would double-apply the agent deltas.
type ConsistencyError struct {
	AgentID       string
	HolderAddress string
	Err           error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("ledger inconsistency for agent %s holder %s: %v",
		e.AgentID, e.HolderAddress, e.Err)
}

func (e *ConsistencyError) Unwrap() error { return e.Err }
