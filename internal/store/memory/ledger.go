// Package memory provides in-process implementations of the ledger and audit
// interfaces. They back the storage = "memory" development mode and the
// engine's concurrency tests; durability is explicitly not provided.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/promptfun/launchpad/internal/domain"
)

type agentEntry struct {
	mu    sync.Mutex
	state domain.AgentCurveState
}

type positionEntry struct {
	mu  sync.Mutex
	pos domain.HolderPosition
}

type rewardEntry struct {
	mu  sync.Mutex
	bal domain.RewardBalance
}

// Ledger implements domain.LedgerStore and domain.TradeLog with per-key
// mutexes: one lock per agent and one per (agent, holder) key, so concurrent
// trades on the same agent serialize while different agents proceed in
// parallel — the same guarantee the PostgreSQL store gets from row locking.
type Ledger struct {
	cap                 float64
	graduationThreshold float64

	mu        sync.Mutex // guards the maps and the idempotency set
	agents    map[string]*agentEntry
	positions map[string]*positionEntry
	rewards   map[string]*rewardEntry
	idem      map[string]struct{}

	tradeMu sync.Mutex
	trades  []domain.TradeRecord
}

// NewLedger creates an empty in-memory ledger with the deployment-wide
// tradeable cap and graduation threshold.
func NewLedger(tradeableCap, graduationThreshold float64) *Ledger {
	return &Ledger{
		cap:                 tradeableCap,
		graduationThreshold: graduationThreshold,
		agents:              make(map[string]*agentEntry),
		positions:           make(map[string]*positionEntry),
		rewards:             make(map[string]*rewardEntry),
		idem:                make(map[string]struct{}),
	}
}

func positionKey(agentID, holder string) string {
	return agentID + "/" + holder
}

func rewardKey(agentID, address string, rt domain.RewardType) string {
	return agentID + "/" + address + "/" + string(rt)
}

func (l *Ledger) agent(agentID string) (*agentEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.agents[agentID]
	return e, ok
}

func (l *Ledger) position(agentID, holder string, create bool) (*positionEntry, bool) {
	key := positionKey(agentID, holder)
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.positions[key]
	if !ok && create {
		e = &positionEntry{pos: domain.HolderPosition{
			AgentID:       agentID,
			HolderAddress: holder,
		}}
		l.positions[key] = e
		ok = true
	}
	return e, ok
}

func (l *Ledger) reward(agentID, address string, rt domain.RewardType, create bool) (*rewardEntry, bool) {
	key := rewardKey(agentID, address, rt)
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.rewards[key]
	if !ok && create {
		e = &rewardEntry{bal: domain.RewardBalance{
			AgentID:    agentID,
			Address:    address,
			RewardType: rt,
		}}
		l.rewards[key] = e
		ok = true
	}
	return e, ok
}

// CreateAgent registers a new agent in the Active phase.
func (l *Ledger) CreateAgent(_ context.Context, a domain.AgentCurveState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.agents[a.AgentID]; ok {
		return fmt.Errorf("memory: create agent %s: %w", a.AgentID, domain.ErrDuplicateRequest)
	}
	now := time.Now().UTC()
	a.SharesSold = 0
	a.PromptRaised = 0
	a.LastPrice = a.P0
	a.Phase = domain.PhaseActive
	a.CreatedAt = now
	a.UpdatedAt = now
	l.agents[a.AgentID] = &agentEntry{state: a}
	return nil
}

// GetAgent returns a snapshot of the agent state.
func (l *Ledger) GetAgent(_ context.Context, agentID string) (domain.AgentCurveState, error) {
	e, ok := l.agent(agentID)
	if !ok {
		return domain.AgentCurveState{}, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

// GetPosition returns a snapshot of a holder position.
func (l *Ledger) GetPosition(_ context.Context, agentID, holder string) (domain.HolderPosition, error) {
	e, ok := l.position(agentID, holder, false)
	if !ok {
		return domain.HolderPosition{}, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos, nil
}

// applyAgentDeltaLocked mutates e.state; e.mu must be held.
func (l *Ledger) applyAgentDeltaLocked(e *agentEntry, d domain.AgentDelta) (domain.AgentUpdate, error) {
	if e.state.Phase == domain.PhaseGraduated {
		return domain.AgentUpdate{}, domain.ErrAlreadyGraduated
	}
	newShares := e.state.SharesSold + d.SharesDelta
	if newShares < 0 || newShares > l.cap {
		return domain.AgentUpdate{}, fmt.Errorf("%w: shares_sold %v with delta %v outside [0, %v]",
			domain.ErrCapacityExceeded, e.state.SharesSold, d.SharesDelta, l.cap)
	}

	e.state.SharesSold = newShares
	e.state.PromptRaised += d.PromptDelta
	e.state.LastPrice = d.NewPrice
	e.state.UpdatedAt = time.Now().UTC()

	upd := domain.AgentUpdate{
		SharesSold:   e.state.SharesSold,
		PromptRaised: e.state.PromptRaised,
	}
	if e.state.PromptRaised >= l.graduationThreshold {
		e.state.Phase = domain.PhaseGraduated
		upd.ShouldGraduate = true
	}
	return upd, nil
}

// ApplyAgentDelta atomically applies the delta under the agent's lock.
func (l *Ledger) ApplyAgentDelta(_ context.Context, agentID string, d domain.AgentDelta) (domain.AgentUpdate, error) {
	e, ok := l.agent(agentID)
	if !ok {
		return domain.AgentUpdate{}, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return l.applyAgentDeltaLocked(e, d)
}

// applyPositionDeltaLocked mutates e.pos; e.mu must be held.
func applyPositionDeltaLocked(e *positionEntry, delta float64) (float64, error) {
	newBalance := e.pos.TokenBalance + delta
	if newBalance < 0 {
		return 0, domain.ErrInsufficientBalance
	}
	e.pos.TokenBalance = newBalance
	e.pos.UpdatedAt = time.Now().UTC()
	return newBalance, nil
}

// ApplyPositionDelta atomically adjusts a holder balance, creating the entry
// on first buy.
func (l *Ledger) ApplyPositionDelta(_ context.Context, agentID, holder string, delta float64) (float64, error) {
	if delta < 0 {
		e, ok := l.position(agentID, holder, false)
		if !ok {
			return 0, domain.ErrInsufficientBalance
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		return applyPositionDeltaLocked(e, delta)
	}

	e, _ := l.position(agentID, holder, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	return applyPositionDeltaLocked(e, delta)
}

// ApplyTrade commits a whole trade under the agent's lock, so the agent
// aggregates, holder position, accruals, and record apply as one indivisible
// unit with respect to any other trade on the same agent.
func (l *Ledger) ApplyTrade(_ context.Context, app domain.TradeApplication) (domain.TradeResult, error) {
	ae, ok := l.agent(app.AgentID)
	if !ok {
		return domain.TradeResult{}, domain.ErrNotFound
	}

	ae.mu.Lock()
	defer ae.mu.Unlock()

	// Reserve the idempotency key up front. Checking and registering in
	// separate critical sections would let two concurrent trades on
	// different agents both commit the same key.
	committed := false
	if app.Record.IdempotencyKey != "" {
		l.mu.Lock()
		_, dup := l.idem[app.Record.IdempotencyKey]
		if !dup {
			l.idem[app.Record.IdempotencyKey] = struct{}{}
		}
		l.mu.Unlock()
		if dup {
			return domain.TradeResult{}, domain.ErrDuplicateRequest
		}
		defer func() {
			if !committed {
				l.mu.Lock()
				delete(l.idem, app.Record.IdempotencyKey)
				l.mu.Unlock()
			}
		}()
	}

	// Validate the position delta before touching the agent state, so a
	// rejected sell leaves nothing half-applied.
	var pe *positionEntry
	if app.PositionDelta < 0 {
		pe, ok = l.position(app.AgentID, app.HolderAddress, false)
		if !ok {
			return domain.TradeResult{}, domain.ErrInsufficientBalance
		}
		pe.mu.Lock()
		if pe.pos.TokenBalance+app.PositionDelta < 0 {
			pe.mu.Unlock()
			return domain.TradeResult{}, domain.ErrInsufficientBalance
		}
	} else {
		pe, _ = l.position(app.AgentID, app.HolderAddress, true)
		pe.mu.Lock()
	}
	defer pe.mu.Unlock()

	upd, err := l.applyAgentDeltaLocked(ae, app.Agent)
	if err != nil {
		return domain.TradeResult{}, err
	}

	balance, err := applyPositionDeltaLocked(pe, app.PositionDelta)
	if err != nil {
		// Unreachable given the pre-check above; surface as the fatal
		// inconsistency it would be.
		return domain.TradeResult{}, &domain.ConsistencyError{
			AgentID:       app.AgentID,
			HolderAddress: app.HolderAddress,
			Err:           err,
		}
	}

	for _, acc := range app.Accruals {
		if acc.Amount <= 0 {
			continue
		}
		re, _ := l.reward(app.AgentID, acc.Address, acc.RewardType, true)
		re.mu.Lock()
		re.bal.Accrued += acc.Amount
		re.bal.UpdatedAt = time.Now().UTC()
		re.mu.Unlock()
	}

	record := app.Record
	record.CreatedAt = time.Now().UTC()

	l.tradeMu.Lock()
	l.trades = append(l.trades, record)
	l.tradeMu.Unlock()

	committed = true
	return domain.TradeResult{
		Record:       record,
		SharesSold:   upd.SharesSold,
		PromptRaised: upd.PromptRaised,
		NewBalance:   balance,
		Graduated:    upd.ShouldGraduate,
	}, nil
}

// AccrueReward adds to a beneficiary's accrued balance.
func (l *Ledger) AccrueReward(_ context.Context, agentID, address string, rt domain.RewardType, amount float64) error {
	e, _ := l.reward(agentID, address, rt, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bal.Accrued += amount
	e.bal.UpdatedAt = time.Now().UTC()
	return nil
}

// ClaimReward pays out the claimable delta and advances the claimed counter
// under the entry's lock, so concurrent claims for the same key pay at most
// once.
func (l *Ledger) ClaimReward(_ context.Context, agentID, address string, rt domain.RewardType) (domain.ClaimResult, error) {
	e, ok := l.reward(agentID, address, rt, false)
	if !ok {
		return domain.ClaimResult{}, domain.ErrNothingToClaim
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	delta := e.bal.Accrued - e.bal.Claimed
	if delta <= 0 {
		return domain.ClaimResult{}, domain.ErrNothingToClaim
	}
	e.bal.Claimed = e.bal.Accrued
	e.bal.UpdatedAt = time.Now().UTC()

	return domain.ClaimResult{
		ClaimedAmount: delta,
		TotalReward:   e.bal.Accrued,
		Remaining:     0,
	}, nil
}

// GetReward returns a snapshot of a beneficiary's reward balance.
func (l *Ledger) GetReward(_ context.Context, agentID, address string, rt domain.RewardType) (domain.RewardBalance, error) {
	e, ok := l.reward(agentID, address, rt, false)
	if !ok {
		return domain.RewardBalance{}, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bal, nil
}

// ListByAgent returns trades for an agent, newest first.
func (l *Ledger) ListByAgent(_ context.Context, agentID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	return l.filterTrades(func(t domain.TradeRecord) bool { return t.AgentID == agentID }, opts), nil
}

// ListByHolder returns trades for a holder, newest first.
func (l *Ledger) ListByHolder(_ context.Context, holder string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	return l.filterTrades(func(t domain.TradeRecord) bool { return t.HolderAddress == holder }, opts), nil
}

// ListBefore returns up to limit trades older than cutoff, oldest first.
func (l *Ledger) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.TradeRecord, error) {
	l.tradeMu.Lock()
	defer l.tradeMu.Unlock()

	var out []domain.TradeRecord
	for _, t := range l.trades {
		if t.CreatedAt.Before(cutoff) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes the trades with the given ids.
func (l *Ledger) Delete(_ context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	l.tradeMu.Lock()
	defer l.tradeMu.Unlock()

	kept := l.trades[:0]
	var removed int64
	for _, t := range l.trades {
		if _, ok := drop[t.ID]; ok {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	l.trades = kept
	return removed, nil
}

func (l *Ledger) filterTrades(match func(domain.TradeRecord) bool, opts domain.ListOpts) []domain.TradeRecord {
	l.tradeMu.Lock()
	defer l.tradeMu.Unlock()

	var out []domain.TradeRecord
	for _, t := range l.trades {
		if !match(t) {
			continue
		}
		if opts.Since != nil && t.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && t.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// Compile-time interface checks.
var (
	_ domain.LedgerStore = (*Ledger)(nil)
	_ domain.TradeLog    = (*Ledger)(nil)
)
