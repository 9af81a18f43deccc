package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/promptfun/launchpad/internal/curve"
	"github.com/promptfun/launchpad/internal/domain"
	"github.com/promptfun/launchpad/internal/fees"
)

// Event channels published on the signal bus.
const (
	channelTrades      = "trades"
	channelGraduations = "graduations"
)

// TradeService orchestrates quote and trade requests: it validates the
// request, prices it against the agent's curve, applies the resulting deltas
// through one atomic ledger transaction, and publishes the outcome. It holds
// no trading state of its own; the ledger is the single source of truth.
type TradeService struct {
	ledger domain.LedgerStore
	log    domain.TradeLog
	policy *fees.Policy
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger

	tradeableCap    float64
	vaultAddress    string
	treasuryAddress string
}

// NewTradeService creates a TradeService with all required dependencies.
// vaultAddress and treasuryAddress receive the protocol's fee shares.
func NewTradeService(
	ledger domain.LedgerStore,
	log domain.TradeLog,
	policy *fees.Policy,
	bus domain.SignalBus,
	audit domain.AuditStore,
	tradeableCap float64,
	vaultAddress, treasuryAddress string,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		ledger:          ledger,
		log:             log,
		policy:          policy,
		bus:             bus,
		audit:           audit,
		logger:          logger.With(slog.String("component", "trade_service")),
		tradeableCap:    tradeableCap,
		vaultAddress:    vaultAddress,
		treasuryAddress: treasuryAddress,
	}
}

func (s *TradeService) agentParams(a domain.AgentCurveState) curve.Params {
	return curve.Params{P0: a.P0, P1: a.P1, Cap: s.tradeableCap}
}

// loadActiveAgent fetches the agent and rejects requests against graduated
// ones before any pricing work happens.
func (s *TradeService) loadActiveAgent(ctx context.Context, agentID string) (domain.AgentCurveState, error) {
	agent, err := s.ledger.GetAgent(ctx, agentID)
	if err != nil {
		return domain.AgentCurveState{}, err
	}
	if agent.Phase == domain.PhaseGraduated {
		return domain.AgentCurveState{}, domain.ErrAlreadyGraduated
	}
	return agent, nil
}

// GetQuote prices a trade without mutating any state. Identical inputs
// against the same curve state always return the same quote.
func (s *TradeService) GetQuote(ctx context.Context, agentID string, side domain.TradeSide, amount float64) (domain.Quote, error) {
	if !side.Valid() {
		return domain.Quote{}, fmt.Errorf("%w: unknown side %q", domain.ErrInvalidTrade, side)
	}
	if amount <= 0 {
		return domain.Quote{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidTrade)
	}

	agent, err := s.loadActiveAgent(ctx, agentID)
	if err != nil {
		return domain.Quote{}, err
	}
	params := s.agentParams(agent)

	if side == domain.SideBuy {
		fee := s.policy.Fee(amount)
		net := amount - fee
		if net <= 0 {
			return domain.Quote{}, fmt.Errorf("%w: amount consumed entirely by fee", domain.ErrInvalidTrade)
		}

		q, err := params.QuoteBuy(agent.SharesSold, net)
		if err != nil {
			return domain.Quote{}, err
		}

		gross := amount
		if q.NetCost < net {
			gross, fee = s.policy.GrossFromNet(q.NetCost)
		}

		return domain.Quote{
			AgentID:      agentID,
			Side:         side,
			InputAmount:  gross,
			OutputAmount: q.SharesOut,
			FeeAmount:    fee,
			PriceBefore:  q.PriceBefore,
			PriceAfter:   q.PriceAfter,
		}, nil
	}

	q, err := params.QuoteSell(agent.SharesSold, amount)
	if err != nil {
		return domain.Quote{}, err
	}
	fee := s.policy.Fee(q.GrossProceeds)

	return domain.Quote{
		AgentID:      agentID,
		Side:         side,
		InputAmount:  amount,
		OutputAmount: q.GrossProceeds - fee,
		FeeAmount:    fee,
		PriceBefore:  q.PriceBefore,
		PriceAfter:   q.PriceAfter,
	}, nil
}

// ExecuteTrade runs the full trade path: validate, quote, apply the ledger
// transaction, then record the outcome on the signal bus. The ledger applies
// agent aggregates, holder position, fee accruals, and the trade record as a
// single transaction, so no partially applied trade can be observed.
func (s *TradeService) ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	if !req.Side.Valid() {
		return domain.TradeResult{}, fmt.Errorf("%w: unknown side %q", domain.ErrInvalidTrade, req.Side)
	}
	if req.Amount <= 0 {
		return domain.TradeResult{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidTrade)
	}
	holder, err := domain.NormalizeAddress(req.HolderAddress)
	if err != nil {
		return domain.TradeResult{}, err
	}
	if req.IdempotencyKey == "" {
		// Without a caller-supplied key a retry is a fresh trade; the
		// generated key only guards against double-commit inside the store.
		req.IdempotencyKey = uuid.NewString()
	}

	agent, err := s.loadActiveAgent(ctx, req.AgentID)
	if err != nil {
		return domain.TradeResult{}, err
	}

	app, err := s.buildApplication(ctx, agent, holder, req)
	if err != nil {
		return domain.TradeResult{}, err
	}

	result, err := s.ledger.ApplyTrade(ctx, app)
	if err != nil {
		var consistency *domain.ConsistencyError
		if errors.As(err, &consistency) {
			// The agent aggregates committed but the position did not. Do
			// not retry: that would double-apply the agent deltas. Escalate
			// for external reconciliation.
			s.logger.ErrorContext(ctx, "ledger inconsistency, manual reconciliation required",
				slog.String("agent_id", req.AgentID),
				slog.String("holder", holder),
				slog.String("error", consistency.Error()),
			)
			s.auditLog(ctx, "ledger_inconsistency", map[string]any{
				"agent_id": req.AgentID,
				"holder":   holder,
				"error":    consistency.Error(),
			})
		}
		return domain.TradeResult{}, err
	}

	s.publishTrade(ctx, result)
	if result.Graduated {
		s.handleGraduation(ctx, result)
	}

	s.logger.InfoContext(ctx, "trade executed",
		slog.String("trade_id", result.Record.ID),
		slog.String("agent_id", req.AgentID),
		slog.String("side", string(req.Side)),
		slog.Float64("input", result.Record.InputAmount),
		slog.Float64("output", result.Record.OutputAmount),
		slog.Float64("fee", result.Record.FeeAmount),
	)

	return result, nil
}

// buildApplication turns a validated request into the delta bundle the
// ledger commits. All pricing happens here, against the snapshot read above;
// the atomic store re-checks every bound at commit time.
func (s *TradeService) buildApplication(ctx context.Context, agent domain.AgentCurveState, holder string, req domain.TradeRequest) (domain.TradeApplication, error) {
	params := s.agentParams(agent)

	record := domain.TradeRecord{
		ID:             uuid.NewString(),
		AgentID:        agent.AgentID,
		HolderAddress:  holder,
		Side:           req.Side,
		IdempotencyKey: req.IdempotencyKey,
	}

	if req.Side == domain.SideBuy {
		fee := s.policy.Fee(req.Amount)
		net := req.Amount - fee
		if net <= 0 {
			return domain.TradeApplication{}, fmt.Errorf("%w: amount consumed entirely by fee", domain.ErrInvalidTrade)
		}

		q, err := params.QuoteBuy(agent.SharesSold, net)
		if err != nil {
			return domain.TradeApplication{}, err
		}

		gross := req.Amount
		if q.NetCost < net {
			// Clamped at the cap: charge only for the shares issued.
			gross, fee = s.policy.GrossFromNet(q.NetCost)
		}

		record.InputAmount = gross
		record.OutputAmount = q.SharesOut
		record.FeeAmount = fee
		record.PriceBefore = q.PriceBefore
		record.PriceAfter = q.PriceAfter

		return domain.TradeApplication{
			AgentID:       agent.AgentID,
			HolderAddress: holder,
			Agent: domain.AgentDelta{
				SharesDelta: q.SharesOut,
				PromptDelta: q.NetCost,
				NewPrice:    q.PriceAfter,
			},
			PositionDelta: q.SharesOut,
			Accruals:      s.feeAccruals(agent, fee),
			Record:        record,
		}, nil
	}

	// Defense in depth: check the holder's known balance before the atomic
	// position update, which re-checks regardless.
	pos, err := s.ledger.GetPosition(ctx, agent.AgentID, holder)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TradeApplication{}, domain.ErrInsufficientBalance
		}
		return domain.TradeApplication{}, err
	}
	if req.Amount > pos.TokenBalance {
		return domain.TradeApplication{}, fmt.Errorf("%w: selling %v with balance %v",
			domain.ErrInsufficientBalance, req.Amount, pos.TokenBalance)
	}

	q, err := params.QuoteSell(agent.SharesSold, req.Amount)
	if err != nil {
		return domain.TradeApplication{}, err
	}

	fee := s.policy.Fee(q.GrossProceeds)

	record.InputAmount = req.Amount
	record.OutputAmount = q.GrossProceeds - fee
	record.FeeAmount = fee
	record.PriceBefore = q.PriceBefore
	record.PriceAfter = q.PriceAfter

	return domain.TradeApplication{
		AgentID:       agent.AgentID,
		HolderAddress: holder,
		Agent: domain.AgentDelta{
			SharesDelta: -req.Amount,
			PromptDelta: -q.GrossProceeds,
			NewPrice:    q.PriceAfter,
		},
		PositionDelta: -req.Amount,
		Accruals:      s.feeAccruals(agent, fee),
		Record:        record,
	}, nil
}

// feeAccruals splits a trade's fee among the creator, protocol vault, and
// liquidity treasury beneficiaries.
func (s *TradeService) feeAccruals(agent domain.AgentCurveState, fee float64) []domain.FeeAccrual {
	if fee <= 0 {
		return nil
	}
	split := s.policy.SplitFee(fee)
	return []domain.FeeAccrual{
		{Address: agent.CreatorAddress, RewardType: domain.RewardCreator, Amount: split.Creator},
		{Address: s.vaultAddress, RewardType: domain.RewardVault, Amount: split.Vault},
		{Address: s.treasuryAddress, RewardType: domain.RewardTreasury, Amount: split.Treasury},
	}
}

func (s *TradeService) publishTrade(ctx context.Context, result domain.TradeResult) {
	evt, _ := json.Marshal(map[string]any{
		"event":         "trade_executed",
		"trade_id":      result.Record.ID,
		"agent_id":      result.Record.AgentID,
		"side":          result.Record.Side,
		"input":         result.Record.InputAmount,
		"output":        result.Record.OutputAmount,
		"fee":           result.Record.FeeAmount,
		"price_after":   result.Record.PriceAfter,
		"shares_sold":   result.SharesSold,
		"prompt_raised": result.PromptRaised,
		"timestamp":     result.Record.CreatedAt.Format(time.RFC3339),
	})
	if err := s.bus.Publish(ctx, channelTrades, evt); err != nil {
		s.logger.WarnContext(ctx, "publish trade event failed",
			slog.String("trade_id", result.Record.ID),
			slog.String("error", err.Error()),
		)
	}
}

// handleGraduation runs for the exactly-one trade that latched the phase
// transition.
func (s *TradeService) handleGraduation(ctx context.Context, result domain.TradeResult) {
	s.logger.InfoContext(ctx, "agent graduated",
		slog.String("agent_id", result.Record.AgentID),
		slog.Float64("prompt_raised", result.PromptRaised),
	)

	evt, _ := json.Marshal(map[string]any{
		"event":         "agent_graduated",
		"agent_id":      result.Record.AgentID,
		"trade_id":      result.Record.ID,
		"prompt_raised": result.PromptRaised,
		"shares_sold":   result.SharesSold,
	})
	if err := s.bus.Publish(ctx, channelGraduations, evt); err != nil {
		s.logger.WarnContext(ctx, "publish graduation event failed",
			slog.String("agent_id", result.Record.AgentID),
			slog.String("error", err.Error()),
		)
	}

	s.auditLog(ctx, "agent_graduated", map[string]any{
		"agent_id":      result.Record.AgentID,
		"trade_id":      result.Record.ID,
		"prompt_raised": result.PromptRaised,
	})
}

func (s *TradeService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// ListByAgent returns trade history for an agent.
func (s *TradeService) ListByAgent(ctx context.Context, agentID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	trades, err := s.log.ListByAgent(ctx, agentID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list by agent %q: %w", agentID, err)
	}
	return trades, nil
}

// ListByHolder returns trade history for a holder address.
func (s *TradeService) ListByHolder(ctx context.Context, holder string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	normalized, err := domain.NormalizeAddress(holder)
	if err != nil {
		return nil, err
	}
	trades, err := s.log.ListByHolder(ctx, normalized, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list by holder %q: %w", holder, err)
	}
	return trades, nil
}
