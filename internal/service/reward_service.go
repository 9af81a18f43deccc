package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/promptfun/launchpad/internal/domain"
)

// RewardService handles reward claims against the accrued fee shares. It
// reuses the ledger's atomicity: the claimable delta and the claimed counter
// advance in one indivisible step, so concurrent claims for the same key pay
// at most once.
type RewardService struct {
	ledger domain.LedgerStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewRewardService creates a RewardService.
func NewRewardService(ledger domain.LedgerStore, audit domain.AuditStore, logger *slog.Logger) *RewardService {
	return &RewardService{
		ledger: ledger,
		audit:  audit,
		logger: logger.With(slog.String("component", "reward_service")),
	}
}

// ClaimReward atomically pays out a beneficiary's accrued-minus-claimed
// delta. It fails with ErrNothingToClaim when the delta is zero or negative.
func (s *RewardService) ClaimReward(ctx context.Context, agentID, address string, claimType domain.RewardType) (domain.ClaimResult, error) {
	if !claimType.Valid() {
		return domain.ClaimResult{}, fmt.Errorf("%w: unknown claim type %q", domain.ErrInvalidTrade, claimType)
	}
	normalized, err := domain.NormalizeAddress(address)
	if err != nil {
		return domain.ClaimResult{}, err
	}

	result, err := s.ledger.ClaimReward(ctx, agentID, normalized, claimType)
	if err != nil {
		return domain.ClaimResult{}, err
	}

	s.logger.InfoContext(ctx, "reward claimed",
		slog.String("agent_id", agentID),
		slog.String("address", normalized),
		slog.String("claim_type", string(claimType)),
		slog.Float64("amount", result.ClaimedAmount),
	)

	if auditErr := s.audit.Log(ctx, "reward_claimed", map[string]any{
		"agent_id":   agentID,
		"address":    normalized,
		"claim_type": string(claimType),
		"amount":     result.ClaimedAmount,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("error", auditErr.Error()),
		)
	}

	return result, nil
}

// GetReward returns a beneficiary's accrued/claimed balance.
func (s *RewardService) GetReward(ctx context.Context, agentID, address string, claimType domain.RewardType) (domain.RewardBalance, error) {
	normalized, err := domain.NormalizeAddress(address)
	if err != nil {
		return domain.RewardBalance{}, err
	}
	bal, err := s.ledger.GetReward(ctx, agentID, normalized, claimType)
	if err != nil {
		return domain.RewardBalance{}, fmt.Errorf("reward_service: get reward %s/%s: %w", agentID, normalized, err)
	}
	return bal, nil
}
