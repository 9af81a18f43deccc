package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/promptfun/launchpad/internal/domain"
)

// RewardService defines the methods that the reward handler requires.
type RewardService interface {
	ClaimReward(ctx context.Context, agentID, address string, claimType domain.RewardType) (domain.ClaimResult, error)
	GetReward(ctx context.Context, agentID, address string, claimType domain.RewardType) (domain.RewardBalance, error)
}

// RewardHandler serves reward claim and balance endpoints.
type RewardHandler struct {
	rewards RewardService
	logger  *slog.Logger
}

// NewRewardHandler creates a RewardHandler with the given service and logger.
func NewRewardHandler(rewards RewardService, logger *slog.Logger) *RewardHandler {
	return &RewardHandler{
		rewards: rewards,
		logger:  logger,
	}
}

type claimRewardRequest struct {
	AgentID   string `json:"agent_id"`
	Address   string `json:"address"`
	ClaimType string `json:"claim_type"`
}

// ClaimReward atomically pays out the caller's claimable reward delta.
// POST /api/rewards/claim
func (h *RewardHandler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	var req claimRewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentID == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "agent_id and address are required")
		return
	}

	result, err := h.rewards.ClaimReward(r.Context(), req.AgentID, req.Address, domain.RewardType(req.ClaimType))
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: claim reward failed",
			slog.String("agent_id", req.AgentID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to claim reward")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetReward returns a beneficiary's accrued/claimed balance.
// GET /api/rewards?agent=...&address=0x...&type=creator
func (h *RewardHandler) GetReward(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agentID := q.Get("agent")
	address := q.Get("address")
	if agentID == "" || address == "" {
		writeError(w, http.StatusBadRequest, "agent and address query parameters required")
		return
	}

	bal, err := h.rewards.GetReward(r.Context(), agentID, address, domain.RewardType(q.Get("type")))
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get reward failed",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get reward")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":    bal.AgentID,
		"address":     bal.Address,
		"reward_type": bal.RewardType,
		"accrued":     bal.Accrued,
		"claimed":     bal.Claimed,
		"claimable":   bal.Accrued - bal.Claimed,
	})
}
