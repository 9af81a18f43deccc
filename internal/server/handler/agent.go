package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/promptfun/launchpad/internal/domain"
	"github.com/promptfun/launchpad/internal/service"
)

// AgentService defines the methods that the agent handler requires.
type AgentService interface {
	CreateAgent(ctx context.Context, req service.CreateAgentRequest) (domain.AgentCurveState, error)
	GetAgent(ctx context.Context, agentID string) (domain.AgentCurveState, error)
}

// AgentHandler serves agent registration and state endpoints.
type AgentHandler struct {
	agents AgentService
	logger *slog.Logger
}

// NewAgentHandler creates an AgentHandler with the given service and logger.
func NewAgentHandler(agents AgentService, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{
		agents: agents,
		logger: logger,
	}
}

type agentResponse struct {
	AgentID        string  `json:"agent_id"`
	CreatorAddress string  `json:"creator_address"`
	P0             float64 `json:"p0"`
	P1             float64 `json:"p1"`
	SharesSold     float64 `json:"shares_sold"`
	PromptRaised   float64 `json:"prompt_raised"`
	LastPrice      float64 `json:"last_price"`
	Phase          string  `json:"phase"`
}

func toAgentResponse(a domain.AgentCurveState) agentResponse {
	return agentResponse{
		AgentID:        a.AgentID,
		CreatorAddress: a.CreatorAddress,
		P0:             a.P0,
		P1:             a.P1,
		SharesSold:     a.SharesSold,
		PromptRaised:   a.PromptRaised,
		LastPrice:      a.LastPrice,
		Phase:          string(a.Phase),
	}
}

type createAgentRequest struct {
	AgentID        string  `json:"agent_id"`
	CreatorAddress string  `json:"creator_address"`
	P0             float64 `json:"p0"`
	P1             float64 `json:"p1"`
}

// CreateAgent registers a new tradable agent.
// POST /api/agents
func (h *AgentHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CreatorAddress == "" {
		writeError(w, http.StatusBadRequest, "creator_address is required")
		return
	}

	agent, err := h.agents.CreateAgent(r.Context(), service.CreateAgentRequest{
		AgentID:        req.AgentID,
		CreatorAddress: req.CreatorAddress,
		P0:             req.P0,
		P1:             req.P1,
	})
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create agent failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create agent")
		return
	}

	writeJSON(w, http.StatusCreated, toAgentResponse(agent))
}

// GetAgent returns an agent's current curve state.
// GET /api/agents/{id}
func (h *AgentHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent id is required")
		return
	}

	agent, err := h.agents.GetAgent(r.Context(), agentID)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get agent failed",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get agent")
		return
	}

	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}
