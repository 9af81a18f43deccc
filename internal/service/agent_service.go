package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/promptfun/launchpad/internal/curve"
	"github.com/promptfun/launchpad/internal/domain"
)

// CreateAgentRequest registers a new tradable agent. P0 and P1 are optional;
// zero values fall back to the deployment defaults.
type CreateAgentRequest struct {
	AgentID        string
	CreatorAddress string
	P0             float64
	P1             float64
}

// AgentService handles agent registration and state reads for the
// surrounding application.
type AgentService struct {
	ledger domain.LedgerStore
	logger *slog.Logger

	tradeableCap float64
	defaultP0    float64
	defaultP1    float64
}

// NewAgentService creates an AgentService with the deployment-wide curve
// defaults.
func NewAgentService(ledger domain.LedgerStore, tradeableCap, defaultP0, defaultP1 float64, logger *slog.Logger) *AgentService {
	return &AgentService{
		ledger:       ledger,
		logger:       logger.With(slog.String("component", "agent_service")),
		tradeableCap: tradeableCap,
		defaultP0:    defaultP0,
		defaultP1:    defaultP1,
	}
}

// CreateAgent validates and registers a new agent in the Active phase at the
// curve's starting price.
func (s *AgentService) CreateAgent(ctx context.Context, req CreateAgentRequest) (domain.AgentCurveState, error) {
	creator, err := domain.NormalizeAddress(req.CreatorAddress)
	if err != nil {
		return domain.AgentCurveState{}, err
	}

	p0, p1 := req.P0, req.P1
	if p0 == 0 {
		p0 = s.defaultP0
	}
	if p1 == 0 {
		p1 = s.defaultP1
	}
	params := curve.Params{P0: p0, P1: p1, Cap: s.tradeableCap}
	if err := params.Validate(); err != nil {
		return domain.AgentCurveState{}, fmt.Errorf("%w: %v", domain.ErrInvalidTrade, err)
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = uuid.NewString()
	}

	agent := domain.AgentCurveState{
		AgentID:        agentID,
		CreatorAddress: creator,
		P0:             p0,
		P1:             p1,
	}
	if err := s.ledger.CreateAgent(ctx, agent); err != nil {
		return domain.AgentCurveState{}, fmt.Errorf("agent_service: create agent %q: %w", agentID, err)
	}

	s.logger.InfoContext(ctx, "agent created",
		slog.String("agent_id", agentID),
		slog.Float64("p0", p0),
		slog.Float64("p1", p1),
	)

	return s.ledger.GetAgent(ctx, agentID)
}

// GetAgent returns the current curve state of one agent, consumed by the
// display layer.
func (s *AgentService) GetAgent(ctx context.Context, agentID string) (domain.AgentCurveState, error) {
	agent, err := s.ledger.GetAgent(ctx, agentID)
	if err != nil {
		return domain.AgentCurveState{}, fmt.Errorf("agent_service: get agent %q: %w", agentID, err)
	}
	return agent, nil
}
