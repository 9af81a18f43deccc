package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/promptfun/launchpad/internal/domain"
)

// TradeService defines the methods that the trade handler requires.
type TradeService interface {
	ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error)
	ListByAgent(ctx context.Context, agentID string, opts domain.ListOpts) ([]domain.TradeRecord, error)
	ListByHolder(ctx context.Context, holder string, opts domain.ListOpts) ([]domain.TradeRecord, error)
}

// TradeHandler serves trade execution and history endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logger,
	}
}

type executeTradeRequest struct {
	AgentID       string  `json:"agent_id"`
	HolderAddress string  `json:"holder_address"`
	Side          string  `json:"side"`
	Amount        float64 `json:"amount"`
}

// ExecuteTrade runs a buy or sell against an agent's curve. The optional
// Idempotency-Key header guards against double-applied retries.
// POST /api/trades
func (h *TradeHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req executeTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.trades.ExecuteTrade(r.Context(), domain.TradeRequest{
		AgentID:        req.AgentID,
		HolderAddress:  req.HolderAddress,
		Side:           domain.TradeSide(req.Side),
		Amount:         req.Amount,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		var consistency *domain.ConsistencyError
		if errors.As(err, &consistency) {
			// Already escalated by the orchestrator; the caller only needs
			// to know the outcome is unsafe to retry.
			writeError(w, http.StatusInternalServerError, "trade partially applied, do not retry")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: execute trade failed",
			slog.String("agent_id", req.AgentID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to execute trade")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type listTradesResponse struct {
	Trades []domain.TradeRecord `json:"trades"`
}

// ListTrades returns trade history for an agent or a holder.
// GET /api/trades?agent=... | GET /api/trades?holder=0x...
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)

	var (
		trades []domain.TradeRecord
		err    error
	)
	switch {
	case q.Get("agent") != "":
		trades, err = h.trades.ListByAgent(r.Context(), q.Get("agent"), opts)
	case q.Get("holder") != "":
		trades, err = h.trades.ListByHolder(r.Context(), q.Get("holder"), opts)
	default:
		writeError(w, http.StatusBadRequest, "agent or holder query parameter required")
		return
	}
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}
