package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/promptfun/launchpad/internal/domain"
)

// QuoteService defines the methods that the quote handler requires.
type QuoteService interface {
	GetQuote(ctx context.Context, agentID string, side domain.TradeSide, amount float64) (domain.Quote, error)
}

// QuoteHandler serves read-only pricing previews.
type QuoteHandler struct {
	quotes QuoteService
	logger *slog.Logger
}

// NewQuoteHandler creates a QuoteHandler with the given service and logger.
func NewQuoteHandler(quotes QuoteService, logger *slog.Logger) *QuoteHandler {
	return &QuoteHandler{
		quotes: quotes,
		logger: logger,
	}
}

// GetQuote prices a prospective trade without mutating any state.
// GET /api/quote?agent=...&side=buy|sell&amount=...
func (h *QuoteHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	agentID := q.Get("agent")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent query parameter required")
		return
	}

	side := domain.TradeSide(q.Get("side"))
	if !side.Valid() {
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}

	amount, err := strconv.ParseFloat(q.Get("amount"), 64)
	if err != nil || amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive number")
		return
	}

	quote, err := h.quotes.GetQuote(r.Context(), agentID, side, amount)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get quote failed",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get quote")
		return
	}

	writeJSON(w, http.StatusOK, quote)
}
