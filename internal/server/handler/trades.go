package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const (
	defaultTradeLimit = 100
	maxTradeLimit     = 1000
)

// TradeLister reads the ledger.
type TradeLister interface {
	ListTrades(ctx context.Context, f domain.TradeFilter) ([]domain.TradeRecord, error)
}

// TradesHandler serves ledger queries.
type TradesHandler struct {
	ledger TradeLister
	logger *slog.Logger
}

// NewTradesHandler creates a TradesHandler.
func NewTradesHandler(ledger TradeLister, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{ledger: ledger, logger: logger.With(slog.String("handler", "trades"))}
}

type listTradesResponse struct {
	Trades []domain.TradeRecord `json:"trades"`
}

// List returns ledger records, newest first.
// GET /api/trades?asset=btc&strategy=value&action=buy&paper=true&since=RFC3339&until=RFC3339&limit=100
func (h *TradesHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := parseTradeFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := h.ledger.ListTrades(r.Context(), f)
	if err != nil {
		h.logger.Error("list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}

func parseTradeFilter(r *http.Request) (domain.TradeFilter, error) {
	q := r.URL.Query()
	f := domain.TradeFilter{
		Asset:    q.Get("asset"),
		Strategy: domain.StrategyKind(q.Get("strategy")),
		Action:   domain.TradeAction(q.Get("action")),
		Limit:    defaultTradeLimit,
	}
	if v := q.Get("paper"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errBadParam("paper")
		}
		f.Paper = &b
	}
	for name, dst := range map[string]**time.Time{"since": &f.Since, "until": &f.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, errBadParam(name)
			}
			*dst = &t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, errBadParam("limit")
		}
		f.Limit = min(n, maxTradeLimit)
	}
	return f, nil
}

type errBadParam string

func (e errBadParam) Error() string { return "invalid " + string(e) + " parameter" }
