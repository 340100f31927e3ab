package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrder is an order as returned by GET /data/order/{id}.
type APIOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
}

// ToDomainState converts the order into the status the engine polls for.
func (a *APIOrder) ToDomainState() domain.OrderState {
	return domain.OrderState{
		SizeFilled: parseFloat(a.SizeMatched),
		Status:     strings.ToLower(a.Status),
	}
}

// APIOrderResult is the response from POST /order.
type APIOrderResult struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg,omitempty"`
	OrderID      string `json:"orderID,omitempty"`
	Status       string `json:"status,omitempty"`
	MakingAmount string `json:"makingAmount,omitempty"`
	TakingAmount string `json:"takingAmount,omitempty"`
}

// ToDomainResult converts the placement response. For a buy the maker side
// is USDC and the taker side is shares; for a sell it is the reverse.
func (r *APIOrderResult) ToDomainResult(buy bool, req domain.OrderRequest) domain.OrderResult {
	res := domain.OrderResult{
		Success: r.Success,
		OrderID: r.OrderID,
		Error:   r.ErrorMsg,
	}
	making, taking := parseFloat(r.MakingAmount), parseFloat(r.TakingAmount)
	usdc, shares := making, taking
	if !buy {
		usdc, shares = taking, making
	}
	if shares > 0 && usdc > 0 {
		res.FilledSize = shares
		res.FilledPrice = usdc / shares
	} else if strings.EqualFold(r.Status, "matched") {
		res.FilledSize = req.Size
		res.FilledPrice = req.Price
	}
	return res
}

// midpointResponse is the body of GET /midpoint.
type midpointResponse struct {
	Mid string `json:"mid"`
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket is the subset of a Gamma market the engine reads.
type APIMarket struct {
	ID              string   `json:"id"`
	Question        string   `json:"question"`
	ConditionID     string   `json:"conditionId"`
	Slug            string   `json:"slug"`
	Active          flexBool `json:"active"`
	Closed          bool     `json:"closed"`
	AcceptingOrders bool     `json:"acceptingOrders"`
	Outcomes        string   `json:"outcomes"`      // JSON-encoded: "[\"Up\",\"Down\"]"
	OutcomePrices   string   `json:"outcomePrices"` // JSON-encoded: "[\"1\",\"0\"]"
	ClobTokenIDs    string   `json:"clobTokenIds"`  // JSON-encoded: "[\"123\",\"456\"]"
	UMAStatus       string   `json:"umaResolutionStatus"`
	EndDate         string   `json:"endDate"`
}

// outcomeIndex returns the index of the "Up" and "Down" outcomes. Markets
// that label them Yes/No map Yes to up.
func (m *APIMarket) outcomeIndex() (up, down int) {
	names := decodeStringList(m.Outcomes)
	up, down = 0, 1
	for i, n := range names {
		switch strings.ToLower(n) {
		case "up", "yes":
			up = i
		case "down", "no":
			down = i
		}
	}
	return up, down
}

// ToWindowInfo converts the market into the engine's window record.
func (m *APIMarket) ToWindowInfo(w domain.Window) domain.WindowInfo {
	info := domain.WindowInfo{
		Window:          w,
		ConditionID:     m.ConditionID,
		Slug:            m.Slug,
		Question:        m.Question,
		Active:          bool(m.Active),
		Closed:          m.Closed,
		AcceptingOrders: m.AcceptingOrders,
	}
	tokens := decodeStringList(m.ClobTokenIDs)
	up, down := m.outcomeIndex()
	if up < len(tokens) {
		info.UpTokenID = tokens[up]
	}
	if down < len(tokens) {
		info.DownTokenID = tokens[down]
	}
	return info
}

// SettledOutcome reads the official settlement. A closed market whose
// outcome prices are exactly 1/0 is settled.
func (m *APIMarket) SettledOutcome() domain.Outcome {
	if !m.Closed {
		return domain.OutcomePending
	}
	prices := decodeStringList(m.OutcomePrices)
	up, down := m.outcomeIndex()
	if up >= len(prices) || down >= len(prices) {
		return domain.OutcomePending
	}
	pu, pd := parseFloat(prices[up]), parseFloat(prices[down])
	switch {
	case pu == 1 && pd == 0:
		return domain.OutcomeUp
	case pd == 1 && pu == 0:
		return domain.OutcomeDown
	}
	return domain.OutcomePending
}

func decodeStringList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
