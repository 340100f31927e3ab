package domain

import (
	"fmt"
	"time"
)

// Position is the engine's holding in one (asset, window).
type Position struct {
	Window        Window       `json:"window"`
	ConditionID   string       `json:"condition_id"`
	TokenID       string       `json:"token_id"`
	Side          Side         `json:"side"`
	Shares        float64      `json:"shares"`
	CostBasis     float64      `json:"cost_basis"`
	AvgEntry      float64      `json:"avg_entry"`
	MarkPrice     float64      `json:"mark_price"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
	EntryTime     time.Time    `json:"entry_time"`
	LastAccumAt   time.Time    `json:"last_accum_at"`
	Strategy      StrategyKind `json:"strategy"`
	Paper         bool         `json:"paper"`
	Buys          int          `json:"buys"`
}

// Asset returns the position's asset.
func (p *Position) Asset() string { return p.Window.Asset }

// NewPosition opens a position from its first buy.
func NewPosition(info WindowInfo, rec TradeRecord) *Position {
	p := &Position{
		Window:      info.Window,
		ConditionID: info.ConditionID,
		TokenID:     info.TokenFor(rec.Side),
		Side:        rec.Side,
		EntryTime:   rec.Timestamp,
		Strategy:    rec.Strategy,
		Paper:       rec.Paper,
	}
	p.add(rec)
	return p
}

// ApplyBuy adds a further buy to the position. Buys on the other side are
// refused so a position never flips.
func (p *Position) ApplyBuy(rec TradeRecord) error {
	if rec.Side != p.Side {
		return fmt.Errorf("%w: holding %s, got %s", ErrSideMismatch, p.Side, rec.Side)
	}
	p.add(rec)
	return nil
}

func (p *Position) add(rec TradeRecord) {
	p.Shares += rec.Shares
	p.CostBasis += rec.Amount
	if p.Shares > 0 {
		p.AvgEntry = p.CostBasis / p.Shares
	}
	p.LastAccumAt = rec.Timestamp
	p.Buys++
	p.Mark(rec.Price)
}

// ApplySell removes sold shares with their share of the cost basis and
// reports whether the position is now closed.
func (p *Position) ApplySell(rec TradeRecord) bool {
	if rec.Shares >= p.Shares-1e-9 {
		p.Shares, p.CostBasis, p.UnrealizedPnL = 0, 0, 0
		return true
	}
	if rec.Shares > 0 {
		p.CostBasis -= p.CostBasis * rec.Shares / p.Shares
		p.Shares -= rec.Shares
	}
	p.Mark(rec.Price)
	return false
}

// Mark revalues the position at price.
func (p *Position) Mark(price float64) {
	if price <= 0 {
		return
	}
	p.MarkPrice = price
	p.UnrealizedPnL = p.Shares*price - p.CostBasis
}

// Payout is what the position pays if outcome is final.
func (p *Position) Payout(outcome Outcome) float64 {
	if w, ok := outcome.Winner(); ok && w == p.Side {
		return p.Shares
	}
	return 0
}
