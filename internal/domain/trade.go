package domain

import "time"

// TradeAction is what a ledger entry records.
type TradeAction string

const (
	ActionBuy        TradeAction = "buy"
	ActionSell       TradeAction = "sell"
	ActionResolution TradeAction = "resolution"
)

// TradeRecord is one append-only ledger entry. PnL stays nil until realized.
type TradeRecord struct {
	ID             int64        `json:"id"`
	Timestamp      time.Time    `json:"timestamp"`
	Asset          string       `json:"asset"`
	WindowStart    time.Time    `json:"window_start"`
	WindowEnd      time.Time    `json:"window_end"`
	Side           Side         `json:"side"`
	Action         TradeAction  `json:"action"`
	Price          float64      `json:"price"`
	Amount         float64      `json:"amount"`
	Shares         float64      `json:"shares"`
	PnL            *float64     `json:"pnl,omitempty"`
	Paper          bool         `json:"paper"`
	OrderID        string       `json:"order_id,omitempty"`
	Strategy       StrategyKind `json:"strategy"`
	Slippage       float64      `json:"slippage,omitempty"`
	Fee            float64      `json:"fee,omitempty"`
	ReferencePrice float64      `json:"reference_price,omitempty"`
}

// Window returns the record's window identity.
func (r TradeRecord) Window() Window { return Window{Asset: r.Asset, Start: r.WindowStart} }

// Realized returns the realized P&L and whether there is one.
func (r TradeRecord) Realized() (float64, bool) {
	if r.PnL == nil {
		return 0, false
	}
	return *r.PnL, true
}

// TradeFilter narrows ledger queries. Zero values mean "any".
type TradeFilter struct {
	Asset    string
	Strategy StrategyKind
	Action   TradeAction
	Paper    *bool
	Since    *time.Time
	Until    *time.Time
	Limit    int
}
