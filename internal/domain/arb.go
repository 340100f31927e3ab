package domain

import (
	"math"
	"time"
)

// LadderLevel is one rung of the arbitrage ladder: a limit price and the
// fraction of a side's budget spent at it.
type LadderLevel struct {
	Price      float64 `json:"price" toml:"price"`
	Allocation float64 `json:"allocation" toml:"allocation"`
}

// LadderOrderStatus is the lifecycle of one ladder order.
type LadderOrderStatus string

const (
	LadderPending   LadderOrderStatus = "pending"
	LadderPlaced    LadderOrderStatus = "placed"
	LadderPartial   LadderOrderStatus = "partial"
	LadderFilled    LadderOrderStatus = "filled"
	LadderCancelled LadderOrderStatus = "cancelled"
)

// Terminal reports whether no further fills can arrive.
func (s LadderOrderStatus) Terminal() bool {
	return s == LadderFilled || s == LadderCancelled
}

// LadderOrder is one limit buy at a price level.
type LadderOrder struct {
	Price      float64           `json:"price"`
	TargetSize float64           `json:"target_size"`
	FilledSize float64           `json:"filled_size"`
	OrderID    string            `json:"order_id"`
	Status     LadderOrderStatus `json:"status"`
}

// SideFills aggregates the ladder orders of one outcome.
type SideFills struct {
	Side        Side          `json:"side"`
	TokenID     string        `json:"token_id"`
	Orders      []LadderOrder `json:"orders"`
	TotalShares float64       `json:"total_shares"`
	TotalCost   float64       `json:"total_cost"`
	AvgPrice    float64       `json:"avg_price"`
}

// Recompute refreshes the side aggregates from its orders.
func (f *SideFills) Recompute() {
	f.TotalShares, f.TotalCost, f.AvgPrice = 0, 0, 0
	for _, o := range f.Orders {
		f.TotalShares += o.FilledSize
		f.TotalCost += o.FilledSize * o.Price
	}
	if f.TotalShares > 0 {
		f.AvgPrice = f.TotalCost / f.TotalShares
	}
}

// ArbStatus is the per-window state of the ladder engine.
type ArbStatus string

const (
	ArbActive     ArbStatus = "active"
	ArbCancelling ArbStatus = "cancelling"
	ArbResolved   ArbStatus = "resolved"
)

// ArbWindowState tracks one arbitrage window.
type ArbWindowState struct {
	WindowID      string     `json:"window_id"`
	Info          WindowInfo `json:"info"`
	Up            SideFills  `json:"up"`
	Down          SideFills  `json:"down"`
	CombinedCost  float64    `json:"combined_cost"`
	GuaranteedPnL float64    `json:"guaranteed_pnl"`
	Status        ArbStatus  `json:"status"`
	Reserved      float64    `json:"reserved"`
	Paper         bool       `json:"paper"`
	Outcome       Outcome    `json:"outcome"`
	OpenedAt      time.Time  `json:"opened_at"`
}

// Side returns the fills for s.
func (a *ArbWindowState) Side(s Side) *SideFills {
	if s == SideUp {
		return &a.Up
	}
	return &a.Down
}

// Recompute refreshes both sides, the combined cost and the guaranteed P&L.
func (a *ArbWindowState) Recompute() {
	a.Up.Recompute()
	a.Down.Recompute()
	a.CombinedCost = a.Up.AvgPrice + a.Down.AvgPrice
	if a.Up.TotalShares > 0 && a.Down.TotalShares > 0 {
		a.GuaranteedPnL = math.Min(a.Up.TotalShares, a.Down.TotalShares) * (1 - a.CombinedCost)
	} else {
		a.GuaranteedPnL = 0
	}
}

// FilledCost is the capital actually spent on fills.
func (a *ArbWindowState) FilledCost() float64 { return a.Up.TotalCost + a.Down.TotalCost }

// HasFills reports whether any order filled at all.
func (a *ArbWindowState) HasFills() bool {
	return a.Up.TotalShares > 0 || a.Down.TotalShares > 0
}

// ArbStats accumulates ladder results across the run.
type ArbStats struct {
	WindowsPlayed int     `json:"windows_played"`
	BothFilled    int     `json:"both_filled"`
	OneFilled     int     `json:"one_filled"`
	NeitherFilled int     `json:"neither_filled"`
	TotalPnL      float64 `json:"total_pnl"`
	AvgPnL        float64 `json:"avg_pnl"`
}
