package domain

import (
	"math"
	"time"
)

// WindowInfo is what the venue returns when a window is discovered.
type WindowInfo struct {
	Window
	ConditionID     string `json:"condition_id"`
	Slug            string `json:"slug"`
	Question        string `json:"question"`
	UpTokenID       string `json:"up_token_id"`
	DownTokenID     string `json:"down_token_id"`
	Active          bool   `json:"active"`
	Closed          bool   `json:"closed"`
	AcceptingOrders bool   `json:"accepting_orders"`
}

// Open reports whether the remote record is open and unexpired at now.
func (w WindowInfo) Open(now time.Time) bool {
	return w.Active && !w.Closed && !w.Expired(now)
}

// TokenFor returns the outcome token id for side.
func (w WindowInfo) TokenFor(s Side) string {
	if s == SideUp {
		return w.UpTokenID
	}
	return w.DownTokenID
}

// Quote is a best-price snapshot for both outcomes of a window.
type Quote struct {
	Up   float64   `json:"up"`
	Down float64   `json:"down"`
	At   time.Time `json:"at"`
}

// Valid reports whether both prices are finite probabilities.
func (q Quote) Valid() bool {
	return validPrice(q.Up) && validPrice(q.Down)
}

func validPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0 && p < 1
}

// MarketState is the scanner's view of the single active window of an asset.
type MarketState struct {
	Info             WindowInfo `json:"info"`
	UpPrice          float64    `json:"up_price"`
	DownPrice        float64    `json:"down_price"`
	QuotedAt         time.Time  `json:"quoted_at"`
	SecondsRemaining float64    `json:"seconds_remaining"`
}

// Asset is a shortcut for Info.Asset.
func (m MarketState) Asset() string { return m.Info.Asset }

// CombinedCost is yes + no.
func (m MarketState) CombinedCost() float64 { return m.UpPrice + m.DownPrice }

// PriceOf returns the quote for side.
func (m MarketState) PriceOf(s Side) float64 {
	if s == SideUp {
		return m.UpPrice
	}
	return m.DownPrice
}

// LeadingSide is whichever outcome currently quotes higher. Ties go to up.
func (m MarketState) LeadingSide() Side {
	if m.DownPrice > m.UpPrice {
		return SideDown
	}
	return SideUp
}

// Remaining recomputes the seconds left in the window at now.
func (m MarketState) Remaining(now time.Time) float64 {
	r := m.Info.End().Sub(now).Seconds()
	if r < 0 {
		return 0
	}
	return r
}

// WithRemaining returns a copy whose SecondsRemaining is fresh as of now.
func (m MarketState) WithRemaining(now time.Time) MarketState {
	m.SecondsRemaining = m.Remaining(now)
	return m
}
