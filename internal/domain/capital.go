package domain

import "math"

// CapitalState is derived on demand from open positions and the arbitrage
// pool. It is never persisted.
type CapitalState struct {
	Bankroll       float64 `json:"bankroll"`
	PositionCost   float64 `json:"position_cost"`
	ArbAtRisk      float64 `json:"arb_at_risk"`
	Deployed       float64 `json:"deployed"`
	MaxExposure    float64 `json:"max_exposure"`
	Available      float64 `json:"available"`
	ArbPool        float64 `json:"arb_pool"`
	ArbPoolCeiling float64 `json:"arb_pool_ceiling"`
}

// NewCapitalState computes deployed and available capital.
func NewCapitalState(bankroll, positionCost, arbAtRisk, maxExposure float64) CapitalState {
	deployed := positionCost + arbAtRisk
	return CapitalState{
		Bankroll:     bankroll,
		PositionCost: positionCost,
		ArbAtRisk:    arbAtRisk,
		Deployed:     deployed,
		MaxExposure:  maxExposure,
		Available:    math.Max(0, maxExposure-deployed),
	}
}
