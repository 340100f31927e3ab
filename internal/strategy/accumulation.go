package strategy

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Accumulation buys the leading side and keeps adding a fixed amount at a
// fixed interval while the held side stays inside the accumulation band.
// Positions are held to resolution.
type Accumulation struct{}

// Kind implements Evaluator.
func (Accumulation) Kind() domain.StrategyKind { return domain.StrategyAccumulation }

// Evaluate implements Evaluator.
func (Accumulation) Evaluate(s domain.Settings, m domain.MarketState, pos *domain.Position, in Inputs) domain.Decision {
	if d, ok := quoteFresh(s, m, in.Now); !ok {
		return holdIfOpen(d, pos)
	}

	if pos == nil {
		if d, ok := entryGate(s, m); !ok {
			return d
		}
		side := m.LeadingSide()
		price := m.PriceOf(side)
		if !inBand(price, s.AccumMinPrice, s.AccumMaxPrice) {
			return domain.Wait(fmt.Sprintf("leading %s at %.3f outside accumulation band", side, price)).Because(domain.ReasonOutsideBand)
		}
		d := domain.Buy(side, price, fmt.Sprintf("open accumulation on %s at %.3f", side, price))
		d.Amount = s.AccumAmount
		return d
	}

	if d, ok := exitRule(s, m, pos, 0, 0); ok {
		return d
	}
	if d, ok := entryGate(s, m); !ok {
		d.Action = domain.DecisionHold
		return d
	}
	interval := time.Duration(s.AccumIntervalSeconds * float64(time.Second))
	if since := in.Now.Sub(pos.LastAccumAt); since < interval {
		return domain.Hold(fmt.Sprintf("next accumulation in %s", (interval - since).Round(time.Second))).Because(domain.ReasonAccumInterval)
	}
	price := m.PriceOf(pos.Side)
	if !inBand(price, s.AccumMinPrice, s.AccumMaxPrice) {
		return domain.Hold(fmt.Sprintf("held %s at %.3f outside accumulation band", pos.Side, price)).Because(domain.ReasonOutsideBand)
	}
	d := domain.Buy(pos.Side, price, fmt.Sprintf("accumulate %s at %.3f", pos.Side, price))
	d.Amount = s.AccumAmount
	return d
}
