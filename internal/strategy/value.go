package strategy

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Value buys whichever side the fair-value model prices above the market by
// at least the minimum gap and may add to it while the edge persists.
type Value struct{}

// Kind implements Evaluator.
func (Value) Kind() domain.StrategyKind { return domain.StrategyValue }

// Evaluate implements Evaluator.
func (Value) Evaluate(s domain.Settings, m domain.MarketState, pos *domain.Position, in Inputs) domain.Decision {
	return evaluateEdge(s, m, pos, in, s.ValueProfitTarget, s.ValueExitBeforeEnd, true)
}

// Scalp enters on the same edge as Value but takes profit early and always
// exits before the close unless the hold rule applies. It never adds.
type Scalp struct{}

// Kind implements Evaluator.
func (Scalp) Kind() domain.StrategyKind { return domain.StrategyScalp }

// Evaluate implements Evaluator.
func (Scalp) Evaluate(s domain.Settings, m domain.MarketState, pos *domain.Position, in Inputs) domain.Decision {
	return evaluateEdge(s, m, pos, in, s.ScalpProfitTarget, s.ScalpExitBeforeEnd, false)
}

// Edge is the model view of one side.
type Edge struct {
	Side  domain.Side
	Fair  float64
	Price float64
	Gap   float64
}

// Edges returns the model edge on both sides.
func Edges(s domain.Settings, m domain.MarketState, in Inputs) (up, down Edge) {
	fairUp := FairUp(in.Open, in.Reference, in.Momentum, s.MomentumWeight, s.VolatilityPct, m.SecondsRemaining)
	up = Edge{Side: domain.SideUp, Fair: fairUp, Price: m.UpPrice, Gap: fairUp - m.UpPrice}
	down = Edge{Side: domain.SideDown, Fair: 1 - fairUp, Price: m.DownPrice, Gap: 1 - fairUp - m.DownPrice}
	return up, down
}

func evaluateEdge(s domain.Settings, m domain.MarketState, pos *domain.Position, in Inputs, profitTarget, exitBeforeEnd float64, canAdd bool) domain.Decision {
	if d, ok := quoteFresh(s, m, in.Now); !ok {
		return holdIfOpen(d, pos)
	}
	if pos != nil {
		if d, ok := exitRule(s, m, pos, profitTarget, exitBeforeEnd); ok {
			return d
		}
		if !canAdd {
			return domain.Hold(fmt.Sprintf("holding %s at %.3f", pos.Side, m.PriceOf(pos.Side))).Because(domain.ReasonHolding)
		}
	}

	if d, ok := entryGate(s, m); !ok {
		return holdIfOpen(d, pos)
	}
	if in.Open <= 0 || in.Reference <= 0 {
		return holdIfOpen(domain.Wait("no reference price for window open").Because(domain.ReasonNoReference), pos)
	}
	stale := time.Duration(s.QuoteStaleSeconds * float64(time.Second))
	if stale > 0 && in.FeedAge > stale {
		return holdIfOpen(domain.Wait(fmt.Sprintf("stale reference feed: %s old", in.FeedAge.Round(time.Second))).Because(domain.ReasonStaleFeed), pos)
	}

	up, down := Edges(s, m, in)
	best := up
	if down.Gap > up.Gap {
		best = down
	}
	if pos != nil {
		// Only ever add to the held side.
		best = up
		if pos.Side == domain.SideDown {
			best = down
		}
	}

	switch {
	case best.Gap > s.MaxGap:
		return holdIfOpen(domain.Wait(fmt.Sprintf("gap %.3f on %s exceeds %.3f, treating as stale", best.Gap, best.Side, s.MaxGap)).Because(domain.ReasonGapTooWide), pos)
	case best.Gap < s.MinGap:
		return holdIfOpen(domain.Wait(fmt.Sprintf("no edge: %s fair %.3f vs %.3f", best.Side, best.Fair, best.Price)).Because(domain.ReasonNoEdge), pos)
	case !inBand(best.Price, s.MinEntryPrice, s.MaxEntryPrice):
		return holdIfOpen(domain.Wait(fmt.Sprintf("%s price %.3f outside entry band", best.Side, best.Price)).Because(domain.ReasonOutsideBand), pos)
	}
	return domain.Buy(best.Side, best.Price,
		fmt.Sprintf("%s fair %.3f vs %.3f (gap %.3f)", best.Side, best.Fair, best.Price, best.Gap))
}

// holdIfOpen turns a wait into a hold when a position is open.
func holdIfOpen(d domain.Decision, pos *domain.Position) domain.Decision {
	if pos != nil && d.Action == domain.DecisionWait {
		d.Action = domain.DecisionHold
	}
	return d
}
