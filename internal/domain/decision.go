package domain

// StrategyKind tags which strategy produced a position or trade.
type StrategyKind string

const (
	StrategyAccumulation StrategyKind = "accumulation"
	StrategyValue        StrategyKind = "value"
	StrategyScalp        StrategyKind = "scalp"
	StrategyArbitrage    StrategyKind = "arbitrage"
)

// DecisionAction is what an evaluator proposes.
type DecisionAction string

const (
	DecisionBuy  DecisionAction = "buy"
	DecisionSell DecisionAction = "sell"
	DecisionHold DecisionAction = "hold"
	DecisionWait DecisionAction = "wait"
)

// ReasonCode names why a hold or wait was chosen. Unlike Reason it carries no
// live numbers, so repeated decisions compare equal across ticks.
type ReasonCode string

const (
	ReasonTooLate          ReasonCode = "too_late"
	ReasonTooEarly         ReasonCode = "too_early"
	ReasonStaleQuote       ReasonCode = "stale_quote"
	ReasonStaleFeed        ReasonCode = "stale_feed"
	ReasonNoReference      ReasonCode = "no_reference"
	ReasonNoEdge           ReasonCode = "no_edge"
	ReasonGapTooWide       ReasonCode = "gap_too_wide"
	ReasonOutsideBand      ReasonCode = "outside_band"
	ReasonAccumInterval    ReasonCode = "accum_interval"
	ReasonHolding          ReasonCode = "holding"
	ReasonHoldToResolution ReasonCode = "hold_to_resolution"
	ReasonBreaker          ReasonCode = "breaker"
	ReasonMaxPositions     ReasonCode = "max_positions"
	ReasonSideLocked       ReasonCode = "side_locked"
	ReasonWindowCap        ReasonCode = "window_cap"
	ReasonNoStrategy       ReasonCode = "no_strategy"
)

// Decision is the output of a strategy evaluator. Amount is an optional
// dollar override for buys; zero means the configured buy amount. Reason is
// display text; Code, when set, is its stable form.
type Decision struct {
	Action DecisionAction `json:"action"`
	Side   Side           `json:"side,omitempty"`
	Price  float64        `json:"price,omitempty"`
	Amount float64        `json:"amount,omitempty"`
	Code   ReasonCode     `json:"code,omitempty"`
	Reason string         `json:"reason"`
}

// Because tags d with a reason code.
func (d Decision) Because(code ReasonCode) Decision {
	d.Code = code
	return d
}

// LogKey identifies repeats of the same decision: the action plus the code,
// or the reason text when no code is set.
func (d Decision) LogKey() string {
	if d.Code != "" {
		return string(d.Action) + ":" + string(d.Code)
	}
	return string(d.Action) + ":" + d.Reason
}

// Wait builds a wait decision.
func Wait(reason string) Decision { return Decision{Action: DecisionWait, Reason: reason} }

// Hold builds a hold decision.
func Hold(reason string) Decision { return Decision{Action: DecisionHold, Reason: reason} }

// Buy builds a buy decision.
func Buy(side Side, price float64, reason string) Decision {
	return Decision{Action: DecisionBuy, Side: side, Price: price, Reason: reason}
}

// Sell builds a sell decision.
func Sell(side Side, price float64, reason string) Decision {
	return Decision{Action: DecisionSell, Side: side, Price: price, Reason: reason}
}
