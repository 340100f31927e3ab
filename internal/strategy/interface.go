// Package strategy holds the per-asset directional evaluators. Evaluators
// are pure: they read settings, the market and the current position and
// return a Decision without side effects.
package strategy

import (
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Inputs are the reference-feed readings an evaluator may use.
type Inputs struct {
	Now time.Time
	// Reference is the latest underlying price; zero when unknown.
	Reference float64
	// Open is the underlying price at the window open; zero when unknown.
	Open float64
	// Momentum is the % change over the configured lookback.
	Momentum float64
	// FeedAge is the time since the reference feed last ticked.
	FeedAge time.Duration
}

// Evaluator decides what to do with one asset on one tick.
type Evaluator interface {
	Kind() domain.StrategyKind
	Evaluate(s domain.Settings, m domain.MarketState, pos *domain.Position, in Inputs) domain.Decision
}
