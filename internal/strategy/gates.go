package strategy

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// entryGate returns a wait decision when new exposure is not allowed at the
// current point of the window.
func entryGate(s domain.Settings, m domain.MarketState) (domain.Decision, bool) {
	switch {
	case m.SecondsRemaining < s.MinSecondsRemaining:
		return domain.Wait(fmt.Sprintf("too late to enter: %.0fs left", m.SecondsRemaining)).Because(domain.ReasonTooLate), false
	case m.SecondsRemaining > s.MaxSecondsRemaining:
		return domain.Wait(fmt.Sprintf("too early to enter: %.0fs left", m.SecondsRemaining)).Because(domain.ReasonTooEarly), false
	}
	return domain.Decision{}, true
}

// quoteFresh rejects market quotes older than the staleness limit.
func quoteFresh(s domain.Settings, m domain.MarketState, now time.Time) (domain.Decision, bool) {
	limit := time.Duration(s.QuoteStaleSeconds * float64(time.Second))
	if limit <= 0 || m.QuotedAt.IsZero() {
		return domain.Decision{}, true
	}
	if age := now.Sub(m.QuotedAt); age > limit {
		return domain.Wait(fmt.Sprintf("stale market quote: %s old", age.Round(time.Second))).Because(domain.ReasonStaleQuote), false
	}
	return domain.Decision{}, true
}

// exitRule applies the shared exit policy to an open position: hold to
// resolution inside the hold window when the held side is winning, else sell
// at the profit target or inside the pre-close exit window.
func exitRule(s domain.Settings, m domain.MarketState, pos *domain.Position, profitTarget, exitBeforeEnd float64) (domain.Decision, bool) {
	price := m.PriceOf(pos.Side)
	remaining := m.SecondsRemaining

	if s.HoldWindowSeconds > 0 && remaining <= s.HoldWindowSeconds && price >= s.HoldMinPrice {
		return domain.Hold(fmt.Sprintf("holding %s to resolution at %.3f", pos.Side, price)).Because(domain.ReasonHoldToResolution), true
	}
	if profitTarget > 0 && price-pos.AvgEntry >= profitTarget {
		return domain.Sell(pos.Side, price, fmt.Sprintf("profit target: %.3f -> %.3f", pos.AvgEntry, price)), true
	}
	if exitBeforeEnd > 0 && remaining <= exitBeforeEnd {
		return domain.Sell(pos.Side, price, fmt.Sprintf("pre-close exit: %.0fs left", remaining)), true
	}
	return domain.Decision{}, false
}

func inBand(price, lo, hi float64) bool {
	return price >= lo && price <= hi
}
