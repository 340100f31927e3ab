package strategy

import (
	"math"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// minTimeFraction keeps the volatility term away from zero in the last
// second of a window.
const minTimeFraction = 1.0 / domain.WindowSeconds

// FairUp is the model probability that the window closes up.
//
// The % move since the open, plus a momentum adjustment, is divided by the
// volatility expected over the remaining time (σ·sqrt(remaining/900)) and
// mapped through the standard normal CDF.
func FairUp(open, current, momentumPct, momentumWeight, volPct, remainingSec float64) float64 {
	if open <= 0 || current <= 0 || volPct <= 0 {
		return 0.5
	}
	move := (current-open)/open*100 + momentumWeight*momentumPct
	frac := math.Max(remainingSec/domain.WindowSeconds, minTimeFraction)
	return normCDF(move / (volPct * math.Sqrt(frac)))
}

func normCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}
