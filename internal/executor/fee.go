package executor

import "github.com/shopspring/decimal"

var (
	feeCoefficient = decimal.NewFromFloat(0.25)
	one            = decimal.NewFromInt(1)
)

// feeRate is the fee per share at price: 0.25 × (p(1−p))².
func feeRate(price decimal.Decimal) decimal.Decimal {
	pq := price.Mul(one.Sub(price))
	return feeCoefficient.Mul(pq).Mul(pq)
}

// Fee is the venue taker fee for shares at price. It peaks at 0.5 and
// vanishes at the extremes.
func Fee(shares, price float64) float64 {
	f, _ := decimal.NewFromFloat(shares).Mul(feeRate(decimal.NewFromFloat(price))).Round(6).Float64()
	return f
}

// SharesForAmount returns how many shares amount buys at price once the fee
// is included, rounded down to four decimals, and the all-in cost.
func SharesForAmount(amount, price float64) (shares, cost float64) {
	p := decimal.NewFromFloat(price)
	a := decimal.NewFromFloat(amount)
	if !p.IsPositive() || !a.IsPositive() {
		return 0, 0
	}
	perShare := p.Add(feeRate(p))
	s := a.Div(perShare).RoundDown(4)
	c := s.Mul(perShare).Round(6)
	shares, _ = s.Float64()
	cost, _ = c.Float64()
	return shares, cost
}

// Proceeds is the cash received for selling shares at price after the fee.
func Proceeds(shares, price float64) float64 {
	s := decimal.NewFromFloat(shares)
	p := decimal.NewFromFloat(price)
	v, _ := s.Mul(p).Sub(s.Mul(feeRate(p))).Round(6).Float64()
	return v
}

// round6 rounds a dollar value to six decimals.
func round6(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(6).Float64()
	return f
}
