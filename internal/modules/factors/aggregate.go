package factors

import (
	"github.com/shopspring/decimal"
)

// Contribution is one included position in a weighted beta
type Contribution struct {
	SignedValue decimal.Decimal
	Beta        float64
}

// WeightedBeta returns Σ(signed × beta) / Σ(signed), weighting by signed exposure
// rather than by absolute value or equally. ok is false when the denominator is zero;
// the beta is then reported as 0. The numerator is the portfolio dollar exposure.
func WeightedBeta(contribs []Contribution) (beta, dollarExposure float64, ok bool) {
	num := decimal.Zero
	den := decimal.Zero
	for _, c := range contribs {
		num = num.Add(c.SignedValue.Mul(decimal.NewFromFloat(c.Beta)))
		den = den.Add(c.SignedValue)
	}
	dollarExposure = num.InexactFloat64()
	if den.IsZero() {
		return 0, dollarExposure, false
	}
	return num.Div(den).InexactFloat64(), dollarExposure, true
}
