// Package terms derives loan terms: the monthly installment, the loan dates
// and the loan identifier, and binds approved terms into loan records.
package terms

import "github.com/shopspring/decimal"

var (
	monthsPerYear = decimal.NewFromInt(12)
	hundred       = decimal.NewFromInt(100)
)

// MonthlyInstallment returns the fixed monthly payment for a principal repaid
// over tenure months at a simple (non-compounding) annual rate in percent:
//
//	total   = P + P * r * (n / 12) / 100
//	monthly = total / n, truncated toward zero
//
// The sum is kept as one exact fraction so truncation never sees a binary
// rounding artefact. A non-positive tenure yields 0.
func MonthlyInstallment(principal int64, tenure int, annualRate float64) int64 {
	if tenure <= 0 {
		return 0
	}

	p := decimal.NewFromInt(principal)
	n := decimal.NewFromInt(int64(tenure))
	r := decimal.NewFromFloat(annualRate)

	// (1200*P + P*r*n) / (1200*n)
	scale := monthsPerYear.Mul(hundred)
	numerator := p.Mul(scale).Add(p.Mul(r).Mul(n))
	denominator := scale.Mul(n)

	quotient, _ := numerator.QuoRem(denominator, 0)
	return quotient.IntPart()
}
