// internal/execution/slippage.go
package execution

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MinAmountOut applies a percent slippage tolerance to an expected output.
// A tolerance of 1 means at least 99% of expected must be received.
func MinAmountOut(expected, slippagePercent decimal.Decimal) decimal.Decimal {
	if !expected.IsPositive() {
		return decimal.Zero
	}
	if slippagePercent.IsNegative() {
		slippagePercent = decimal.Zero
	}
	if slippagePercent.GreaterThanOrEqual(hundred) {
		return decimal.Zero
	}
	multiplier := decimal.NewFromInt(1).Sub(slippagePercent.Div(hundred))
	return expected.Mul(multiplier)
}

// PriceImpactPercent is the shortfall of actual against expected, in percent.
func PriceImpactPercent(expected, actual decimal.Decimal) decimal.Decimal {
	if !expected.IsPositive() {
		return decimal.Zero
	}
	return expected.Sub(actual).Div(expected).Mul(hundred)
}
