package metrics

import (
	"math"

	"github.com/shopspring/decimal"
)

// Round rounds v half away from zero to the given number of decimal places.
// Non-finite values become 0.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// Round2 rounds a monetary value to cents.
func Round2(v float64) float64 {
	return Round(v, 2)
}

// Sub2 subtracts two values after rounding each to cents, so the result equals
// the difference of the externalized operands exactly.
func Sub2(a, b float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) || math.IsNaN(b) || math.IsInf(b, 0) {
		return 0
	}
	da := decimal.NewFromFloat(a).Round(2)
	db := decimal.NewFromFloat(b).Round(2)
	return da.Sub(db).InexactFloat64()
}

// fixed2 formats v with exactly two decimals, never producing "-0.00".
func fixed2(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0.00"
	}
	return decimal.NewFromFloat(v).StringFixed(2)
}
