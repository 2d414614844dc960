package rules

import (
	"math"

	"github.com/mohamedkhairy/price-alerts/internal/models"
)

// Evaluate reports whether a condition is satisfied by the current price.
// basePrice is only read by percentage conditions; a non-positive base makes
// them unsatisfiable. Non-finite prices never satisfy anything.
//
// Crosses uses exact equality with the target. Quotes carrying float noise
// will not match; callers wanting a band should use Above/Below pairs.
func Evaluate(cond models.Condition, currentPrice, basePrice float64) bool {
	if !isFinite(currentPrice) {
		return false
	}

	switch c := cond.(type) {
	case models.Above:
		return currentPrice >= c.Target
	case models.Below:
		return currentPrice <= c.Target
	case models.Crosses:
		return currentPrice == c.Target
	case models.ChangeAbove:
		change, ok := ChangePercent(currentPrice, basePrice)
		return ok && change >= c.Percent
	case models.ChangeBelow:
		change, ok := ChangePercent(currentPrice, basePrice)
		return ok && change <= -c.Percent
	default:
		return false
	}
}

// ChangePercent returns (price - base) / base * 100.
// ok is false when base is not a positive finite number.
func ChangePercent(price, base float64) (float64, bool) {
	if !isFinite(base) || base <= 0 || !isFinite(price) {
		return 0, false
	}
	return (price - base) / base * 100, true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
