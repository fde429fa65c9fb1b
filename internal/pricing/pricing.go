// Package pricing computes final unit prices from base prices and
// percentage discounts. Stored state keeps full precision; rounding is a
// presentation concern only.
package pricing

import (
	"fmt"
	"math"

	"github.com/meridian-dms/meridian-dms/internal/shared"
)

// Resolve applies a percentage discount to a base price. A discount outside
// [0,100] is a validation error, never clamped.
func Resolve(basePrice, discountPct float64) (float64, error) {
	if basePrice < 0 {
		return 0, fmt.Errorf("%w: base price must not be negative", shared.ErrValidation)
	}
	if discountPct < 0 || discountPct > 100 {
		return 0, fmt.Errorf("%w: discount must be between 0 and 100", shared.ErrValidation)
	}
	return basePrice * (1 - discountPct/100), nil
}

// Round2 rounds to 2 decimal places for presentation.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
