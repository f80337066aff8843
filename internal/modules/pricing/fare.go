// README: Base and pickup-adjusted fare formulas.
package pricing

import (
	"math"

	"carpool/internal/modules/location"
	"carpool/internal/types"
)

// BaseFare is distance × rate plus the fixed surcharge, in cents.
func BaseFare(distanceKm, ratePerKm, surcharge float64) float64 {
	if distanceKm < 0 {
		distanceKm = 0
	}
	return types.RoundCents(distanceKm*ratePerKm + surcharge)
}

// AdjustedFare discounts base by the pickup's straight-line distance from the
// trip source, never going below FloorRatio of base. The result is in whole
// cents and rounding never crosses the floor.
func AdjustedFare(base, ratePerKm float64, pickup, source types.Point) float64 {
	return adjust(base, ratePerKm, location.HaversineKm(pickup, source))
}

func adjust(base, ratePerKm, pickupKm float64) float64 {
	if pickupKm <= 0 || base <= 0 {
		return base
	}
	floor := FloorRatio * base
	fare := math.Max(base-pickupKm*ratePerKm, floor)
	r := types.RoundCents(fare)
	for r < floor {
		r = types.RoundCents(r + 0.01)
	}
	return math.Min(r, base)
}

// Savings is how much less than base a buddy pays.
func Savings(base, adjusted float64) float64 {
	return types.RoundCents(math.Max(base-adjusted, 0))
}

// QuoteFor prices a pickup against a trip's source and base fare.
func QuoteFor(base, ratePerKm float64, pickup, source types.Point) Quote {
	km := location.HaversineKm(pickup, source)
	adjusted := adjust(base, ratePerKm, km)
	return Quote{
		BaseFare:         base,
		AdjustedFare:     adjusted,
		Savings:          Savings(base, adjusted),
		PickupDistanceKm: km,
	}
}
