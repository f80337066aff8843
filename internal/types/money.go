// README: Rounding helpers for fares and averages.
package types

import "math"

const Currency = "INR"

// RoundCents rounds an amount to 2 decimal places.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// RoundTenths rounds to 1 decimal place, used for rating averages.
func RoundTenths(v float64) float64 {
	return math.Round(v*10) / 10
}
