// README: Tariff and fare quote definitions.
package pricing

import "carpool/internal/types"

// Default tariff applied when no tariff row is configured.
const (
	DefaultRatePerKm = 6.80
	DefaultSurcharge = 20.0
	// FloorRatio is the share of the base fare a pilot always keeps.
	FloorRatio = 0.30
)

type Tariff struct {
	RatePerKm float64
	Surcharge float64
	Currency  string
}

func DefaultTariff() Tariff {
	return Tariff{RatePerKm: DefaultRatePerKm, Surcharge: DefaultSurcharge, Currency: types.Currency}
}

// Quote is the fare seen by a buddy boarding at a given pickup point.
type Quote struct {
	BaseFare         float64 `json:"base_fare"`
	AdjustedFare     float64 `json:"adjusted_fare"`
	Savings          float64 `json:"savings"`
	PickupDistanceKm float64 `json:"pickup_distance_km"`
}
