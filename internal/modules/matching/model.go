// README: Search queries and ranked trip candidates.
package matching

import (
	"time"

	"carpool/internal/modules/pricing"
	"carpool/internal/modules/rating"
	"carpool/internal/modules/trip"
	"carpool/internal/types"
)

type Mode string

const (
	// ModeExact matches trips whose source equals the buddy's source text.
	ModeExact Mode = "exact"
	// ModeFlexible matches trips passing near a point on the buddy's own route.
	ModeFlexible Mode = "flexible"
)

const (
	TimeWindow      = 30 * time.Minute
	DefaultRadiusKm = 2.0
	MinRadiusKm     = 1.0
	MaxRadiusKm     = 5.0
)

type Query struct {
	Mode        Mode
	Source      string
	Pickup      *types.Point
	Destination string
	Time        time.Time
	// RadiusKm of zero means DefaultRadiusKm.
	RadiusKm float64
}

// Candidate is one ranked search hit.
type Candidate struct {
	Trip *trip.Trip `json:"trip"`
	// Quote is set for flexible searches.
	Quote *pricing.Quote `json:"quote,omitempty"`
	// NearestWaypoint indexes the matched route waypoint; -1 when matched on endpoints.
	NearestWaypoint int            `json:"nearest_waypoint"`
	Rating          rating.Summary `json:"rating"`
}

func (c Candidate) savings() float64 {
	if c.Quote == nil {
		return 0
	}
	return c.Quote.Savings
}

func (c Candidate) pickupKm() float64 {
	if c.Quote == nil {
		return 0
	}
	return c.Quote.PickupDistanceKm
}
