// README: Waypoints and pickup candidates produced by route sampling.
package route

import "carpool/internal/types"

type Kind string

const (
	KindStart        Kind = "start"
	KindIntermediate Kind = "intermediate"
	KindEnd          Kind = "end"
)

// Waypoint is a sampled point with its distance along the route from the start.
type Waypoint struct {
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	CumulativeMeters float64 `json:"cumulative_meters"`
}

func (w Waypoint) Point() types.Point {
	return types.Point{Lat: w.Lat, Lng: w.Lng}
}

// PickupCandidate is a named waypoint a pilot exposes for boarding.
type PickupCandidate struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Waypoint `json:"waypoint"`
}

// Plan is the outcome of sampling one route.
type Plan struct {
	DistanceMeters int
	DistanceText   string
	DurationText   string
	Start          types.Point
	End            types.Point
	Waypoints      []Waypoint
	Candidates     []PickupCandidate
}

// Empty reports whether routing failed and no waypoints exist.
func (p Plan) Empty() bool {
	return len(p.Waypoints) == 0
}
