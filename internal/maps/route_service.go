// README: Google Maps routing and reverse-geocoding client used by the route sampler.
package maps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"carpool/internal/types"
)

var ErrNoRoute = errors.New("no route found")

// Route is the driving route between two places, reduced to what the engine uses.
type Route struct {
	DistanceMeters int
	DistanceText   string
	Duration       time.Duration
	DurationText   string
	StartAddress   string
	EndAddress     string
	Start          types.Point
	End            types.Point
	Polyline       []types.Point
	Steps          []Step
}

type Step struct {
	Instruction    string
	DistanceMeters int
	Start          types.Point
	End            types.Point
}

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client   *maps.Client
	language string
	region   string
}

// NewRouteService creates a new RouteService with the given API Key.
// Results are biased to region (ccTLD, e.g. "in") and localised to language.
func NewRouteService(apiKey, language, region string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client, language: language, region: region}, nil
}

// Route returns the first driving route from origin to destination.
func (s *RouteService) Route(ctx context.Context, origin, destination string) (*Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      origin,
		Destination: destination,
		Mode:        maps.TravelModeDriving,
		Language:    s.language,
		Region:      s.region,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, ErrNoRoute
	}

	path, err := routes[0].OverviewPolyline.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}

	leg := routes[0].Legs[0]
	out := &Route{
		DistanceMeters: leg.Distance.Meters,
		DistanceText:   leg.Distance.HumanReadable,
		Duration:       leg.Duration,
		DurationText:   leg.Duration.Round(time.Minute).String(),
		StartAddress:   leg.StartAddress,
		EndAddress:     leg.EndAddress,
		Start:          toPoint(leg.StartLocation),
		End:            toPoint(leg.EndLocation),
		Polyline:       make([]types.Point, len(path)),
	}
	for i, ll := range path {
		out.Polyline[i] = toPoint(ll)
	}
	for _, st := range leg.Steps {
		out.Steps = append(out.Steps, Step{
			Instruction:    st.HTMLInstructions,
			DistanceMeters: st.Distance.Meters,
			Start:          toPoint(st.StartLocation),
			End:            toPoint(st.EndLocation),
		})
	}
	return out, nil
}

// ReverseGeocode returns the formatted address closest to p, or "" if Google has none.
func (s *RouteService) ReverseGeocode(ctx context.Context, p types.Point) (string, error) {
	results, err := s.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: p.Lat, Lng: p.Lng},
		Language: s.language,
		Region:   s.region,
	})
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	if len(results) == 0 {
		return "", nil
	}
	return results[0].FormattedAddress, nil
}

func toPoint(ll maps.LatLng) types.Point {
	return types.Point{Lat: ll.Lat, Lng: ll.Lng}
}
