// README: Route sampler turns a driving route into labelled pickup candidates.
package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/time/rate"

	"carpool/internal/maps"
	"carpool/internal/modules/location"
	"carpool/internal/types"
)

// DefaultStepMeters is the spacing of intermediate pickup points.
const DefaultStepMeters = 2500.0

var ErrRoutingUnavailable = errors.New("routing unavailable")

type Router interface {
	Route(ctx context.Context, origin, destination string) (*maps.Route, error)
}

type Geocoder interface {
	ReverseGeocode(ctx context.Context, p types.Point) (string, error)
}

// LabelCache stores resolved labels so repeated routes skip the geocoder.
type LabelCache interface {
	Get(ctx context.Context, p types.Point) (string, bool, error)
	Put(ctx context.Context, p types.Point, label string) error
}

type Sampler struct {
	router   Router
	geocoder Geocoder
	cache    LabelCache
	limiter  *rate.Limiter
	step     float64
	logger   *slog.Logger
}

type Options struct {
	StepMeters float64
	// GeocodeQPS caps reverse-geocode calls per second; 0 disables the limit.
	GeocodeQPS float64
	Cache      LabelCache
	Logger     *slog.Logger
}

func NewSampler(router Router, geocoder Geocoder, opts Options) *Sampler {
	s := &Sampler{
		router:   router,
		geocoder: geocoder,
		cache:    opts.Cache,
		step:     opts.StepMeters,
		logger:   opts.Logger,
	}
	if s.step <= 0 {
		s.step = DefaultStepMeters
	}
	if opts.GeocodeQPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.GeocodeQPS), 1)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Plan routes origin to destination and samples it. On routing failure it returns an
// empty plan together with ErrRoutingUnavailable.
func (s *Sampler) Plan(ctx context.Context, origin, destination string) (Plan, error) {
	if s.router == nil {
		return Plan{}, ErrRoutingUnavailable
	}
	r, err := s.router.Route(ctx, origin, destination)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrRoutingUnavailable, err)
	}
	if len(r.Polyline) < 2 {
		return Plan{}, fmt.Errorf("%w: empty polyline", ErrRoutingUnavailable)
	}

	waypoints := SamplePolyline(r.Polyline, float64(r.DistanceMeters), s.step)
	plan := Plan{
		DistanceMeters: r.DistanceMeters,
		DistanceText:   r.DistanceText,
		DurationText:   r.DurationText,
		Start:          r.Start,
		End:            r.End,
		Waypoints:      waypoints,
		Candidates:     make([]PickupCandidate, 0, len(waypoints)),
	}
	for i, w := range waypoints {
		c := PickupCandidate{Waypoint: w}
		switch i {
		case 0:
			c.ID, c.Kind, c.Name = "start", KindStart, origin
		case len(waypoints) - 1:
			c.ID, c.Kind, c.Name = "end", KindEnd, destination
		default:
			c.ID = fmt.Sprintf("point_%d", i)
			c.Kind = KindIntermediate
			c.Name = s.label(ctx, w.Point(), i)
		}
		plan.Candidates = append(plan.Candidates, c)
	}
	return plan, nil
}

func (s *Sampler) label(ctx context.Context, p types.Point, n int) string {
	fallback := fmt.Sprintf("Pickup Point %d", n)
	if s.cache != nil {
		if v, ok, err := s.cache.Get(ctx, p); err == nil && ok {
			return v
		}
	}
	if s.geocoder == nil {
		return fallback
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fallback
		}
	}
	name, err := s.geocoder.ReverseGeocode(ctx, p)
	if err != nil {
		s.logger.Debug("reverse geocode failed", "lat", p.Lat, "lng", p.Lng, "error", err)
		return fallback
	}
	if name == "" {
		return fallback
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, p, name); err != nil {
			s.logger.Warn("label cache write failed", "error", err)
		}
	}
	return name
}

// PolylineLength is the summed great-circle length of line in meters.
func PolylineLength(line []types.Point) float64 {
	var total float64
	for i := 0; i+1 < len(line); i++ {
		total += location.HaversineMeters(line[i], line[i+1])
	}
	return total
}

// SamplePolyline emits the start, one waypoint at every whole multiple of step along
// the polyline, and the end. The end distance is the larger of totalMeters and the
// walked polyline length so cumulative distances never decrease.
func SamplePolyline(line []types.Point, totalMeters, step float64) []Waypoint {
	if len(line) == 0 {
		return nil
	}
	if step <= 0 {
		step = DefaultStepMeters
	}
	out := []Waypoint{{Lat: line[0].Lat, Lng: line[0].Lng}}

	walked := 0.0
	next := step
	for i := 0; i+1 < len(line); i++ {
		a, b := line[i], line[i+1]
		seg := location.HaversineMeters(a, b)
		for seg > 0 && next <= walked+seg {
			p := location.Interpolate(a, b, (next-walked)/seg)
			out = append(out, Waypoint{Lat: p.Lat, Lng: p.Lng, CumulativeMeters: next})
			next += step
		}
		walked += seg
	}

	last := line[len(line)-1]
	out = append(out, Waypoint{
		Lat:              last.Lat,
		Lng:              last.Lng,
		CumulativeMeters: math.Max(totalMeters, walked),
	})
	return out
}
