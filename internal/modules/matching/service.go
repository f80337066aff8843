// README: Matching service filters available trips and ranks them for a buddy.
package matching

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"carpool/internal/modules/location"
	"carpool/internal/modules/pricing"
	"carpool/internal/modules/rating"
	"carpool/internal/modules/trip"
	"carpool/internal/observability"
	"carpool/internal/types"
)

type TripSource interface {
	ListAvailable(ctx context.Context) ([]*trip.Trip, error)
}

type RatingReader interface {
	Summary(ctx context.Context, userID types.ID) (rating.Summary, error)
}

type SummaryCache interface {
	Get(ctx context.Context, userID types.ID) (rating.Summary, bool, error)
	Put(ctx context.Context, userID types.ID, s rating.Summary) error
}

const defaultFanout = 8

type Service struct {
	trips   TripSource
	ratings RatingReader
	cache   SummaryCache
	radius  float64
	fanout  int
	logger  *slog.Logger
}

type Options struct {
	// Cache may be nil.
	Cache           SummaryCache
	DefaultRadiusKm float64
	// Fanout bounds concurrent rating lookups.
	Fanout int
	Logger *slog.Logger
}

func NewService(trips TripSource, ratings RatingReader, opts Options) *Service {
	s := &Service{
		trips:   trips,
		ratings: ratings,
		cache:   opts.Cache,
		radius:  opts.DefaultRadiusKm,
		fanout:  opts.Fanout,
		logger:  opts.Logger,
	}
	if s.radius <= 0 {
		s.radius = DefaultRadiusKm
	}
	if s.fanout <= 0 {
		s.fanout = defaultFanout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Service) validate(q *Query) error {
	switch q.Mode {
	case ModeExact:
		if trip.Normalize(q.Source) == "" {
			return types.Invalid("source", "required for exact search")
		}
	case ModeFlexible:
		if q.Pickup == nil || q.Pickup.IsZero() {
			return types.Invalid("pickup", "required for flexible search")
		}
	default:
		return types.Invalid("mode", "must be exact or flexible")
	}
	if trip.Normalize(q.Destination) == "" {
		return types.Invalid("destination", "required")
	}
	if q.Time.IsZero() {
		return types.Invalid("time", "required")
	}
	if q.RadiusKm == 0 {
		q.RadiusKm = s.radius
	}
	if q.RadiusKm < MinRadiusKm || q.RadiusKm > MaxRadiusKm {
		return types.Invalid("radius_km", "must be between 1 and 5")
	}
	return nil
}

// Search runs the pipeline: time window, destination, proximity, fares, ratings,
// ranking. The order of the filters is fixed. No match is an empty slice.
func (s *Service) Search(ctx context.Context, q Query) ([]Candidate, error) {
	if err := s.validate(&q); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		observability.SearchLatency.Observe(time.Since(start).Seconds())
	}()
	observability.SearchesTotal.WithLabelValues(string(q.Mode)).Inc()

	trips, err := s.trips.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}
	trips = FilterByTime(trips, q.Time, TimeWindow)
	trips = FilterByDestination(trips, q.Destination)
	out := FilterByProximity(trips, q)
	if q.Mode == ModeFlexible {
		annotateFares(out, *q.Pickup)
	}
	if err := s.annotateRatings(ctx, out); err != nil {
		return nil, err
	}
	Rank(out, q.Mode)

	observability.SearchResults.Observe(float64(len(out)))
	return out, nil
}

// FilterByTime keeps trips scheduled within window of at, inclusive.
func FilterByTime(trips []*trip.Trip, at time.Time, window time.Duration) []*trip.Trip {
	out := make([]*trip.Trip, 0, len(trips))
	for _, t := range trips {
		d := t.ScheduledAt.Sub(at)
		if d < 0 {
			d = -d
		}
		if d <= window {
			out = append(out, t)
		}
	}
	return out
}

func FilterByDestination(trips []*trip.Trip, destination string) []*trip.Trip {
	want := trip.Normalize(destination)
	out := make([]*trip.Trip, 0, len(trips))
	for _, t := range trips {
		if trip.Normalize(t.Destination) == want {
			out = append(out, t)
		}
	}
	return out
}

// FilterByProximity applies the mode's pickup rule. Flexible mode matches any route
// waypoint within the radius, falling back to the trip's endpoints when the trip
// has no route.
func FilterByProximity(trips []*trip.Trip, q Query) []Candidate {
	out := make([]Candidate, 0, len(trips))
	for _, t := range trips {
		switch q.Mode {
		case ModeExact:
			if trip.Normalize(t.Source) == trip.Normalize(q.Source) {
				out = append(out, Candidate{Trip: t, NearestWaypoint: -1})
			}
		case ModeFlexible:
			if idx, ok := nearTrip(t, *q.Pickup, q.RadiusKm*1000); ok {
				out = append(out, Candidate{Trip: t, NearestWaypoint: idx})
			}
		}
	}
	return out
}

func nearTrip(t *trip.Trip, pickup types.Point, radiusMeters float64) (int, bool) {
	if len(t.Route) > 0 {
		line := make([]types.Point, len(t.Route))
		for i, w := range t.Route {
			line[i] = w.Point()
		}
		return location.NearPolyline(pickup, line, radiusMeters)
	}
	for _, p := range []types.Point{t.SourcePoint, t.DestPoint} {
		if !p.IsZero() && location.Within(pickup, p, radiusMeters) {
			return -1, true
		}
	}
	return -1, false
}

func annotateFares(cands []Candidate, pickup types.Point) {
	for i := range cands {
		t := cands[i].Trip
		if t.SourcePoint.IsZero() {
			continue
		}
		q := pricing.QuoteFor(t.BaseFare, t.RatePerKm, pickup, t.SourcePoint)
		cands[i].Quote = &q
	}
}

// annotateRatings looks each distinct pilot up once. A failed lookup annotates zero.
func (s *Service) annotateRatings(ctx context.Context, cands []Candidate) error {
	pilots := make(map[types.ID]rating.Summary)
	for _, c := range cands {
		pilots[c.Trip.PilotID] = rating.Summary{}
	}
	ids := make([]types.ID, 0, len(pilots))
	for id := range pilots {
		ids = append(ids, id)
	}
	results := make([]rating.Summary, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = s.summary(gctx, id)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, id := range ids {
		pilots[id] = results[i]
	}
	for i := range cands {
		cands[i].Rating = pilots[cands[i].Trip.PilotID]
	}
	return nil
}

func (s *Service) summary(ctx context.Context, pilotID types.ID) rating.Summary {
	if s.cache != nil {
		if sum, ok, err := s.cache.Get(ctx, pilotID); err == nil && ok {
			return sum
		} else if err != nil {
			s.logger.Debug("rating cache read failed", "pilot_id", pilotID, "error", err)
		}
	}
	if s.ratings == nil {
		return rating.Summary{}
	}
	sum, err := s.ratings.Summary(ctx, pilotID)
	if err != nil {
		s.logger.Warn("rating lookup failed", "pilot_id", pilotID, "error", err)
		return rating.Summary{}
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, pilotID, sum); err != nil {
			s.logger.Debug("rating cache write failed", "pilot_id", pilotID, "error", err)
		}
	}
	return sum
}

// Rank orders candidates by average rating. Flexible ties go to higher savings
// then shorter pickup distance; exact ties go to more ratings. Remaining ties keep
// the earliest departure first.
func Rank(cands []Candidate, mode Mode) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Rating.Average != b.Rating.Average {
			return a.Rating.Average > b.Rating.Average
		}
		if mode == ModeFlexible {
			if a.savings() != b.savings() {
				return a.savings() > b.savings()
			}
			if a.pickupKm() != b.pickupKm() {
				return a.pickupKm() < b.pickupKm()
			}
		} else if a.Rating.Count != b.Rating.Count {
			return a.Rating.Count > b.Rating.Count
		}
		return a.Trip.ScheduledAt.Before(b.Trip.ScheduledAt)
	})
}
