package route

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carpool/internal/maps"
	"carpool/internal/types"
)

// northbound builds a straight polyline heading north from Coimbatore with n vertices
// spaced stepDeg apart.
func northbound(n int, stepDeg float64) []types.Point {
	line := make([]types.Point, n)
	for i := range line {
		line[i] = types.Point{Lat: 11.0168 + float64(i)*stepDeg, Lng: 76.9558}
	}
	return line
}

func TestSamplePolyline_Cardinality(t *testing.T) {
	cases := []struct {
		name     string
		vertices int
		stepDeg  float64
	}{
		{"short hop under one step", 3, 0.005},
		{"dense polyline", 200, 0.0007},
		{"sparse polyline", 6, 0.031},
		{"long corridor", 50, 0.0093},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			line := northbound(tc.vertices, tc.stepDeg)
			length := PolylineLength(line)

			got := SamplePolyline(line, length, DefaultStepMeters)

			want := 2 + int(math.Floor(length/DefaultStepMeters))
			require.Len(t, got, want, "polyline length %.1fm", length)
			for i := 1; i < len(got); i++ {
				assert.GreaterOrEqual(t, got[i].CumulativeMeters, got[i-1].CumulativeMeters, "waypoint %d", i)
			}
			assert.Equal(t, 0.0, got[0].CumulativeMeters)
			assert.InDelta(t, length, got[len(got)-1].CumulativeMeters, 1e-6)
		})
	}
}

func TestSamplePolyline_IntermediatesAtExactSteps(t *testing.T) {
	line := northbound(2, 0.1) // one ~11.1km segment
	got := SamplePolyline(line, 0, DefaultStepMeters)

	require.Len(t, got, 6)
	for i := 1; i <= 4; i++ {
		assert.Equal(t, float64(i)*DefaultStepMeters, got[i].CumulativeMeters)
	}
	// The interpolated point sits on the segment, a quarter of 0.1° per 2.5km (approx).
	assert.InDelta(t, 11.0168+0.0225, got[1].Lat, 0.0005)
}

func TestSamplePolyline_EndUsesLegDistance(t *testing.T) {
	line := northbound(2, 0.01)
	got := SamplePolyline(line, 5000, DefaultStepMeters)
	require.Len(t, got, 2)
	assert.Equal(t, 5000.0, got[1].CumulativeMeters)
}

func TestSamplePolyline_Empty(t *testing.T) {
	assert.Nil(t, SamplePolyline(nil, 1000, DefaultStepMeters))
}

type stubRouter struct {
	route *maps.Route
	err   error
}

func (s stubRouter) Route(context.Context, string, string) (*maps.Route, error) {
	return s.route, s.err
}

type stubGeocoder struct {
	mu     sync.Mutex
	calls  int
	labels map[int]string
}

func (g *stubGeocoder) ReverseGeocode(context.Context, types.Point) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	label, ok := g.labels[g.calls]
	if !ok {
		return "", errors.New("quota exceeded")
	}
	return label, nil
}

type mapCache struct {
	entries map[string]string
}

func (c *mapCache) Get(_ context.Context, p types.Point) (string, bool, error) {
	v, ok := c.entries[labelKey(p)]
	return v, ok, nil
}

func (c *mapCache) Put(_ context.Context, p types.Point, label string) error {
	c.entries[labelKey(p)] = label
	return nil
}

func TestSampler_PlanLabelsAndFallbacks(t *testing.T) {
	line := northbound(2, 0.07) // ~7.8km: start, 3 intermediates, end
	router := stubRouter{route: &maps.Route{
		DistanceMeters: 7900,
		DistanceText:   "7.9 km",
		Start:          line[0],
		End:            line[1],
		Polyline:       line,
	}}
	geo := &stubGeocoder{labels: map[int]string{1: "Gandhipuram", 3: ""}}
	cache := &mapCache{entries: map[string]string{}}

	s := NewSampler(router, geo, Options{Cache: cache})
	plan, err := s.Plan(context.Background(), "town hall", "peelamedu")
	require.NoError(t, err)

	require.Len(t, plan.Candidates, 5)
	assert.Equal(t, "town hall", plan.Candidates[0].Name)
	assert.Equal(t, KindStart, plan.Candidates[0].Kind)
	assert.Equal(t, "Gandhipuram", plan.Candidates[1].Name)
	assert.Equal(t, "Pickup Point 2", plan.Candidates[2].Name, "geocoder error falls back")
	assert.Equal(t, "Pickup Point 3", plan.Candidates[3].Name, "empty result falls back")
	assert.Equal(t, "peelamedu", plan.Candidates[4].Name)
	assert.Equal(t, KindEnd, plan.Candidates[4].Kind)
	assert.Equal(t, 7900.0, plan.Candidates[4].CumulativeMeters)
	assert.Len(t, cache.entries, 1, "only real labels are cached")

	for i, c := range plan.Candidates {
		assert.Equal(t, plan.Waypoints[i], c.Waypoint, "candidate %d must be a route waypoint", i)
	}
}

func TestSampler_UsesCachedLabel(t *testing.T) {
	line := northbound(2, 0.03) // ~3.3km: one intermediate
	wps := SamplePolyline(line, 0, DefaultStepMeters)
	cache := &mapCache{entries: map[string]string{labelKey(wps[1].Point()): "Race Course"}}
	geo := &stubGeocoder{}

	s := NewSampler(stubRouter{route: &maps.Route{Polyline: line}}, geo, Options{Cache: cache})
	plan, err := s.Plan(context.Background(), "a", "b")
	require.NoError(t, err)

	assert.Equal(t, "Race Course", plan.Candidates[1].Name)
	assert.Zero(t, geo.calls)
}

func TestSampler_RoutingUnavailable(t *testing.T) {
	cases := map[string]Router{
		"router error":   stubRouter{err: fmt.Errorf("ZERO_RESULTS")},
		"empty polyline": stubRouter{route: &maps.Route{}},
		"no router":      nil,
	}
	for name, router := range cases {
		t.Run(name, func(t *testing.T) {
			s := NewSampler(router, nil, Options{})
			plan, err := s.Plan(context.Background(), "a", "b")
			require.ErrorIs(t, err, ErrRoutingUnavailable)
			assert.True(t, plan.Empty())
			assert.Empty(t, plan.Candidates)
		})
	}
}
