package location

import (
	"math"
	"testing"

	"carpool/internal/types"
)

var (
	coimbatore  = types.Point{Lat: 11.0168, Lng: 76.9558}
	gandhipuram = types.Point{Lat: 11.0268, Lng: 76.9658}
)

func TestHaversineKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.Point
		wantKm    float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         coimbatore,
			b:         coimbatore,
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name:      "Coimbatore centre to Gandhipuram (~1.55km)",
			a:         coimbatore,
			b:         gandhipuram,
			wantKm:    1.55,
			tolerance: 0.1,
		},
		{
			name:      "New York to Los Angeles (~3944km)",
			a:         types.Point{Lat: 40.7128, Lng: -74.0060},
			b:         types.Point{Lat: 34.0522, Lng: -118.2437},
			wantKm:    3944,
			tolerance: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.a, tt.b)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("HaversineKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestHaversine_Symmetry(t *testing.T) {
	d1 := HaversineMeters(types.Point{Lat: 25, Lng: 121}, types.Point{Lat: 26, Lng: 122})
	d2 := HaversineMeters(types.Point{Lat: 26, Lng: 122}, types.Point{Lat: 25, Lng: 121})
	if math.Abs(d1-d2) > 0.0001 {
		t.Errorf("haversine is not symmetric: %f vs %f", d1, d2)
	}
}

func TestWithin_Boundary(t *testing.T) {
	radius := HaversineMeters(coimbatore, gandhipuram)
	if !Within(coimbatore, gandhipuram, radius) {
		t.Fatalf("point exactly %fm away should match radius %fm", radius, radius)
	}
	if Within(coimbatore, gandhipuram, radius-1) {
		t.Fatalf("point one meter beyond radius should not match")
	}
}

func TestNearPolyline(t *testing.T) {
	line := []types.Point{
		{Lat: 11.0000, Lng: 76.9000},
		coimbatore,
		gandhipuram,
	}
	near := types.Point{Lat: 11.0170, Lng: 76.9560}

	idx, ok := NearPolyline(near, line, 100)
	if !ok || idx != 1 {
		t.Fatalf("expected vertex 1 within 100m, got idx=%d ok=%v", idx, ok)
	}
	if _, ok := NearPolyline(types.Point{Lat: 12, Lng: 78}, line, 5000); ok {
		t.Fatal("far point should not be near the polyline")
	}
	if _, ok := NearPolyline(near, nil, 5000); ok {
		t.Fatal("empty polyline never matches")
	}
}

func TestInterpolate(t *testing.T) {
	mid := Interpolate(coimbatore, gandhipuram, 0.5)
	if math.Abs(mid.Lat-11.0218) > 1e-9 || math.Abs(mid.Lng-76.9608) > 1e-9 {
		t.Fatalf("unexpected midpoint %+v", mid)
	}
}

func TestSortByDistance(t *testing.T) {
	type stop struct {
		id   string
		dist float64
	}
	stops := []stop{{"c", 5}, {"a", 1}, {"b", 3}, {"a2", 1}}

	SortByDistance(stops, func(s stop) float64 { return s.dist })

	want := []string{"a", "a2", "b", "c"}
	for i, s := range stops {
		if s.id != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, s.id, want[i])
		}
	}
}

func TestSortByDistance_Empty(t *testing.T) {
	var stops []float64
	SortByDistance(stops, func(f float64) float64 { return f })
}
