// README: Pure geographic helpers (great-circle distance, polyline proximity).
package location

import (
	"math"

	"carpool/internal/types"
)

const (
	earthRadiusKm     = 6371.0
	earthRadiusMeters = earthRadiusKm * 1000
)

// HaversineMeters returns the great-circle distance in meters between a and b.
func HaversineMeters(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// HaversineKm is HaversineMeters in kilometres.
func HaversineKm(a, b types.Point) float64 {
	return HaversineMeters(a, b) / 1000
}

// Within reports whether b lies within radiusMeters of a. The boundary is inclusive.
func Within(a, b types.Point, radiusMeters float64) bool {
	return HaversineMeters(a, b) <= radiusMeters
}

// NearPolyline reports whether p is within radiusMeters of any vertex of line,
// and returns the index of the closest vertex that matched (-1 if none).
func NearPolyline(p types.Point, line []types.Point, radiusMeters float64) (int, bool) {
	best, bestDist := -1, math.Inf(1)
	for i, v := range line {
		d := HaversineMeters(p, v)
		if d <= radiusMeters && d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, best >= 0
}

// Interpolate returns the point at fraction f (0..1) of the way from a to b.
// Linear in degrees, which is accurate enough for segments of a road polyline.
func Interpolate(a, b types.Point, f float64) types.Point {
	return types.Point{
		Lat: a.Lat + (b.Lat-a.Lat)*f,
		Lng: a.Lng + (b.Lng-a.Lng)*f,
	}
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// SortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function. Stable.
func SortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
