package pricing

import (
	"context"
	"errors"
	"math"
	"testing"

	"carpool/internal/types"
)

func TestBaseFare(t *testing.T) {
	tests := []struct {
		name       string
		distanceKm float64
		want       float64
	}{
		{"zero distance is surcharge only", 0, 20},
		{"10 km", 10, 88},
		{"fractional km rounds to cents", 12.345, 103.95},
		{"negative distance clamps", -3, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BaseFare(tt.distanceKm, DefaultRatePerKm, DefaultSurcharge); got != tt.want {
				t.Errorf("BaseFare(%v) = %v, want %v", tt.distanceKm, got, tt.want)
			}
		})
	}
}

func TestAdjustedFare_FloorAndIdentity(t *testing.T) {
	source := types.Point{Lat: 11.0168, Lng: 76.9558}
	bases := []float64{20, 55.55, 88, 103.95, 347.2}
	for _, base := range bases {
		if got := AdjustedFare(base, DefaultRatePerKm, source, source); got != base {
			t.Errorf("base %v: zero pickup distance should keep base fare, got %v", base, got)
		}
		for km := 0.25; km <= 80; km *= 1.7 {
			pickup := types.Point{Lat: source.Lat + km/111.195, Lng: source.Lng}
			got := AdjustedFare(base, DefaultRatePerKm, pickup, source)
			if got < FloorRatio*base {
				t.Errorf("base %v pickup %.2fkm: adjusted %v below floor %v", base, km, got, FloorRatio*base)
			}
			if got > base {
				t.Errorf("base %v pickup %.2fkm: adjusted %v above base", base, km, got)
			}
		}
	}
}

func TestQuoteFor(t *testing.T) {
	source := types.Point{Lat: 11.0168, Lng: 76.9558}
	pickup := types.Point{Lat: 11.0268, Lng: 76.9658}

	q := QuoteFor(88, DefaultRatePerKm, pickup, source)

	if math.Abs(q.PickupDistanceKm-1.5578) > 0.01 {
		t.Fatalf("unexpected pickup distance %v", q.PickupDistanceKm)
	}
	wantAdjusted := types.RoundCents(88 - q.PickupDistanceKm*DefaultRatePerKm)
	if q.AdjustedFare != wantAdjusted {
		t.Errorf("adjusted = %v, want %v", q.AdjustedFare, wantAdjusted)
	}
	if q.Savings != types.RoundCents(88-wantAdjusted) {
		t.Errorf("savings = %v", q.Savings)
	}
}

func TestQuoteFor_FarPickupHitsFloor(t *testing.T) {
	source := types.Point{Lat: 11.0168, Lng: 76.9558}
	pickup := types.Point{Lat: 11.5, Lng: 76.9558} // ~54km away

	q := QuoteFor(55.55, DefaultRatePerKm, pickup, source)

	if q.AdjustedFare != 16.67 {
		t.Errorf("adjusted = %v, want 16.67 (floor 16.665 rounded up)", q.AdjustedFare)
	}
	if q.Savings != 38.88 {
		t.Errorf("savings = %v, want 38.88", q.Savings)
	}
}

type stubTariffs struct {
	t   Tariff
	err error
}

func (s stubTariffs) ActiveTariff(context.Context) (Tariff, error) { return s.t, s.err }

func TestService_Estimate(t *testing.T) {
	ctx := context.Background()
	custom := Tariff{RatePerKm: 10, Surcharge: 5, Currency: "INR"}

	tests := []struct {
		name  string
		store TariffSource
		want  float64
	}{
		{"no store uses default", nil, 88},
		{"store tariff wins", stubTariffs{t: custom}, 105},
		{"missing tariff falls back", stubTariffs{err: ErrNoTariff}, 88},
		{"store failure falls back", stubTariffs{err: errors.New("conn refused")}, 88},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.store, DefaultTariff(), nil)
			got, _ := svc.Estimate(ctx, 10)
			if got != tt.want {
				t.Errorf("Estimate = %v, want %v", got, tt.want)
			}
		})
	}
}
