// README: Pricing service resolves the active tariff and computes fare estimates.
package pricing

import (
	"context"
	"errors"
	"log/slog"
)

type TariffSource interface {
	ActiveTariff(ctx context.Context) (Tariff, error)
}

type Service struct {
	store    TariffSource
	fallback Tariff
	logger   *slog.Logger
}

// NewService uses store when it has an active tariff and fallback otherwise.
// store may be nil.
func NewService(store TariffSource, fallback Tariff, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, fallback: fallback, logger: logger}
}

func (s *Service) Tariff(ctx context.Context) Tariff {
	if s.store == nil {
		return s.fallback
	}
	t, err := s.store.ActiveTariff(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoTariff) {
			s.logger.Warn("tariff lookup failed, using default", "error", err)
		}
		return s.fallback
	}
	return t
}

// Estimate returns the base fare for distanceKm and the tariff it was priced with.
func (s *Service) Estimate(ctx context.Context, distanceKm float64) (float64, Tariff) {
	t := s.Tariff(ctx)
	return BaseFare(distanceKm, t.RatePerKm, t.Surcharge), t
}
