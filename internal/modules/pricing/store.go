// README: Pricing store backed by PostgreSQL.
package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNoTariff = errors.New("no active tariff")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) ActiveTariff(ctx context.Context) (Tariff, error) {
	var t Tariff
	err := s.db.QueryRow(ctx, `
		SELECT rate_per_km, surcharge, currency
		FROM tariffs
		WHERE effective_from <= NOW()
		ORDER BY effective_from DESC
		LIMIT 1`,
	).Scan(&t.RatePerKm, &t.Surcharge, &t.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tariff{}, ErrNoTariff
	}
	if err != nil {
		return Tariff{}, err
	}
	return t, nil
}
