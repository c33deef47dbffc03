package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/mkoval/freightops/internal/domain"
	"github.com/mkoval/freightops/internal/service"
)

// defaultDistanceKm is the conservative fallback for station pairs missing
// from the distance table.
const defaultDistanceKm = 1000

// DistanceKm resolves the distance between two stations. The lookup is
// direction-agnostic; unknown pairs fall back to the default so search and
// pricing keep working with a pessimistic estimate.
func (s *Store) DistanceKm(ctx context.Context, from, to string) (int, error) {
	if from == to {
		return 0, nil
	}

	var km int
	err := s.Db.QueryRow(ctx,
		`SELECT distance_km FROM station_distances
		 WHERE (from_station = $1 AND to_station = $2)
		    OR (from_station = $2 AND to_station = $1)
		 LIMIT 1`,
		from, to).Scan(&km)
	if errors.Is(err, pgx.ErrNoRows) {
		return defaultDistanceKm, nil
	}
	if err != nil {
		return 0, err
	}
	return km, nil
}

func (s *Store) TariffFor(ctx context.Context, category domain.WagonCategory, cargo domain.CargoType) (*domain.Tariff, error) {
	var t domain.Tariff
	err := s.Db.QueryRow(ctx,
		`SELECT category, cargo_type, base_rate_per_km, coefficient, min_price
		 FROM tariffs WHERE category = $1 AND cargo_type = $2`,
		category, cargo,
	).Scan(&t.Category, &t.CargoType, &t.BaseRatePerKm, &t.Coefficient, &t.MinPrice)
	if err != nil {
		return nil, notFound(err, service.ErrNoTariff)
	}
	return &t, nil
}
