package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mkoval/freightops/internal/domain"
	"github.com/mkoval/freightops/internal/service"
)

const wagonColumns = `id, wagon_number, category, max_weight_kg, max_volume_m3, current_station, status`

func (s *Store) GetWagon(ctx context.Context, id uuid.UUID) (*domain.Wagon, error) {
	row := s.Db.QueryRow(ctx,
		`SELECT `+wagonColumns+` FROM wagons WHERE id = $1`, id)

	wagon, err := scanWagon(row)
	if err != nil {
		return nil, notFound(err, service.ErrWagonNotFound)
	}
	return wagon, nil
}

// ReserveWagon flips a free wagon to reserved and records the schedule row in
// one transaction. The row lock serializes against Release and the sweep; the
// status check detects divergence from an expired reservation lock.
func (s *Store) ReserveWagon(ctx context.Context, sched domain.Schedule) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var status domain.WagonStatus
		err := tx.QueryRow(ctx,
			`SELECT status FROM wagons WHERE id = $1 FOR UPDATE`, sched.WagonID,
		).Scan(&status)
		if err != nil {
			return notFound(err, service.ErrWagonNotFound)
		}

		if status != domain.WagonFree {
			return fmt.Errorf("%w: status is %s", service.ErrWagonNotFree, status)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE wagons SET status = $1 WHERE id = $2`,
			domain.WagonReserved, sched.WagonID); err != nil {
			return fmt.Errorf("updating wagon status: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO wagon_schedule (wagon_id, order_id, departure_station, arrival_station, departure_date, status, ttl_seconds)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			sched.WagonID, sched.OrderID, sched.DepartureStation, sched.ArrivalStation,
			nullableTime(sched.DepartureDate), sched.Status, int(sched.TTL.Seconds())); err != nil {
			return fmt.Errorf("inserting schedule row: %w", err)
		}

		return nil
	})
}

// nullableTime keeps unset dates out of the BETWEEN conflict check.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// ReleaseWagon is idempotent: a wagon already free and a schedule already
// cancelled are both no-ops.
func (s *Store) ReleaseWagon(ctx context.Context, wagonID uuid.UUID) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE wagons SET status = $1 WHERE id = $2`,
			domain.WagonFree, wagonID)
		if err != nil {
			return fmt.Errorf("freeing wagon: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return service.ErrWagonNotFound
		}

		if _, err := tx.Exec(ctx,
			`UPDATE wagon_schedule SET status = $1 WHERE wagon_id = $2 AND status = $3`,
			domain.ScheduleCancelled, wagonID, domain.ScheduleReserved); err != nil {
			return fmt.Errorf("cancelling schedule rows: %w", err)
		}

		return nil
	})
}

func (s *Store) FindAvailable(ctx context.Context, station string, weightKg, volumeM3 int) ([]domain.Wagon, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT `+wagonColumns+` FROM wagons
		 WHERE status = $1 AND current_station = $2 AND max_weight_kg >= $3 AND max_volume_m3 >= $4
		 ORDER BY max_weight_kg`,
		domain.WagonFree, station, weightKg, volumeM3)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectWagons(rows)
}

func (s *Store) FindAvailableElsewhere(ctx context.Context, excludeStation string, weightKg, volumeM3, limit int) ([]domain.Wagon, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT `+wagonColumns+` FROM wagons
		 WHERE status = $1 AND current_station <> $2 AND max_weight_kg >= $3 AND max_volume_m3 >= $4
		 ORDER BY max_weight_kg
		 LIMIT $5`,
		domain.WagonFree, excludeStation, weightKg, volumeM3, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectWagons(rows)
}

func (s *Store) HasScheduleConflict(ctx context.Context, wagonID uuid.UUID, from, to time.Time) (bool, error) {
	var conflict bool
	err := s.Db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM wagon_schedule
			WHERE wagon_id = $1 AND status <> $2
			  AND departure_date BETWEEN $3 AND $4)`,
		wagonID, domain.ScheduleCancelled, from, to).Scan(&conflict)
	return conflict, err
}

// StaleReservations lists schedule rows still reserved past their TTL, i.e.
// reservations whose lock key has expired without a confirm or release.
func (s *Store) StaleReservations(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id, wagon_id, order_id, status, ttl_seconds, created_at
		 FROM wagon_schedule
		 WHERE status = $1 AND created_at + make_interval(secs => ttl_seconds) < $2`,
		domain.ScheduleReserved, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stale []domain.Schedule
	for rows.Next() {
		var sched domain.Schedule
		var ttlSeconds int
		if err := rows.Scan(&sched.ID, &sched.WagonID, &sched.OrderID, &sched.Status, &ttlSeconds, &sched.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		sched.TTL = time.Duration(ttlSeconds) * time.Second
		stale = append(stale, sched)
	}
	return stale, rows.Err()
}

func collectWagons(rows pgx.Rows) ([]domain.Wagon, error) {
	var wagons []domain.Wagon
	for rows.Next() {
		wagon, err := scanWagon(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning wagon: %w", err)
		}
		wagons = append(wagons, *wagon)
	}
	return wagons, rows.Err()
}

func scanWagon(row pgx.Row) (*domain.Wagon, error) {
	var w domain.Wagon
	err := row.Scan(&w.ID, &w.WagonNumber, &w.Category, &w.MaxWeightKg, &w.MaxVolumeM3, &w.CurrentStation, &w.Status)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
