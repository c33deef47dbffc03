package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper reclaims wagons whose Lock Store key has expired while the durable
// status still reads reserved: a reservation never confirmed into an order
// (abandoned checkout) leaves exactly that divergence behind. Reclamation is
// periodic rather than lazy-on-search so the window is bounded even for
// wagons nobody searches for.
type Sweeper struct {
	wagons       WagonStore
	reservations *ReservationService
	interval     time.Duration
	log          *zap.Logger
}

func NewSweeper(wagons WagonStore, reservations *ReservationService, interval time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{
		wagons:       wagons,
		reservations: reservations,
		interval:     interval,
		log:          log,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Error("reservation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep releases every wagon whose schedule row is still reserved past its
// TTL. Release is idempotent, so overlapping sweeps are harmless.
func (s *Sweeper) Sweep(ctx context.Context) error {
	stale, err := s.wagons.StaleReservations(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	for _, schedule := range stale {
		if err := s.reservations.Release(ctx, schedule.WagonID); err != nil {
			s.log.Error("failed to reclaim stale reservation",
				zap.String("wagon_id", schedule.WagonID.String()),
				zap.String("order_id", schedule.OrderID.String()),
				zap.Error(err))
			continue
		}
		staleReservationsReclaimed.Inc()
		s.log.Info("stale reservation reclaimed",
			zap.String("wagon_id", schedule.WagonID.String()),
			zap.String("order_id", schedule.OrderID.String()))
	}

	return nil
}
