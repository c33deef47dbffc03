package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mkoval/freightops/internal/domain"
)

var (
	ErrWagonNotFound = errors.New("wagon not found")
	// ErrWagonNotFree is returned by WagonStore when the persisted status
	// has diverged from the reservation lock.
	ErrWagonNotFree = errors.New("wagon is not free")
	ErrNoTariff     = errors.New("no tariff for this combination")
)

const (
	wagonLockPrefix = "wagon:reserved:"

	// minStationMatches triggers alternate-station widening when the exact
	// station yields fewer candidates.
	minStationMatches = 3
	maxSearchResults  = 10

	// maxDistancePenalty caps the score deduction for remote wagons.
	maxDistancePenalty = 30

	// transferSpeedKmH estimates empty-run repositioning time.
	transferSpeedKmH = 50
)

var thousand = decimal.NewFromInt(1000)

// ReservationService matches and reserves wagons under a TTL-based
// distributed lock plus a persisted status. The Lock Store key is the sole
// arbiter of who wins a contended reservation; the durable status check
// afterwards is a consistency check, not a second race.
type ReservationService struct {
	wagons    WagonStore
	locks     LockStore
	distances DistanceStore
	tariffs   TariffStore
	orders    OrderStore
	log       *zap.Logger
}

func NewReservationService(wagons WagonStore, locks LockStore, distances DistanceStore, tariffs TariffStore, orders OrderStore, log *zap.Logger) *ReservationService {
	return &ReservationService{
		wagons:    wagons,
		locks:     locks,
		distances: distances,
		tariffs:   tariffs,
		orders:    orders,
		log:       log,
	}
}

// Reserve attempts to claim a wagon for an order. Returns false when the
// wagon is contended or its durable status is not free. The Lock Store claim
// is released on every path that does not end in a committed reservation.
func (s *ReservationService) Reserve(ctx context.Context, wagonID, orderID uuid.UUID, ttl time.Duration) (bool, error) {
	key := wagonLockPrefix + wagonID.String()

	// 1. Reject unbookable cargo/wagon combinations before claiming
	// anything. Ad-hoc holds without an order row skip this.
	sched := domain.Schedule{
		WagonID: wagonID,
		OrderID: orderID,
		Status:  domain.ScheduleReserved,
		TTL:     ttl,
	}
	order, err := s.orders.GetOrder(ctx, orderID)
	switch {
	case errors.Is(err, ErrOrderNotFound):
	case err != nil:
		return false, fmt.Errorf("loading order %s: %w", orderID, err)
	default:
		if order.CargoType != "" {
			wagon, err := s.wagons.GetWagon(ctx, wagonID)
			if err != nil {
				return false, err
			}
			if err := domain.CheckLoadCompatibility(order.CargoType, "", wagon.Category); err != nil {
				return false, err
			}
		}
		sched.DepartureStation = order.DepartureStation
		sched.ArrivalStation = order.DestinationStation
		if order.DepartureDate != nil {
			sched.DepartureDate = *order.DepartureDate
		}
	}

	// 2. Fast-path contention filter: set-if-absent with TTL, no DB access
	// on a lost race. A Lock Store outage degrades to "treat as locked".
	won, err := s.locks.Acquire(ctx, key, orderID.String(), ttl)
	if err != nil {
		s.log.Error("lock store unavailable, treating wagon as locked",
			zap.String("wagon_id", wagonID.String()), zap.Error(err))
		reservationsTotal.WithLabelValues("error").Inc()
		return false, nil
	}
	if !won {
		reservationsTotal.WithLabelValues("contended").Inc()
		return false, nil
	}

	// 3-4. Verify durable status and commit the reservation in one
	// transaction. Any failure from here on releases the claim so a
	// half-failed reservation never blocks the wagon until TTL expiry.
	if err := s.wagons.ReserveWagon(ctx, sched); err != nil {
		if relErr := s.locks.Release(ctx, key); relErr != nil {
			s.log.Error("failed to release reservation lock",
				zap.String("wagon_id", wagonID.String()), zap.Error(relErr))
		}

		if errors.Is(err, ErrWagonNotFree) {
			// Lock and durable record diverged: a previous lock expired
			// before its status update completed, or the status changed
			// out-of-band.
			s.log.Warn("reservation lock acquired but wagon status diverged",
				zap.String("wagon_id", wagonID.String()))
			reservationsTotal.WithLabelValues("diverged").Inc()
			return false, nil
		}

		reservationsTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("reserving wagon %s: %w", wagonID, err)
	}

	s.log.Info("wagon reserved",
		zap.String("wagon_id", wagonID.String()),
		zap.String("order_id", orderID.String()),
		zap.Duration("ttl", ttl))
	reservationsTotal.WithLabelValues("reserved").Inc()

	return true, nil
}

// Release frees a wagon: the lock key is deleted unconditionally, the durable
// status flips back to free and any schedule row still reserved is cancelled.
// Calling Release twice is harmless.
func (s *ReservationService) Release(ctx context.Context, wagonID uuid.UUID) error {
	key := wagonLockPrefix + wagonID.String()
	if err := s.locks.Release(ctx, key); err != nil {
		// The TTL will reap the key anyway; the durable status update below
		// is what matters.
		s.log.Warn("failed to delete reservation key",
			zap.String("wagon_id", wagonID.String()), zap.Error(err))
	}

	if err := s.wagons.ReleaseWagon(ctx, wagonID); err != nil {
		return fmt.Errorf("releasing wagon %s: %w", wagonID, err)
	}

	s.log.Info("wagon released", zap.String("wagon_id", wagonID.String()))
	return nil
}

// Search returns candidate wagons for a request, scored and sorted by
// descending match score. Wagons currently locked in the Lock Store are
// excluded even when their persisted status still reads free.
func (s *ReservationService) Search(ctx context.Context, req domain.SearchRequest) ([]domain.WagonMatch, error) {
	if req.WeightKg <= 0 {
		return nil, fmt.Errorf("requested weight must be positive")
	}
	if req.CargoType != "" && req.Category != "" {
		// Reject unbookable combinations before hitting the store. An
		// unspecified packaging skips only the packaging-dependent rules.
		if err := domain.CheckLoadCompatibility(req.CargoType, req.Packaging, req.Category); err != nil {
			return nil, err
		}
	}

	onStation, err := s.wagons.FindAvailable(ctx, req.DepartureStation, req.WeightKg, req.VolumeM3)
	if err != nil {
		return nil, fmt.Errorf("searching wagons: %w", err)
	}

	matches := make([]domain.WagonMatch, 0, len(onStation))
	for _, wagon := range onStation {
		if req.Category != "" && wagon.Category != req.Category {
			continue
		}
		locked, err := s.isLocked(ctx, wagon.ID)
		if err != nil || locked {
			continue
		}
		ok, err := s.availableForDates(ctx, wagon.ID, req.RequiredDeparture)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		matches = append(matches, s.buildMatch(ctx, wagon, req, 0))
	}

	// Widen to other stations when the exact station comes up short.
	if req.AllowAlternative && len(matches) < minStationMatches {
		elsewhere, err := s.wagons.FindAvailableElsewhere(ctx, req.DepartureStation, req.WeightKg, req.VolumeM3, 20)
		if err != nil {
			return nil, fmt.Errorf("widening search: %w", err)
		}
		for _, wagon := range elsewhere {
			if len(matches) >= maxSearchResults {
				break
			}
			locked, err := s.isLocked(ctx, wagon.ID)
			if err != nil || locked {
				continue
			}
			distance, err := s.distances.DistanceKm(ctx, wagon.CurrentStation, req.DepartureStation)
			if err != nil {
				return nil, fmt.Errorf("distance lookup: %w", err)
			}
			matches = append(matches, s.buildMatch(ctx, wagon, req, distance))
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	return matches, nil
}

// isLocked treats Lock Store errors as "locked": a wagon is never offered
// when its lock state cannot be confirmed.
func (s *ReservationService) isLocked(ctx context.Context, wagonID uuid.UUID) (bool, error) {
	held, err := s.locks.Held(ctx, wagonLockPrefix+wagonID.String())
	if err != nil {
		s.log.Warn("lock check failed, excluding wagon",
			zap.String("wagon_id", wagonID.String()), zap.Error(err))
		return true, err
	}
	return held, nil
}

func (s *ReservationService) availableForDates(ctx context.Context, wagonID uuid.UUID, departure time.Time) (bool, error) {
	if departure.IsZero() {
		return true, nil
	}
	// Overlap window is the requested date plus/minus one day.
	conflict, err := s.wagons.HasScheduleConflict(ctx, wagonID, departure.AddDate(0, 0, -1), departure.AddDate(0, 0, 1))
	if err != nil {
		return false, fmt.Errorf("schedule conflict check: %w", err)
	}
	return !conflict, nil
}

func (s *ReservationService) buildMatch(ctx context.Context, wagon domain.Wagon, req domain.SearchRequest, distanceKm int) domain.WagonMatch {
	score := matchScore(wagon, req)
	if distanceKm > 0 {
		penalty := distanceKm / 10
		if penalty > maxDistancePenalty {
			penalty = maxDistancePenalty
		}
		score -= penalty
		if score < 0 {
			score = 0
		}
	}

	return domain.WagonMatch{
		WagonID:        wagon.ID,
		WagonNumber:    wagon.WagonNumber,
		Category:       wagon.Category,
		MaxWeightKg:    wagon.MaxWeightKg,
		MaxVolumeM3:    wagon.MaxVolumeM3,
		CurrentStation: wagon.CurrentStation,
		DistanceKm:     distanceKm,
		TransferHours:  distanceKm / transferSpeedKmH,
		Score:          score,
		Recommendation: recommendation(score),
		EstimatedPrice: s.estimatePrice(ctx, wagon, req),
	}
}

// matchScore starts at 100 and penalizes wasted capacity: high utilization
// (70-100%) costs little, under 50% costs the most. Requests exceeding
// capacity score zero; an exact category match earns a flat bonus.
func matchScore(wagon domain.Wagon, req domain.SearchRequest) int {
	score := 100

	weightRatio := float64(req.WeightKg) / float64(wagon.MaxWeightKg)
	switch {
	case weightRatio > 1.0:
		return 0
	case weightRatio > 0.9:
		// ideal fit, no penalty
	case weightRatio > 0.7:
		score -= 5
	case weightRatio > 0.5:
		score -= 15
	default:
		score -= 25
	}

	if req.VolumeM3 > 0 {
		volumeRatio := float64(req.VolumeM3) / float64(wagon.MaxVolumeM3)
		switch {
		case volumeRatio > 1.0:
			return 0
		case volumeRatio < 0.3:
			score -= 10
		}
	}

	if req.Category != "" && wagon.Category == req.Category {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

func recommendation(score int) string {
	switch {
	case score >= 90:
		return "ideal"
	case score >= 75:
		return "excellent"
	case score >= 60:
		return "good"
	case score >= 40:
		return "fair"
	default:
		return "not recommended"
	}
}

// estimatePrice is weight in tons x route distance x tariff rate x category
// coefficient, floored at the tariff minimum. Unpriced combinations estimate
// zero rather than failing the search.
func (s *ReservationService) estimatePrice(ctx context.Context, wagon domain.Wagon, req domain.SearchRequest) decimal.Decimal {
	cargo := req.CargoType
	if cargo == "" {
		cargo = domain.CargoStandard
	}

	tariff, err := s.tariffs.TariffFor(ctx, wagon.Category, cargo)
	if err != nil {
		if !errors.Is(err, ErrNoTariff) {
			s.log.Warn("tariff lookup failed", zap.Error(err))
		}
		return decimal.Zero
	}

	distance, err := s.distances.DistanceKm(ctx, req.DepartureStation, req.ArrivalStation)
	if err != nil {
		s.log.Warn("distance lookup failed", zap.Error(err))
		return decimal.Zero
	}

	weightTons := decimal.NewFromInt(int64(req.WeightKg)).DivRound(thousand, 2)
	price := weightTons.
		Mul(decimal.NewFromInt(int64(distance))).
		Mul(tariff.BaseRatePerKm).
		Mul(tariff.Coefficient).
		Round(2)

	if price.LessThan(tariff.MinPrice) {
		price = tariff.MinPrice
	}
	return price
}
