package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WagonStatus is the single source of truth for wagon availability. The Lock
// Store reservation key is a derived, expiring shadow of this status.
type WagonStatus string

const (
	WagonFree        WagonStatus = "free"
	WagonReserved    WagonStatus = "reserved"
	WagonInTransit   WagonStatus = "in_transit"
	WagonMaintenance WagonStatus = "maintenance"
)

// WagonCategory enumerates physical wagon kinds.
type WagonCategory string

const (
	CategoryBoxcar       WagonCategory = "boxcar"
	CategoryTank         WagonCategory = "tank"
	CategoryFlatcar      WagonCategory = "flatcar"
	CategoryGondola      WagonCategory = "gondola"
	CategoryHopper       WagonCategory = "hopper"
	CategoryRefrigerator WagonCategory = "refrigerator"
)

// Wagon is a physical unit of rolling stock.
type Wagon struct {
	ID             uuid.UUID     `json:"id"`
	WagonNumber    string        `json:"wagon_number"`
	Category       WagonCategory `json:"category"`
	MaxWeightKg    int           `json:"max_weight_kg"`
	MaxVolumeM3    int           `json:"max_volume_m3"`
	CurrentStation string        `json:"current_station"`
	Status         WagonStatus   `json:"status"`
}

// ScheduleStatus tracks a wagon-order booking row.
type ScheduleStatus string

const (
	ScheduleReserved  ScheduleStatus = "reserved"
	ScheduleCancelled ScheduleStatus = "cancelled"
	ScheduleCompleted ScheduleStatus = "completed"
)

// Schedule links a wagon to an order for a date window. A row left in
// "reserved" after its lock TTL has lapsed is stale and gets reclaimed by the
// expiry sweep.
type Schedule struct {
	ID               uuid.UUID      `json:"id"`
	WagonID          uuid.UUID      `json:"wagon_id"`
	OrderID          uuid.UUID      `json:"order_id"`
	DepartureStation string         `json:"departure_station"`
	ArrivalStation   string         `json:"arrival_station"`
	DepartureDate    time.Time      `json:"departure_date"`
	ArrivalDate      time.Time      `json:"arrival_date"`
	Status           ScheduleStatus `json:"status"`
	TTL              time.Duration  `json:"ttl"`
	CreatedAt        time.Time      `json:"created_at"`
}

// SearchRequest describes what a dispatcher is looking for.
type SearchRequest struct {
	DepartureStation  string        `json:"departure_station"`
	ArrivalStation    string        `json:"arrival_station"`
	WeightKg          int           `json:"weight_kg"`
	VolumeM3          int           `json:"volume_m3"`
	Category          WagonCategory `json:"category,omitempty"`
	CargoType         CargoType     `json:"cargo_type,omitempty"`
	Packaging         PackagingType `json:"packaging,omitempty"`
	RequiredDeparture time.Time     `json:"required_departure,omitempty"`
	AllowAlternative  bool          `json:"allow_alternative_stations"`
}

// WagonMatch is one scored search candidate, sorted by descending Score.
type WagonMatch struct {
	WagonID        uuid.UUID       `json:"wagon_id"`
	WagonNumber    string          `json:"wagon_number"`
	Category       WagonCategory   `json:"category"`
	MaxWeightKg    int             `json:"max_weight_kg"`
	MaxVolumeM3    int             `json:"max_volume_m3"`
	CurrentStation string          `json:"current_station"`
	DistanceKm     int             `json:"distance_km"`
	TransferHours  int             `json:"transfer_hours"`
	Score          int             `json:"score"`
	Recommendation string          `json:"recommendation"`
	EstimatedPrice decimal.Decimal `json:"estimated_price"`
}
