package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus tracks the order lifecycle. Only the payment processor may move an
// order to paid, and only once.
type OrderStatus string

const (
	OrderDraft           OrderStatus = "draft"
	OrderAwaitingWagon   OrderStatus = "awaiting_wagon"
	OrderAwaitingPayment OrderStatus = "awaiting_payment"
	OrderPaid            OrderStatus = "paid"
	OrderInTransit       OrderStatus = "in_transit"
	OrderCompleted       OrderStatus = "completed"
	OrderCancelled       OrderStatus = "cancelled"
)

// Order is the aggregate the engines update as side effects. It needs no
// special concurrency handling beyond ordinary saves because the payment
// processor's idempotency guarantee means only one event marks it paid.
type Order struct {
	ID                 uuid.UUID       `json:"id"`
	UserID             uuid.UUID       `json:"user_id"`
	DepartureStation   string          `json:"departure_station"`
	DestinationStation string          `json:"destination_station"`
	CargoType          CargoType       `json:"cargo_type"`
	DepartureDate      *time.Time      `json:"departure_date,omitempty"`
	WagonID            *uuid.UUID      `json:"wagon_id,omitempty"`
	Status             OrderStatus     `json:"status"`
	TotalPrice         decimal.Decimal `json:"total_price"`
	CreatedAt          time.Time       `json:"created_at"`
}
