package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus follows pending -> processing -> succeeded|failed|refunded,
// with awaiting_acceptance as an alternate pre-pending state for instruments
// requiring manual acceptance. Succeeded, failed and refunded are terminal.
type PaymentStatus string

const (
	PaymentPending            PaymentStatus = "pending"
	PaymentProcessing         PaymentStatus = "processing"
	PaymentSucceeded          PaymentStatus = "succeeded"
	PaymentFailed             PaymentStatus = "failed"
	PaymentRefunded           PaymentStatus = "refunded"
	PaymentAwaitingAcceptance PaymentStatus = "awaiting_acceptance"
)

// Terminal reports whether no further status transition is legal.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentSucceeded || s == PaymentFailed || s == PaymentRefunded
}

// Payment records one settlement attempt for an order.
type Payment struct {
	ID          uuid.UUID       `json:"id"`
	OrderID     uuid.UUID       `json:"order_id"`
	ExternalRef string          `json:"external_ref,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Status      PaymentStatus   `json:"status"`
	Method      string          `json:"method,omitempty"`

	CompanyName   string `json:"company_name,omitempty"`
	TaxID         string `json:"tax_id,omitempty"`
	BIK           string `json:"bik,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	BankName      string `json:"bank_name,omitempty"`
	Purpose       string `json:"purpose,omitempty"`
	Document      string `json:"document,omitempty"`

	Metadata     string     `json:"metadata,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
}

// PaymentEvent is an externally reported payment status change, typically a
// bank webhook. ExternalRef deduplicates deliveries.
type PaymentEvent struct {
	ExternalRef  string          `json:"payment_id"`
	OrderID      uuid.UUID       `json:"order_id,omitempty"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	TaxID        string          `json:"tax_id,omitempty"`
	CompanyName  string          `json:"company_name,omitempty"`
	Document     string          `json:"payment_document,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	OccurredAt   time.Time       `json:"payment_date,omitempty"`
}
