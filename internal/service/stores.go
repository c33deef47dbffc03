package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mkoval/freightops/internal/domain"
)

// AccountTx is the slice of account persistence available inside one ledger
// transaction. LockAccount takes a row-level exclusive lock that is held until
// the transaction ends.
type AccountTx interface {
	LockAccount(ctx context.Context, accountNumber string) (*domain.Account, error)
	// Withdraw applies a conditional decrement (balance >= amount) and
	// reports whether a row was affected.
	Withdraw(ctx context.Context, accountNumber string, amount decimal.Decimal) (bool, error)
	Deposit(ctx context.Context, accountNumber string, amount decimal.Decimal) error
	InsertAccount(ctx context.Context, account *domain.Account) error
	ClearPrimary(ctx context.Context, taxID string) error
}

// AccountStore is the durable home of company accounts. InTx runs fn inside a
// single transaction; returning an error rolls everything back.
type AccountStore interface {
	InTx(ctx context.Context, fn func(AccountTx) error) error
	GetAccount(ctx context.Context, accountNumber string) (*domain.Account, error)
	AccountsByTaxID(ctx context.Context, taxID string) ([]domain.Account, error)
	PlatformAccount(ctx context.Context) (*domain.Account, error)
	AccountNumberExists(ctx context.Context, accountNumber string) (bool, error)
}

// LockStore is the fast key-value service holding transient claims: wagon
// reservation locks and payment idempotency markers. It is never the authority
// for durable facts.
type LockStore interface {
	// Acquire atomically sets key if absent with a TTL and reports whether
	// the claim was won.
	Acquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Held(ctx context.Context, key string) (bool, error)
}

// WagonStore owns wagons and their schedule rows. ReserveWagon and
// ReleaseWagon each run in their own transaction.
type WagonStore interface {
	GetWagon(ctx context.Context, id uuid.UUID) (*domain.Wagon, error)
	// ReserveWagon flips a free wagon to reserved and creates the schedule
	// row in one transaction. Returns ErrWagonNotFree when the persisted
	// status has diverged from the caller's expectation.
	ReserveWagon(ctx context.Context, sched domain.Schedule) error
	// ReleaseWagon sets the wagon free and cancels any schedule row still
	// marked reserved. Safe to call repeatedly.
	ReleaseWagon(ctx context.Context, wagonID uuid.UUID) error
	FindAvailable(ctx context.Context, station string, weightKg, volumeM3 int) ([]domain.Wagon, error)
	FindAvailableElsewhere(ctx context.Context, excludeStation string, weightKg, volumeM3, limit int) ([]domain.Wagon, error)
	HasScheduleConflict(ctx context.Context, wagonID uuid.UUID, from, to time.Time) (bool, error)
	// StaleReservations lists schedule rows still reserved past their TTL.
	StaleReservations(ctx context.Context, now time.Time) ([]domain.Schedule, error)
}

// PaymentTx groups the payment and order writes that must commit together:
// recording a payment and flipping its order's status are one atomic unit.
type PaymentTx interface {
	CreatePayment(ctx context.Context, p *domain.Payment) error
	UpdatePayment(ctx context.Context, p *domain.Payment) error
	SetOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error
}

// PaymentStore owns payment rows. InPaymentTx runs fn inside a single
// transaction; returning an error rolls everything back.
type PaymentStore interface {
	InPaymentTx(ctx context.Context, fn func(PaymentTx) error) error
	CreatePayment(ctx context.Context, p *domain.Payment) error
	PaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	PaymentByExternalRef(ctx context.Context, ref string) (*domain.Payment, error)
	// PendingPaymentByPayer is the webhook fallback lookup for events that
	// arrive without a known external reference.
	PendingPaymentByPayer(ctx context.Context, taxID string, amount decimal.Decimal) (*domain.Payment, error)
	UpdatePayment(ctx context.Context, p *domain.Payment) error
	// HasActiveDuplicate reports an existing payment with the same payer,
	// amount and purpose in a non-failed state.
	HasActiveDuplicate(ctx context.Context, taxID string, amount decimal.Decimal, purpose string) (bool, error)
}

// OrderStore exposes the order aggregate to the engines.
type OrderStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	SetOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error
}

// DistanceStore resolves inter-station distances. Unknown pairs fall back to a
// conservative default so pricing and scoring never fail outright.
type DistanceStore interface {
	DistanceKm(ctx context.Context, from, to string) (int, error)
}

// TariffStore resolves freight tariffs. ErrNoTariff means the combination is
// not priced; search then reports a zero estimate.
type TariffStore interface {
	TariffFor(ctx context.Context, category domain.WagonCategory, cargo domain.CargoType) (*domain.Tariff, error)
}

// CompanyDirectory maps an authenticated user to their company profile. The
// payment processor trusts it, never caller-supplied identity fields.
type CompanyDirectory interface {
	CompanyByUser(ctx context.Context, userID uuid.UUID) (taxID, companyName string, err error)
}
