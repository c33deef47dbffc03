package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mkoval/freightops/internal/domain"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderAlreadyPaid  = errors.New("order is already paid")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrDuplicateEvent    = errors.New("payment event already processed")
	ErrDuplicatePayment  = errors.New("an equivalent payment already exists")
	ErrAccountNotOwned   = errors.New("account belongs to a different company")
	ErrMissingBankFields = errors.New("bik and bank name are required to create an account")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownEventState = errors.New("unknown payment event status")
)

const (
	paymentMarkerPrefix = "payment:processed:"
	// paymentMarkerTTL bounds how long a processed external reference stays
	// deduplicated.
	paymentMarkerTTL = 24 * time.Hour
)

// PaymentService creates corporate payments through the ledger engine and
// ingests externally reported payment events exactly once.
type PaymentService struct {
	payments  PaymentStore
	orders    OrderStore
	ledger    *LedgerService
	locks     LockStore
	directory CompanyDirectory
	log       *zap.Logger
}

func NewPaymentService(payments PaymentStore, orders OrderStore, ledger *LedgerService, locks LockStore, directory CompanyDirectory, log *zap.Logger) *PaymentService {
	return &PaymentService{
		payments:  payments,
		orders:    orders,
		ledger:    ledger,
		locks:     locks,
		directory: directory,
		log:       log,
	}
}

// CreatePaymentParams is the corporate payment intake. Identity fields are
// resolved through the company directory, never trusted from the caller.
type CreatePaymentParams struct {
	OrderID       uuid.UUID
	UserID        uuid.UUID
	Amount        decimal.Decimal
	AccountNumber string
	BIK           string
	BankName      string
	Purpose       string
	Method        string
}

// CreatePayment debits the payer account and credits the platform account via
// the ledger engine, then records the payment as succeeded and marks the
// order paid. All rejections are structured business errors.
func (s *PaymentService) CreatePayment(ctx context.Context, p CreatePaymentParams) (*domain.Payment, error) {
	if !p.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	taxID, companyName, err := s.directory.CompanyByUser(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolving company: %w", err)
	}

	// 1. An already-paid order cannot be paid twice.
	order, err := s.orders.GetOrder(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.OrderPaid {
		return nil, ErrOrderAlreadyPaid
	}

	// 2. Resolve or create the payer account.
	payer, err := s.ledger.GetAccount(ctx, p.AccountNumber)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		if p.BIK == "" || p.BankName == "" {
			return nil, ErrMissingBankFields
		}
		payer, err = s.ledger.CreateAccount(ctx, CreateAccountParams{
			TaxID:       taxID,
			CompanyName: companyName,
			BIK:         p.BIK,
			BankName:    p.BankName,
		})
		if err != nil {
			return nil, err
		}
		s.log.Info("payer account auto-created",
			zap.String("account_number", payer.AccountNumber),
			zap.String("tax_id", taxID))
	case err != nil:
		return nil, err
	default:
		if payer.TaxID != taxID {
			return nil, ErrAccountNotOwned
		}
	}

	duplicate, err := s.payments.HasActiveDuplicate(ctx, taxID, p.Amount, p.Purpose)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if duplicate {
		return nil, ErrDuplicatePayment
	}

	// 3. Balance precheck; the transfer re-checks under the row lock.
	if payer.Balance.LessThan(p.Amount) {
		return nil, fmt.Errorf("%w: available %s, requested %s",
			ErrInsufficientFunds, payer.Balance.StringFixed(2), p.Amount.StringFixed(2))
	}

	platform, err := s.ledger.PlatformAccount(ctx)
	if err != nil {
		return nil, err
	}

	// 4. Debit payer, credit platform. A structured transfer failure is
	// surfaced verbatim.
	result, err := s.ledger.Transfer(ctx, payer.AccountNumber, platform.AccountNumber, p.Amount,
		"freight payment: "+p.Purpose)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientFunds, result.Message)
	}

	// 5. Record the payment as succeeded with the transfer audit summary.
	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:            uuid.New(),
		OrderID:       p.OrderID,
		ExternalRef:   generatePaymentRef(),
		Amount:        p.Amount,
		Status:        domain.PaymentSucceeded,
		Method:        p.Method,
		CompanyName:   companyName,
		TaxID:         taxID,
		BIK:           payer.BIK,
		AccountNumber: payer.AccountNumber,
		BankName:      payer.BankName,
		Purpose:       p.Purpose,
		Document:      generateDocumentNumber(now),
		Metadata:      result.FormatReport(),
		CreatedAt:     now,
		PaidAt:        &now,
	}
	// The payment row and the order flip commit together: a failure of
	// either leaves no record behind, so the caller can safely retry.
	err = s.payments.InPaymentTx(ctx, func(tx PaymentTx) error {
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return fmt.Errorf("recording payment: %w", err)
		}
		if err := tx.SetOrderStatus(ctx, p.OrderID, domain.OrderPaid); err != nil {
			return fmt.Errorf("marking order paid: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payment created",
		zap.String("payment_id", payment.ID.String()),
		zap.String("order_id", p.OrderID.String()),
		zap.String("amount", p.Amount.StringFixed(2)))

	return payment, nil
}

// HandleEvent ingests one externally reported payment status change exactly
// once. The idempotency marker is claimed before any durable mutation to
// block duplicate concurrent deliveries, and released on any processing error
// so a legitimate retry is not permanently swallowed.
func (s *PaymentService) HandleEvent(ctx context.Context, event domain.PaymentEvent) (*domain.Payment, error) {
	if event.ExternalRef == "" {
		return nil, fmt.Errorf("external payment reference is required")
	}

	key := paymentMarkerPrefix + event.ExternalRef

	// 1. Claim the idempotency marker. A Lock Store outage degrades to
	// "already processed" rather than risking a double apply.
	claimed, err := s.locks.Acquire(ctx, key, "processed", paymentMarkerTTL)
	if err != nil {
		s.log.Error("lock store unavailable, rejecting event as duplicate",
			zap.String("external_ref", event.ExternalRef), zap.Error(err))
		paymentEventsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: idempotency store unavailable", ErrDuplicateEvent)
	}
	if !claimed {
		s.log.Warn("duplicate payment event rejected",
			zap.String("external_ref", event.ExternalRef))
		paymentEventsTotal.WithLabelValues("duplicate").Inc()
		return nil, ErrDuplicateEvent
	}

	payment, err := s.applyEvent(ctx, event)
	if err != nil {
		// Release the claim so a retry of the same external event can
		// succeed after a transient failure.
		if relErr := s.locks.Release(ctx, key); relErr != nil {
			s.log.Error("failed to release idempotency marker",
				zap.String("external_ref", event.ExternalRef), zap.Error(relErr))
		}
		paymentEventsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	paymentEventsTotal.WithLabelValues("applied").Inc()
	return payment, nil
}

func (s *PaymentService) applyEvent(ctx context.Context, event domain.PaymentEvent) (*domain.Payment, error) {
	// 2. Locate by external reference, falling back to payer + amount among
	// pending payments.
	payment, err := s.payments.PaymentByExternalRef(ctx, event.ExternalRef)
	if errors.Is(err, ErrPaymentNotFound) && event.TaxID != "" && event.Amount.IsPositive() {
		payment, err = s.payments.PendingPaymentByPayer(ctx, event.TaxID, event.Amount)
	}
	if err != nil {
		return nil, err
	}

	if payment.Status.Terminal() {
		return nil, fmt.Errorf("payment %s is already %s", payment.ID, payment.Status)
	}

	// 3. Apply the transition.
	markPaid := false
	switch event.Status {
	case "succeeded":
		now := time.Now().UTC()
		payment.Status = domain.PaymentSucceeded
		payment.PaidAt = &now
		if event.Document != "" {
			payment.Document = event.Document
		}
		if payment.ExternalRef == "" {
			payment.ExternalRef = event.ExternalRef
		}
		markPaid = payment.OrderID != uuid.Nil

	case "processing":
		payment.Status = domain.PaymentProcessing

	case "awaiting_acceptance":
		payment.Status = domain.PaymentAwaitingAcceptance

	case "failed":
		payment.Status = domain.PaymentFailed
		payment.ErrorMessage = event.ErrorMessage

	case "refunded":
		payment.Status = domain.PaymentRefunded

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventState, event.Status)
	}

	// 4. Persist payment and order in one transaction, so a failure of
	// either write leaves no half-applied event behind.
	err = s.payments.InPaymentTx(ctx, func(tx PaymentTx) error {
		if markPaid {
			if err := tx.SetOrderStatus(ctx, payment.OrderID, domain.OrderPaid); err != nil {
				return fmt.Errorf("marking order paid: %w", err)
			}
		}
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return fmt.Errorf("persisting payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if markPaid {
		s.log.Info("order marked paid",
			zap.String("order_id", payment.OrderID.String()),
			zap.String("external_ref", event.ExternalRef))
	}

	s.log.Info("payment event applied",
		zap.String("external_ref", event.ExternalRef),
		zap.String("status", string(payment.Status)))

	return payment, nil
}

// PaymentByID returns a single payment.
func (s *PaymentService) PaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return s.payments.PaymentByID(ctx, id)
}

// IsOrderPaid reports whether the order has been settled.
func (s *PaymentService) IsOrderPaid(ctx context.Context, orderID uuid.UUID) (bool, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	return order.Status == domain.OrderPaid, nil
}

func generatePaymentRef() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "pay_" + hex.EncodeToString(buf)
}

// generateDocumentNumber carries a random suffix so two payments settled in
// the same second cannot collide.
func generateDocumentNumber(now time.Time) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("FD-%d-%s", now.Unix(), hex.EncodeToString(buf))
}
