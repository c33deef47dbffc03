package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/mkoval/freightops/internal/domain"
	"github.com/mkoval/freightops/internal/service"
)

const paymentColumns = `id, order_id, external_ref, amount, status, method, company_name, tax_id,
	bik, account_number, bank_name, purpose, document, metadata, error_message, created_at, paid_at`

// execer is satisfied by both the pool and an open transaction, so payment and
// order writes share one implementation inside and outside InPaymentTx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// paymentTx runs payment and order writes inside one open transaction.
type paymentTx struct {
	tx pgx.Tx
}

func (s *Store) InPaymentTx(ctx context.Context, fn func(service.PaymentTx) error) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return fn(&paymentTx{tx: tx})
	})
}

func (t *paymentTx) CreatePayment(ctx context.Context, p *domain.Payment) error {
	return createPayment(ctx, t.tx, p)
}

func (t *paymentTx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	return updatePayment(ctx, t.tx, p)
}

func (t *paymentTx) SetOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error {
	return setOrderStatus(ctx, t.tx, id, status)
}

func (s *Store) CreatePayment(ctx context.Context, p *domain.Payment) error {
	return createPayment(ctx, s.Db, p)
}

func createPayment(ctx context.Context, db execer, p *domain.Payment) error {
	_, err := db.Exec(ctx,
		`INSERT INTO payments (id, order_id, external_ref, amount, status, method, company_name, tax_id,
			bik, account_number, bank_name, purpose, document, metadata, error_message, created_at, paid_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.OrderID, nullable(p.ExternalRef), p.Amount, p.Status, p.Method, p.CompanyName, p.TaxID,
		p.BIK, p.AccountNumber, p.BankName, p.Purpose, p.Document, p.Metadata, p.ErrorMessage, p.CreatedAt, p.PaidAt)
	return err
}

func (s *Store) PaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	row := s.Db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)

	payment, err := scanPayment(row)
	if err != nil {
		return nil, notFound(err, service.ErrPaymentNotFound)
	}
	return payment, nil
}

func (s *Store) PaymentByExternalRef(ctx context.Context, ref string) (*domain.Payment, error) {
	row := s.Db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE external_ref = $1`, ref)

	payment, err := scanPayment(row)
	if err != nil {
		return nil, notFound(err, service.ErrPaymentNotFound)
	}
	return payment, nil
}

func (s *Store) PendingPaymentByPayer(ctx context.Context, taxID string, amount decimal.Decimal) (*domain.Payment, error) {
	row := s.Db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE tax_id = $1 AND amount = $2 AND status = $3
		 ORDER BY created_at
		 LIMIT 1`,
		taxID, amount, domain.PaymentPending)

	payment, err := scanPayment(row)
	if err != nil {
		return nil, notFound(err, service.ErrPaymentNotFound)
	}
	return payment, nil
}

func (s *Store) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	return updatePayment(ctx, s.Db, p)
}

func updatePayment(ctx context.Context, db execer, p *domain.Payment) error {
	tag, err := db.Exec(ctx,
		`UPDATE payments
		 SET external_ref = $2, status = $3, document = $4, metadata = $5, error_message = $6, paid_at = $7
		 WHERE id = $1`,
		p.ID, nullable(p.ExternalRef), p.Status, p.Document, p.Metadata, p.ErrorMessage, p.PaidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrPaymentNotFound
	}
	return nil
}

func (s *Store) HasActiveDuplicate(ctx context.Context, taxID string, amount decimal.Decimal, purpose string) (bool, error) {
	var exists bool
	err := s.Db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM payments
			WHERE tax_id = $1 AND amount = $2 AND purpose = $3 AND status = ANY($4))`,
		taxID, amount, purpose,
		[]string{string(domain.PaymentPending), string(domain.PaymentProcessing), string(domain.PaymentSucceeded)},
	).Scan(&exists)
	return exists, err
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var externalRef *string
	err := row.Scan(&p.ID, &p.OrderID, &externalRef, &p.Amount, &p.Status, &p.Method, &p.CompanyName, &p.TaxID,
		&p.BIK, &p.AccountNumber, &p.BankName, &p.Purpose, &p.Document, &p.Metadata, &p.ErrorMessage, &p.CreatedAt, &p.PaidAt)
	if err != nil {
		return nil, err
	}
	if externalRef != nil {
		p.ExternalRef = *externalRef
	}
	return &p, nil
}

// nullable keeps the unique index on external_ref usable: empty strings are
// stored as NULL so unassigned references never collide.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var o domain.Order
	err := s.Db.QueryRow(ctx,
		`SELECT id, user_id, departure_station, destination_station, cargo_type, departure_date, wagon_id, status, total_price, created_at
		 FROM orders WHERE id = $1`, id,
	).Scan(&o.ID, &o.UserID, &o.DepartureStation, &o.DestinationStation, &o.CargoType, &o.DepartureDate, &o.WagonID, &o.Status, &o.TotalPrice, &o.CreatedAt)
	if err != nil {
		return nil, notFound(err, service.ErrOrderNotFound)
	}
	return &o, nil
}

func (s *Store) SetOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error {
	return setOrderStatus(ctx, s.Db, id, status)
}

func setOrderStatus(ctx context.Context, db execer, id uuid.UUID, status domain.OrderStatus) error {
	tag, err := db.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrOrderNotFound
	}
	return nil
}

// CompanyByUser resolves the authenticated user's company profile. Identity
// always comes from here, never from request payloads.
func (s *Store) CompanyByUser(ctx context.Context, userID uuid.UUID) (string, string, error) {
	var taxID, companyName string
	err := s.Db.QueryRow(ctx,
		`SELECT tax_id, company_name FROM users WHERE id = $1`, userID,
	).Scan(&taxID, &companyName)
	if err != nil {
		return "", "", notFound(err, fmt.Errorf("user %s not found", userID))
	}
	return taxID, companyName, nil
}
