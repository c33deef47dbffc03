package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mkoval/freightops/internal/domain"
	"github.com/mkoval/freightops/internal/service"
)

const accountColumns = `id, tax_id, company_name, account_number, balance, bik, bank_name,
	is_primary, is_platform, created_at, updated_at`

// accountTx wraps one open transaction with the account operations the ledger
// engine needs. Row locks taken here live until the transaction ends.
type accountTx struct {
	tx pgx.Tx
}

func (t *accountTx) LockAccount(ctx context.Context, accountNumber string) (*domain.Account, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_number = $1 FOR UPDATE`,
		accountNumber)

	account, err := scanAccount(row)
	if err != nil {
		return nil, notFound(err, service.ErrAccountNotFound)
	}
	return account, nil
}

func (t *accountTx) Withdraw(ctx context.Context, accountNumber string, amount decimal.Decimal) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance = balance - $1, updated_at = now()
		 WHERE account_number = $2 AND balance >= $1`,
		amount, accountNumber)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *accountTx) Deposit(ctx context.Context, accountNumber string, amount decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance = balance + $1, updated_at = now()
		 WHERE account_number = $2`,
		amount, accountNumber)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrAccountNotFound
	}
	return nil
}

func (t *accountTx) InsertAccount(ctx context.Context, a *domain.Account) error {
	return t.tx.QueryRow(ctx,
		`INSERT INTO accounts (tax_id, company_name, account_number, balance, bik, bank_name, is_primary, is_platform)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		a.TaxID, a.CompanyName, a.AccountNumber, a.Balance, a.BIK, a.BankName, a.IsPrimary, a.IsPlatform,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (t *accountTx) ClearPrimary(ctx context.Context, taxID string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE accounts SET is_primary = FALSE, updated_at = now() WHERE tax_id = $1 AND is_primary`,
		taxID)
	return err
}

func (s *Store) GetAccount(ctx context.Context, accountNumber string) (*domain.Account, error) {
	row := s.Db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`,
		accountNumber)

	account, err := scanAccount(row)
	if err != nil {
		return nil, notFound(err, service.ErrAccountNotFound)
	}
	return account, nil
}

func (s *Store) AccountsByTaxID(ctx context.Context, taxID string) ([]domain.Account, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE tax_id = $1 ORDER BY is_primary DESC, created_at DESC`,
		taxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// PlatformAccount returns the operator settlement account. A partial unique
// index on is_platform guarantees at most one row.
func (s *Store) PlatformAccount(ctx context.Context) (*domain.Account, error) {
	row := s.Db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE is_platform`)

	account, err := scanAccount(row)
	if err != nil {
		return nil, notFound(err, service.ErrNoPlatformAccount)
	}
	return account, nil
}

func (s *Store) AccountNumberExists(ctx context.Context, accountNumber string) (bool, error) {
	var exists bool
	err := s.Db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE account_number = $1)`,
		accountNumber).Scan(&exists)
	return exists, err
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.TaxID, &a.CompanyName, &a.AccountNumber, &a.Balance,
		&a.BIK, &a.BankName, &a.IsPrimary, &a.IsPlatform, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
