package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mkoval/freightops/internal/domain"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrSelfTransfer      = errors.New("cannot transfer to the same account")
	ErrBalanceDiverged   = errors.New("conditional debit affected no rows")
	ErrNoPlatformAccount = errors.New("platform account not found")
)

// accountNumberPrefix matches the bank routing class of corporate settlement
// accounts; the remaining 12 digits are random.
const accountNumberPrefix = "40702810"

// openingBalance is credited to every newly created account.
var openingBalance = decimal.RequireFromString("50000000.00")

// LedgerService enforces the atomic balance-transfer protocol between company
// accounts. All balance mutations in the system go through it.
type LedgerService struct {
	accounts AccountStore
	log      *zap.Logger
}

func NewLedgerService(accounts AccountStore, log *zap.Logger) *LedgerService {
	return &LedgerService{accounts: accounts, log: log}
}

// CreateAccountParams carries caller-supplied bank routing fields.
type CreateAccountParams struct {
	TaxID       string
	CompanyName string
	BIK         string
	BankName    string
	IsPrimary   bool
}

// Transfer moves amount between two accounts atomically. Insufficient funds is
// an expected outcome reported via TransferResult.Success=false, not an error.
// Row locks are always taken in ascending account-number order so that two
// opposite-direction transfers over the same pair cannot deadlock.
func (s *LedgerService) Transfer(ctx context.Context, fromNumber, toNumber string, amount decimal.Decimal, description string) (*domain.TransferResult, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if fromNumber == toNumber {
		return nil, ErrSelfTransfer
	}

	var result *domain.TransferResult

	err := s.accounts.InTx(ctx, func(tx AccountTx) error {
		// 1. Lock both rows in a globally consistent order.
		first, second := fromNumber, toNumber
		if first > second {
			first, second = second, first
		}

		locked := map[string]*domain.Account{}
		for _, number := range []string{first, second} {
			acc, err := tx.LockAccount(ctx, number)
			if err != nil {
				return fmt.Errorf("locking account %s: %w", number, err)
			}
			locked[number] = acc
		}

		from, to := locked[fromNumber], locked[toNumber]

		// 2. Re-check the balance under the lock; it may have moved since
		// any earlier read.
		if from.Balance.LessThan(amount) {
			result = failedTransfer(from, to, amount, description,
				fmt.Sprintf("insufficient funds: available %s, requested %s",
					from.Balance.StringFixed(2), amount.StringFixed(2)))
			return nil
		}

		// 3. Conditional debit as a second line of defense against lost
		// updates. Zero rows means the race was lost despite the lock.
		debited, err := tx.Withdraw(ctx, fromNumber, amount)
		if err != nil {
			return fmt.Errorf("debit failed: %w", err)
		}
		if !debited {
			return ErrBalanceDiverged
		}

		// 4. Unconditional credit; the transaction boundary makes debit and
		// credit one atomic unit.
		if err := tx.Deposit(ctx, toNumber, amount); err != nil {
			return fmt.Errorf("credit failed: %w", err)
		}

		result = &domain.TransferResult{
			Success:           true,
			Message:           "transfer completed",
			FromAccountNumber: from.AccountNumber,
			FromTaxID:         from.TaxID,
			FromName:          from.CompanyName,
			ToAccountNumber:   to.AccountNumber,
			ToTaxID:           to.TaxID,
			ToName:            to.CompanyName,
			FromBalanceBefore: from.Balance,
			ToBalanceBefore:   to.Balance,
			Amount:            amount,
			Description:       description,
		}
		return nil
	})
	if err != nil {
		transfersTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if !result.Success {
		s.log.Warn("transfer rejected",
			zap.String("from", fromNumber),
			zap.String("to", toNumber),
			zap.String("amount", amount.StringFixed(2)),
			zap.String("reason", result.Message))
		transfersTotal.WithLabelValues("rejected").Inc()
		return result, nil
	}

	// 5. Re-read both accounts post-commit for authoritative after balances.
	fromAfter, err := s.accounts.GetAccount(ctx, fromNumber)
	if err != nil {
		return nil, fmt.Errorf("re-reading sender: %w", err)
	}
	toAfter, err := s.accounts.GetAccount(ctx, toNumber)
	if err != nil {
		return nil, fmt.Errorf("re-reading receiver: %w", err)
	}
	result.FromBalanceAfter = fromAfter.Balance
	result.ToBalanceAfter = toAfter.Balance

	s.log.Info("transfer completed",
		zap.String("from", fromNumber),
		zap.String("to", toNumber),
		zap.String("amount", amount.StringFixed(2)))
	transfersTotal.WithLabelValues("completed").Inc()

	return result, nil
}

// CreateAccount provisions a new settlement account. When the account is
// primary, the primary flag on the owner's other accounts is cleared inside
// the same transaction that inserts the new one.
func (s *LedgerService) CreateAccount(ctx context.Context, p CreateAccountParams) (*domain.Account, error) {
	if p.TaxID == "" || p.CompanyName == "" {
		return nil, fmt.Errorf("tax id and company name are required")
	}
	if p.BIK == "" || p.BankName == "" {
		return nil, fmt.Errorf("bank routing fields (bik, bank name) are required")
	}

	number, err := s.generateAccountNumber(ctx)
	if err != nil {
		return nil, err
	}

	account := &domain.Account{
		TaxID:         p.TaxID,
		CompanyName:   p.CompanyName,
		AccountNumber: number,
		Balance:       openingBalance,
		BIK:           p.BIK,
		BankName:      p.BankName,
		IsPrimary:     p.IsPrimary,
	}

	err = s.accounts.InTx(ctx, func(tx AccountTx) error {
		if p.IsPrimary {
			if err := tx.ClearPrimary(ctx, p.TaxID); err != nil {
				return fmt.Errorf("clearing primary flags: %w", err)
			}
		}
		return tx.InsertAccount(ctx, account)
	})
	if err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}

	s.log.Info("account created",
		zap.String("account_number", account.AccountNumber),
		zap.String("tax_id", p.TaxID),
		zap.Bool("primary", p.IsPrimary))

	return s.accounts.GetAccount(ctx, number)
}

// GetBalance returns the current balance of an account.
func (s *LedgerService) GetBalance(ctx context.Context, accountNumber string) (decimal.Decimal, error) {
	account, err := s.accounts.GetAccount(ctx, accountNumber)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// GetAccount returns an account by number.
func (s *LedgerService) GetAccount(ctx context.Context, accountNumber string) (*domain.Account, error) {
	return s.accounts.GetAccount(ctx, accountNumber)
}

// AccountsByTaxID lists a company's accounts, primary first.
func (s *LedgerService) AccountsByTaxID(ctx context.Context, taxID string) ([]domain.Account, error) {
	return s.accounts.AccountsByTaxID(ctx, taxID)
}

// PlatformAccount resolves the singleton settlement account of the operator.
func (s *LedgerService) PlatformAccount(ctx context.Context) (*domain.Account, error) {
	return s.accounts.PlatformAccount(ctx)
}

func (s *LedgerService) generateAccountNumber(ctx context.Context) (string, error) {
	for i := 0; i < 10; i++ {
		number := fmt.Sprintf("%s%012d", accountNumberPrefix, rand.Int63n(1_000_000_000_000))
		exists, err := s.accounts.AccountNumberExists(ctx, number)
		if err != nil {
			return "", fmt.Errorf("checking account number: %w", err)
		}
		if !exists {
			return number, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique account number")
}

func failedTransfer(from, to *domain.Account, amount decimal.Decimal, description, message string) *domain.TransferResult {
	return &domain.TransferResult{
		Success:           false,
		Message:           message,
		FromAccountNumber: from.AccountNumber,
		FromTaxID:         from.TaxID,
		FromName:          from.CompanyName,
		ToAccountNumber:   to.AccountNumber,
		ToTaxID:           to.TaxID,
		ToName:            to.CompanyName,
		FromBalanceBefore: from.Balance,
		FromBalanceAfter:  from.Balance,
		ToBalanceBefore:   to.Balance,
		ToBalanceAfter:    to.Balance,
		Amount:            amount,
		Description:       description,
	}
}
