package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mkoval/freightops/internal/domain"
)

func testAccount(number, taxID string, balance string) *domain.Account {
	return &domain.Account{
		TaxID:         taxID,
		CompanyName:   "Company " + taxID,
		AccountNumber: number,
		Balance:       decimal.RequireFromString(balance),
		BIK:           "044525225",
		BankName:      "Sberbank",
	}
}

func TestTransferMovesFunds(t *testing.T) {
	store := newFakeAccountStore(
		testAccount("40702810000000000001", "7701", "1000.00"),
		testAccount("40702810000000000002", "7702", "500.00"),
	)
	svc := NewLedgerService(store, zap.NewNop())

	result, err := svc.Transfer(context.Background(),
		"40702810000000000001", "40702810000000000002",
		decimal.RequireFromString("250.00"), "wagon rental")
	require.NoError(t, err)

	require.True(t, result.Success)
	assert.Equal(t, "750.00", result.FromBalanceAfter.StringFixed(2))
	assert.Equal(t, "750.00", result.ToBalanceAfter.StringFixed(2))
	assert.Equal(t, "1000.00", result.FromBalanceBefore.StringFixed(2))
	assert.Equal(t, "500.00", result.ToBalanceBefore.StringFixed(2))
	assert.Equal(t, "wagon rental", result.Description)
}

func TestTransferInsufficientFundsIsNotAnError(t *testing.T) {
	store := newFakeAccountStore(
		testAccount("40702810000000000001", "7701", "1000.00"),
		testAccount("40702810000000000002", "7702", "0.00"),
	)
	svc := NewLedgerService(store, zap.NewNop())

	// One cent over the balance is rejected, balances untouched.
	result, err := svc.Transfer(context.Background(),
		"40702810000000000001", "40702810000000000002",
		decimal.RequireFromString("1000.01"), "")
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Contains(t, result.Message, "insufficient funds")
	assert.Equal(t, result.FromBalanceBefore, result.FromBalanceAfter)

	from, _ := store.GetAccount(context.Background(), "40702810000000000001")
	assert.Equal(t, "1000.00", from.Balance.StringFixed(2))

	// The exact balance amount goes through.
	result, err = svc.Transfer(context.Background(),
		"40702810000000000001", "40702810000000000002",
		decimal.RequireFromString("1000.00"), "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "0.00", result.FromBalanceAfter.StringFixed(2))
}

func TestTransferValidation(t *testing.T) {
	store := newFakeAccountStore(testAccount("40702810000000000001", "7701", "100.00"))
	svc := NewLedgerService(store, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Transfer(ctx, "40702810000000000001", "40702810000000000002", decimal.Zero, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Transfer(ctx, "40702810000000000001", "40702810000000000002", decimal.NewFromInt(-5), "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Transfer(ctx, "40702810000000000001", "40702810000000000001", decimal.NewFromInt(5), "")
	assert.ErrorIs(t, err, ErrSelfTransfer)

	_, err = svc.Transfer(ctx, "40702810000000000001", "40702810000000000099", decimal.NewFromInt(5), "")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

// Opposite-direction transfers over the same pair are the classic deadlock
// shape. The fake store uses real mutexes per account, so if lock acquisition
// were not globally ordered this test would hang.
func TestConcurrentOppositeTransfersDoNotDeadlock(t *testing.T) {
	store := newFakeAccountStore(
		testAccount("40702810000000000001", "7701", "100000.00"),
		testAccount("40702810000000000002", "7702", "100000.00"),
	)
	svc := NewLedgerService(store, zap.NewNop())

	const rounds = 200
	amount := decimal.RequireFromString("10.00")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_, err := svc.Transfer(context.Background(),
				"40702810000000000001", "40702810000000000002", amount, "")
			require.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_, err := svc.Transfer(context.Background(),
				"40702810000000000002", "40702810000000000001", amount, "")
			require.NoError(t, err)
		}
	}()
	wg.Wait()

	// Equal counts in both directions cancel out; the total is invariant
	// regardless.
	a, _ := store.GetAccount(context.Background(), "40702810000000000001")
	b, _ := store.GetAccount(context.Background(), "40702810000000000002")
	assert.Equal(t, "100000.00", a.Balance.StringFixed(2))
	assert.Equal(t, "100000.00", b.Balance.StringFixed(2))
	assert.Equal(t, "200000.00", a.Balance.Add(b.Balance).StringFixed(2))
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	store := newFakeAccountStore(
		testAccount("40702810000000000001", "7701", "100.00"),
		testAccount("40702810000000000002", "7702", "0.00"),
	)
	svc := NewLedgerService(store, zap.NewNop())

	// 20 workers race to move 10.00 each out of a 100.00 account. Exactly
	// ten can settle.
	const workers = 20
	amount := decimal.RequireFromString("10.00")

	var wg sync.WaitGroup
	var mu sync.Mutex
	settled := 0

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			result, err := svc.Transfer(context.Background(),
				"40702810000000000001", "40702810000000000002", amount, "")
			require.NoError(t, err)
			if result.Success {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, settled)
	a, _ := store.GetAccount(context.Background(), "40702810000000000001")
	b, _ := store.GetAccount(context.Background(), "40702810000000000002")
	assert.Equal(t, "0.00", a.Balance.StringFixed(2))
	assert.Equal(t, "100.00", b.Balance.StringFixed(2))
}

func TestCreateAccount(t *testing.T) {
	store := newFakeAccountStore()
	svc := NewLedgerService(store, zap.NewNop())

	account, err := svc.CreateAccount(context.Background(), CreateAccountParams{
		TaxID:       "7712345678",
		CompanyName: "Volga Logistics",
		BIK:         "044525225",
		BankName:    "Sberbank",
		IsPrimary:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, "50000000.00", account.Balance.StringFixed(2))
	assert.Len(t, account.AccountNumber, 20)
	assert.Equal(t, "40702810", account.AccountNumber[:8])
	assert.True(t, account.IsPrimary)
}

func TestCreateAccountDemotesPreviousPrimary(t *testing.T) {
	store := newFakeAccountStore()
	svc := NewLedgerService(store, zap.NewNop())
	ctx := context.Background()

	first, err := svc.CreateAccount(ctx, CreateAccountParams{
		TaxID: "7712345678", CompanyName: "Volga Logistics",
		BIK: "044525225", BankName: "Sberbank", IsPrimary: true,
	})
	require.NoError(t, err)

	second, err := svc.CreateAccount(ctx, CreateAccountParams{
		TaxID: "7712345678", CompanyName: "Volga Logistics",
		BIK: "044525226", BankName: "VTB", IsPrimary: true,
	})
	require.NoError(t, err)
	assert.True(t, second.IsPrimary)

	demoted, err := svc.GetAccount(ctx, first.AccountNumber)
	require.NoError(t, err)
	assert.False(t, demoted.IsPrimary)
}

func TestCreateAccountRequiresBankFields(t *testing.T) {
	svc := NewLedgerService(newFakeAccountStore(), zap.NewNop())

	_, err := svc.CreateAccount(context.Background(), CreateAccountParams{
		TaxID: "7712345678", CompanyName: "Volga Logistics",
	})
	assert.Error(t, err)
}
