package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account represents a company settlement account. Balance is a fixed-point
// decimal with 2 fractional digits and is never negative; it is mutated only
// through the transfer protocol.
type Account struct {
	ID            uuid.UUID       `json:"id"`
	TaxID         string          `json:"tax_id"`
	CompanyName   string          `json:"company_name"`
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	BIK           string          `json:"bik"`
	BankName      string          `json:"bank_name"`
	IsPrimary     bool            `json:"is_primary"`
	IsPlatform    bool            `json:"is_platform"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TransferResult reports the outcome of a ledger transfer. Expected business
// failures (insufficient funds) come back with Success=false rather than an
// error; balances are the authoritative post-commit values.
type TransferResult struct {
	Success           bool            `json:"success"`
	Message           string          `json:"message"`
	FromAccountNumber string          `json:"from_account_number"`
	FromTaxID         string          `json:"from_tax_id"`
	FromName          string          `json:"from_name"`
	ToAccountNumber   string          `json:"to_account_number"`
	ToTaxID           string          `json:"to_tax_id"`
	ToName            string          `json:"to_name"`
	FromBalanceBefore decimal.Decimal `json:"from_balance_before"`
	FromBalanceAfter  decimal.Decimal `json:"from_balance_after"`
	ToBalanceBefore   decimal.Decimal `json:"to_balance_before"`
	ToBalanceAfter    decimal.Decimal `json:"to_balance_after"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description"`
}

// FormatReport renders a human-readable audit summary of the transfer. The
// payment processor stores it as payment metadata.
func (r TransferResult) FormatReport() string {
	var b strings.Builder

	if r.Success {
		b.WriteString("transfer completed\n")
	} else {
		b.WriteString("transfer failed\n")
	}

	fmt.Fprintf(&b, "from: %s (%s, tax id %s)\n", r.FromAccountNumber, r.FromName, r.FromTaxID)
	fmt.Fprintf(&b, "to: %s (%s, tax id %s)\n", r.ToAccountNumber, r.ToName, r.ToTaxID)
	fmt.Fprintf(&b, "amount: %s\n", r.Amount.StringFixed(2))
	fmt.Fprintf(&b, "description: %s\n", r.Description)

	if r.Success {
		fmt.Fprintf(&b, "sender: %s -> %s\n", r.FromBalanceBefore.StringFixed(2), r.FromBalanceAfter.StringFixed(2))
		fmt.Fprintf(&b, "receiver: %s -> %s\n", r.ToBalanceBefore.StringFixed(2), r.ToBalanceAfter.StringFixed(2))
	} else {
		fmt.Fprintf(&b, "reason: %s\n", r.Message)
	}

	return b.String()
}
