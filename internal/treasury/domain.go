// Package treasury owns the cash and bank balance ledgers. Both are
// append-only: every movement inserts an immutable entry carrying the signed
// amounts and the post-movement running balance, and the current balance is
// always the balance of the most recent entry. Summation over entries is
// reserved for reconciliation.
package treasury

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/merkato-erp/merkato/internal/shared"
)

// CashEntry is one immutable row of the cash ledger.
type CashEntry struct {
	ID            int64           `json:"id"`
	TransactionID string          `json:"transaction_id"`
	AmountIn      decimal.Decimal `json:"amount_in"`
	AmountOut     decimal.Decimal `json:"amount_out"`
	Balance       decimal.Decimal `json:"balance"`
	ActorID       int64           `json:"actor_id"`
	ActorRole     shared.Role     `json:"actor_role"`
	CreatedAt     time.Time       `json:"created_at"`
}

// BankEntry is one immutable row of a bank account ledger.
type BankEntry struct {
	ID            int64           `json:"id"`
	BankID        int64           `json:"bank_id"`
	TransactionID string          `json:"transaction_id"`
	AmountIn      decimal.Decimal `json:"amount_in"`
	AmountOut     decimal.Decimal `json:"amount_out"`
	Balance       decimal.Decimal `json:"balance"`
	ReceiptRef    string          `json:"receipt_ref,omitempty"`
	ActorID       int64           `json:"actor_id"`
	ActorRole     shared.Role     `json:"actor_role"`
	CreatedAt     time.Time       `json:"created_at"`
}

// BankAccount is a registered account the bank ledger can move money on.
type BankAccount struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	AccountNumber string    `json:"account_number"`
	CreatedAt     time.Time `json:"created_at"`
}

// CashMovement describes one signed cash delta.
type CashMovement struct {
	Amount        decimal.Decimal
	TransactionID string
	Actor         shared.Actor
}

// BankMovement describes one signed delta on a bank account.
type BankMovement struct {
	BankID        int64
	Amount        decimal.Decimal
	TransactionID string
	Actor         shared.Actor
	ReceiptRef    string
}

// ErrBankAccountNotFound indicates the bank account is not registered.
var ErrBankAccountNotFound = errors.New("treasury: bank account not found")

// ErrZeroAmount indicates a movement with no effect.
var ErrZeroAmount = errors.New("treasury: movement amount must be non-zero")

// InsufficientBankBalanceError is returned when a withdrawal would drive a
// bank account below zero.
type InsufficientBankBalanceError struct {
	BankID    int64
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBankBalanceError) Error() string {
	return fmt.Sprintf("treasury: insufficient bank balance on account %d: available %s, requested %s", e.BankID, e.Available, e.Requested)
}

// split breaks a signed amount into the in/out columns of an entry.
func split(amount decimal.Decimal) (in, out decimal.Decimal) {
	if amount.IsNegative() {
		return decimal.Zero, amount.Neg()
	}
	return amount, decimal.Zero
}
