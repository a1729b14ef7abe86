// Package credit owns outstanding-balance records for supplier credit (buy
// side) and customer credit (sales side) and the repayment ledger that
// reduces them over multiple partial payments.
package credit

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/merkato-erp/merkato/internal/shared"
)

// Side distinguishes supplier credit from customer credit.
type Side string

const (
	// SideBuy is credit the business owes a supplier.
	SideBuy Side = "BUY"
	// SideSales is credit a customer owes the business.
	SideSales Side = "SALES"
)

// Status enumerates credit record statuses. Overdue is never persisted; it
// is derived at read time from the due date.
type Status string

const (
	StatusAccepted Status = "ACCEPTED"
	StatusPayed    Status = "PAYED"
	StatusOverdue  Status = "OVERDUE"
)

// PayMethod enumerates repayment settlement channels.
type PayMethod string

const (
	PayCash PayMethod = "CASH"
	PayBank PayMethod = "BANK"
)

// Record is one credit obligation, keyed by the transaction id of the event
// that opened it. TotalMoney is the original obligation; Outstanding shrinks
// with every repayment and never goes negative.
type Record struct {
	ID            int64           `json:"id"`
	TransactionID string          `json:"transaction_id"`
	Side          Side            `json:"side"`
	TotalMoney    decimal.Decimal `json:"total_money"`
	Outstanding   decimal.Decimal `json:"outstanding"`
	IssuedDate    time.Time       `json:"issued_date"`
	ReturnDate    time.Time       `json:"return_date"`
	Status        Status          `json:"status"`
	Description   string          `json:"description,omitempty"`
	CustomerID    int64           `json:"customer_id,omitempty"`
	SupplierName  string          `json:"supplier_name,omitempty"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// DerivedStatus applies the read-time overdue rule.
func (r Record) DerivedStatus(now time.Time) Status {
	if r.Status == StatusAccepted && now.After(r.ReturnDate) && r.Outstanding.IsPositive() {
		return StatusOverdue
	}
	return r.Status
}

// Repayment is one immutable row of the repayment ledger.
type Repayment struct {
	ID               int64           `json:"id"`
	TransactionID    string          `json:"transaction_id"`
	RepaymentID      string          `json:"repayment_id"`
	AmountPayed      decimal.Decimal `json:"amount_payed"`
	Method           PayMethod       `json:"payment_method"`
	BankID           int64           `json:"bank_id,omitempty"`
	OutstandingAfter decimal.Decimal `json:"outstanding_balance"`
	ReceiptRef       string          `json:"receipt_ref,omitempty"`
	ActorID          int64           `json:"actor_id"`
	ActorRole        shared.Role     `json:"actor_role"`
	CreatedAt        time.Time       `json:"created_at"`
}

// OpenInput describes a new credit obligation.
type OpenInput struct {
	TransactionID string
	Side          Side
	TotalMoney    decimal.Decimal
	IssuedDate    time.Time
	ReturnDate    time.Time
	Description   string
	CustomerID    int64
}

// RepaymentInput describes one partial repayment.
type RepaymentInput struct {
	TransactionID string
	Side          Side
	RepaymentID   string
	Amount        decimal.Decimal
	Method        PayMethod
	BankID        int64
	ReceiptRef    string
	Actor         shared.Actor
	// ExpectedOutstanding is the client's view of the balance before this
	// repayment. When set it is cross-checked against the stored row so a
	// stale client cannot repay against a balance it has not seen.
	ExpectedOutstanding *decimal.Decimal
}

// RepaymentResult reports the effect of one repayment.
type RepaymentResult struct {
	Repayment   Repayment
	Outstanding decimal.Decimal
	Settled     bool
	// Overpaid is the remainder above the obligation, clamped out of the
	// stored balance and surfaced for manual reconciliation.
	Overpaid decimal.Decimal
}

// Filter narrows credit listings.
type Filter struct {
	Side         Side
	Status       Status
	CustomerID   int64
	Counterparty string
	From         time.Time
	To           time.Time
	Page         int
	PerPage      int
}

var (
	// ErrCreditNotFound indicates no open credit exists for the transaction id.
	ErrCreditNotFound = errors.New("credit: record not found")
	// ErrCreditSettled indicates the credit is already fully paid.
	ErrCreditSettled = errors.New("credit: record already settled")
	// ErrReceiptRequired indicates a bank repayment without a receipt reference.
	ErrReceiptRequired = errors.New("credit: receipt reference required for bank repayment")
	// ErrOutstandingMismatch indicates the client's view of the balance is stale.
	ErrOutstandingMismatch = errors.New("credit: outstanding balance mismatch, reload and retry")
	// ErrInvalidAmount indicates a non-positive repayment amount.
	ErrInvalidAmount = errors.New("credit: repayment amount must be positive")
)

// settle reduces an outstanding balance by a repayment, clamping at zero.
func settle(outstanding, amount decimal.Decimal) (remaining, overpaid decimal.Decimal, settled bool) {
	remaining = outstanding.Sub(amount)
	if remaining.IsPositive() {
		return remaining, decimal.Zero, false
	}
	return decimal.Zero, remaining.Neg(), true
}
