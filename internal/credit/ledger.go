package credit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Ledger mutates credit records inside the caller's atomic scope.
type Ledger interface {
	Open(ctx context.Context, input OpenInput) (Record, error)
	ApplyRepayment(ctx context.Context, input RepaymentInput) (RepaymentResult, error)
}

// TxLedger is the PostgreSQL Ledger implementation bound to one open
// transaction. The credit row is locked FOR UPDATE for the whole repayment
// so two concurrent repayments of the same credit serialize.
type TxLedger struct {
	tx  pgx.Tx
	now func() time.Time
}

// NewTxLedger binds a credit ledger to an open transaction.
func NewTxLedger(tx pgx.Tx) *TxLedger {
	return &TxLedger{tx: tx, now: time.Now}
}

// Open creates a credit record with status ACCEPTED.
func (l *TxLedger) Open(ctx context.Context, input OpenInput) (Record, error) {
	if !input.TotalMoney.IsPositive() {
		return Record{}, ErrInvalidAmount
	}
	rec := Record{
		TransactionID: input.TransactionID,
		Side:          input.Side,
		TotalMoney:    input.TotalMoney,
		Outstanding:   input.TotalMoney,
		IssuedDate:    input.IssuedDate,
		ReturnDate:    input.ReturnDate,
		Status:        StatusAccepted,
		Description:   input.Description,
		CustomerID:    input.CustomerID,
		IsActive:      true,
	}
	err := l.tx.QueryRow(ctx, `INSERT INTO credits (transaction_id, side, total_money, outstanding, issued_date, return_date, status, description, customer_id, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,TRUE,NOW(),NOW())
RETURNING id, created_at, updated_at`,
		rec.TransactionID, string(rec.Side), rec.TotalMoney, rec.Outstanding, rec.IssuedDate, rec.ReturnDate,
		string(rec.Status), rec.Description, nullInt(rec.CustomerID)).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ApplyRepayment reduces the outstanding balance and appends one immutable
// repayment row carrying the post-repayment balance.
func (l *TxLedger) ApplyRepayment(ctx context.Context, input RepaymentInput) (RepaymentResult, error) {
	if !input.Amount.IsPositive() {
		return RepaymentResult{}, ErrInvalidAmount
	}
	if input.Method == PayBank && input.ReceiptRef == "" {
		return RepaymentResult{}, ErrReceiptRequired
	}

	var rec Record
	err := l.tx.QueryRow(ctx, `SELECT id, outstanding, status FROM credits
WHERE transaction_id=$1 AND side=$2 AND is_active FOR UPDATE`, input.TransactionID, string(input.Side)).
		Scan(&rec.ID, &rec.Outstanding, &rec.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RepaymentResult{}, ErrCreditNotFound
		}
		return RepaymentResult{}, err
	}
	// Eligible statuses are ACCEPTED and the derived overdue state, which is
	// still ACCEPTED in storage.
	if rec.Status == StatusPayed {
		return RepaymentResult{}, ErrCreditSettled
	}
	if input.ExpectedOutstanding != nil && !input.ExpectedOutstanding.Equal(rec.Outstanding) {
		return RepaymentResult{}, ErrOutstandingMismatch
	}

	remaining, overpaid, settled := settle(rec.Outstanding, input.Amount)
	status := StatusAccepted
	if settled {
		status = StatusPayed
	}
	if _, err := l.tx.Exec(ctx, `UPDATE credits SET outstanding=$2, status=$3, updated_at=NOW() WHERE id=$1`,
		rec.ID, remaining, string(status)); err != nil {
		return RepaymentResult{}, err
	}

	repayment := Repayment{
		TransactionID:    input.TransactionID,
		RepaymentID:      input.RepaymentID,
		AmountPayed:      input.Amount,
		Method:           input.Method,
		BankID:           input.BankID,
		OutstandingAfter: remaining,
		ReceiptRef:       input.ReceiptRef,
		ActorID:          input.Actor.ID,
		ActorRole:        input.Actor.Role,
		CreatedAt:        l.now().UTC(),
	}
	err = l.tx.QueryRow(ctx, `INSERT INTO credit_repayments (transaction_id, repayment_id, amount_payed, payment_method, bank_id, outstanding_after, receipt_ref, actor_id, actor_role, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		repayment.TransactionID, repayment.RepaymentID, repayment.AmountPayed, string(repayment.Method),
		nullInt(repayment.BankID), repayment.OutstandingAfter, nullStr(repayment.ReceiptRef),
		repayment.ActorID, string(repayment.ActorRole), repayment.CreatedAt).Scan(&repayment.ID)
	if err != nil {
		return RepaymentResult{}, err
	}

	return RepaymentResult{
		Repayment:   repayment,
		Outstanding: remaining,
		Settled:     settled,
		Overpaid:    overpaid,
	}, nil
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
