package treasury

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// CashLedger appends signed entries to the cash ledger inside the caller's
// atomic scope. Cash has no floor: buying with cash may drive the balance
// negative, matching the established book-keeping practice of the business.
type CashLedger interface {
	Record(ctx context.Context, m CashMovement) (CashEntry, error)
}

// BankLedger appends signed entries to a bank account ledger inside the
// caller's atomic scope. Withdrawals never cross zero.
type BankLedger interface {
	Record(ctx context.Context, m BankMovement) (BankEntry, error)
}

// Advisory lock namespaces. Writers of the same ledger take the same
// transaction-scoped lock, so the read-latest-then-append sequence cannot
// interleave between two concurrent events.
const (
	lockClassCash = 1
	lockClassBank = 2
)

// TxCashLedger is the PostgreSQL CashLedger bound to one open transaction.
type TxCashLedger struct {
	tx  pgx.Tx
	now func() time.Time
}

// NewTxCashLedger binds a cash ledger to an open transaction.
func NewTxCashLedger(tx pgx.Tx) *TxCashLedger {
	return &TxCashLedger{tx: tx, now: time.Now}
}

// Record appends one cash entry.
func (l *TxCashLedger) Record(ctx context.Context, m CashMovement) (CashEntry, error) {
	if m.Amount.IsZero() {
		return CashEntry{}, ErrZeroAmount
	}
	if _, err := l.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, 0)`, lockClassCash); err != nil {
		return CashEntry{}, err
	}
	prev, err := latestBalance(ctx, l.tx, `SELECT balance FROM cash_entries ORDER BY id DESC LIMIT 1`)
	if err != nil {
		return CashEntry{}, err
	}
	in, out := split(m.Amount)
	entry := CashEntry{
		TransactionID: m.TransactionID,
		AmountIn:      in,
		AmountOut:     out,
		Balance:       prev.Add(m.Amount),
		ActorID:       m.Actor.ID,
		ActorRole:     m.Actor.Role,
		CreatedAt:     l.now().UTC(),
	}
	err = l.tx.QueryRow(ctx, `INSERT INTO cash_entries (transaction_id, amount_in, amount_out, balance, actor_id, actor_role, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		entry.TransactionID, entry.AmountIn, entry.AmountOut, entry.Balance, entry.ActorID, string(entry.ActorRole), entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return CashEntry{}, err
	}
	return entry, nil
}

// TxBankLedger is the PostgreSQL BankLedger bound to one open transaction.
type TxBankLedger struct {
	tx  pgx.Tx
	now func() time.Time
}

// NewTxBankLedger binds a bank ledger to an open transaction.
func NewTxBankLedger(tx pgx.Tx) *TxBankLedger {
	return &TxBankLedger{tx: tx, now: time.Now}
}

// Record appends one bank entry.
func (l *TxBankLedger) Record(ctx context.Context, m BankMovement) (BankEntry, error) {
	if m.Amount.IsZero() {
		return BankEntry{}, ErrZeroAmount
	}
	var exists bool
	if err := l.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bank_accounts WHERE id=$1)`, m.BankID).Scan(&exists); err != nil {
		return BankEntry{}, err
	}
	if !exists {
		return BankEntry{}, ErrBankAccountNotFound
	}
	if _, err := l.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, lockClassBank, m.BankID); err != nil {
		return BankEntry{}, err
	}
	prev, err := latestBalance(ctx, l.tx, `SELECT balance FROM bank_entries WHERE bank_id=$1 ORDER BY id DESC LIMIT 1`, m.BankID)
	if err != nil {
		return BankEntry{}, err
	}
	newBalance := prev.Add(m.Amount)
	if newBalance.IsNegative() {
		return BankEntry{}, &InsufficientBankBalanceError{BankID: m.BankID, Available: prev, Requested: m.Amount.Neg()}
	}
	in, out := split(m.Amount)
	entry := BankEntry{
		BankID:        m.BankID,
		TransactionID: m.TransactionID,
		AmountIn:      in,
		AmountOut:     out,
		Balance:       newBalance,
		ReceiptRef:    m.ReceiptRef,
		ActorID:       m.Actor.ID,
		ActorRole:     m.Actor.Role,
		CreatedAt:     l.now().UTC(),
	}
	err = l.tx.QueryRow(ctx, `INSERT INTO bank_entries (bank_id, transaction_id, amount_in, amount_out, balance, receipt_ref, actor_id, actor_role, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		entry.BankID, entry.TransactionID, entry.AmountIn, entry.AmountOut, entry.Balance, nullString(entry.ReceiptRef), entry.ActorID, string(entry.ActorRole), entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return BankEntry{}, err
	}
	return entry, nil
}

func latestBalance(ctx context.Context, tx pgx.Tx, query string, args ...any) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, query, args...).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return balance, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
