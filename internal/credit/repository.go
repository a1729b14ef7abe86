package credit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merkato-erp/merkato/internal/shared"
)

// Repository serves the read side of the credit ledger. Mutations only ever
// happen through TxLedger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `c.id, c.transaction_id, c.side, c.total_money, c.outstanding, c.issued_date, c.return_date,
c.status, COALESCE(c.description,''), COALESCE(c.customer_id,0),
COALESCE((SELECT bl.supplier_name FROM buy_lines bl WHERE bl.transaction_id=c.transaction_id LIMIT 1),''),
c.is_active, c.created_at, c.updated_at`

// GetByTransactionID returns one credit record with its derived status.
func (r *Repository) GetByTransactionID(ctx context.Context, transactionID string) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM credits c WHERE c.transaction_id=$1 AND c.is_active`, transactionID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrCreditNotFound
		}
		return Record{}, err
	}
	rec.Status = rec.DerivedStatus(time.Now())
	return rec, nil
}

// List returns credit records matching the filter, newest first, with the
// derived overdue status applied both to the filter and the results.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Record, shared.Pagination, error) {
	where := []string{"c.is_active"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Side != "" {
		where = append(where, "c.side="+arg(string(filter.Side)))
	}
	switch filter.Status {
	case "":
	case StatusOverdue:
		where = append(where, "c.status='ACCEPTED'", "c.return_date < NOW()", "c.outstanding > 0")
	case StatusAccepted:
		// Plain ACCEPTED excludes records that derive to overdue.
		where = append(where, "c.status='ACCEPTED'", "(c.return_date >= NOW() OR c.outstanding <= 0)")
	default:
		where = append(where, "c.status="+arg(string(filter.Status)))
	}
	if filter.CustomerID > 0 {
		where = append(where, "c.customer_id="+arg(filter.CustomerID))
	}
	if filter.Counterparty != "" {
		where = append(where, `EXISTS (SELECT 1 FROM buy_lines bl WHERE bl.transaction_id=c.transaction_id AND bl.supplier_name ILIKE `+arg("%"+filter.Counterparty+"%")+`)`)
	}
	if !filter.From.IsZero() {
		where = append(where, "c.issued_date >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "c.issued_date <= "+arg(filter.To))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM credits c WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, shared.Pagination{}, err
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, total)

	query := `SELECT ` + recordColumns + ` FROM credits c WHERE ` + cond +
		` ORDER BY c.id DESC LIMIT ` + arg(page.PerPage) + ` OFFSET ` + arg(page.Offset())
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	defer rows.Close()

	now := time.Now()
	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, shared.Pagination{}, err
		}
		rec.Status = rec.DerivedStatus(now)
		records = append(records, rec)
	}
	return records, page, rows.Err()
}

// History returns the full repayment ledger for one transaction id, oldest
// first. The sequence of outstanding_after values narrates the paydown.
func (r *Repository) History(ctx context.Context, transactionID string) ([]Repayment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, transaction_id, repayment_id, amount_payed, payment_method, COALESCE(bank_id,0), outstanding_after, COALESCE(receipt_ref,''), actor_id, actor_role, created_at
FROM credit_repayments WHERE transaction_id=$1 ORDER BY id ASC`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	repayments := []Repayment{}
	for rows.Next() {
		var rep Repayment
		if err := rows.Scan(&rep.ID, &rep.TransactionID, &rep.RepaymentID, &rep.AmountPayed, &rep.Method,
			&rep.BankID, &rep.OutstandingAfter, &rep.ReceiptRef, &rep.ActorID, &rep.ActorRole, &rep.CreatedAt); err != nil {
			return nil, err
		}
		repayments = append(repayments, rep)
	}
	return repayments, rows.Err()
}

// Deactivate soft-deletes a credit record. The row and its repayment history
// remain queryable for audit.
func (r *Repository) Deactivate(ctx context.Context, transactionID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE credits SET is_active=FALSE, updated_at=NOW() WHERE transaction_id=$1 AND is_active`, transactionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCreditNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.TransactionID, &rec.Side, &rec.TotalMoney, &rec.Outstanding,
		&rec.IssuedDate, &rec.ReturnDate, &rec.Status, &rec.Description, &rec.CustomerID,
		&rec.SupplierName, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}
