package trade

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merkato-erp/merkato/internal/credit"
	"github.com/merkato-erp/merkato/internal/platform/db"
	"github.com/merkato-erp/merkato/internal/shared"
	"github.com/merkato-erp/merkato/internal/stock"
	"github.com/merkato-erp/merkato/internal/treasury"
)

// Repository is the PostgreSQL Store implementation. One WithTx call is one
// business event; every ledger port it hands out shares the same
// repeatable-read transaction.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside one atomic scope spanning every ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Ledgers) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, Ledgers{
			Stock:  stock.NewTxLedger(tx),
			Cash:   treasury.NewTxCashLedger(tx),
			Bank:   treasury.NewTxBankLedger(tx),
			Credit: credit.NewTxLedger(tx),
			Lines:  &txLineWriter{tx: tx},
		})
	})
}

type txLineWriter struct {
	tx pgx.Tx
}

func (w *txLineWriter) InsertBuyLine(ctx context.Context, line BuyLine) (int64, error) {
	managerID, casherID := actorColumns(line.Actor)
	var id int64
	err := w.tx.QueryRow(ctx, `INSERT INTO buy_lines (transaction_id, supplier_name, product_type_id, quantity, price_per_quantity, total, payment_method, manager_id, casher_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		line.TransactionID, line.SupplierName, line.ProductTypeID, line.Quantity, line.PricePerQuantity,
		line.Total, string(line.PaymentMethod), managerID, casherID).Scan(&id)
	return id, err
}

func (w *txLineWriter) InsertSalesLine(ctx context.Context, line SalesLine) (int64, error) {
	managerID, casherID := actorColumns(line.Actor)
	var id int64
	err := w.tx.QueryRow(ctx, `INSERT INTO sales_lines (transaction_id, customer_type, customer_id, walker_id, product_type_id, quantity, price_per_quantity, total, payment_method, manager_id, casher_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW()) RETURNING id`,
		line.TransactionID, string(line.CustomerType), nullInt(line.CustomerID), nullStr(line.WalkerID),
		line.ProductTypeID, line.Quantity, line.PricePerQuantity, line.Total,
		string(line.PaymentMethod), managerID, casherID).Scan(&id)
	return id, err
}

// actorColumns derives which relationship a line carries from the actor
// role; the two columns are mutually exclusive.
func actorColumns(a shared.Actor) (managerID, casherID any) {
	if a.Role == shared.RoleManager {
		return a.ID, nil
	}
	return nil, a.ID
}

// TransactionKind tags which side a committed transaction belongs to.
type TransactionKind string

const (
	KindBuy   TransactionKind = "BUY"
	KindSales TransactionKind = "SALES"
)

// TransactionView is a committed event as served to read endpoints.
type TransactionView struct {
	TransactionID string          `json:"transaction_id"`
	Kind          TransactionKind `json:"kind"`
	Lines         []Line          `json:"line_items"`
}

// GetTransaction returns the committed line items of one event, looking in
// the buy ledger first and the sales ledger second.
func (r *Repository) GetTransaction(ctx context.Context, transactionID string) (TransactionView, error) {
	lines, err := r.queryLines(ctx, `SELECT id, transaction_id, product_type_id, quantity, price_per_quantity, total
FROM buy_lines WHERE transaction_id=$1 ORDER BY id`, transactionID)
	if err != nil {
		return TransactionView{}, err
	}
	if len(lines) > 0 {
		return TransactionView{TransactionID: transactionID, Kind: KindBuy, Lines: lines}, nil
	}
	lines, err = r.queryLines(ctx, `SELECT id, transaction_id, product_type_id, quantity, price_per_quantity, total
FROM sales_lines WHERE transaction_id=$1 ORDER BY id`, transactionID)
	if err != nil {
		return TransactionView{}, err
	}
	if len(lines) == 0 {
		return TransactionView{}, shared.ErrNotFound
	}
	return TransactionView{TransactionID: transactionID, Kind: KindSales, Lines: lines}, nil
}

func (r *Repository) queryLines(ctx context.Context, query, transactionID string) ([]Line, error) {
	rows, err := r.pool.Query(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.TransactionID, &l.ProductTypeID, &l.Quantity, &l.PricePerQuantity, &l.Total); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
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
