package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/merkato-erp/merkato/internal/shared"
)

// Repository serves the read side of the stock ledger and product stock
// registration. Mutations of quantity only ever happen through TxLedger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetSnapshot returns the current position of one product type.
func (r *Repository) GetSnapshot(ctx context.Context, productTypeID int64) (Snapshot, error) {
	var snap Snapshot
	err := r.pool.QueryRow(ctx, `SELECT product_type_id, quantity, price_per_quantity, amount_money, updated_at
FROM stock_snapshots WHERE product_type_id=$1`, productTypeID).
		Scan(&snap.ProductTypeID, &snap.Quantity, &snap.PricePerQuantity, &snap.AmountMoney, &snap.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrStockNotFound
		}
		return Snapshot{}, err
	}
	return snap, nil
}

// RegisterProductStock seeds the snapshot row for a new product type with
// zero quantity at the given valuation price.
func (r *Repository) RegisterProductStock(ctx context.Context, productTypeID int64, pricePerQuantity decimal.Decimal) (Snapshot, error) {
	if productTypeID <= 0 || pricePerQuantity.IsNegative() {
		return Snapshot{}, shared.ErrValidation
	}
	var snap Snapshot
	err := r.pool.QueryRow(ctx, `INSERT INTO stock_snapshots (product_type_id, quantity, price_per_quantity, amount_money, updated_at)
VALUES ($1, 0, $2, 0, NOW())
ON CONFLICT (product_type_id) DO UPDATE SET price_per_quantity=EXCLUDED.price_per_quantity,
	amount_money=stock_snapshots.quantity*EXCLUDED.price_per_quantity, updated_at=NOW()
RETURNING product_type_id, quantity, price_per_quantity, amount_money, updated_at`, productTypeID, pricePerQuantity).
		Scan(&snap.ProductTypeID, &snap.Quantity, &snap.PricePerQuantity, &snap.AmountMoney, &snap.UpdatedAt)
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// ListMovements returns the movement ledger for one product type, oldest
// first, with pagination.
func (r *Repository) ListMovements(ctx context.Context, productTypeID int64, filter MovementFilter) ([]Movement, shared.Pagination, error) {
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)

	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements
WHERE product_type_id=$1 AND moved_at BETWEEN COALESCE($2, '-infinity') AND COALESCE($3, 'infinity')`,
		productTypeID, nullTime(filter.From), nullTime(filter.To)).Scan(&total)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	page = shared.NewPagination(filter.Page, filter.PerPage, total)

	rows, err := r.pool.Query(ctx, `SELECT id, product_type_id, transaction_id, method, quantity, unit_price, balance_qty, moved_at
FROM stock_movements
WHERE product_type_id=$1 AND moved_at BETWEEN COALESCE($2, '-infinity') AND COALESCE($3, 'infinity')
ORDER BY id ASC
LIMIT $4 OFFSET $5`, productTypeID, nullTime(filter.From), nullTime(filter.To), page.PerPage, page.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	defer rows.Close()

	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductTypeID, &m.TransactionID, &m.Method, &m.Quantity, &m.UnitPrice, &m.BalanceQty, &m.MovedAt); err != nil {
			return nil, shared.Pagination{}, err
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Pagination{}, err
	}
	return movements, page, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
