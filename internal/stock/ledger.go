package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Ledger applies stock deltas inside the caller's atomic scope.
type Ledger interface {
	ApplyInbound(ctx context.Context, productTypeID int64, qty, unitPrice decimal.Decimal, transactionID string) (Snapshot, error)
	ApplyOutbound(ctx context.Context, productTypeID int64, qty decimal.Decimal, transactionID string) (Snapshot, error)
}

// inbound increases the snapshot and revalues it at the stored price. The
// incoming transaction price is recorded on the movement row but does not
// overwrite the stored valuation price.
func inbound(snap Snapshot, qty decimal.Decimal) Snapshot {
	snap.Quantity = snap.Quantity.Add(qty)
	snap.AmountMoney = snap.Quantity.Mul(snap.PricePerQuantity)
	return snap
}

// outbound decreases the snapshot, refusing to cross zero.
func outbound(snap Snapshot, qty decimal.Decimal) (Snapshot, error) {
	if qty.GreaterThan(snap.Quantity) {
		return snap, &InsufficientError{Available: snap.Quantity, Requested: qty}
	}
	snap.Quantity = snap.Quantity.Sub(qty)
	snap.AmountMoney = snap.Quantity.Mul(snap.PricePerQuantity)
	return snap, nil
}

// TxLedger is the PostgreSQL Ledger implementation bound to one open
// transaction. The snapshot row is locked FOR UPDATE so concurrent events on
// the same product type serialize.
type TxLedger struct {
	tx  pgx.Tx
	now func() time.Time
}

// NewTxLedger binds a ledger to an open transaction.
func NewTxLedger(tx pgx.Tx) *TxLedger {
	return &TxLedger{tx: tx, now: time.Now}
}

// ApplyInbound increases stock for the product type.
func (l *TxLedger) ApplyInbound(ctx context.Context, productTypeID int64, qty, unitPrice decimal.Decimal, transactionID string) (Snapshot, error) {
	if !qty.IsPositive() {
		return Snapshot{}, ErrInvalidQuantity
	}
	snap, err := l.lockSnapshot(ctx, productTypeID)
	if err != nil {
		return Snapshot{}, err
	}
	snap = inbound(snap, qty)
	if err := l.writeSnapshot(ctx, snap); err != nil {
		return Snapshot{}, err
	}
	if err := l.insertMovement(ctx, Movement{
		ProductTypeID: productTypeID,
		TransactionID: transactionID,
		Method:        MovementIn,
		Quantity:      qty,
		UnitPrice:     unitPrice,
		BalanceQty:    snap.Quantity,
	}); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// ApplyOutbound decreases stock for the product type.
func (l *TxLedger) ApplyOutbound(ctx context.Context, productTypeID int64, qty decimal.Decimal, transactionID string) (Snapshot, error) {
	if !qty.IsPositive() {
		return Snapshot{}, ErrInvalidQuantity
	}
	snap, err := l.lockSnapshot(ctx, productTypeID)
	if err != nil {
		return Snapshot{}, err
	}
	snap, err = outbound(snap, qty)
	if err != nil {
		return Snapshot{}, err
	}
	if err := l.writeSnapshot(ctx, snap); err != nil {
		return Snapshot{}, err
	}
	if err := l.insertMovement(ctx, Movement{
		ProductTypeID: productTypeID,
		TransactionID: transactionID,
		Method:        MovementOut,
		Quantity:      qty,
		UnitPrice:     snap.PricePerQuantity,
		BalanceQty:    snap.Quantity,
	}); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (l *TxLedger) lockSnapshot(ctx context.Context, productTypeID int64) (Snapshot, error) {
	var snap Snapshot
	err := l.tx.QueryRow(ctx, `SELECT product_type_id, quantity, price_per_quantity, amount_money, updated_at
FROM stock_snapshots WHERE product_type_id=$1 FOR UPDATE`, productTypeID).
		Scan(&snap.ProductTypeID, &snap.Quantity, &snap.PricePerQuantity, &snap.AmountMoney, &snap.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrStockNotFound
		}
		return Snapshot{}, err
	}
	return snap, nil
}

func (l *TxLedger) writeSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := l.tx.Exec(ctx, `UPDATE stock_snapshots SET quantity=$2, amount_money=$3, updated_at=NOW()
WHERE product_type_id=$1`, snap.ProductTypeID, snap.Quantity, snap.AmountMoney)
	return err
}

func (l *TxLedger) insertMovement(ctx context.Context, m Movement) error {
	_, err := l.tx.Exec(ctx, `INSERT INTO stock_movements (product_type_id, transaction_id, method, quantity, unit_price, balance_qty, moved_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, m.ProductTypeID, m.TransactionID, string(m.Method), m.Quantity, m.UnitPrice, m.BalanceQty, l.now().UTC())
	return err
}
