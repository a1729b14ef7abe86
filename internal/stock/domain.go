package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementMethod enumerates ledger movement directions.
type MovementMethod string

const (
	// MovementIn represents an inbound movement (purchase).
	MovementIn MovementMethod = "IN"
	// MovementOut represents an outbound movement (sale).
	MovementOut MovementMethod = "OUT"
)

// Snapshot is the current stock position of one product type. Quantity can
// never go negative; AmountMoney is always Quantity times PricePerQuantity.
type Snapshot struct {
	ProductTypeID    int64           `json:"product_type_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	PricePerQuantity decimal.Decimal `json:"price_per_quantity"`
	AmountMoney      decimal.Decimal `json:"amount_money"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Movement is one immutable row of the stock ledger.
type Movement struct {
	ID            int64           `json:"id"`
	ProductTypeID int64           `json:"product_type_id"`
	TransactionID string          `json:"transaction_id"`
	Method        MovementMethod  `json:"method"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	BalanceQty    decimal.Decimal `json:"balance_qty"`
	MovedAt       time.Time       `json:"moved_at"`
}

// MovementFilter filters ledger listings.
type MovementFilter struct {
	From    time.Time
	To      time.Time
	Page    int
	PerPage int
}

// ErrStockNotFound indicates no stock row exists for the product type.
var ErrStockNotFound = errors.New("stock: product stock not found")

// ErrInvalidQuantity indicates a non-positive movement quantity.
var ErrInvalidQuantity = errors.New("stock: quantity must be positive")

// InsufficientError is returned when an outbound movement exceeds the
// available quantity. It carries both sides so callers can present a precise
// message.
type InsufficientError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("stock: insufficient quantity: available %s, requested %s", e.Available, e.Requested)
}
