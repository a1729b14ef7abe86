// Package trade orchestrates business events: purchases, sales and credit
// repayments. Each event mutates the stock, cash/bank and credit ledgers as
// one atomic unit; a failure anywhere discards every mutation of the event.
package trade

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/merkato-erp/merkato/internal/credit"
	"github.com/merkato-erp/merkato/internal/shared"
)

// Method enumerates how a buy or sell is settled.
type Method string

const (
	MethodCash   Method = "CASH"
	MethodBank   Method = "BANK"
	MethodCredit Method = "CREDIT"
)

// Payment is a settlement choice with its variant payload. Use the
// constructors; a zero Payment fails validation.
type Payment struct {
	Method      Method
	BankID      int64     // BANK
	ReceiptRef  string    // BANK, optional for buy/sell
	ReturnDate  time.Time // CREDIT due date
	Description string    // CREDIT
}

// CashPayment settles immediately from the cash drawer.
func CashPayment() Payment {
	return Payment{Method: MethodCash}
}

// BankPayment settles against a registered bank account.
func BankPayment(bankID int64, receiptRef string) Payment {
	return Payment{Method: MethodBank, BankID: bankID, ReceiptRef: receiptRef}
}

// CreditPayment defers settlement until the due date.
func CreditPayment(returnDate time.Time, description string) Payment {
	return Payment{Method: MethodCredit, ReturnDate: returnDate, Description: description}
}

func (p Payment) validate() error {
	switch p.Method {
	case MethodCash:
		return nil
	case MethodBank:
		if p.BankID <= 0 {
			return validationErr("bank_id required for bank payment")
		}
		return nil
	case MethodCredit:
		if p.ReturnDate.IsZero() {
			return validationErr("return_date required for credit payment")
		}
		return nil
	default:
		return ErrInvalidPaymentMethod
	}
}

// CustomerType distinguishes registered customers from walk-ins.
type CustomerType string

const (
	CustomerWalker  CustomerType = "WALKER"
	CustomerRegular CustomerType = "REGULAR"
)

// CartItem is one requested line of a buy or sell.
type CartItem struct {
	ProductTypeID    int64
	Quantity         decimal.Decimal
	PricePerQuantity decimal.Decimal
}

// Total returns quantity times unit price.
func (c CartItem) Total() decimal.Decimal {
	return c.Quantity.Mul(c.PricePerQuantity)
}

// BuyInput describes one purchase event.
type BuyInput struct {
	SupplierName   string
	Payment        Payment
	Cart           []CartItem
	Actor          shared.Actor
	IdempotencyKey string
}

// SellInput describes one sale event.
type SellInput struct {
	CustomerType   CustomerType
	CustomerID     int64
	Payment        Payment
	Cart           []CartItem
	Actor          shared.Actor
	IdempotencyKey string
}

// RepayInput describes one credit repayment event.
type RepayInput struct {
	TransactionID       string
	Side                credit.Side
	Amount              decimal.Decimal
	Method              credit.PayMethod
	BankID              int64
	ReceiptRef          string
	ExpectedOutstanding *decimal.Decimal
	Actor               shared.Actor
}

// Line is one committed line item of a buy or sell.
type Line struct {
	ID               int64           `json:"id"`
	TransactionID    string          `json:"transaction_id"`
	ProductTypeID    int64           `json:"product_type_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	PricePerQuantity decimal.Decimal `json:"price_per_quantity"`
	Total            decimal.Decimal `json:"total"`
}

// EventResult is the committed outcome of a buy or sell.
type EventResult struct {
	TransactionID string          `json:"transaction_id"`
	TotalMoney    decimal.Decimal `json:"total_money"`
	WalkerID      string          `json:"walker_id,omitempty"`
	Lines         []Line          `json:"line_items"`
}

// RepayResult is the committed outcome of a repayment.
type RepayResult struct {
	TransactionID string          `json:"transaction_id"`
	RepaymentID   string          `json:"repayment_id"`
	AmountPayed   decimal.Decimal `json:"amount_payed"`
	Outstanding   decimal.Decimal `json:"outstanding_balance"`
	Settled       bool            `json:"settled"`
	Overpaid      decimal.Decimal `json:"overpaid,omitempty"`
}

// BuyLine is the persisted form of one purchase line item.
type BuyLine struct {
	TransactionID    string
	SupplierName     string
	ProductTypeID    int64
	Quantity         decimal.Decimal
	PricePerQuantity decimal.Decimal
	Total            decimal.Decimal
	PaymentMethod    Method
	Actor            shared.Actor
}

// SalesLine is the persisted form of one sale line item.
type SalesLine struct {
	TransactionID    string
	CustomerType     CustomerType
	CustomerID       int64
	WalkerID         string
	ProductTypeID    int64
	Quantity         decimal.Decimal
	PricePerQuantity decimal.Decimal
	Total            decimal.Decimal
	PaymentMethod    Method
	Actor            shared.Actor
}

// ErrInvalidPaymentMethod indicates a payment method outside the allowed set.
var ErrInvalidPaymentMethod = errors.New("trade: invalid payment method")

// ErrDuplicateLineItem indicates a cart with a repeated product type.
var ErrDuplicateLineItem = errors.New("trade: duplicate product type in cart")

func validationErr(msg string) error {
	return fmt.Errorf("%w: %s", shared.ErrValidation, msg)
}

func (in BuyInput) validate() error {
	if !in.Actor.Valid() {
		return validationErr("acting user required")
	}
	if in.SupplierName == "" {
		return validationErr("supplier name required")
	}
	if err := validateCart(in.Cart); err != nil {
		return err
	}
	return in.Payment.validate()
}

func (in SellInput) validate() error {
	if !in.Actor.Valid() {
		return validationErr("acting user required")
	}
	switch in.CustomerType {
	case CustomerRegular:
		if in.CustomerID <= 0 {
			return validationErr("customer_id required for regular customer")
		}
	case CustomerWalker:
		if in.Payment.Method == MethodCredit {
			return validationErr("credit sale requires a registered customer")
		}
	default:
		return validationErr("customer_type must be WALKER or REGULAR")
	}
	if err := validateCart(in.Cart); err != nil {
		return err
	}
	// A sale line is one product type; the same type twice is an input
	// mistake. Buys may repeat a type across batches at different prices.
	seen := make(map[int64]struct{}, len(in.Cart))
	for _, item := range in.Cart {
		if _, dup := seen[item.ProductTypeID]; dup {
			return ErrDuplicateLineItem
		}
		seen[item.ProductTypeID] = struct{}{}
	}
	return in.Payment.validate()
}

func (in RepayInput) validate() error {
	if !in.Actor.Valid() {
		return validationErr("acting user required")
	}
	if in.TransactionID == "" {
		return validationErr("transaction_id required")
	}
	if in.Side != credit.SideBuy && in.Side != credit.SideSales {
		return validationErr("credit side must be BUY or SALES")
	}
	if !in.Amount.IsPositive() {
		return validationErr("amount_payed must be positive")
	}
	switch in.Method {
	case credit.PayCash:
	case credit.PayBank:
		if in.BankID <= 0 {
			return validationErr("bank_id required for bank repayment")
		}
		if in.ReceiptRef == "" {
			return credit.ErrReceiptRequired
		}
	default:
		return ErrInvalidPaymentMethod
	}
	return nil
}

func validateCart(cart []CartItem) error {
	if len(cart) == 0 {
		return validationErr("cart_list must not be empty")
	}
	for _, item := range cart {
		if item.ProductTypeID <= 0 {
			return validationErr("product_type_id required on every cart line")
		}
		if !item.Quantity.IsPositive() {
			return validationErr("quantity must be positive on every cart line")
		}
		if item.PricePerQuantity.IsNegative() {
			return validationErr("price_per_quantity must not be negative")
		}
	}
	return nil
}
