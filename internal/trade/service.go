package trade

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/merkato-erp/merkato/internal/credit"
	"github.com/merkato-erp/merkato/internal/ident"
	"github.com/merkato-erp/merkato/internal/shared"
	"github.com/merkato-erp/merkato/internal/stock"
	"github.com/merkato-erp/merkato/internal/treasury"
)

// Ledgers are the transaction-scoped ports one business event writes
// through. All of them share the same atomic scope.
type Ledgers struct {
	Stock  stock.Ledger
	Cash   treasury.CashLedger
	Bank   treasury.BankLedger
	Credit credit.Ledger
	Lines  LineWriter
}

// LineWriter persists immutable buy/sales line items.
type LineWriter interface {
	InsertBuyLine(ctx context.Context, line BuyLine) (int64, error)
	InsertSalesLine(ctx context.Context, line SalesLine) (int64, error)
}

// Store opens one atomic scope per business event.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Ledgers) error) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// BalanceInvalidator drops cached treasury balances after an event commits,
// so reads never serve a balance the event already moved.
type BalanceInvalidator interface {
	InvalidateBalances(ctx context.Context, cash bool, bankIDs ...int64) error
}

// Engine coordinates buy, sell and repayment events.
type Engine struct {
	store       Store
	ids         *ident.Generator
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	balances    BalanceInvalidator
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

// EngineConfig groups optional settings.
type EngineConfig struct {
	// MaxAttempts bounds how often a whole event is replayed after a
	// transient store failure. Business failures are never retried.
	MaxAttempts  int
	RetryBackoff time.Duration
}

// NewEngine builds Engine. audit, idem and balances may be nil.
func NewEngine(store Store, ids *ident.Generator, audit AuditPort, idem *shared.IdempotencyStore, balances BalanceInvalidator, logger *slog.Logger, cfg EngineConfig) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 50 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:       store,
		ids:         ids,
		audit:       audit,
		idempotency: idem,
		balances:    balances,
		logger:      logger,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.RetryBackoff,
		now:         time.Now,
	}
}

// Buy records one purchase event: stock in, payment out.
func (e *Engine) Buy(ctx context.Context, input BuyInput) (EventResult, error) {
	if err := input.validate(); err != nil {
		return EventResult{}, err
	}
	release, err := e.claimKey(ctx, input.IdempotencyKey, "buy")
	if err != nil {
		return EventResult{}, err
	}

	var result EventResult
	err = e.withRetry(ctx, func() error {
		txID := e.ids.TransactionID()
		res := EventResult{TransactionID: txID, TotalMoney: decimal.Zero}
		err := e.store.WithTx(ctx, func(ctx context.Context, led Ledgers) error {
			for _, item := range input.Cart {
				if _, err := led.Stock.ApplyInbound(ctx, item.ProductTypeID, item.Quantity, item.PricePerQuantity, txID); err != nil {
					return err
				}
				lineTotal := item.Total()
				id, err := led.Lines.InsertBuyLine(ctx, BuyLine{
					TransactionID:    txID,
					SupplierName:     input.SupplierName,
					ProductTypeID:    item.ProductTypeID,
					Quantity:         item.Quantity,
					PricePerQuantity: item.PricePerQuantity,
					Total:            lineTotal,
					PaymentMethod:    input.Payment.Method,
					Actor:            input.Actor,
				})
				if err != nil {
					return err
				}
				res.Lines = append(res.Lines, Line{
					ID:               id,
					TransactionID:    txID,
					ProductTypeID:    item.ProductTypeID,
					Quantity:         item.Quantity,
					PricePerQuantity: item.PricePerQuantity,
					Total:            lineTotal,
				})
				res.TotalMoney = res.TotalMoney.Add(lineTotal)
			}
			return e.settle(ctx, led, input.Payment, settleParams{
				transactionID: txID,
				// Buying moves money out of the business.
				amount:     res.TotalMoney.Neg(),
				actor:      input.Actor,
				creditSide: credit.SideBuy,
				total:      res.TotalMoney,
			})
		})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		release(ctx)
		return EventResult{}, err
	}
	e.dropStaleBalances(ctx, input.Payment.Method, input.Payment.BankID)
	e.recordAudit(ctx, input.Actor, "trade:buy", result.TransactionID, map[string]any{
		"supplier":       input.SupplierName,
		"payment_method": string(input.Payment.Method),
		"total_money":    result.TotalMoney.String(),
		"line_count":     len(result.Lines),
	})
	return result, nil
}

// Sell records one sale event: stock out, payment in.
func (e *Engine) Sell(ctx context.Context, input SellInput) (EventResult, error) {
	if err := input.validate(); err != nil {
		return EventResult{}, err
	}
	release, err := e.claimKey(ctx, input.IdempotencyKey, "sell")
	if err != nil {
		return EventResult{}, err
	}

	walkerID := ""
	if input.CustomerType == CustomerWalker {
		walkerID = e.ids.WalkerID()
	}

	var result EventResult
	err = e.withRetry(ctx, func() error {
		txID := e.ids.TransactionID()
		res := EventResult{TransactionID: txID, TotalMoney: decimal.Zero, WalkerID: walkerID}
		err := e.store.WithTx(ctx, func(ctx context.Context, led Ledgers) error {
			for _, item := range input.Cart {
				if _, err := led.Stock.ApplyOutbound(ctx, item.ProductTypeID, item.Quantity, txID); err != nil {
					return err
				}
				lineTotal := item.Total()
				id, err := led.Lines.InsertSalesLine(ctx, SalesLine{
					TransactionID:    txID,
					CustomerType:     input.CustomerType,
					CustomerID:       input.CustomerID,
					WalkerID:         walkerID,
					ProductTypeID:    item.ProductTypeID,
					Quantity:         item.Quantity,
					PricePerQuantity: item.PricePerQuantity,
					Total:            lineTotal,
					PaymentMethod:    input.Payment.Method,
					Actor:            input.Actor,
				})
				if err != nil {
					return err
				}
				res.Lines = append(res.Lines, Line{
					ID:               id,
					TransactionID:    txID,
					ProductTypeID:    item.ProductTypeID,
					Quantity:         item.Quantity,
					PricePerQuantity: item.PricePerQuantity,
					Total:            lineTotal,
				})
				res.TotalMoney = res.TotalMoney.Add(lineTotal)
			}
			return e.settle(ctx, led, input.Payment, settleParams{
				transactionID: txID,
				// Selling moves money into the business.
				amount:     res.TotalMoney,
				actor:      input.Actor,
				creditSide: credit.SideSales,
				customerID: input.CustomerID,
				total:      res.TotalMoney,
			})
		})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		release(ctx)
		return EventResult{}, err
	}
	e.dropStaleBalances(ctx, input.Payment.Method, input.Payment.BankID)
	e.recordAudit(ctx, input.Actor, "trade:sell", result.TransactionID, map[string]any{
		"customer_type":  string(input.CustomerType),
		"payment_method": string(input.Payment.Method),
		"total_money":    result.TotalMoney.String(),
		"line_count":     len(result.Lines),
	})
	return result, nil
}

// Repay applies one partial repayment to an open credit, moving the money
// through the matching treasury ledger in the same atomic scope.
func (e *Engine) Repay(ctx context.Context, input RepayInput) (RepayResult, error) {
	if err := input.validate(); err != nil {
		return RepayResult{}, err
	}

	var result RepayResult
	err := e.withRetry(ctx, func() error {
		repaymentID := e.ids.RepaymentID()
		var res RepayResult
		err := e.store.WithTx(ctx, func(ctx context.Context, led Ledgers) error {
			// Repaying supplier credit pays money out; collecting customer
			// credit brings money in.
			signed := input.Amount
			if input.Side == credit.SideBuy {
				signed = signed.Neg()
			}
			switch input.Method {
			case credit.PayCash:
				if _, err := led.Cash.Record(ctx, treasury.CashMovement{
					Amount:        signed,
					TransactionID: input.TransactionID,
					Actor:         input.Actor,
				}); err != nil {
					return err
				}
			case credit.PayBank:
				if _, err := led.Bank.Record(ctx, treasury.BankMovement{
					BankID:        input.BankID,
					Amount:        signed,
					TransactionID: input.TransactionID,
					Actor:         input.Actor,
					ReceiptRef:    input.ReceiptRef,
				}); err != nil {
					return err
				}
			}
			applied, err := led.Credit.ApplyRepayment(ctx, credit.RepaymentInput{
				TransactionID:       input.TransactionID,
				Side:                input.Side,
				RepaymentID:         repaymentID,
				Amount:              input.Amount,
				Method:              input.Method,
				BankID:              input.BankID,
				ReceiptRef:          input.ReceiptRef,
				Actor:               input.Actor,
				ExpectedOutstanding: input.ExpectedOutstanding,
			})
			if err != nil {
				return err
			}
			res = RepayResult{
				TransactionID: input.TransactionID,
				RepaymentID:   repaymentID,
				AmountPayed:   input.Amount,
				Outstanding:   applied.Outstanding,
				Settled:       applied.Settled,
				Overpaid:      applied.Overpaid,
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return RepayResult{}, err
	}

	switch input.Method {
	case credit.PayCash:
		e.dropStaleBalances(ctx, MethodCash, 0)
	case credit.PayBank:
		e.dropStaleBalances(ctx, MethodBank, input.BankID)
	}
	e.recordAudit(ctx, input.Actor, "credit:repay", result.RepaymentID, map[string]any{
		"transaction_id": result.TransactionID,
		"side":           string(input.Side),
		"amount_payed":   result.AmountPayed.String(),
		"outstanding":    result.Outstanding.String(),
	})
	if result.Overpaid.IsPositive() {
		// Clamped out of the stored balance; keep the remainder visible for
		// manual reconciliation.
		e.logger.Warn("credit overpayment clamped",
			slog.String("transaction_id", result.TransactionID),
			slog.String("overpaid", result.Overpaid.String()))
		e.recordAudit(ctx, input.Actor, "credit:overpayment", result.RepaymentID, map[string]any{
			"transaction_id": result.TransactionID,
			"overpaid":       result.Overpaid.String(),
		})
	}
	return result, nil
}

type settleParams struct {
	transactionID string
	amount        decimal.Decimal
	total         decimal.Decimal
	actor         shared.Actor
	creditSide    credit.Side
	customerID    int64
}

func (e *Engine) settle(ctx context.Context, led Ledgers, payment Payment, p settleParams) error {
	switch payment.Method {
	case MethodCredit:
		_, err := led.Credit.Open(ctx, credit.OpenInput{
			TransactionID: p.transactionID,
			Side:          p.creditSide,
			TotalMoney:    p.total,
			IssuedDate:    e.now().UTC(),
			ReturnDate:    payment.ReturnDate,
			Description:   payment.Description,
			CustomerID:    p.customerID,
		})
		return err
	case MethodBank:
		_, err := led.Bank.Record(ctx, treasury.BankMovement{
			BankID:        payment.BankID,
			Amount:        p.amount,
			TransactionID: p.transactionID,
			Actor:         p.actor,
			ReceiptRef:    payment.ReceiptRef,
		})
		return err
	case MethodCash:
		_, err := led.Cash.Record(ctx, treasury.CashMovement{
			Amount:        p.amount,
			TransactionID: p.transactionID,
			Actor:         p.actor,
		})
		return err
	default:
		return ErrInvalidPaymentMethod
	}
}

// withRetry replays the whole event on transient store failures only.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, shared.ErrTransient) {
			return err
		}
		if attempt == e.maxAttempts {
			break
		}
		e.logger.Warn("transient store failure, retrying event",
			slog.Int("attempt", attempt), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.backoff * time.Duration(attempt)):
		}
	}
	return err
}

// claimKey reserves the idempotency key and returns a release func used to
// free it when the event aborts.
func (e *Engine) claimKey(ctx context.Context, key, module string) (func(context.Context), error) {
	if e.idempotency == nil || key == "" {
		return func(context.Context) {}, nil
	}
	if err := e.idempotency.CheckAndInsert(ctx, key, module); err != nil {
		return nil, err
	}
	return func(ctx context.Context) {
		_ = e.idempotency.Delete(ctx, key)
	}, nil
}

// dropStaleBalances evicts the cached balance the committed event just moved.
// Best effort: a failed eviction only extends a read-side TTL.
func (e *Engine) dropStaleBalances(ctx context.Context, method Method, bankID int64) {
	if e.balances == nil {
		return
	}
	var err error
	switch method {
	case MethodCash:
		err = e.balances.InvalidateBalances(ctx, true)
	case MethodBank:
		err = e.balances.InvalidateBalances(ctx, false, bankID)
	default:
		return
	}
	if err != nil {
		e.logger.Warn("balance cache invalidation failed",
			slog.String("method", string(method)),
			slog.Any("error", err))
	}
}

func (e *Engine) recordAudit(ctx context.Context, actor shared.Actor, action, entityID string, meta map[string]any) {
	if e.audit == nil {
		return
	}
	_ = e.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "trade_event",
		EntityID: entityID,
		Meta:     meta,
	})
}
