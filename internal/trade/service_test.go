package trade

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/merkato-erp/merkato/internal/credit"
	"github.com/merkato-erp/merkato/internal/ident"
	"github.com/merkato-erp/merkato/internal/shared"
	"github.com/merkato-erp/merkato/internal/stock"
	"github.com/merkato-erp/merkato/internal/treasury"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

var (
	manager = shared.Actor{ID: 7, Role: shared.RoleManager}
	casher  = shared.Actor{ID: 12, Role: shared.RoleCasher}
)

// memoryState mirrors the persistent model. WithTx works on a deep copy and
// swaps it in on success, so an aborted event leaves no trace.
type memoryState struct {
	snapshots    map[int64]stock.Snapshot
	movements    []stock.Movement
	cashEntries  []treasury.CashEntry
	bankAccounts map[int64]struct{}
	bankEntries  []treasury.BankEntry
	credits      map[string]credit.Record
	repayments   []credit.Repayment
	buyLines     []BuyLine
	salesLines   []SalesLine
	nextID       int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		snapshots:    map[int64]stock.Snapshot{},
		bankAccounts: map[int64]struct{}{},
		credits:      map[string]credit.Record{},
	}
}

func creditKey(side credit.Side, transactionID string) string {
	return string(side) + ":" + transactionID
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.snapshots {
		c.snapshots[k] = v
	}
	for k := range s.bankAccounts {
		c.bankAccounts[k] = struct{}{}
	}
	for k, v := range s.credits {
		c.credits[k] = v
	}
	c.movements = append(c.movements, s.movements...)
	c.cashEntries = append(c.cashEntries, s.cashEntries...)
	c.bankEntries = append(c.bankEntries, s.bankEntries...)
	c.repayments = append(c.repayments, s.repayments...)
	c.buyLines = append(c.buyLines, s.buyLines...)
	c.salesLines = append(c.salesLines, s.salesLines...)
	c.nextID = s.nextID
	return c
}

type memoryStore struct {
	state             *memoryState
	transientFailures int
	txCount           int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{state: newMemoryState()}
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, Ledgers) error) error {
	s.txCount++
	if s.transientFailures > 0 {
		s.transientFailures--
		return fmt.Errorf("%w: simulated serialization failure", shared.ErrTransient)
	}
	work := s.state.clone()
	led := Ledgers{
		Stock:  &memStock{state: work},
		Cash:   &memCash{state: work},
		Bank:   &memBank{state: work},
		Credit: &memCredit{state: work},
		Lines:  &memLines{state: work},
	}
	if err := fn(ctx, led); err != nil {
		return err
	}
	s.state = work
	return nil
}

type memStock struct{ state *memoryState }

func (m *memStock) ApplyInbound(ctx context.Context, productTypeID int64, qty, unitPrice decimal.Decimal, transactionID string) (stock.Snapshot, error) {
	snap, ok := m.state.snapshots[productTypeID]
	if !ok {
		return stock.Snapshot{}, stock.ErrStockNotFound
	}
	snap.Quantity = snap.Quantity.Add(qty)
	snap.AmountMoney = snap.Quantity.Mul(snap.PricePerQuantity)
	m.state.snapshots[productTypeID] = snap
	m.state.movements = append(m.state.movements, stock.Movement{
		ProductTypeID: productTypeID, TransactionID: transactionID,
		Method: stock.MovementIn, Quantity: qty, UnitPrice: unitPrice, BalanceQty: snap.Quantity,
	})
	return snap, nil
}

func (m *memStock) ApplyOutbound(ctx context.Context, productTypeID int64, qty decimal.Decimal, transactionID string) (stock.Snapshot, error) {
	snap, ok := m.state.snapshots[productTypeID]
	if !ok {
		return stock.Snapshot{}, stock.ErrStockNotFound
	}
	if qty.GreaterThan(snap.Quantity) {
		return stock.Snapshot{}, &stock.InsufficientError{Available: snap.Quantity, Requested: qty}
	}
	snap.Quantity = snap.Quantity.Sub(qty)
	snap.AmountMoney = snap.Quantity.Mul(snap.PricePerQuantity)
	m.state.snapshots[productTypeID] = snap
	m.state.movements = append(m.state.movements, stock.Movement{
		ProductTypeID: productTypeID, TransactionID: transactionID,
		Method: stock.MovementOut, Quantity: qty, UnitPrice: snap.PricePerQuantity, BalanceQty: snap.Quantity,
	})
	return snap, nil
}

type memCash struct{ state *memoryState }

func (m *memCash) Record(ctx context.Context, mv treasury.CashMovement) (treasury.CashEntry, error) {
	prev := decimal.Zero
	if n := len(m.state.cashEntries); n > 0 {
		prev = m.state.cashEntries[n-1].Balance
	}
	m.state.nextID++
	entry := treasury.CashEntry{
		ID: m.state.nextID, TransactionID: mv.TransactionID,
		Balance: prev.Add(mv.Amount), ActorID: mv.Actor.ID, ActorRole: mv.Actor.Role,
	}
	m.state.cashEntries = append(m.state.cashEntries, entry)
	return entry, nil
}

type memBank struct{ state *memoryState }

func (m *memBank) Record(ctx context.Context, mv treasury.BankMovement) (treasury.BankEntry, error) {
	if _, ok := m.state.bankAccounts[mv.BankID]; !ok {
		return treasury.BankEntry{}, treasury.ErrBankAccountNotFound
	}
	prev := decimal.Zero
	for i := len(m.state.bankEntries) - 1; i >= 0; i-- {
		if m.state.bankEntries[i].BankID == mv.BankID {
			prev = m.state.bankEntries[i].Balance
			break
		}
	}
	newBalance := prev.Add(mv.Amount)
	if newBalance.IsNegative() {
		return treasury.BankEntry{}, &treasury.InsufficientBankBalanceError{
			BankID: mv.BankID, Available: prev, Requested: mv.Amount.Neg(),
		}
	}
	m.state.nextID++
	entry := treasury.BankEntry{
		ID: m.state.nextID, BankID: mv.BankID, TransactionID: mv.TransactionID,
		Balance: newBalance, ReceiptRef: mv.ReceiptRef, ActorID: mv.Actor.ID, ActorRole: mv.Actor.Role,
	}
	m.state.bankEntries = append(m.state.bankEntries, entry)
	return entry, nil
}

type memCredit struct{ state *memoryState }

func (m *memCredit) Open(ctx context.Context, input credit.OpenInput) (credit.Record, error) {
	m.state.nextID++
	rec := credit.Record{
		ID: m.state.nextID, TransactionID: input.TransactionID, Side: input.Side,
		TotalMoney: input.TotalMoney, Outstanding: input.TotalMoney,
		IssuedDate: input.IssuedDate, ReturnDate: input.ReturnDate,
		Status: credit.StatusAccepted, Description: input.Description,
		CustomerID: input.CustomerID, IsActive: true,
	}
	m.state.credits[creditKey(input.Side, input.TransactionID)] = rec
	return rec, nil
}

func (m *memCredit) ApplyRepayment(ctx context.Context, input credit.RepaymentInput) (credit.RepaymentResult, error) {
	key := creditKey(input.Side, input.TransactionID)
	rec, ok := m.state.credits[key]
	if !ok || !rec.IsActive {
		return credit.RepaymentResult{}, credit.ErrCreditNotFound
	}
	if rec.Status == credit.StatusPayed {
		return credit.RepaymentResult{}, credit.ErrCreditSettled
	}
	if input.Method == credit.PayBank && input.ReceiptRef == "" {
		return credit.RepaymentResult{}, credit.ErrReceiptRequired
	}
	if input.ExpectedOutstanding != nil && !input.ExpectedOutstanding.Equal(rec.Outstanding) {
		return credit.RepaymentResult{}, credit.ErrOutstandingMismatch
	}
	remaining := rec.Outstanding.Sub(input.Amount)
	overpaid := decimal.Zero
	settled := false
	if !remaining.IsPositive() {
		overpaid = remaining.Neg()
		remaining = decimal.Zero
		settled = true
		rec.Status = credit.StatusPayed
	}
	rec.Outstanding = remaining
	m.state.credits[key] = rec
	m.state.nextID++
	repayment := credit.Repayment{
		ID: m.state.nextID, TransactionID: input.TransactionID, RepaymentID: input.RepaymentID,
		AmountPayed: input.Amount, Method: input.Method, BankID: input.BankID,
		OutstandingAfter: remaining, ReceiptRef: input.ReceiptRef,
		ActorID: input.Actor.ID, ActorRole: input.Actor.Role,
	}
	m.state.repayments = append(m.state.repayments, repayment)
	return credit.RepaymentResult{Repayment: repayment, Outstanding: remaining, Settled: settled, Overpaid: overpaid}, nil
}

type memLines struct{ state *memoryState }

func (m *memLines) InsertBuyLine(ctx context.Context, line BuyLine) (int64, error) {
	m.state.nextID++
	m.state.buyLines = append(m.state.buyLines, line)
	return m.state.nextID, nil
}

func (m *memLines) InsertSalesLine(ctx context.Context, line SalesLine) (int64, error) {
	m.state.nextID++
	m.state.salesLines = append(m.state.salesLines, line)
	return m.state.nextID, nil
}

func newTestEngine(store *memoryStore) *Engine {
	return NewEngine(store, ident.New(), nil, nil, nil, nil, EngineConfig{RetryBackoff: time.Millisecond})
}

func seedStock(store *memoryStore, productTypeID int64, qty, price string) {
	q := dec(qty)
	p := dec(price)
	store.state.snapshots[productTypeID] = stock.Snapshot{
		ProductTypeID: productTypeID, Quantity: q, PricePerQuantity: p, AmountMoney: q.Mul(p),
	}
}

func cashBalance(store *memoryStore) decimal.Decimal {
	if n := len(store.state.cashEntries); n > 0 {
		return store.state.cashEntries[n-1].Balance
	}
	return decimal.Zero
}

func TestBuyUnknownProductLeavesNoTrace(t *testing.T) {
	store := newMemoryStore()
	engine := newTestEngine(store)

	_, err := engine.Buy(context.Background(), BuyInput{
		SupplierName: "Addis Traders",
		Payment:      CashPayment(),
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("10"), PricePerQuantity: dec("5")}},
		Actor:        manager,
	})
	require.ErrorIs(t, err, stock.ErrStockNotFound)
	require.Empty(t, store.state.cashEntries)
	require.Empty(t, store.state.buyLines)
	require.Empty(t, store.state.movements)
}

func TestBuyCashUpdatesStockAndCash(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "0", "5")
	engine := newTestEngine(store)

	result, err := engine.Buy(context.Background(), BuyInput{
		SupplierName: "Addis Traders",
		Payment:      CashPayment(),
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("10"), PricePerQuantity: dec("5")}},
		Actor:        manager,
	})
	require.NoError(t, err)
	require.True(t, result.TotalMoney.Equal(dec("50")))
	require.Len(t, result.Lines, 1)

	snap := store.state.snapshots[1]
	require.True(t, snap.Quantity.Equal(dec("10")))
	require.True(t, snap.AmountMoney.Equal(dec("50")))

	// Cash may go negative on the buy side; no floor applies.
	require.True(t, cashBalance(store).Equal(dec("-50")))
	require.Len(t, store.state.buyLines, 1)
	require.Equal(t, MethodCash, store.state.buyLines[0].PaymentMethod)
}

func TestBuyRevaluesAtStoredPrice(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "4", "5")
	engine := newTestEngine(store)

	_, err := engine.Buy(context.Background(), BuyInput{
		SupplierName: "Addis Traders",
		Payment:      CashPayment(),
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("6"), PricePerQuantity: dec("9")}},
		Actor:        casher,
	})
	require.NoError(t, err)

	// Snapshot value follows the stored price, not the transaction price.
	snap := store.state.snapshots[1]
	require.True(t, snap.Quantity.Equal(dec("10")))
	require.True(t, snap.AmountMoney.Equal(dec("50")))
	// The cash outflow follows the transaction price.
	require.True(t, cashBalance(store).Equal(dec("-54")))
}

func TestBuyAcceptsRepeatedProductAcrossBatches(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "0", "5")
	engine := newTestEngine(store)

	// Two supplier batches of the same product at different unit prices
	// arrive as one purchase.
	result, err := engine.Buy(context.Background(), BuyInput{
		SupplierName: "Addis Traders",
		Payment:      CashPayment(),
		Cart: []CartItem{
			{ProductTypeID: 1, Quantity: dec("10"), PricePerQuantity: dec("5")},
			{ProductTypeID: 1, Quantity: dec("4"), PricePerQuantity: dec("6")},
		},
		Actor: manager,
	})
	require.NoError(t, err)
	require.True(t, result.TotalMoney.Equal(dec("74")))
	require.Len(t, result.Lines, 2)

	require.True(t, store.state.snapshots[1].Quantity.Equal(dec("14")))
	require.Len(t, store.state.buyLines, 2)
	require.True(t, cashBalance(store).Equal(dec("-74")))
}

func TestSellInsufficientStock(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "4", "5")
	engine := newTestEngine(store)

	_, err := engine.Sell(context.Background(), SellInput{
		CustomerType: CustomerWalker,
		Payment:      CashPayment(),
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("10"), PricePerQuantity: dec("20")}},
		Actor:        casher,
	})
	var insufficient *stock.InsufficientError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, insufficient.Available.Equal(dec("4")))
	require.True(t, insufficient.Requested.Equal(dec("10")))

	require.True(t, store.state.snapshots[1].Quantity.Equal(dec("4")))
	require.Empty(t, store.state.salesLines)
	require.Empty(t, store.state.cashEntries)
}

func TestSellCreditToRegularCustomerOpensCredit(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "5", "15")
	engine := newTestEngine(store)
	due := time.Now().Add(7 * 24 * time.Hour)

	result, err := engine.Sell(context.Background(), SellInput{
		CustomerType: CustomerRegular,
		CustomerID:   42,
		Payment:      CreditPayment(due, "weekly delivery"),
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("3"), PricePerQuantity: dec("20")}},
		Actor:        casher,
	})
	require.NoError(t, err)
	require.True(t, result.TotalMoney.Equal(dec("60")))

	rec, ok := store.state.credits[creditKey(credit.SideSales, result.TransactionID)]
	require.True(t, ok)
	require.Equal(t, credit.StatusAccepted, rec.Status)
	require.True(t, rec.TotalMoney.Equal(dec("60")))
	require.True(t, rec.Outstanding.Equal(dec("60")))
	require.Equal(t, int64(42), rec.CustomerID)
	// No money moves until the credit is repaid.
	require.Empty(t, store.state.cashEntries)
	require.Empty(t, store.state.bankEntries)
}

func TestSellToWalkerAttachesWalkerID(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "5", "15")
	engine := newTestEngine(store)

	result, err := engine.Sell(context.Background(), SellInput{
		CustomerType: CustomerWalker,
		Payment:      CashPayment(),
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("1"), PricePerQuantity: dec("15")}},
		Actor:        casher,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.WalkerID)
	require.Equal(t, result.WalkerID, store.state.salesLines[0].WalkerID)
}

func TestWalkerCreditSaleRejected(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "5", "15")
	engine := newTestEngine(store)

	_, err := engine.Sell(context.Background(), SellInput{
		CustomerType: CustomerWalker,
		Payment:      CreditPayment(time.Now().Add(24*time.Hour), ""),
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("1"), PricePerQuantity: dec("15")}},
		Actor:        casher,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, 0, store.txCount)
}

func TestSellDuplicateLineItemRejectedBeforeMutation(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "10", "5")
	engine := newTestEngine(store)

	_, err := engine.Sell(context.Background(), SellInput{
		CustomerType: CustomerWalker,
		Payment:      CashPayment(),
		Cart: []CartItem{
			{ProductTypeID: 1, Quantity: dec("1"), PricePerQuantity: dec("5")},
			{ProductTypeID: 1, Quantity: dec("2"), PricePerQuantity: dec("5")},
		},
		Actor: casher,
	})
	require.ErrorIs(t, err, ErrDuplicateLineItem)
	require.Equal(t, 0, store.txCount)
	require.True(t, store.state.snapshots[1].Quantity.Equal(dec("10")))
}

func TestBuyMultiLineAbortsAtomically(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "0", "5")
	// Product 2 has no stock row; the second line fails mid-event.
	engine := newTestEngine(store)

	_, err := engine.Buy(context.Background(), BuyInput{
		SupplierName: "Addis Traders",
		Payment:      CashPayment(),
		Cart: []CartItem{
			{ProductTypeID: 1, Quantity: dec("10"), PricePerQuantity: dec("5")},
			{ProductTypeID: 2, Quantity: dec("3"), PricePerQuantity: dec("8")},
		},
		Actor: manager,
	})
	require.ErrorIs(t, err, stock.ErrStockNotFound)

	require.True(t, store.state.snapshots[1].Quantity.IsZero())
	require.Empty(t, store.state.buyLines)
	require.Empty(t, store.state.movements)
	require.Empty(t, store.state.cashEntries)
}

func TestBuyBankInsufficientBalanceAborts(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "0", "5")
	store.state.bankAccounts[3] = struct{}{}
	engine := newTestEngine(store)

	_, err := engine.Buy(context.Background(), BuyInput{
		SupplierName: "Addis Traders",
		Payment:      BankPayment(3, ""),
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("10"), PricePerQuantity: dec("5")}},
		Actor:        manager,
	})
	var insufficient *treasury.InsufficientBankBalanceError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, store.state.snapshots[1].Quantity.IsZero())
	require.Empty(t, store.state.bankEntries)
}

func TestBuyUnknownBankAccount(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "0", "5")
	engine := newTestEngine(store)

	_, err := engine.Buy(context.Background(), BuyInput{
		SupplierName: "Addis Traders",
		Payment:      BankPayment(9, ""),
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("1"), PricePerQuantity: dec("5")}},
		Actor:        manager,
	})
	require.ErrorIs(t, err, treasury.ErrBankAccountNotFound)
}

func sellOnCredit(t *testing.T, engine *Engine, total string) string {
	t.Helper()
	result, err := engine.Sell(context.Background(), SellInput{
		CustomerType: CustomerRegular,
		CustomerID:   42,
		Payment:      CreditPayment(time.Now().Add(7*24*time.Hour), ""),
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("3"), PricePerQuantity: dec(total).Div(dec("3"))}},
		Actor:        casher,
	})
	require.NoError(t, err)
	require.True(t, result.TotalMoney.Equal(dec(total)))
	return result.TransactionID
}

func TestRepayFullCashSettlesCredit(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "10", "15")
	engine := newTestEngine(store)
	txID := sellOnCredit(t, engine, "60")

	result, err := engine.Repay(context.Background(), RepayInput{
		TransactionID: txID,
		Side:          credit.SideSales,
		Amount:        dec("60"),
		Method:        credit.PayCash,
		Actor:         casher,
	})
	require.NoError(t, err)
	require.True(t, result.Outstanding.IsZero())
	require.True(t, result.Settled)

	rec := store.state.credits[creditKey(credit.SideSales, txID)]
	require.Equal(t, credit.StatusPayed, rec.Status)
	// Collecting customer credit brings money in.
	require.True(t, cashBalance(store).Equal(dec("60")))
	require.Len(t, store.state.repayments, 1)
	require.True(t, store.state.repayments[0].OutstandingAfter.IsZero())
}

func TestRepayInstallmentsWithOverpayment(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "10", "15")
	engine := newTestEngine(store)
	txID := sellOnCredit(t, engine, "60")

	first, err := engine.Repay(context.Background(), RepayInput{
		TransactionID: txID, Side: credit.SideSales,
		Amount: dec("20"), Method: credit.PayCash, Actor: casher,
	})
	require.NoError(t, err)
	require.True(t, first.Outstanding.Equal(dec("40")))
	require.False(t, first.Settled)
	require.Equal(t, credit.StatusAccepted, store.state.credits[creditKey(credit.SideSales, txID)].Status)

	second, err := engine.Repay(context.Background(), RepayInput{
		TransactionID: txID, Side: credit.SideSales,
		Amount: dec("50"), Method: credit.PayCash, Actor: casher,
	})
	require.NoError(t, err)
	require.True(t, second.Outstanding.IsZero())
	require.True(t, second.Settled)
	require.True(t, second.Overpaid.Equal(dec("10")))
	require.Equal(t, credit.StatusPayed, store.state.credits[creditKey(credit.SideSales, txID)].Status)

	// Each repayment row narrates the paydown.
	require.Len(t, store.state.repayments, 2)
	require.True(t, store.state.repayments[0].OutstandingAfter.Equal(dec("40")))
	require.True(t, store.state.repayments[1].OutstandingAfter.IsZero())
}

func TestRepayBuyCreditMovesCashOut(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "0", "5")
	engine := newTestEngine(store)

	result, err := engine.Buy(context.Background(), BuyInput{
		SupplierName: "Addis Traders",
		Payment:      CreditPayment(time.Now().Add(30*24*time.Hour), "net 30"),
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("10"), PricePerQuantity: dec("5")}},
		Actor:        manager,
	})
	require.NoError(t, err)

	_, err = engine.Repay(context.Background(), RepayInput{
		TransactionID: result.TransactionID,
		Side:          credit.SideBuy,
		Amount:        dec("50"),
		Method:        credit.PayCash,
		Actor:         manager,
	})
	require.NoError(t, err)
	require.True(t, cashBalance(store).Equal(dec("-50")))
}

func TestRepayBankRequiresReceipt(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "10", "15")
	engine := newTestEngine(store)
	txID := sellOnCredit(t, engine, "60")
	txCountBefore := store.txCount

	_, err := engine.Repay(context.Background(), RepayInput{
		TransactionID: txID, Side: credit.SideSales,
		Amount: dec("60"), Method: credit.PayBank, BankID: 3,
		Actor: casher,
	})
	require.ErrorIs(t, err, credit.ErrReceiptRequired)
	require.Equal(t, txCountBefore, store.txCount)
}

func TestRepayUnknownCredit(t *testing.T) {
	store := newMemoryStore()
	engine := newTestEngine(store)

	_, err := engine.Repay(context.Background(), RepayInput{
		TransactionID: "TX-20250101-ZZZZZZ", Side: credit.SideSales,
		Amount: dec("10"), Method: credit.PayCash, Actor: casher,
	})
	require.ErrorIs(t, err, credit.ErrCreditNotFound)
	require.Empty(t, store.state.cashEntries)
}

func TestRepayStaleOutstandingRejected(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "10", "15")
	engine := newTestEngine(store)
	txID := sellOnCredit(t, engine, "60")

	stale := dec("45")
	_, err := engine.Repay(context.Background(), RepayInput{
		TransactionID: txID, Side: credit.SideSales,
		Amount: dec("20"), Method: credit.PayCash, Actor: casher,
		ExpectedOutstanding: &stale,
	})
	require.ErrorIs(t, err, credit.ErrOutstandingMismatch)
	require.Empty(t, store.state.repayments)
	require.True(t, cashBalance(store).IsZero())
}

func TestTransientFailureIsRetried(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "0", "5")
	store.transientFailures = 1
	engine := newTestEngine(store)

	result, err := engine.Buy(context.Background(), BuyInput{
		SupplierName: "Addis Traders",
		Payment:      CashPayment(),
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("10"), PricePerQuantity: dec("5")}},
		Actor:        manager,
	})
	require.NoError(t, err)
	require.True(t, result.TotalMoney.Equal(dec("50")))
	require.Equal(t, 2, store.txCount)
}

func TestBusinessFailureIsNotRetried(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "4", "5")
	engine := newTestEngine(store)

	_, err := engine.Sell(context.Background(), SellInput{
		CustomerType: CustomerWalker,
		Payment:      CashPayment(),
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("10"), PricePerQuantity: dec("5")}},
		Actor:        casher,
	})
	var insufficient *stock.InsufficientError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, 1, store.txCount)
}

func TestTransientFailureExhaustsAttempts(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "0", "5")
	store.transientFailures = 10
	engine := NewEngine(store, ident.New(), nil, nil, nil, nil, EngineConfig{MaxAttempts: 3, RetryBackoff: time.Millisecond})

	_, err := engine.Buy(context.Background(), BuyInput{
		SupplierName: "Addis Traders",
		Payment:      CashPayment(),
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("1"), PricePerQuantity: dec("5")}},
		Actor:        manager,
	})
	require.ErrorIs(t, err, shared.ErrTransient)
	require.Equal(t, 3, store.txCount)
}

func TestInvalidPaymentMethod(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "0", "5")
	engine := newTestEngine(store)

	_, err := engine.Buy(context.Background(), BuyInput{
		SupplierName: "Addis Traders",
		Payment:      Payment{Method: "VOUCHER"},
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("1"), PricePerQuantity: dec("5")}},
		Actor:        manager,
	})
	require.ErrorIs(t, err, ErrInvalidPaymentMethod)
	require.Equal(t, 0, store.txCount)
}

type evictionRecorder struct {
	cash    int
	bankIDs []int64
}

func (r *evictionRecorder) InvalidateBalances(ctx context.Context, cash bool, bankIDs ...int64) error {
	if cash {
		r.cash++
	}
	r.bankIDs = append(r.bankIDs, bankIDs...)
	return nil
}

func newTestEngineWithEvictions(store *memoryStore, rec *evictionRecorder) *Engine {
	return NewEngine(store, ident.New(), nil, nil, rec, nil, EngineConfig{RetryBackoff: time.Millisecond})
}

func TestBuyCashEvictsCachedCashBalance(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "0", "5")
	rec := &evictionRecorder{}
	engine := newTestEngineWithEvictions(store, rec)

	_, err := engine.Buy(context.Background(), BuyInput{
		SupplierName: "Addis Traders",
		Payment:      CashPayment(),
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("10"), PricePerQuantity: dec("5")}},
		Actor:        manager,
	})
	require.NoError(t, err)
	require.Equal(t, 1, rec.cash)
	require.Empty(t, rec.bankIDs)
}

func TestSellBankEvictsCachedBankBalance(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "5", "15")
	store.state.bankAccounts[3] = struct{}{}
	rec := &evictionRecorder{}
	engine := newTestEngineWithEvictions(store, rec)

	_, err := engine.Sell(context.Background(), SellInput{
		CustomerType: CustomerWalker,
		Payment:      BankPayment(3, "RCPT-1"),
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("2"), PricePerQuantity: dec("20")}},
		Actor:        casher,
	})
	require.NoError(t, err)
	require.Zero(t, rec.cash)
	require.Equal(t, []int64{3}, rec.bankIDs)
}

func TestCreditSaleEvictsNoBalance(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "10", "15")
	rec := &evictionRecorder{}
	engine := newTestEngineWithEvictions(store, rec)

	sellOnCredit(t, engine, "60")
	// No money moved, so nothing cached went stale.
	require.Zero(t, rec.cash)
	require.Empty(t, rec.bankIDs)
}

func TestRepayCashEvictsCachedCashBalance(t *testing.T) {
	store := newMemoryStore()
	seedStock(store, 1, "10", "15")
	rec := &evictionRecorder{}
	engine := newTestEngineWithEvictions(store, rec)
	txID := sellOnCredit(t, engine, "60")

	_, err := engine.Repay(context.Background(), RepayInput{
		TransactionID: txID,
		Side:          credit.SideSales,
		Amount:        dec("60"),
		Method:        credit.PayCash,
		Actor:         casher,
	})
	require.NoError(t, err)
	require.Equal(t, 1, rec.cash)
}

func TestFailedBuyEvictsNoBalance(t *testing.T) {
	store := newMemoryStore()
	rec := &evictionRecorder{}
	engine := newTestEngineWithEvictions(store, rec)

	_, err := engine.Buy(context.Background(), BuyInput{
		SupplierName: "Addis Traders",
		Payment:      CashPayment(),
		Cart:         []CartItem{{ProductTypeID: 1, Quantity: dec("10"), PricePerQuantity: dec("5")}},
		Actor:        manager,
	})
	require.ErrorIs(t, err, stock.ErrStockNotFound)
	require.Zero(t, rec.cash)
	require.Empty(t, rec.bankIDs)
}
