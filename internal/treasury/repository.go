package treasury

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/merkato-erp/merkato/internal/platform/cache"
	"github.com/merkato-erp/merkato/internal/shared"
)

// Balance is the current position of one ledger for read endpoints.
type Balance struct {
	Amount decimal.Decimal `json:"amount"`
	AsOf   time.Time       `json:"as_of"`
}

// Repository serves the read side of the treasury ledgers. Current-balance
// reads go through a short-TTL cache; the ledger entries remain the source
// of truth.
type Repository struct {
	pool   *pgxpool.Pool
	cache  *cache.Cache
	flight singleflight.Group
}

// NewRepository constructs Repository. cache may be nil.
func NewRepository(pool *pgxpool.Pool, c *cache.Cache) *Repository {
	return &Repository{pool: pool, cache: c}
}

const cashBalanceKey = "treasury:balance:cash"

func bankBalanceKey(bankID int64) string {
	return fmt.Sprintf("treasury:balance:bank:%d", bankID)
}

// CurrentCashBalance returns the balance of the latest cash entry, zero when
// the ledger is empty.
func (r *Repository) CurrentCashBalance(ctx context.Context) (Balance, error) {
	var bal Balance
	if hit, err := r.cache.Get(ctx, cashBalanceKey, &bal); err == nil && hit {
		return bal, nil
	}
	// Collapse concurrent cache misses into one DB read.
	v, err, _ := r.flight.Do(cashBalanceKey, func() (any, error) {
		var bal Balance
		err := r.pool.QueryRow(ctx, `SELECT balance, created_at FROM cash_entries ORDER BY id DESC LIMIT 1`).
			Scan(&bal.Amount, &bal.AsOf)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return Balance{}, err
			}
			bal = Balance{Amount: decimal.Zero}
		}
		_ = r.cache.Set(ctx, cashBalanceKey, bal)
		return bal, nil
	})
	if err != nil {
		return Balance{}, err
	}
	return v.(Balance), nil
}

// CurrentBankBalance returns the balance of the latest entry for one account.
func (r *Repository) CurrentBankBalance(ctx context.Context, bankID int64) (Balance, error) {
	var bal Balance
	if hit, err := r.cache.Get(ctx, bankBalanceKey(bankID), &bal); err == nil && hit {
		return bal, nil
	}
	v, err, _ := r.flight.Do(bankBalanceKey(bankID), func() (any, error) {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bank_accounts WHERE id=$1)`, bankID).Scan(&exists); err != nil {
			return Balance{}, err
		}
		if !exists {
			return Balance{}, ErrBankAccountNotFound
		}
		var bal Balance
		err := r.pool.QueryRow(ctx, `SELECT balance, created_at FROM bank_entries WHERE bank_id=$1 ORDER BY id DESC LIMIT 1`, bankID).
			Scan(&bal.Amount, &bal.AsOf)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return Balance{}, err
			}
			bal = Balance{Amount: decimal.Zero}
		}
		_ = r.cache.Set(ctx, bankBalanceKey(bankID), bal)
		return bal, nil
	})
	if err != nil {
		return Balance{}, err
	}
	return v.(Balance), nil
}

// InvalidateBalances drops the cached cash balance and the cached balance of
// every listed bank account so the next read goes back to Postgres.
func (r *Repository) InvalidateBalances(ctx context.Context, cash bool, bankIDs ...int64) error {
	keys := make([]string, 0, len(bankIDs)+1)
	if cash {
		keys = append(keys, cashBalanceKey)
	}
	for _, id := range bankIDs {
		keys = append(keys, bankBalanceKey(id))
	}
	if len(keys) == 0 {
		return nil
	}
	return r.cache.Invalidate(ctx, keys...)
}

// ListBankAccounts returns all registered accounts.
func (r *Repository) ListBankAccounts(ctx context.Context) ([]BankAccount, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, account_number, created_at FROM bank_accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	accounts := []BankAccount{}
	for rows.Next() {
		var a BankAccount
		if err := rows.Scan(&a.ID, &a.Name, &a.AccountNumber, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// CreateBankAccount registers a new account with an empty ledger.
func (r *Repository) CreateBankAccount(ctx context.Context, name, accountNumber string) (BankAccount, error) {
	if name == "" {
		return BankAccount{}, fmt.Errorf("%w: bank account name required", shared.ErrValidation)
	}
	var a BankAccount
	err := r.pool.QueryRow(ctx, `INSERT INTO bank_accounts (name, account_number, created_at) VALUES ($1,$2,NOW())
RETURNING id, name, account_number, created_at`, name, accountNumber).
		Scan(&a.ID, &a.Name, &a.AccountNumber, &a.CreatedAt)
	if err != nil {
		return BankAccount{}, err
	}
	return a, nil
}

// ListCashEntries returns the cash ledger newest first with pagination.
func (r *Repository) ListCashEntries(ctx context.Context, pageNum, perPage int) ([]CashEntry, shared.Pagination, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cash_entries`).Scan(&total); err != nil {
		return nil, shared.Pagination{}, err
	}
	page := shared.NewPagination(pageNum, perPage, total)
	rows, err := r.pool.Query(ctx, `SELECT id, transaction_id, amount_in, amount_out, balance, actor_id, actor_role, created_at
FROM cash_entries ORDER BY id DESC LIMIT $1 OFFSET $2`, page.PerPage, page.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	defer rows.Close()
	entries := []CashEntry{}
	for rows.Next() {
		var e CashEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AmountIn, &e.AmountOut, &e.Balance, &e.ActorID, &e.ActorRole, &e.CreatedAt); err != nil {
			return nil, shared.Pagination{}, err
		}
		entries = append(entries, e)
	}
	return entries, page, rows.Err()
}

// ListBankEntries returns one account's ledger newest first with pagination.
func (r *Repository) ListBankEntries(ctx context.Context, bankID int64, pageNum, perPage int) ([]BankEntry, shared.Pagination, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bank_entries WHERE bank_id=$1`, bankID).Scan(&total); err != nil {
		return nil, shared.Pagination{}, err
	}
	page := shared.NewPagination(pageNum, perPage, total)
	rows, err := r.pool.Query(ctx, `SELECT id, bank_id, transaction_id, amount_in, amount_out, balance, COALESCE(receipt_ref,''), actor_id, actor_role, created_at
FROM bank_entries WHERE bank_id=$1 ORDER BY id DESC LIMIT $2 OFFSET $3`, bankID, page.PerPage, page.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	defer rows.Close()
	entries := []BankEntry{}
	for rows.Next() {
		var e BankEntry
		if err := rows.Scan(&e.ID, &e.BankID, &e.TransactionID, &e.AmountIn, &e.AmountOut, &e.Balance, &e.ReceiptRef, &e.ActorID, &e.ActorRole, &e.CreatedAt); err != nil {
			return nil, shared.Pagination{}, err
		}
		entries = append(entries, e)
	}
	return entries, page, rows.Err()
}
