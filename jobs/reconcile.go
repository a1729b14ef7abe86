package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Reconciler cross-checks the latest running balance of each ledger against
// the sum of its movements. The write path never sums; this sweep is the
// safety net that would surface a corrupted balance chain.
type Reconciler struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(pool *pgxpool.Pool, logger *slog.Logger) *Reconciler {
	return &Reconciler{pool: pool, logger: logger}
}

// Run sweeps cash, bank and stock ledgers and logs every drift it finds.
// Drift is reported, not repaired.
func (r *Reconciler) Run(ctx context.Context) error {
	drifts := 0
	if d, err := r.checkCash(ctx); err != nil {
		return err
	} else {
		drifts += d
	}
	if d, err := r.checkBanks(ctx); err != nil {
		return err
	} else {
		drifts += d
	}
	if d, err := r.checkStock(ctx); err != nil {
		return err
	} else {
		drifts += d
	}
	r.logger.Info("ledger reconciliation finished", slog.Int("drifts", drifts))
	return nil
}

func (r *Reconciler) checkCash(ctx context.Context) (int, error) {
	var latest, summed decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE((SELECT balance FROM cash_entries ORDER BY id DESC LIMIT 1), 0),
		COALESCE(SUM(amount_in - amount_out), 0) FROM cash_entries`).Scan(&latest, &summed)
	if err != nil {
		return 0, err
	}
	if !latest.Equal(summed) {
		r.logger.Error("cash ledger drift",
			slog.String("latest_balance", latest.String()),
			slog.String("summed_balance", summed.String()))
		return 1, nil
	}
	return 0, nil
}

func (r *Reconciler) checkBanks(ctx context.Context) (int, error) {
	rows, err := r.pool.Query(ctx, `SELECT bank_id,
		(SELECT balance FROM bank_entries b2 WHERE b2.bank_id = b.bank_id ORDER BY b2.id DESC LIMIT 1),
		COALESCE(SUM(amount_in - amount_out), 0)
		FROM bank_entries b GROUP BY bank_id`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	drifts := 0
	for rows.Next() {
		var bankID int64
		var latest, summed decimal.Decimal
		if err := rows.Scan(&bankID, &latest, &summed); err != nil {
			return drifts, err
		}
		if !latest.Equal(summed) {
			r.logger.Error("bank ledger drift",
				slog.Int64("bank_id", bankID),
				slog.String("latest_balance", latest.String()),
				slog.String("summed_balance", summed.String()))
			drifts++
		}
	}
	return drifts, rows.Err()
}

func (r *Reconciler) checkStock(ctx context.Context) (int, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.product_type_id, s.quantity,
		COALESCE(SUM(CASE WHEN m.method = 'IN' THEN m.quantity ELSE -m.quantity END), 0)
		FROM stock_snapshots s
		LEFT JOIN stock_movements m ON m.product_type_id = s.product_type_id
		GROUP BY s.product_type_id, s.quantity`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	drifts := 0
	for rows.Next() {
		var productTypeID int64
		var snapshot, moved decimal.Decimal
		if err := rows.Scan(&productTypeID, &snapshot, &moved); err != nil {
			return drifts, err
		}
		if !snapshot.Equal(moved) {
			r.logger.Error("stock ledger drift",
				slog.Int64("product_type_id", productTypeID),
				slog.String("snapshot_qty", snapshot.String()),
				slog.String("movement_qty", moved.String()))
			drifts++
		}
	}
	return drifts, rows.Err()
}

// HandleTask processes TaskLedgerReconcile tasks.
func (r *Reconciler) HandleTask(ctx context.Context, t *asynq.Task) error {
	var payload LedgerReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	r.logger.Info("ledger reconciliation started",
		slog.Time("scheduled_for", payload.ScheduledFor))
	return r.Run(ctx)
}
