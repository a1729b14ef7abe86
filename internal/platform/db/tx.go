package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merkato-erp/merkato/internal/shared"
)

// WithTx executes fn within a repeatable-read transaction. Serialization
// failures and deadlocks surface as shared.ErrTransient so callers can retry
// the whole unit of work; business failures pass through untouched.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return mapRetryable(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapRetryable(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

// SQLSTATE codes Postgres raises when concurrent transactions collide.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func mapRetryable(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected {
			return fmt.Errorf("%w: %s", shared.ErrTransient, pgErr.Code)
		}
	}
	return err
}
