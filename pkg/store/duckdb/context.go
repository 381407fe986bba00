package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

type txKey struct{}

// WithTransaction binds tx to ctx so stores write through it instead of the pool.
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func GetTransaction(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// InTransaction runs fn with a transaction bound to its context and commits
// when fn returns nil.
func InTransaction(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) error {
	logger := zerolog.Ctx(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			logger.Warn().Err(err).Msg("failed to roll back transaction")
		}
	}()

	if err := fn(WithTransaction(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
