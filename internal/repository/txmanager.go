package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vietstay/payment-service/pkg/database"
)

// querier is the subset of pgx shared by pgxpool.Pool and pgx.Tx, so the
// same repository methods work inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type txContextKey struct{}

// PgxTxManager implements TxManager over a pgx pool
type PgxTxManager struct {
	db *database.PostgresDB
}

func NewPgxTxManager(db *database.PostgresDB) *PgxTxManager {
	return &PgxTxManager{db: db}
}

// InTx runs fn inside one transaction. The transaction is carried in the
// context; repositories pick it up via queryEngine. Nested calls join the
// outer transaction.
func (m *PgxTxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txContextKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queryEngine returns the context's transaction when present, else the pool
func queryEngine(ctx context.Context, db *database.PostgresDB) querier {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return tx
	}
	return db.Pool()
}
