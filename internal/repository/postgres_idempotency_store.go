package repository

import (
	"context"
	"fmt"

	"github.com/vietstay/payment-service/internal/domain"
	"github.com/vietstay/payment-service/pkg/database"
)

// PostgresIdempotencyStore implements the at-most-once gate with an
// insert-if-absent on the (provider, provider_transaction_id) primary key.
// The database arbitrates races: of N concurrent inserts exactly one
// affects a row.
type PostgresIdempotencyStore struct {
	db *database.PostgresDB
}

func NewPostgresIdempotencyStore(db *database.PostgresDB) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{db: db}
}

// RecordIfNew inserts the key if absent and reports whether this caller won
func (s *PostgresIdempotencyStore) RecordIfNew(ctx context.Context, provider domain.Provider, transactionID string) (bool, error) {
	query := `
		INSERT INTO processed_transactions (provider, provider_transaction_id, first_seen_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (provider, provider_transaction_id) DO NOTHING`

	result, err := queryEngine(ctx, s.db).Exec(ctx, query, string(provider), transactionID)
	if err != nil {
		return false, fmt.Errorf("failed to record transaction: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Release removes the key after a failed reconciliation so the provider's
// redelivery gets another attempt
func (s *PostgresIdempotencyStore) Release(ctx context.Context, provider domain.Provider, transactionID string) error {
	query := `DELETE FROM processed_transactions WHERE provider = $1 AND provider_transaction_id = $2`

	_, err := queryEngine(ctx, s.db).Exec(ctx, query, string(provider), transactionID)
	if err != nil {
		return fmt.Errorf("failed to release transaction: %w", err)
	}
	return nil
}
