package repository

import (
	"context"
	"fmt"

	"github.com/vietstay/payment-service/internal/domain"
	"github.com/vietstay/payment-service/pkg/database"
)

// PostgresWebhookEventRepository implements the append-only webhook audit
// trail. Rows are never updated beyond their verification verdict and never
// deleted.
type PostgresWebhookEventRepository struct {
	db *database.PostgresDB
}

func NewPostgresWebhookEventRepository(db *database.PostgresDB) *PostgresWebhookEventRepository {
	return &PostgresWebhookEventRepository{db: db}
}

// Append records a raw delivery before verification
func (r *PostgresWebhookEventRepository) Append(ctx context.Context, event *domain.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (id, provider, raw_payload, signature_valid, outcome_applied, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := queryEngine(ctx, r.db).Exec(ctx, query,
		event.ID,
		string(event.Provider),
		event.RawPayload,
		event.SignatureValid,
		event.OutcomeApplied,
		event.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append webhook event: %w", err)
	}
	return nil
}

// MarkResult records the verification verdict for an appended event
func (r *PostgresWebhookEventRepository) MarkResult(ctx context.Context, id string, signatureValid, outcomeApplied bool) error {
	query := `UPDATE webhook_events SET signature_valid = $2, outcome_applied = $3 WHERE id = $1`

	_, err := queryEngine(ctx, r.db).Exec(ctx, query, id, signatureValid, outcomeApplied)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event: %w", err)
	}
	return nil
}
