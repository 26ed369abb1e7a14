package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vietstay/payment-service/internal/domain"
	"github.com/vietstay/payment-service/pkg/database"
)

// PostgreSQL error code for unique violation
const pgUniqueViolationCode = "23505"

// PostgresOrderRepository implements OrderRepository using PostgreSQL
type PostgresOrderRepository struct {
	db *database.PostgresDB
}

// NewPostgresOrderRepository creates a new PostgreSQL order repository
func NewPostgresOrderRepository(db *database.PostgresDB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

// orderColumns defines the columns to select for order queries
const orderColumns = `
	id, booking_id, provider, amount, currency, status,
	provider_transaction_id, transfer_code, pay_url,
	error_code, error_message, created_at, updated_at, verified_at
`

// Create creates a new payment order record. The partial unique index on
// (booking_id) WHERE status = 'pending' enforces one open order per booking.
func (r *PostgresOrderRepository) Create(ctx context.Context, order *domain.PaymentOrder) error {
	query := `
		INSERT INTO payment_orders (
			id, booking_id, provider, amount, currency, status,
			provider_transaction_id, transfer_code, pay_url,
			error_code, error_message, created_at, updated_at, verified_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)`

	_, err := queryEngine(ctx, r.db).Exec(ctx, query,
		order.ID,
		order.BookingID,
		string(order.Provider),
		order.Amount,
		order.Currency,
		string(order.Status),
		nullString(order.ProviderTransactionID),
		nullString(order.TransferCode),
		nullString(order.PayURL),
		nullString(order.ErrorCode),
		nullString(order.ErrorMessage),
		order.CreatedAt,
		order.UpdatedAt,
		order.VerifiedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			return domain.ErrOrderExists
		}
		return fmt.Errorf("failed to create payment order: %w", err)
	}

	return nil
}

// nullString returns nil if string is empty, otherwise returns pointer to string
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetByID retrieves an order by its ID
func (r *PostgresOrderRepository) GetByID(ctx context.Context, id string) (*domain.PaymentOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM payment_orders WHERE id = $1`
	return r.scanOrder(queryEngine(ctx, r.db).QueryRow(ctx, query, id))
}

// GetPendingByBookingID retrieves the open order for a booking, if any
func (r *PostgresOrderRepository) GetPendingByBookingID(ctx context.Context, bookingID string) (*domain.PaymentOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM payment_orders WHERE booking_id = $1 AND status = 'pending'`
	return r.scanOrder(queryEngine(ctx, r.db).QueryRow(ctx, query, bookingID))
}

// GetByBookingID retrieves the most recent order for a booking
func (r *PostgresOrderRepository) GetByBookingID(ctx context.Context, bookingID string) (*domain.PaymentOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM payment_orders WHERE booking_id = $1 ORDER BY created_at DESC LIMIT 1`
	return r.scanOrder(queryEngine(ctx, r.db).QueryRow(ctx, query, bookingID))
}

// GetByTransferCode retrieves a banking order by its transfer code
func (r *PostgresOrderRepository) GetByTransferCode(ctx context.Context, code string) (*domain.PaymentOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM payment_orders WHERE transfer_code = $1`
	return r.scanOrder(queryEngine(ctx, r.db).QueryRow(ctx, query, code))
}

// Update persists mutable order fields
func (r *PostgresOrderRepository) Update(ctx context.Context, order *domain.PaymentOrder) error {
	query := `
		UPDATE payment_orders
		SET status = $2,
		    provider_transaction_id = $3,
		    transfer_code = $4,
		    pay_url = $5,
		    error_code = $6,
		    error_message = $7,
		    updated_at = $8,
		    verified_at = $9
		WHERE id = $1`

	result, err := queryEngine(ctx, r.db).Exec(ctx, query,
		order.ID,
		string(order.Status),
		nullString(order.ProviderTransactionID),
		nullString(order.TransferCode),
		nullString(order.PayURL),
		nullString(order.ErrorCode),
		nullString(order.ErrorMessage),
		order.UpdatedAt,
		order.VerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment order: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// TransitionFromPending atomically moves a pending order to a terminal
// status. The WHERE status = 'pending' guard makes the first transition win;
// racing deliveries see zero rows affected and back off.
func (r *PostgresOrderRepository) TransitionFromPending(ctx context.Context, id string, to domain.OrderStatus, providerTransactionID, errorCode, errorMessage string) (bool, error) {
	query := `
		UPDATE payment_orders
		SET status = $2,
		    provider_transaction_id = COALESCE($3, provider_transaction_id),
		    error_code = $4,
		    error_message = $5,
		    updated_at = NOW(),
		    verified_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE verified_at END
		WHERE id = $1 AND status = 'pending'`

	result, err := queryEngine(ctx, r.db).Exec(ctx, query,
		id,
		string(to),
		nullString(providerTransactionID),
		nullString(errorCode),
		nullString(errorMessage),
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition payment order: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ListExpiredPending returns pending orders created before the cutoff
func (r *PostgresOrderRepository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PaymentOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM payment_orders WHERE status = 'pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2`

	rows, err := queryEngine(ctx, r.db).Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.PaymentOrder
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expired orders: %w", err)
	}
	return orders, nil
}

// scanOrder scans a single order from a row
func (r *PostgresOrderRepository) scanOrder(row pgx.Row) (*domain.PaymentOrder, error) {
	order, err := scanOrderRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

func scanOrderRow(row pgx.Row) (*domain.PaymentOrder, error) {
	var order domain.PaymentOrder
	var provider, status string
	var providerTxnID, transferCode, payURL, errorCode, errorMessage *string

	err := row.Scan(
		&order.ID,
		&order.BookingID,
		&provider,
		&order.Amount,
		&order.Currency,
		&status,
		&providerTxnID,
		&transferCode,
		&payURL,
		&errorCode,
		&errorMessage,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.VerifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan payment order: %w", err)
	}

	order.Provider = domain.Provider(provider)
	order.Status = domain.OrderStatus(status)
	if providerTxnID != nil {
		order.ProviderTransactionID = *providerTxnID
	}
	if transferCode != nil {
		order.TransferCode = *transferCode
	}
	if payURL != nil {
		order.PayURL = *payURL
	}
	if errorCode != nil {
		order.ErrorCode = *errorCode
	}
	if errorMessage != nil {
		order.ErrorMessage = *errorMessage
	}

	return &order, nil
}
