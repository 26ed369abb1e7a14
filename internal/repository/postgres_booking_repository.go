package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vietstay/payment-service/internal/domain"
	"github.com/vietstay/payment-service/pkg/database"
)

// PostgresBookingRepository implements BookingRepository over the locally
// projected bookings table
type PostgresBookingRepository struct {
	db *database.PostgresDB
}

func NewPostgresBookingRepository(db *database.PostgresDB) *PostgresBookingRepository {
	return &PostgresBookingRepository{db: db}
}

// GetByID retrieves a booking projection by ID
func (r *PostgresBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	query := `
		SELECT id, user_id, status, payment_status, amount, currency, created_at, updated_at
		FROM bookings WHERE id = $1`

	var b domain.Booking
	var status, paymentStatus string
	err := queryEngine(ctx, r.db).QueryRow(ctx, query, id).Scan(
		&b.ID,
		&b.UserID,
		&status,
		&paymentStatus,
		&b.Amount,
		&b.Currency,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to scan booking: %w", err)
	}

	b.Status = domain.BookingStatus(status)
	b.PaymentStatus = domain.PaymentStatus(paymentStatus)
	return &b, nil
}

// Upsert creates or refreshes a booking projection row. The projection never
// regresses payment_status: a terminal value sticks even if the booking
// service replays an older event.
func (r *PostgresBookingRepository) Upsert(ctx context.Context, booking *domain.Booking) error {
	query := `
		INSERT INTO bookings (id, user_id, status, payment_status, amount, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    status = EXCLUDED.status,
		    amount = EXCLUDED.amount,
		    currency = EXCLUDED.currency,
		    updated_at = EXCLUDED.updated_at`

	_, err := queryEngine(ctx, r.db).Exec(ctx, query,
		booking.ID,
		booking.UserID,
		string(booking.Status),
		string(booking.PaymentStatus),
		booking.Amount,
		booking.Currency,
		booking.CreatedAt,
		booking.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert booking: %w", err)
	}
	return nil
}

// AdvancePaymentStatus moves payment_status forward from pending
func (r *PostgresBookingRepository) AdvancePaymentStatus(ctx context.Context, bookingID string, status domain.PaymentStatus) (bool, error) {
	query := `
		UPDATE bookings
		SET payment_status = $2, updated_at = NOW()
		WHERE id = $1 AND payment_status = 'pending'`

	result, err := queryEngine(ctx, r.db).Exec(ctx, query, bookingID, string(status))
	if err != nil {
		return false, fmt.Errorf("failed to advance booking payment status: %w", err)
	}
	return result.RowsAffected() == 1, nil
}
