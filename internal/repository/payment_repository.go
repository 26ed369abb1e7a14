package repository

import (
	"context"
	"time"

	"github.com/vietstay/payment-service/internal/domain"
)

// OrderRepository defines the interface for payment order data access
type OrderRepository interface {
	// Create creates a new payment order record
	Create(ctx context.Context, order *domain.PaymentOrder) error

	// GetByID retrieves an order by its ID
	GetByID(ctx context.Context, id string) (*domain.PaymentOrder, error)

	// GetPendingByBookingID retrieves the non-terminal order for a booking, if any
	GetPendingByBookingID(ctx context.Context, bookingID string) (*domain.PaymentOrder, error)

	// GetByBookingID retrieves the most recent order for a booking
	GetByBookingID(ctx context.Context, bookingID string) (*domain.PaymentOrder, error)

	// GetByTransferCode retrieves a banking order by its transfer code
	GetByTransferCode(ctx context.Context, code string) (*domain.PaymentOrder, error)

	// Update persists mutable order fields (pay_url, error info, status)
	Update(ctx context.Context, order *domain.PaymentOrder) error

	// TransitionFromPending atomically moves a pending order to a terminal
	// status. Returns false without error when the order was no longer
	// pending, which is how racing deliveries lose.
	TransitionFromPending(ctx context.Context, id string, to domain.OrderStatus, providerTransactionID, errorCode, errorMessage string) (bool, error)

	// ListExpiredPending returns pending orders created before the cutoff
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PaymentOrder, error)
}

// BookingRepository accesses the locally projected bookings
type BookingRepository interface {
	// GetByID retrieves a booking projection by ID
	GetByID(ctx context.Context, id string) (*domain.Booking, error)

	// Upsert creates or refreshes a booking projection row (consumer path)
	Upsert(ctx context.Context, booking *domain.Booking) error

	// AdvancePaymentStatus moves payment_status forward from pending.
	// Returns false when the column already holds a terminal value.
	AdvancePaymentStatus(ctx context.Context, bookingID string, status domain.PaymentStatus) (bool, error)
}

// WebhookEventRepository appends to the webhook audit trail
type WebhookEventRepository interface {
	// Append records a raw delivery; called before any verification
	Append(ctx context.Context, event *domain.WebhookEvent) error

	// MarkResult records the verification verdict for an appended event
	MarkResult(ctx context.Context, id string, signatureValid, outcomeApplied bool) error
}

// IdempotencyStore is the at-most-once gate keyed by (provider, transaction)
type IdempotencyStore interface {
	// RecordIfNew inserts the key if absent. Exactly one concurrent caller
	// observes true for a given key.
	RecordIfNew(ctx context.Context, provider domain.Provider, transactionID string) (bool, error)

	// Release removes the key so a failed reconciliation can be retried by
	// the provider's redelivery
	Release(ctx context.Context, provider domain.Provider, transactionID string) error
}

// TxManager runs a function inside one database transaction. Repositories
// called with the derived context join that transaction.
type TxManager interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
