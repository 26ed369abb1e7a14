package service

import (
	"context"

	"github.com/vietstay/payment-service/internal/domain"
)

// CreatePaymentRequest contains the data needed to open a payment order
type CreatePaymentRequest struct {
	BookingID string
	Provider  domain.Provider
	ReturnURL string
	CancelURL string
	ClientIP  string
}

// PaymentService defines the payment order business logic interface
type PaymentService interface {
	// CreatePayment opens a payment order for a payable booking and
	// registers it with the chosen provider
	CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*domain.PaymentOrder, error)

	// GetOrder retrieves an order by ID
	GetOrder(ctx context.Context, orderID string) (*domain.PaymentOrder, error)

	// GetOrderByBookingID retrieves the most recent order for a booking
	GetOrderByBookingID(ctx context.Context, bookingID string) (*domain.PaymentOrder, error)

	// CancelPayment cancels a pending order
	CancelPayment(ctx context.Context, orderID string) (*domain.PaymentOrder, error)

	// CancelExpiredOrders sweeps pending orders older than the payment
	// timeout, returning how many were cancelled
	CancelExpiredOrders(ctx context.Context) (int, error)
}

// EventPublisher publishes domain events to Kafka. Satisfied by
// pkg/kafka.Producer.
type EventPublisher interface {
	ProduceJSON(ctx context.Context, topic string, key string, value interface{}, headers map[string]string) error
}
