package dto

import (
	"time"
)

// Topic names for payment events
const (
	TopicPaymentEvents = "payment.events"
	TopicBookingEvents = "booking-events"
)

// Payment event types
const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentCancelled = "payment.cancelled"
)

// PaymentEvent is published after a payment order reaches a terminal state.
// Downstream consumers (notification, booking) key off EventType.
type PaymentEvent struct {
	EventType             string    `json:"event_type"`
	OrderID               string    `json:"order_id"`
	BookingID             string    `json:"booking_id"`
	Provider              string    `json:"provider"`
	ProviderTransactionID string    `json:"provider_transaction_id,omitempty"`
	Amount                int64     `json:"amount"`
	Currency              string    `json:"currency"`
	ErrorCode             string    `json:"error_code,omitempty"`
	Message               string    `json:"message,omitempty"`
	Timestamp             time.Time `json:"timestamp"`
}

// Key returns the Kafka message key for partitioning
func (e *PaymentEvent) Key() string {
	return e.BookingID
}

// BookingEvent is consumed from the booking service to maintain the local
// booking projection
type BookingEvent struct {
	EventType string    `json:"event_type"`
	BookingID string    `json:"booking_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
}

// Key returns the Kafka message key for partitioning
func (e *BookingEvent) Key() string {
	return e.BookingID
}
