package domain

import "time"

// BookingStatus mirrors the booking service's lifecycle. Only the states the
// payment flow cares about are modeled; anything else maps to "other".
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusExpired   BookingStatus = "expired"
)

// PaymentStatus is the payment-side column this service owns on the booking
// projection. Transitions are forward only: pending may become completed or
// failed, and neither terminal value is ever overwritten.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Booking is a local projection of a booking owned by the booking service.
// Rows are created and updated by the Kafka consumer; the payment core only
// reads them and advances payment_status.
type Booking struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Status        BookingStatus `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Payable reports whether a payment order may be opened against the booking.
func (b *Booking) Payable() bool {
	return b.Status == BookingStatusPending && b.PaymentStatus == PaymentStatusPending
}
