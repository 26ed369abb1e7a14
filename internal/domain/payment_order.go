package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Provider identifies a payment network (matches DB ENUM)
type Provider string

const (
	ProviderMoMo    Provider = "momo"
	ProviderVNPay   Provider = "vnpay"
	ProviderZaloPay Provider = "zalopay"
	ProviderBanking Provider = "banking"
)

// KnownProvider reports whether p is one of the supported payment networks.
func KnownProvider(p Provider) bool {
	switch p {
	case ProviderMoMo, ProviderVNPay, ProviderZaloPay, ProviderBanking:
		return true
	}
	return false
}

// OrderStatus represents the status of a payment order (matches DB ENUM)
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// DefaultCurrency is fixed: all providers settle in Vietnamese dong.
const DefaultCurrency = "VND"

// PaymentOrder represents an outbound payment order registered with a provider.
// Amounts are integer VND (smallest currency unit). Once a terminal status is
// reached the row is immutable and is kept for audit/dispute resolution.
type PaymentOrder struct {
	ID                    string      `json:"id"`
	BookingID             string      `json:"booking_id"`
	Provider              Provider    `json:"provider"`
	Amount                int64       `json:"amount"`
	Currency              string      `json:"currency"`
	Status                OrderStatus `json:"status"`
	ProviderTransactionID string      `json:"provider_transaction_id,omitempty"`
	TransferCode          string      `json:"transfer_code,omitempty"`
	PayURL                string      `json:"pay_url,omitempty"`
	ErrorCode             string      `json:"error_code,omitempty"`
	ErrorMessage          string      `json:"error_message,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
	VerifiedAt            *time.Time  `json:"verified_at,omitempty"`
}

// NewPaymentOrder creates a new pending payment order
func NewPaymentOrder(bookingID string, provider Provider, amount int64) (*PaymentOrder, error) {
	if bookingID == "" {
		return nil, errors.New("booking_id is required")
	}
	if !KnownProvider(provider) {
		return nil, errors.New("unknown payment provider")
	}
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}

	now := time.Now().UTC()
	return &PaymentOrder{
		ID:        uuid.New().String(),
		BookingID: bookingID,
		Provider:  provider,
		Amount:    amount,
		Currency:  DefaultCurrency,
		Status:    OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Complete marks the order as completed with the provider's transaction ID
func (o *PaymentOrder) Complete(providerTransactionID string) error {
	if o.Status != OrderStatusPending {
		return ErrTerminalState
	}
	now := time.Now().UTC()
	o.Status = OrderStatusCompleted
	o.ProviderTransactionID = providerTransactionID
	o.VerifiedAt = &now
	o.UpdatedAt = now
	return nil
}

// Fail marks the order as failed
func (o *PaymentOrder) Fail(errorCode, errorMessage string) error {
	if o.Status != OrderStatusPending {
		return ErrTerminalState
	}
	o.Status = OrderStatusFailed
	o.ErrorCode = errorCode
	o.ErrorMessage = errorMessage
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Cancel marks the order as cancelled
func (o *PaymentOrder) Cancel() error {
	if o.Status != OrderStatusPending {
		return ErrTerminalState
	}
	o.Status = OrderStatusCancelled
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// IsTerminal returns true when no further transition is permitted.
func (o *PaymentOrder) IsTerminal() bool {
	return o.Status == OrderStatusCompleted ||
		o.Status == OrderStatusFailed ||
		o.Status == OrderStatusCancelled
}
