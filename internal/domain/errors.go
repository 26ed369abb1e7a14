package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the payment domain
var (
	ErrOrderNotFound     = errors.New("payment order not found")
	ErrOrderExists       = errors.New("a pending payment order already exists for this booking")
	ErrBookingNotFound   = errors.New("booking not found")
	ErrBookingNotPayable = errors.New("booking is not in a payable state")
	ErrTerminalState     = errors.New("payment order is in a terminal state")
	ErrAmountMismatch    = errors.New("callback amount does not match order amount")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrStaleTimestamp    = errors.New("webhook timestamp outside acceptance window")
	ErrDuplicateDelivery = errors.New("transaction already processed")
)

// PaymentError is a business error with a stable code for API responses
type PaymentError struct {
	Code    string
	Message string
	Err     error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, err error) *PaymentError {
	return &PaymentError{Code: code, Message: message, Err: err}
}

// ExternalServiceError wraps a provider/network failure after retries are
// exhausted. The order it refers to has already been marked failed.
type ExternalServiceError struct {
	Provider Provider
	Err      error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}
