package dto

import (
	"time"

	"github.com/vietstay/payment-service/internal/domain"
)

// CreatePaymentRequest represents a request to open a payment order
type CreatePaymentRequest struct {
	BookingID     string          `json:"booking_id" binding:"required"`
	PaymentMethod domain.Provider `json:"payment_method" binding:"required"`
	ReturnURL     string          `json:"return_url,omitempty"`
	CancelURL     string          `json:"cancel_url,omitempty"`
}

// CreatePaymentResponse is returned to the client after order creation
type CreatePaymentResponse struct {
	OrderID      string `json:"order_id"`
	PaymentURL   string `json:"payment_url,omitempty"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	TransferCode string `json:"transfer_code,omitempty"`
	// Bank account details shown to the payer on banking orders
	BankName      string `json:"bank_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	AccountName   string `json:"account_name,omitempty"`
}

// OrderResponse represents a payment order in API responses
type OrderResponse struct {
	ID                    string             `json:"id"`
	BookingID             string             `json:"booking_id"`
	Provider              domain.Provider    `json:"provider"`
	Amount                int64              `json:"amount"`
	Currency              string             `json:"currency"`
	Status                domain.OrderStatus `json:"status"`
	ProviderTransactionID string             `json:"provider_transaction_id,omitempty"`
	TransferCode          string             `json:"transfer_code,omitempty"`
	ErrorCode             string             `json:"error_code,omitempty"`
	ErrorMessage          string             `json:"error_message,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
	VerifiedAt            *time.Time         `json:"verified_at,omitempty"`
}

// FromOrder converts a domain PaymentOrder to OrderResponse
func FromOrder(o *domain.PaymentOrder) *OrderResponse {
	return &OrderResponse{
		ID:                    o.ID,
		BookingID:             o.BookingID,
		Provider:              o.Provider,
		Amount:                o.Amount,
		Currency:              o.Currency,
		Status:                o.Status,
		ProviderTransactionID: o.ProviderTransactionID,
		TransferCode:          o.TransferCode,
		ErrorCode:             o.ErrorCode,
		ErrorMessage:          o.ErrorMessage,
		CreatedAt:             o.CreatedAt,
		VerifiedAt:            o.VerifiedAt,
	}
}
