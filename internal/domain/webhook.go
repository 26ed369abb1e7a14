package domain

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is the append-only audit record of one webhook delivery.
// Every delivery is recorded before any verification verdict, so rejected
// and duplicate deliveries remain inspectable.
type WebhookEvent struct {
	ID             string    `json:"id"`
	Provider       Provider  `json:"provider"`
	RawPayload     []byte    `json:"raw_payload"`
	SignatureValid bool      `json:"signature_valid"`
	OutcomeApplied bool      `json:"outcome_applied"`
	ReceivedAt     time.Time `json:"received_at"`
}

// NewWebhookEvent records a raw delivery before verification
func NewWebhookEvent(provider Provider, rawPayload []byte) *WebhookEvent {
	return &WebhookEvent{
		ID:         uuid.New().String(),
		Provider:   provider,
		RawPayload: rawPayload,
		ReceivedAt: time.Now().UTC(),
	}
}

// NormalizedOutcome is the provider-neutral result of a verified callback.
// Adapters produce it; the reconciliation service consumes it. Fields are
// taken from the signed portion of the payload only.
type NormalizedOutcome struct {
	Provider              Provider
	ProviderTransactionID string
	// OrderID is our payment order ID as echoed back by the provider
	// (vnp_TxnRef / orderId / app_trans_id suffix).
	OrderID string
	// BookingID travels in the signed free-form field (vnp_OrderInfo,
	// MoMo extraData, ZaloPay embed_data) and is cross-checked against
	// the stored order during reconciliation.
	BookingID       string
	Amount          int64
	ResultCode      string
	Succeeded       bool
	TimestampMillis int64
	// TransferCode is set for banking confirmations only.
	TransferCode string
}
