package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vietstay/payment-service/internal/domain"
	"github.com/vietstay/payment-service/internal/dto"
	"github.com/vietstay/payment-service/internal/metrics"
	"github.com/vietstay/payment-service/internal/provider"
	"github.com/vietstay/payment-service/internal/repository"
	"github.com/vietstay/payment-service/internal/service"
	"github.com/vietstay/payment-service/pkg/logger"
)

// maxWebhookBodyBytes bounds webhook request bodies
const maxWebhookBodyBytes = 1 << 20

// WebhookHandler ingests provider callbacks. Every delivery runs the same
// gate chain: audit append, signature, timestamp, dedup, reconciliation.
// Verification failures are answered with each provider's generic
// rejection; the failure detail goes to the security log only.
type WebhookHandler struct {
	providers      *provider.Registry
	reconciliation *service.ReconciliationService
	events         repository.WebhookEventRepository
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(
	providers *provider.Registry,
	reconciliation *service.ReconciliationService,
	events repository.WebhookEventRepository,
) *WebhookHandler {
	return &WebhookHandler{
		providers:      providers,
		reconciliation: reconciliation,
		events:         events,
	}
}

// ingest runs the shared gate chain. A nil result with a nil error means
// verification rejected the delivery.
func (h *WebhookHandler) ingest(c *gin.Context, name domain.Provider, raw []byte) (*service.ReconcileResult, error) {
	ctx := c.Request.Context()
	start := time.Now()
	metrics.RecordWebhookReceived(ctx, string(name))

	event := domain.NewWebhookEvent(name, raw)
	if err := h.events.Append(ctx, event); err != nil {
		// the audit trail is mandatory; failing here makes the provider redeliver
		logger.Get().Error("failed to append webhook event",
			zap.String("provider", string(name)),
			zap.Error(err),
		)
		return nil, err
	}

	adapter, err := h.providers.Get(name)
	if err != nil {
		return nil, err
	}

	outcome, err := adapter.ParseCallback(raw)
	if err != nil {
		h.markEvent(ctx, event.ID, false, false)
		reason := "invalid_signature"
		if errors.Is(err, domain.ErrStaleTimestamp) {
			reason = "stale_timestamp"
		}
		metrics.RecordWebhookRejected(ctx, string(name), reason)
		logger.Get().Warn("webhook verification failed",
			zap.String("provider", string(name)),
			zap.String("reason", reason),
			zap.String("event_id", event.ID),
			zap.String("remote_ip", c.ClientIP()),
			zap.Error(err),
		)
		return nil, nil
	}

	result, err := h.reconciliation.Apply(ctx, outcome)
	if err != nil {
		h.markEvent(ctx, event.ID, true, false)
		metrics.RecordWebhookRejected(ctx, string(name), "reconcile_failed")
		logger.Get().Error("webhook reconciliation failed",
			zap.String("provider", string(name)),
			zap.String("event_id", event.ID),
			zap.String("transaction_id", outcome.ProviderTransactionID),
			zap.Error(err),
		)
		return nil, err
	}

	h.markEvent(ctx, event.ID, true, result.Applied)
	if result.Applied {
		metrics.RecordWebhookApplied(ctx, string(name), time.Since(start).Seconds())
		metrics.RecordOrderSettled(ctx, string(name), string(result.Order.Status))
	} else {
		metrics.RecordWebhookDuplicate(ctx, string(name))
	}
	return result, nil
}

func (h *WebhookHandler) markEvent(ctx context.Context, id string, signatureValid, outcomeApplied bool) {
	if err := h.events.MarkResult(ctx, id, signatureValid, outcomeApplied); err != nil {
		logger.Get().Error("failed to mark webhook event",
			zap.String("event_id", id),
			zap.Error(err),
		)
	}
}

// MoMoWebhook handles POST /payments/momo/webhook. MoMo redelivers on
// non-2xx responses, so reconcile errors answer 500 and verified
// outcomes ack with resultCode 0.
func (h *WebhookHandler) MoMoWebhook(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"resultCode": 99, "message": "rejected"})
		return
	}

	result, err := h.ingest(c, domain.ProviderMoMo, raw)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"resultCode": 99, "message": "rejected"})
		return
	}
	if result == nil {
		c.JSON(http.StatusBadRequest, gin.H{"resultCode": 99, "message": "rejected"})
		return
	}

	// duplicates ack success too, redelivery must stop
	c.JSON(http.StatusOK, gin.H{"resultCode": 0, "message": "success"})
}

func vnpayAck(c *gin.Context, code, message string) {
	c.JSON(http.StatusOK, gin.H{"RspCode": code, "Message": message})
}

// VNPayIPN handles GET /payments/vnpay/ipn
func (h *WebhookHandler) VNPayIPN(c *gin.Context) {
	result, err := h.ingest(c, domain.ProviderVNPay, []byte(c.Request.URL.RawQuery))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			vnpayAck(c, "01", "Order not found")
		case errors.Is(err, domain.ErrAmountMismatch):
			vnpayAck(c, "04", "Invalid amount")
		default:
			vnpayAck(c, "99", "Unknown error")
		}
		return
	}
	if result == nil {
		vnpayAck(c, "97", "Invalid signature")
		return
	}
	if result.Duplicate {
		vnpayAck(c, "02", "Order already confirmed")
		return
	}

	vnpayAck(c, "00", "Confirm Success")
}

// VNPayReturn handles GET /payments/vnpay/return. The user's browser lands
// here after paying. It runs the same gate chain as the IPN so whichever
// delivery arrives first settles the order, but answers with the internal
// envelope for the frontend.
func (h *WebhookHandler) VNPayReturn(c *gin.Context) {
	result, err := h.ingest(c, domain.ProviderVNPay, []byte(c.Request.URL.RawQuery))
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse("NOT_FOUND", "payment order not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("RECONCILE_FAILED", "failed to process payment result"))
		return
	}
	if result == nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("VALIDATION_ERROR", "invalid payment result"))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.FromOrder(result.Order)))
}

// ZaloPayCallback handles POST /payments/zalopay/callback. ZaloPay reads
// the body, not the HTTP status: return_code 1 acks, 0 asks for
// redelivery, negative values are terminal rejections.
func (h *WebhookHandler) ZaloPayCallback(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"return_code": -1, "return_message": "rejected"})
		return
	}

	result, err := h.ingest(c, domain.ProviderZaloPay, raw)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound),
			errors.Is(err, domain.ErrAmountMismatch),
			errors.Is(err, domain.ErrBookingNotFound):
			c.JSON(http.StatusOK, gin.H{"return_code": -1, "return_message": "rejected"})
		default:
			c.JSON(http.StatusOK, gin.H{"return_code": 0, "return_message": "retry"})
		}
		return
	}
	if result == nil {
		c.JSON(http.StatusOK, gin.H{"return_code": -1, "return_message": "mac not equal"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"return_code": 1, "return_message": "success"})
}

// BankingConfirm handles POST /payments/banking/confirm, the internal
// operator endpoint for manual transfer confirmation. It is not exposed
// to the public network, so errors are reported in full.
func (h *WebhookHandler) BankingConfirm(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("VALIDATION_ERROR", "unreadable request body"))
		return
	}

	result, err := h.ingest(c, domain.ProviderBanking, raw)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, dto.NewErrorResponse("NOT_FOUND", "no payment order for this transfer code"))
		case errors.Is(err, domain.ErrAmountMismatch):
			c.JSON(http.StatusConflict, dto.NewErrorResponse("AMOUNT_MISMATCH", "transfer amount does not match the order"))
		default:
			c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("CONFIRM_FAILED", "failed to confirm transfer"))
		}
		return
	}
	if result == nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("VALIDATION_ERROR", "invalid confirmation payload"))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.FromOrder(result.Order)))
}
