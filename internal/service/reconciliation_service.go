package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vietstay/payment-service/internal/domain"
	"github.com/vietstay/payment-service/internal/dto"
	"github.com/vietstay/payment-service/internal/repository"
	"github.com/vietstay/payment-service/pkg/logger"
)

// ReconcileResult reports what a verified callback did to local state
type ReconcileResult struct {
	// Applied is true when this delivery performed the state transition
	Applied bool
	// Duplicate is true when the transaction or order was already settled;
	// the delivery is acked as success without touching state
	Duplicate bool
	// Order is the order after reconciliation
	Order *domain.PaymentOrder
}

// ReconciliationService applies verified provider outcomes to payment and
// booking state exactly once
type ReconciliationService struct {
	orders      repository.OrderRepository
	bookings    repository.BookingRepository
	idempotency repository.IdempotencyStore
	tx          repository.TxManager
	publisher   EventPublisher
}

func NewReconciliationService(
	orders repository.OrderRepository,
	bookings repository.BookingRepository,
	idempotency repository.IdempotencyStore,
	tx repository.TxManager,
	publisher EventPublisher,
) *ReconciliationService {
	return &ReconciliationService{
		orders:      orders,
		bookings:    bookings,
		idempotency: idempotency,
		tx:          tx,
		publisher:   publisher,
	}
}

// Apply reconciles one verified outcome. The dedup gate runs first: losing
// it means the transaction was already processed and the caller should ack
// without retrying. Reconciliation failures release the gate so the
// provider's redelivery gets another attempt.
//
// A delivery that loses the gate while the winner is still in flight is
// acked as a duplicate even if the winner later fails and releases the key.
// The order stays pending in that case, so the next delivery for the same
// transaction or the expiry sweep settles it.
func (s *ReconciliationService) Apply(ctx context.Context, outcome *domain.NormalizedOutcome) (*ReconcileResult, error) {
	if outcome.ProviderTransactionID == "" {
		return nil, fmt.Errorf("outcome has no provider transaction ID")
	}

	isNew, err := s.idempotency.RecordIfNew(ctx, outcome.Provider, outcome.ProviderTransactionID)
	if err != nil {
		return nil, fmt.Errorf("idempotency gate failed: %w", err)
	}
	if !isNew {
		// callers render Order, so a duplicate without a resolvable order
		// (orphaned gate record, transient read failure) is an error, not
		// a success ack
		order, err := s.resolveOrder(ctx, outcome)
		if err != nil {
			return nil, fmt.Errorf("resolve duplicate delivery: %w", err)
		}
		logger.Get().Info("duplicate webhook delivery ignored",
			zap.String("provider", string(outcome.Provider)),
			zap.String("transaction_id", outcome.ProviderTransactionID),
		)
		return &ReconcileResult{Duplicate: true, Order: order}, nil
	}

	result, err := s.reconcile(ctx, outcome)
	if err != nil {
		if relErr := s.idempotency.Release(ctx, outcome.Provider, outcome.ProviderTransactionID); relErr != nil {
			logger.Get().Error("failed to release idempotency record",
				zap.String("provider", string(outcome.Provider)),
				zap.String("transaction_id", outcome.ProviderTransactionID),
				zap.Error(relErr),
			)
		}
		return nil, err
	}

	if result.Applied {
		s.publishOutcome(ctx, result.Order, outcome)
	}
	return result, nil
}

// reconcile runs the guarded transition inside one transaction
func (s *ReconciliationService) reconcile(ctx context.Context, outcome *domain.NormalizedOutcome) (*ReconcileResult, error) {
	var result ReconcileResult

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		order, err := s.resolveOrder(ctx, outcome)
		if err != nil {
			return err
		}

		// the booking reference travels in the signed payload and must
		// match the order it claims to settle
		if outcome.BookingID != "" && outcome.BookingID != order.BookingID {
			return fmt.Errorf("callback booking %s does not match order booking %s: %w",
				outcome.BookingID, order.BookingID, domain.ErrBookingNotFound)
		}
		if _, err := s.bookings.GetByID(ctx, order.BookingID); err != nil {
			return err
		}

		if outcome.Amount != order.Amount {
			return fmt.Errorf("callback amount %d, order amount %d: %w",
				outcome.Amount, order.Amount, domain.ErrAmountMismatch)
		}

		target := domain.OrderStatusCompleted
		errorCode, errorMessage := "", ""
		if !outcome.Succeeded {
			target = domain.OrderStatusFailed
			errorCode = outcome.ResultCode
			errorMessage = "provider reported payment failure"
		}

		applied, err := s.orders.TransitionFromPending(ctx, order.ID, target, outcome.ProviderTransactionID, errorCode, errorMessage)
		if err != nil {
			return err
		}
		if !applied {
			// another delivery settled the order first; keep its verdict
			settled, err := s.orders.GetByID(ctx, order.ID)
			if err != nil {
				return err
			}
			result = ReconcileResult{Duplicate: true, Order: settled}
			return nil
		}

		paymentStatus := domain.PaymentStatusCompleted
		if target == domain.OrderStatusFailed {
			paymentStatus = domain.PaymentStatusFailed
		}
		if _, err := s.bookings.AdvancePaymentStatus(ctx, order.BookingID, paymentStatus); err != nil {
			return err
		}

		settled, err := s.orders.GetByID(ctx, order.ID)
		if err != nil {
			return err
		}
		result = ReconcileResult{Applied: true, Order: settled}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// resolveOrder finds the order a callback refers to. Banking confirmations
// carry only a transfer code; gateway callbacks echo our order ID.
func (s *ReconciliationService) resolveOrder(ctx context.Context, outcome *domain.NormalizedOutcome) (*domain.PaymentOrder, error) {
	if outcome.Provider == domain.ProviderBanking {
		order, err := s.orders.GetByTransferCode(ctx, outcome.TransferCode)
		if err != nil {
			return nil, err
		}
		return order, nil
	}

	order, err := s.orders.GetByID(ctx, outcome.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Provider != outcome.Provider {
		return nil, fmt.Errorf("order %s belongs to provider %s: %w",
			order.ID, order.Provider, domain.ErrOrderNotFound)
	}
	return order, nil
}

// publishOutcome emits the terminal event after the transaction committed
func (s *ReconciliationService) publishOutcome(ctx context.Context, order *domain.PaymentOrder, outcome *domain.NormalizedOutcome) {
	if s.publisher == nil {
		return
	}

	eventType := dto.EventPaymentCompleted
	if order.Status == domain.OrderStatusFailed {
		eventType = dto.EventPaymentFailed
	}

	event := &dto.PaymentEvent{
		EventType:             eventType,
		OrderID:               order.ID,
		BookingID:             order.BookingID,
		Provider:              string(order.Provider),
		ProviderTransactionID: order.ProviderTransactionID,
		Amount:                order.Amount,
		Currency:              order.Currency,
		ErrorCode:             order.ErrorCode,
		Timestamp:             time.Now().UTC(),
	}
	if err := s.publisher.ProduceJSON(ctx, dto.TopicPaymentEvents, event.Key(), event, nil); err != nil {
		// transition already committed; do not fail the callback over
		// event delivery
		logger.Get().Error("failed to publish payment event",
			zap.String("order_id", order.ID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}

	logger.Get().Info("payment reconciled",
		zap.String("order_id", order.ID),
		zap.String("booking_id", order.BookingID),
		zap.String("provider", string(order.Provider)),
		zap.String("status", string(order.Status)),
		zap.String("transaction_id", order.ProviderTransactionID),
	)
}
