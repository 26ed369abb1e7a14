package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vietstay/payment-service/internal/domain"
	"github.com/vietstay/payment-service/internal/dto"
	"github.com/vietstay/payment-service/internal/metrics"
	"github.com/vietstay/payment-service/internal/provider"
	"github.com/vietstay/payment-service/internal/repository"
	"github.com/vietstay/payment-service/pkg/logger"
)

// PaymentServiceConfig tunes payment order handling
type PaymentServiceConfig struct {
	// PaymentTimeout is how long a pending order may wait for a callback
	// before the expiry sweep cancels it
	PaymentTimeout time.Duration
	// ExpirySweepBatch bounds how many orders one sweep cancels
	ExpirySweepBatch int
}

// paymentServiceImpl implements PaymentService
type paymentServiceImpl struct {
	orders    repository.OrderRepository
	bookings  repository.BookingRepository
	providers *provider.Registry
	publisher EventPublisher
	config    *PaymentServiceConfig
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(
	orders repository.OrderRepository,
	bookings repository.BookingRepository,
	providers *provider.Registry,
	publisher EventPublisher,
	config *PaymentServiceConfig,
) PaymentService {
	if config == nil {
		config = &PaymentServiceConfig{
			PaymentTimeout:   15 * time.Minute,
			ExpirySweepBatch: 100,
		}
	}
	if config.ExpirySweepBatch <= 0 {
		config.ExpirySweepBatch = 100
	}

	return &paymentServiceImpl{
		orders:    orders,
		bookings:  bookings,
		providers: providers,
		publisher: publisher,
		config:    config,
	}
}

// CreatePayment opens a payment order for a payable booking. The amount is
// taken from the booking projection, never from the client.
func (s *paymentServiceImpl) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*domain.PaymentOrder, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	adapter, err := s.providers.Get(req.Provider)
	if err != nil {
		return nil, domain.NewPaymentError("VALIDATION_ERROR", "unsupported payment method", err)
	}

	booking, err := s.bookings.GetByID(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if !booking.Payable() {
		return nil, domain.ErrBookingNotPayable
	}

	// One open order per booking; the DB partial unique index backs this up
	if existing, err := s.orders.GetPendingByBookingID(ctx, req.BookingID); err == nil && existing != nil {
		return nil, domain.ErrOrderExists
	}

	order, err := domain.NewPaymentOrder(req.BookingID, req.Provider, booking.Amount)
	if err != nil {
		return nil, domain.NewPaymentError("VALIDATION_ERROR", err.Error(), err)
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}
	metrics.RecordOrderCreated(ctx, string(order.Provider), order.Amount)

	resp, err := adapter.CreateOrder(ctx, &provider.OrderRequest{
		OrderID:   order.ID,
		BookingID: order.BookingID,
		Amount:    order.Amount,
		OrderInfo: order.BookingID,
		ReturnURL: req.ReturnURL,
		CancelURL: req.CancelURL,
		ClientIP:  req.ClientIP,
	})
	if err != nil {
		// the order never stays pending after a registration failure
		s.failOrder(ctx, order, "PROVIDER_UNAVAILABLE", err.Error())
		var extErr *domain.ExternalServiceError
		if errors.As(err, &extErr) {
			return nil, domain.NewPaymentError("PROVIDER_UNAVAILABLE", "payment provider is unavailable", err)
		}
		return nil, domain.NewPaymentError("PROVIDER_ERROR", "failed to register payment order", err)
	}

	order.PayURL = resp.PayURL
	order.TransferCode = resp.TransferCode
	order.UpdatedAt = time.Now().UTC()
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to persist provider response: %w", err)
	}

	logger.Get().Info("payment order created",
		zap.String("order_id", order.ID),
		zap.String("booking_id", order.BookingID),
		zap.String("provider", string(order.Provider)),
		zap.Int64("amount", order.Amount),
	)

	return order, nil
}

func (s *paymentServiceImpl) failOrder(ctx context.Context, order *domain.PaymentOrder, code, message string) {
	if err := order.Fail(code, message); err != nil {
		return
	}
	if err := s.orders.Update(ctx, order); err != nil {
		logger.Get().Error("failed to mark order failed",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		return
	}
	metrics.RecordOrderSettled(ctx, string(order.Provider), string(order.Status))
}

// GetOrder retrieves an order by ID
func (s *paymentServiceImpl) GetOrder(ctx context.Context, orderID string) (*domain.PaymentOrder, error) {
	return s.orders.GetByID(ctx, orderID)
}

// GetOrderByBookingID retrieves the most recent order for a booking
func (s *paymentServiceImpl) GetOrderByBookingID(ctx context.Context, bookingID string) (*domain.PaymentOrder, error) {
	return s.orders.GetByBookingID(ctx, bookingID)
}

// CancelPayment cancels a pending order
func (s *paymentServiceImpl) CancelPayment(ctx context.Context, orderID string) (*domain.PaymentOrder, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	applied, err := s.orders.TransitionFromPending(ctx, order.ID, domain.OrderStatusCancelled, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}
	if !applied {
		return nil, domain.ErrTerminalState
	}

	order, err = s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	metrics.RecordOrderSettled(ctx, string(order.Provider), string(order.Status))
	s.publishCancelled(ctx, order)
	return order, nil
}

// CancelExpiredOrders sweeps pending orders past the payment timeout
func (s *paymentServiceImpl) CancelExpiredOrders(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.config.PaymentTimeout)
	expired, err := s.orders.ListExpiredPending(ctx, cutoff, s.config.ExpirySweepBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired orders: %w", err)
	}

	cancelled := 0
	for _, order := range expired {
		applied, err := s.orders.TransitionFromPending(ctx, order.ID, domain.OrderStatusCancelled, "", "PAYMENT_TIMEOUT", "no provider confirmation within payment window")
		if err != nil {
			logger.Get().Error("expiry sweep failed to cancel order",
				zap.String("order_id", order.ID),
				zap.Error(err),
			)
			continue
		}
		// a callback may have landed between the list and the update
		if !applied {
			continue
		}
		cancelled++
		order.Status = domain.OrderStatusCancelled
		metrics.RecordOrderSettled(ctx, string(order.Provider), string(order.Status))
		s.publishCancelled(ctx, order)
	}

	if cancelled > 0 {
		logger.Get().Info("expiry sweep cancelled orders", zap.Int("count", cancelled))
	}
	return cancelled, nil
}

func (s *paymentServiceImpl) publishCancelled(ctx context.Context, order *domain.PaymentOrder) {
	if s.publisher == nil {
		return
	}
	event := &dto.PaymentEvent{
		EventType: dto.EventPaymentCancelled,
		OrderID:   order.ID,
		BookingID: order.BookingID,
		Provider:  string(order.Provider),
		Amount:    order.Amount,
		Currency:  order.Currency,
		Timestamp: time.Now().UTC(),
	}
	if err := s.publisher.ProduceJSON(ctx, dto.TopicPaymentEvents, event.Key(), event, nil); err != nil {
		logger.Get().Error("failed to publish payment.cancelled event",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
	}
}
