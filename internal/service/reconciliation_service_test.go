package service

import (
	"context"
	"errors"
	"testing"

	"github.com/vietstay/payment-service/internal/domain"
	"github.com/vietstay/payment-service/internal/repository"
)

type capturingPublisher struct {
	events []interface{}
}

func (p *capturingPublisher) ProduceJSON(_ context.Context, _ string, _ string, value interface{}, _ map[string]string) error {
	p.events = append(p.events, value)
	return nil
}

type reconcileFixture struct {
	orders      *repository.MemoryOrderRepository
	bookings    *repository.MemoryBookingRepository
	idempotency *repository.MemoryIdempotencyStore
	publisher   *capturingPublisher
	svc         *ReconciliationService
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	f := &reconcileFixture{
		orders:      repository.NewMemoryOrderRepository(),
		bookings:    repository.NewMemoryBookingRepository(),
		idempotency: repository.NewMemoryIdempotencyStore(),
		publisher:   &capturingPublisher{},
	}
	f.svc = NewReconciliationService(f.orders, f.bookings, f.idempotency, repository.NoopTxManager{}, f.publisher)
	return f
}

func (f *reconcileFixture) seedOrder(t *testing.T, provider domain.Provider, amount int64) *domain.PaymentOrder {
	t.Helper()
	ctx := context.Background()

	booking := &domain.Booking{
		ID:            "booking-001",
		UserID:        "user-001",
		Status:        domain.BookingStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Amount:        amount,
		Currency:      "VND",
	}
	if err := f.bookings.Upsert(ctx, booking); err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	order, err := domain.NewPaymentOrder(booking.ID, provider, amount)
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if provider == domain.ProviderBanking {
		order.TransferCode = "VSTAYTEST1234"
	}
	if err := f.orders.Create(ctx, order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func successOutcome(order *domain.PaymentOrder, txnID string) *domain.NormalizedOutcome {
	return &domain.NormalizedOutcome{
		Provider:              order.Provider,
		ProviderTransactionID: txnID,
		OrderID:               order.ID,
		BookingID:             order.BookingID,
		Amount:                order.Amount,
		ResultCode:            "0",
		Succeeded:             true,
	}
}

func TestReconciliation_AppliesOnce(t *testing.T) {
	f := newReconcileFixture(t)
	order := f.seedOrder(t, domain.ProviderMoMo, 150000)
	ctx := context.Background()

	result, err := f.svc.Apply(ctx, successOutcome(order, "txn-1"))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !result.Applied {
		t.Error("Expected first delivery to apply")
	}
	if result.Order.Status != domain.OrderStatusCompleted {
		t.Errorf("Expected completed order, got %s", result.Order.Status)
	}

	booking, _ := f.bookings.GetByID(ctx, order.BookingID)
	if booking.PaymentStatus != domain.PaymentStatusCompleted {
		t.Errorf("Expected booking payment_status completed, got %s", booking.PaymentStatus)
	}
	if len(f.publisher.events) != 1 {
		t.Errorf("Expected exactly one event, got %d", len(f.publisher.events))
	}
}

func TestReconciliation_DuplicateDeliveryNoOp(t *testing.T) {
	f := newReconcileFixture(t)
	order := f.seedOrder(t, domain.ProviderMoMo, 150000)
	ctx := context.Background()

	if _, err := f.svc.Apply(ctx, successOutcome(order, "txn-1")); err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}

	result, err := f.svc.Apply(ctx, successOutcome(order, "txn-1"))
	if err != nil {
		t.Fatalf("duplicate Apply failed: %v", err)
	}
	if result.Applied {
		t.Error("Expected duplicate delivery to be a no-op")
	}
	if !result.Duplicate {
		t.Error("Expected duplicate flag on second delivery")
	}
	if len(f.publisher.events) != 1 {
		t.Errorf("Expected one transition to emit one event, got %d", len(f.publisher.events))
	}
}

func TestReconciliation_FirstTransitionWinsAcrossTransactions(t *testing.T) {
	f := newReconcileFixture(t)
	order := f.seedOrder(t, domain.ProviderVNPay, 200000)
	ctx := context.Background()

	// completed arrives first
	if _, err := f.svc.Apply(ctx, successOutcome(order, "txn-A")); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// a failed outcome for the same order under a different transaction ID
	failed := successOutcome(order, "txn-B")
	failed.Succeeded = false
	failed.ResultCode = "24"

	result, err := f.svc.Apply(ctx, failed)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if result.Applied {
		t.Error("Expected losing delivery to no-op")
	}
	if result.Order.Status != domain.OrderStatusCompleted {
		t.Errorf("Expected order to stay completed, got %s", result.Order.Status)
	}

	booking, _ := f.bookings.GetByID(ctx, order.BookingID)
	if booking.PaymentStatus != domain.PaymentStatusCompleted {
		t.Errorf("Expected booking to stay completed, got %s", booking.PaymentStatus)
	}
	if len(f.publisher.events) != 1 {
		t.Errorf("Expected one event, got %d", len(f.publisher.events))
	}
}

func TestReconciliation_AmountMismatchRejected(t *testing.T) {
	f := newReconcileFixture(t)
	order := f.seedOrder(t, domain.ProviderZaloPay, 300000)
	ctx := context.Background()

	outcome := successOutcome(order, "txn-1")
	outcome.Amount = 299999

	if _, err := f.svc.Apply(ctx, outcome); !errors.Is(err, domain.ErrAmountMismatch) {
		t.Fatalf("Expected ErrAmountMismatch, got %v", err)
	}

	// rejection releases the gate so a corrected redelivery can proceed
	outcome.Amount = 300000
	result, err := f.svc.Apply(ctx, outcome)
	if err != nil {
		t.Fatalf("redelivery Apply failed: %v", err)
	}
	if !result.Applied {
		t.Error("Expected redelivery after release to apply")
	}

	got, _ := f.orders.GetByID(ctx, order.ID)
	if got.Status != domain.OrderStatusCompleted {
		t.Errorf("Expected completed after redelivery, got %s", got.Status)
	}
}

func TestReconciliation_BookingMismatchRejected(t *testing.T) {
	f := newReconcileFixture(t)
	order := f.seedOrder(t, domain.ProviderMoMo, 100000)
	ctx := context.Background()

	outcome := successOutcome(order, "txn-1")
	outcome.BookingID = "booking-other"

	if _, err := f.svc.Apply(ctx, outcome); !errors.Is(err, domain.ErrBookingNotFound) {
		t.Fatalf("Expected ErrBookingNotFound, got %v", err)
	}

	got, _ := f.orders.GetByID(ctx, order.ID)
	if got.Status != domain.OrderStatusPending {
		t.Errorf("Expected order to stay pending, got %s", got.Status)
	}
}

func TestReconciliation_UnknownOrderRejected(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	outcome := &domain.NormalizedOutcome{
		Provider:              domain.ProviderMoMo,
		ProviderTransactionID: "txn-ghost",
		OrderID:               "no-such-order",
		Amount:                1000,
		Succeeded:             true,
	}
	if _, err := f.svc.Apply(ctx, outcome); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("Expected ErrOrderNotFound, got %v", err)
	}
}

func TestReconciliation_DuplicateWithoutOrderErrors(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	// dedup record without a matching order: a prior reconcile failed and
	// its gate release failed too
	if _, err := f.idempotency.RecordIfNew(ctx, domain.ProviderBanking, "FT-ORPHAN"); err != nil {
		t.Fatalf("seed dedup record: %v", err)
	}

	outcome := &domain.NormalizedOutcome{
		Provider:              domain.ProviderBanking,
		ProviderTransactionID: "FT-ORPHAN",
		Amount:                500000,
		Succeeded:             true,
		TransferCode:          "VSTAYGONE0000",
	}

	result, err := f.svc.Apply(ctx, outcome)
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("Expected ErrOrderNotFound, got %v", err)
	}
	if result != nil {
		t.Errorf("Expected no result on unresolvable duplicate, got %+v", result)
	}
}

func TestReconciliation_FailedOutcome(t *testing.T) {
	f := newReconcileFixture(t)
	order := f.seedOrder(t, domain.ProviderMoMo, 100000)
	ctx := context.Background()

	outcome := successOutcome(order, "txn-1")
	outcome.Succeeded = false
	outcome.ResultCode = "1006"

	result, err := f.svc.Apply(ctx, outcome)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !result.Applied {
		t.Error("Expected failed outcome to apply")
	}
	if result.Order.Status != domain.OrderStatusFailed {
		t.Errorf("Expected failed order, got %s", result.Order.Status)
	}
	if result.Order.ErrorCode != "1006" {
		t.Errorf("Expected error code 1006, got %s", result.Order.ErrorCode)
	}

	booking, _ := f.bookings.GetByID(ctx, order.BookingID)
	if booking.PaymentStatus != domain.PaymentStatusFailed {
		t.Errorf("Expected booking payment_status failed, got %s", booking.PaymentStatus)
	}
}

func TestReconciliation_BankingResolvesByTransferCode(t *testing.T) {
	f := newReconcileFixture(t)
	order := f.seedOrder(t, domain.ProviderBanking, 500000)
	ctx := context.Background()

	outcome := &domain.NormalizedOutcome{
		Provider:              domain.ProviderBanking,
		ProviderTransactionID: "FT26074000123",
		Amount:                500000,
		Succeeded:             true,
		TransferCode:          order.TransferCode,
	}

	result, err := f.svc.Apply(ctx, outcome)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !result.Applied {
		t.Error("Expected banking confirmation to apply")
	}
	if result.Order.ProviderTransactionID != "FT26074000123" {
		t.Errorf("Expected bank reference persisted, got %s", result.Order.ProviderTransactionID)
	}
}

func TestReconciliation_ProviderOrderMismatchRejected(t *testing.T) {
	f := newReconcileFixture(t)
	order := f.seedOrder(t, domain.ProviderMoMo, 100000)
	ctx := context.Background()

	// a zalopay callback claiming a momo order
	outcome := successOutcome(order, "txn-1")
	outcome.Provider = domain.ProviderZaloPay

	if _, err := f.svc.Apply(ctx, outcome); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("Expected ErrOrderNotFound, got %v", err)
	}
}
