package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietstay/payment-service/internal/domain"
)

// MemoryOrderRepository is an in-memory OrderRepository for testing
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.PaymentOrder
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]*domain.PaymentOrder)}
}

func (r *MemoryOrderRepository) Create(_ context.Context, order *domain.PaymentOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrOrderExists
	}
	for _, o := range r.orders {
		if o.BookingID == order.BookingID && o.Status == domain.OrderStatusPending {
			return domain.ErrOrderExists
		}
	}

	clone := *order
	r.orders[order.ID] = &clone
	return nil
}

func (r *MemoryOrderRepository) GetByID(_ context.Context, id string) (*domain.PaymentOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	clone := *order
	return &clone, nil
}

func (r *MemoryOrderRepository) GetPendingByBookingID(_ context.Context, bookingID string) (*domain.PaymentOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.orders {
		if o.BookingID == bookingID && o.Status == domain.OrderStatusPending {
			clone := *o
			return &clone, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (r *MemoryOrderRepository) GetByBookingID(_ context.Context, bookingID string) (*domain.PaymentOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.PaymentOrder
	for _, o := range r.orders {
		if o.BookingID != bookingID {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = o
		}
	}
	if latest == nil {
		return nil, domain.ErrOrderNotFound
	}
	clone := *latest
	return &clone, nil
}

func (r *MemoryOrderRepository) GetByTransferCode(_ context.Context, code string) (*domain.PaymentOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.orders {
		if o.TransferCode == code {
			clone := *o
			return &clone, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (r *MemoryOrderRepository) Update(_ context.Context, order *domain.PaymentOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.ID]; !ok {
		return domain.ErrOrderNotFound
	}
	clone := *order
	r.orders[order.ID] = &clone
	return nil
}

func (r *MemoryOrderRepository) TransitionFromPending(_ context.Context, id string, to domain.OrderStatus, providerTransactionID, errorCode, errorMessage string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return false, nil
	}
	if order.Status != domain.OrderStatusPending {
		return false, nil
	}

	now := time.Now().UTC()
	order.Status = to
	if providerTransactionID != "" {
		order.ProviderTransactionID = providerTransactionID
	}
	order.ErrorCode = errorCode
	order.ErrorMessage = errorMessage
	order.UpdatedAt = now
	if to == domain.OrderStatusCompleted {
		order.VerifiedAt = &now
	}
	return true, nil
}

func (r *MemoryOrderRepository) ListExpiredPending(_ context.Context, cutoff time.Time, limit int) ([]*domain.PaymentOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var orders []*domain.PaymentOrder
	for _, o := range r.orders {
		if o.Status == domain.OrderStatusPending && o.CreatedAt.Before(cutoff) {
			clone := *o
			orders = append(orders, &clone)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// MemoryBookingRepository is an in-memory BookingRepository for testing
type MemoryBookingRepository struct {
	mu       sync.RWMutex
	bookings map[string]*domain.Booking
}

func NewMemoryBookingRepository() *MemoryBookingRepository {
	return &MemoryBookingRepository{bookings: make(map[string]*domain.Booking)}
}

func (r *MemoryBookingRepository) GetByID(_ context.Context, id string) (*domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	clone := *b
	return &clone, nil
}

func (r *MemoryBookingRepository) Upsert(_ context.Context, booking *domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *booking
	if existing, ok := r.bookings[booking.ID]; ok {
		// payment_status never regresses on replayed events
		clone.PaymentStatus = existing.PaymentStatus
	}
	r.bookings[booking.ID] = &clone
	return nil
}

func (r *MemoryBookingRepository) AdvancePaymentStatus(_ context.Context, bookingID string, status domain.PaymentStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[bookingID]
	if !ok {
		return false, nil
	}
	if b.PaymentStatus != domain.PaymentStatusPending {
		return false, nil
	}
	b.PaymentStatus = status
	b.UpdatedAt = time.Now().UTC()
	return true, nil
}

// MemoryWebhookEventRepository is an in-memory WebhookEventRepository
type MemoryWebhookEventRepository struct {
	mu     sync.Mutex
	events []*domain.WebhookEvent
}

func NewMemoryWebhookEventRepository() *MemoryWebhookEventRepository {
	return &MemoryWebhookEventRepository{}
}

func (r *MemoryWebhookEventRepository) Append(_ context.Context, event *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *event
	r.events = append(r.events, &clone)
	return nil
}

func (r *MemoryWebhookEventRepository) MarkResult(_ context.Context, id string, signatureValid, outcomeApplied bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.events {
		if e.ID == id {
			e.SignatureValid = signatureValid
			e.OutcomeApplied = outcomeApplied
			return nil
		}
	}
	return nil
}

// Events returns a snapshot of the recorded events
func (r *MemoryWebhookEventRepository) Events() []*domain.WebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.WebhookEvent, len(r.events))
	copy(out, r.events)
	return out
}

// MemoryIdempotencyStore is an in-memory IdempotencyStore
type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{seen: make(map[string]bool)}
}

func (s *MemoryIdempotencyStore) key(provider domain.Provider, transactionID string) string {
	return string(provider) + ":" + transactionID
}

func (s *MemoryIdempotencyStore) RecordIfNew(_ context.Context, provider domain.Provider, transactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.key(provider, transactionID)
	if s.seen[k] {
		return false, nil
	}
	s.seen[k] = true
	return true, nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, provider domain.Provider, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.seen, s.key(provider, transactionID))
	return nil
}

// NoopTxManager runs the function without a real transaction, for tests
// against the memory repositories
type NoopTxManager struct{}

func (NoopTxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
