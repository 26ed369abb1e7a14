package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vietstay/payment-service/internal/domain"
	"github.com/vietstay/payment-service/internal/dto"
	"github.com/vietstay/payment-service/internal/repository"
	"github.com/vietstay/payment-service/pkg/kafka"
	"github.com/vietstay/payment-service/pkg/logger"
	"github.com/vietstay/payment-service/pkg/retry"
)

// BookingConsumer maintains the local booking projection from booking
// service events. Payment creation stays request-driven; the projection
// only tells us what a booking costs and whether it is still payable.
type BookingConsumer struct {
	consumer     *kafka.Consumer
	bookings     repository.BookingRepository
	dlqPublisher retry.DLQPublisher
	config       *BookingConsumerConfig
	wg           sync.WaitGroup
	stopCh       chan struct{}
	mu           sync.RWMutex
	running      bool
}

// BookingConsumerConfig contains configuration for the booking consumer
type BookingConsumerConfig struct {
	Brokers        []string
	GroupID        string
	Topic          string
	MaxRetries     int
	RetryInterval  time.Duration
	ProcessTimeout time.Duration
	WorkerCount    int
}

// DefaultBookingConsumerConfig returns default configuration
func DefaultBookingConsumerConfig() *BookingConsumerConfig {
	return &BookingConsumerConfig{
		Brokers:        []string{"localhost:9092"},
		GroupID:        "payment-service",
		Topic:          dto.TopicBookingEvents,
		MaxRetries:     3,
		RetryInterval:  2 * time.Second,
		ProcessTimeout: 30 * time.Second,
		WorkerCount:    10,
	}
}

// NewBookingConsumer creates a new booking consumer. Events that keep
// failing are parked on the DLQ topic via the producer so the partition
// does not stall.
func NewBookingConsumer(
	ctx context.Context,
	cfg *BookingConsumerConfig,
	bookings repository.BookingRepository,
	producer *kafka.Producer,
) (*BookingConsumer, error) {
	if cfg == nil {
		cfg = DefaultBookingConsumerConfig()
	}

	consumerCfg := &kafka.ConsumerConfig{
		Brokers:       cfg.Brokers,
		GroupID:       cfg.GroupID,
		Topics:        []string{cfg.Topic},
		ClientID:      "payment-service-consumer",
		MaxRetries:    cfg.MaxRetries,
		RetryInterval: cfg.RetryInterval,
	}

	consumer, err := kafka.NewConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	var dlqPublisher retry.DLQPublisher = retry.NewNoOpDLQPublisher()
	if producer != nil {
		dlqPublisher = retry.NewKafkaDLQPublisher(
			&retry.KafkaProducerAdapter{Producer: producer},
			&retry.DLQConfig{TopicSuffix: ".dlq", Source: "payment-service"},
		)
	}

	return &BookingConsumer{
		consumer:     consumer,
		bookings:     bookings,
		dlqPublisher: dlqPublisher,
		config:       cfg,
		stopCh:       make(chan struct{}),
	}, nil
}

// Start starts the consumer
func (c *BookingConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer is already running")
	}
	c.running = true
	c.mu.Unlock()

	logger.Get().Info("starting booking consumer",
		zap.String("topic", c.config.Topic),
		zap.Int("workers", c.config.WorkerCount),
	)

	recordsCh := make(chan *kafka.Record, c.config.WorkerCount*10)

	for i := 0; i < c.config.WorkerCount; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, recordsCh)
	}

	c.wg.Add(1)
	go c.poll(ctx, recordsCh)

	return nil
}

// poll continuously polls for new records
func (c *BookingConsumer) poll(ctx context.Context, recordsCh chan<- *kafka.Record) {
	defer c.wg.Done()
	defer close(recordsCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
			records, err := c.consumer.Poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Get().Error("failed to poll records", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			for _, record := range records {
				select {
				case recordsCh <- record:
				case <-ctx.Done():
					return
				case <-c.stopCh:
					return
				}
			}
		}
	}
}

// worker processes records from the channel
func (c *BookingConsumer) worker(ctx context.Context, id int, recordsCh <-chan *kafka.Record) {
	defer c.wg.Done()

	for record := range recordsCh {
		if err := c.processRecord(ctx, record); err != nil {
			logger.Get().Error("failed to process booking event",
				zap.Int("worker", id),
				zap.Int64("offset", record.Offset),
				zap.Error(err),
			)
		}
	}
}

// processRecord applies one booking event to the projection. The offset is
// committed once the event is applied, skipped, or parked on the DLQ; an
// uncommitted offset means the record is redelivered.
func (c *BookingConsumer) processRecord(ctx context.Context, record *kafka.Record) error {
	var event dto.BookingEvent
	if err := json.Unmarshal(record.Value, &event); err != nil {
		logger.Get().Warn("skipping malformed booking event",
			zap.Int64("offset", record.Offset),
			zap.Error(err),
		)
		return c.consumer.CommitRecords(ctx, record)
	}
	if event.BookingID == "" {
		logger.Get().Warn("skipping booking event without booking_id",
			zap.String("event_type", event.EventType),
		)
		return c.consumer.CommitRecords(ctx, record)
	}

	processCtx, cancel := context.WithTimeout(ctx, c.config.ProcessTimeout)
	defer cancel()

	movedToDLQ := false
	handler := retry.NewDLQHandler(c.dlqPublisher, &retry.DLQHandlerConfig{
		RetryConfig: &retry.Config{
			MaxRetries:      c.config.MaxRetries,
			InitialInterval: c.config.RetryInterval,
			MaxInterval:     c.config.RetryInterval * 4,
		},
		Source: "payment-service",
		OnDLQ: func(msg *retry.DLQMessage) {
			movedToDLQ = true
			logger.Get().Error("booking event moved to DLQ",
				zap.String("booking_id", event.BookingID),
				zap.String("error", msg.Error),
				zap.Int("attempts", msg.Attempts),
			)
		},
	})

	err := handler.ProcessWithDLQ(processCtx, &retry.MessageContext{
		ID:      event.BookingID + "-" + strconv.FormatInt(record.Offset, 10),
		Topic:   record.Topic,
		Key:     string(record.Key),
		Payload: record.Value,
		Headers: record.Headers,
	}, func(ctx context.Context) error {
		return c.applyEvent(ctx, &event)
	})
	if err != nil && !movedToDLQ {
		// DLQ publish itself failed; leave the offset uncommitted
		return err
	}

	return c.consumer.CommitRecords(ctx, record)
}

// applyEvent upserts the booking projection
func (c *BookingConsumer) applyEvent(ctx context.Context, event *dto.BookingEvent) error {
	status := domain.BookingStatus(event.Status)
	switch status {
	case domain.BookingStatusPending, domain.BookingStatusConfirmed,
		domain.BookingStatusCancelled, domain.BookingStatusExpired:
	default:
		logger.Get().Warn("booking event with unknown status",
			zap.String("booking_id", event.BookingID),
			zap.String("status", event.Status),
		)
		return nil
	}

	currency := event.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	booking := &domain.Booking{
		ID:            event.BookingID,
		UserID:        event.UserID,
		Status:        status,
		PaymentStatus: domain.PaymentStatusPending,
		Amount:        event.Amount,
		Currency:      currency,
	}
	if err := c.bookings.Upsert(ctx, booking); err != nil {
		return fmt.Errorf("upsert booking %s: %w", event.BookingID, err)
	}

	logger.Get().Debug("booking projection updated",
		zap.String("booking_id", event.BookingID),
		zap.String("status", event.Status),
	)
	return nil
}

// Stop stops the consumer
func (c *BookingConsumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()
	c.consumer.Close()

	logger.Get().Info("booking consumer stopped")
	return nil
}

// IsRunning returns whether the consumer is running
func (c *BookingConsumer) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}
