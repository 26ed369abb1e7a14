package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// ConsumerConfig contains Kafka consumer configuration
type ConsumerConfig struct {
	Brokers []string
	// GroupID is the consumer group for offset management
	GroupID string
	// Topics to subscribe to
	Topics   []string
	ClientID string
	// MaxRetries bounds connection attempts at startup
	MaxRetries    int
	RetryInterval time.Duration
}

// DefaultConsumerConfig returns default consumer configuration
func DefaultConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		Brokers:       []string{"localhost:9092"},
		GroupID:       "payment-service",
		ClientID:      "payment-service",
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	}
}

// Record is one consumed Kafka message
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string

	raw *kgo.Record
}

// Consumer wraps a franz-go group consumer. Offsets are committed
// explicitly via CommitRecords after successful processing.
type Consumer struct {
	client *kgo.Client
}

// NewConsumer creates a group consumer and verifies broker connectivity
// with retry
func NewConsumer(ctx context.Context, cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		cfg = DefaultConsumerConfig()
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("consumer requires at least one topic")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
	}

	var client *kgo.Client
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.RetryInterval):
			}
		}

		client, lastErr = kgo.NewClient(opts...)
		if lastErr != nil {
			continue
		}
		if lastErr = client.Ping(ctx); lastErr != nil {
			client.Close()
			continue
		}
		return &Consumer{client: client}, nil
	}

	return nil, fmt.Errorf("failed to connect to kafka after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// Poll fetches a batch of records, blocking until records arrive or the
// context is done
func (c *Consumer) Poll(ctx context.Context) ([]*Record, error) {
	fetches := c.client.PollFetches(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errs := fetches.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("fetch error on %s: %w", errs[0].Topic, errs[0].Err)
	}

	var records []*Record
	fetches.EachRecord(func(r *kgo.Record) {
		headers := make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			headers[h.Key] = string(h.Value)
		}
		records = append(records, &Record{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Key:       r.Key,
			Value:     r.Value,
			Headers:   headers,
			raw:       r,
		})
	})
	return records, nil
}

// CommitRecords commits offsets for the given records
func (c *Consumer) CommitRecords(ctx context.Context, records ...*Record) error {
	raw := make([]*kgo.Record, 0, len(records))
	for _, r := range records {
		if r.raw != nil {
			raw = append(raw, r.raw)
		}
	}
	if len(raw) == 0 {
		return nil
	}
	if err := c.client.CommitRecords(ctx, raw...); err != nil {
		return fmt.Errorf("failed to commit offsets: %w", err)
	}
	return nil
}

// Close leaves the group and closes the consumer
func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
