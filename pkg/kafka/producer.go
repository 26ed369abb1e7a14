package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// ProducerConfig contains Kafka producer configuration
type ProducerConfig struct {
	Brokers []string
	// ClientID identifies this service to the brokers
	ClientID string
	// RequiredAcks: all brokers must ack before a produce succeeds
	RequireAll bool
	// MaxRetries bounds connection attempts at startup
	MaxRetries    int
	RetryInterval time.Duration
}

// DefaultProducerConfig returns default producer configuration
func DefaultProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		Brokers:       []string{"localhost:9092"},
		ClientID:      "payment-service",
		RequireAll:    true,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	}
}

// Producer wraps a franz-go client for JSON event publishing
type Producer struct {
	client *kgo.Client
}

// NewProducer creates a Kafka producer and verifies broker connectivity
// with retry
func NewProducer(ctx context.Context, cfg *ProducerConfig) (*Producer, error) {
	if cfg == nil {
		cfg = DefaultProducerConfig()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
	}
	if cfg.RequireAll {
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
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
		return &Producer{client: client}, nil
	}

	return nil, fmt.Errorf("failed to connect to kafka after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// ProduceJSON marshals value and publishes it synchronously
func (p *Producer) ProduceJSON(ctx context.Context, topic string, key string, value interface{}, headers map[string]string) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the producer
func (p *Producer) Close() {
	if p.client != nil {
		p.client.Close()
	}
}
