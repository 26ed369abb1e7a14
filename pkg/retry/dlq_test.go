package retry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// capturingKafka records published DLQ messages in place of a real producer
type capturingKafka struct {
	published []struct {
		Topic   string
		Key     string
		Data    interface{}
		Headers map[string]string
	}
	failPublish bool
}

func (k *capturingKafka) PublishJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error {
	if k.failPublish {
		return errors.New("broker unreachable")
	}
	k.published = append(k.published, struct {
		Topic   string
		Key     string
		Data    interface{}
		Headers map[string]string
	}{topic, key, data, headers})
	return nil
}

func TestDefaultDLQConfig(t *testing.T) {
	cfg := DefaultDLQConfig()

	if cfg.TopicSuffix != ".dlq" {
		t.Errorf("TopicSuffix = %s, want .dlq", cfg.TopicSuffix)
	}
	if cfg.TopicPrefix != "dlq." {
		t.Errorf("TopicPrefix = %s, want dlq.", cfg.TopicPrefix)
	}
	if cfg.UsePrefix {
		t.Error("UsePrefix should default to false")
	}
	if cfg.Source != "unknown" {
		t.Errorf("Source = %s, want unknown", cfg.Source)
	}
}

func TestKafkaDLQPublisher_TopicDerivation(t *testing.T) {
	tests := []struct {
		name      string
		topic     string
		usePrefix bool
		prefix    string
		suffix    string
		want      string
	}{
		{"suffix mode", "booking-events", false, "", ".dlq", "booking-events.dlq"},
		{"prefix mode", "booking-events", true, "dlq.", "", "dlq.booking-events"},
		{"custom suffix", "payment.events", false, "", "-dead-letter", "payment.events-dead-letter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := NewKafkaDLQPublisher(&capturingKafka{}, &DLQConfig{
				TopicPrefix: tt.prefix,
				TopicSuffix: tt.suffix,
				UsePrefix:   tt.usePrefix,
			})
			if got := publisher.GetDLQTopic(tt.topic); got != tt.want {
				t.Errorf("GetDLQTopic(%s) = %s, want %s", tt.topic, got, tt.want)
			}
		})
	}
}

func TestKafkaDLQPublisher_ParksBookingEvent(t *testing.T) {
	kafka := &capturingKafka{}
	publisher := NewKafkaDLQPublisher(kafka, &DLQConfig{
		TopicSuffix: ".dlq",
		Source:      "payment-service",
	})

	msg := &DLQMessage{
		ID:            "booking-001-42",
		OriginalTopic: "booking-events",
		OriginalKey:   "booking-001",
		Payload:       json.RawMessage(`{"booking_id":"booking-001","status":"confirmed"}`),
		Headers: map[string]string{
			"event_type": "booking.confirmed",
		},
		Error:          "upsert booking booking-001: connection refused",
		Attempts:       4,
		FirstAttemptAt: time.Now().Add(-time.Minute),
		LastAttemptAt:  time.Now(),
	}

	if err := publisher.PublishToDLQ(context.Background(), msg); err != nil {
		t.Fatalf("PublishToDLQ failed: %v", err)
	}
	if len(kafka.published) != 1 {
		t.Fatalf("Expected 1 published message, got %d", len(kafka.published))
	}

	got := kafka.published[0]
	if got.Topic != "booking-events.dlq" {
		t.Errorf("Topic = %s, want booking-events.dlq", got.Topic)
	}
	if got.Key != "booking-001" {
		t.Errorf("Key = %s, want booking-001", got.Key)
	}
	if got.Headers["original_topic"] != "booking-events" {
		t.Errorf("Header original_topic = %s, want booking-events", got.Headers["original_topic"])
	}
	if got.Headers["attempts"] != "4" {
		t.Errorf("Header attempts = %s, want 4", got.Headers["attempts"])
	}
	if got.Headers["source"] != "payment-service" {
		t.Errorf("Header source = %s, want payment-service", got.Headers["source"])
	}

	parked, ok := got.Data.(*DLQMessage)
	if !ok {
		t.Fatal("Published data is not a DLQMessage")
	}
	if parked.MovedToDLQAt.IsZero() {
		t.Error("MovedToDLQAt should be stamped on publish")
	}
	if parked.Source != "payment-service" {
		t.Errorf("Source = %s, want payment-service", parked.Source)
	}
}

func TestKafkaDLQPublisher_NilMessageRejected(t *testing.T) {
	publisher := NewKafkaDLQPublisher(&capturingKafka{}, nil)

	if err := publisher.PublishToDLQ(context.Background(), nil); err == nil {
		t.Error("Expected error for nil message")
	}
}

func TestKafkaDLQPublisher_PublishFailureSurfaces(t *testing.T) {
	publisher := NewKafkaDLQPublisher(&capturingKafka{failPublish: true}, nil)

	err := publisher.PublishToDLQ(context.Background(), &DLQMessage{
		ID:            "booking-002-7",
		OriginalTopic: "booking-events",
		OriginalKey:   "booking-002",
		Error:         "upsert booking booking-002: connection refused",
	})
	if err == nil {
		t.Error("Expected error when the broker publish fails")
	}
}

func TestNewKafkaDLQPublisher_NilConfigUsesDefaults(t *testing.T) {
	publisher := NewKafkaDLQPublisher(&capturingKafka{}, nil)

	if publisher.config == nil {
		t.Fatal("Config should not be nil")
	}
	if publisher.config.TopicSuffix != ".dlq" {
		t.Errorf("TopicSuffix = %s, want .dlq", publisher.config.TopicSuffix)
	}
}

func TestNoOpDLQPublisher(t *testing.T) {
	publisher := NewNoOpDLQPublisher()

	err := publisher.PublishToDLQ(context.Background(), &DLQMessage{
		ID:            "booking-003-1",
		OriginalTopic: "booking-events",
	})
	if err != nil {
		t.Errorf("NoOpDLQPublisher should never fail, got %v", err)
	}
	if topic := publisher.GetDLQTopic("booking-events"); topic != "booking-events.dlq" {
		t.Errorf("GetDLQTopic = %s, want booking-events.dlq", topic)
	}
}

func dlqTestHandler(publisher DLQPublisher, maxRetries int, onDLQ func(*DLQMessage)) *DLQHandler {
	return NewDLQHandler(publisher, &DLQHandlerConfig{
		RetryConfig: fastConfig(maxRetries),
		Source:      "payment-service",
		OnDLQ:       onDLQ,
	})
}

func TestDLQHandler_AppliedEventStaysOffDLQ(t *testing.T) {
	kafka := &capturingKafka{}
	handler := dlqTestHandler(NewKafkaDLQPublisher(kafka, nil), 3, nil)

	attempts := 0
	err := handler.ProcessWithDLQ(context.Background(), &MessageContext{
		ID:      "booking-001-42",
		Topic:   "booking-events",
		Key:     "booking-001",
		Payload: json.RawMessage(`{"booking_id":"booking-001"}`),
	}, func(ctx context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("ProcessWithDLQ failed: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Operation called %d times, want 1", attempts)
	}
	if len(kafka.published) != 0 {
		t.Errorf("Expected no DLQ messages, got %d", len(kafka.published))
	}
}

func TestDLQHandler_ExhaustedEventIsParked(t *testing.T) {
	kafka := &capturingKafka{}
	publisher := NewKafkaDLQPublisher(kafka, &DLQConfig{
		TopicSuffix: ".dlq",
		Source:      "payment-service",
	})

	var parked *DLQMessage
	handler := dlqTestHandler(publisher, 2, func(msg *DLQMessage) {
		parked = msg
	})

	attempts := 0
	err := handler.ProcessWithDLQ(context.Background(), &MessageContext{
		ID:      "booking-001-42",
		Topic:   "booking-events",
		Key:     "booking-001",
		Payload: json.RawMessage(`{"booking_id":"booking-001"}`),
		Headers: map[string]string{"event_type": "booking.confirmed"},
	}, func(ctx context.Context) error {
		attempts++
		return errors.New("upsert booking booking-001: connection refused")
	})

	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("Expected ErrMaxRetriesExceeded, got %v", err)
	}
	// initial attempt plus two retries
	if attempts != 3 {
		t.Errorf("Operation called %d times, want 3", attempts)
	}
	if len(kafka.published) != 1 {
		t.Fatalf("Expected 1 DLQ message, got %d", len(kafka.published))
	}
	if kafka.published[0].Topic != "booking-events.dlq" {
		t.Errorf("DLQ topic = %s, want booking-events.dlq", kafka.published[0].Topic)
	}
	if parked == nil {
		t.Error("OnDLQ callback was not invoked")
	} else if parked.Attempts != 3 {
		t.Errorf("Parked attempts = %d, want 3", parked.Attempts)
	}
}

func TestDLQHandler_PermanentErrorParksWithoutRetries(t *testing.T) {
	kafka := &capturingKafka{}
	handler := dlqTestHandler(NewKafkaDLQPublisher(kafka, nil), 5, nil)

	attempts := 0
	err := handler.ProcessWithDLQ(context.Background(), &MessageContext{
		ID:    "booking-001-42",
		Topic: "booking-events",
		Key:   "booking-001",
	}, func(ctx context.Context) error {
		attempts++
		return Permanent(errors.New("booking event schema mismatch"))
	})

	if err == nil {
		t.Error("Expected error for permanent failure")
	}
	if attempts != 1 {
		t.Errorf("Operation called %d times, want 1", attempts)
	}
	if len(kafka.published) != 1 {
		t.Errorf("Expected 1 DLQ message, got %d", len(kafka.published))
	}
}

func TestDefaultDLQHandlerConfig(t *testing.T) {
	cfg := DefaultDLQHandlerConfig()

	if cfg.RetryConfig == nil {
		t.Error("RetryConfig should not be nil")
	}
	if cfg.Source != "unknown" {
		t.Errorf("Source = %s, want unknown", cfg.Source)
	}
}

func TestNewDLQHandler_NilConfigUsesDefaults(t *testing.T) {
	handler := NewDLQHandler(NewKafkaDLQPublisher(&capturingKafka{}, nil), nil)

	if handler.config == nil {
		t.Error("Config should not be nil")
	}
}

type countingProducer struct {
	calls int
}

func (p *countingProducer) ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error {
	p.calls++
	return nil
}

func TestKafkaProducerAdapter(t *testing.T) {
	producer := &countingProducer{}
	adapter := &KafkaProducerAdapter{Producer: producer}

	err := adapter.PublishJSON(context.Background(), "booking-events.dlq", "booking-001", map[string]string{"k": "v"}, nil)
	if err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}
	if producer.calls != 1 {
		t.Errorf("Expected 1 produce call, got %d", producer.calls)
	}
}
