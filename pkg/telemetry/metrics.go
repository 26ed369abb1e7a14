package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName identifies this instrumentation scope
const meterName = "github.com/vietstay/payment-service"

// MetricOpts describes one instrument
type MetricOpts struct {
	Name        string
	Description string
	Unit        string
}

// Counter wraps an otel Int64Counter
type Counter struct {
	counter metric.Int64Counter
}

// NewCounter creates a monotonically increasing counter
func NewCounter(opts MetricOpts) (*Counter, error) {
	c, err := otel.Meter(meterName).Int64Counter(
		opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", opts.Name, err)
	}
	return &Counter{counter: c}, nil
}

// Inc increments the counter by one
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Add increments the counter by value
func (c *Counter) Add(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

// Histogram wraps an otel Float64Histogram
type Histogram struct {
	histogram metric.Float64Histogram
}

// NewHistogram creates a histogram with default buckets
func NewHistogram(opts MetricOpts) (*Histogram, error) {
	return NewHistogramWithBuckets(opts, nil)
}

// NewHistogramWithBuckets creates a histogram with explicit bucket boundaries
func NewHistogramWithBuckets(opts MetricOpts, buckets []float64) (*Histogram, error) {
	instOpts := []metric.Float64HistogramOption{
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	}
	if len(buckets) > 0 {
		instOpts = append(instOpts, metric.WithExplicitBucketBoundaries(buckets...))
	}

	h, err := otel.Meter(meterName).Float64Histogram(opts.Name, instOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", opts.Name, err)
	}
	return &Histogram{histogram: h}, nil
}

// Record records one observation
func (h *Histogram) Record(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	h.histogram.Record(ctx, value, metric.WithAttributes(attrs...))
}

// UpDownCounter wraps an otel Int64UpDownCounter
type UpDownCounter struct {
	counter metric.Int64UpDownCounter
}

// NewUpDownCounter creates a counter that can go up and down
func NewUpDownCounter(opts MetricOpts) (*UpDownCounter, error) {
	c, err := otel.Meter(meterName).Int64UpDownCounter(
		opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create updown counter %s: %w", opts.Name, err)
	}
	return &UpDownCounter{counter: c}, nil
}

// Inc increments by one
func (c *UpDownCounter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Dec decrements by one
func (c *UpDownCounter) Dec(ctx context.Context, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, -1, metric.WithAttributes(attrs...))
}
