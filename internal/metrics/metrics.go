package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vietstay/payment-service/pkg/telemetry"
)

var (
	// Payment order counters
	OrdersCreated   *telemetry.Counter
	OrdersCompleted *telemetry.Counter
	OrdersFailed    *telemetry.Counter
	OrdersCancelled *telemetry.Counter

	// Webhook counters
	WebhooksReceived  *telemetry.Counter
	WebhooksApplied   *telemetry.Counter
	WebhooksRejected  *telemetry.Counter
	WebhooksDuplicate *telemetry.Counter

	// Histograms
	ReconciliationDuration *telemetry.Histogram
	OrderAmount            *telemetry.Histogram

	// Gauges
	PendingOrders *telemetry.UpDownCounter

	initOnce sync.Once
	initErr  error
)

// Init initializes all payment metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	var err error

	OrdersCreated, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_orders_created_total",
		Description: "Total number of payment orders created",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	OrdersCompleted, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_orders_completed_total",
		Description: "Total number of payment orders completed",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	OrdersFailed, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_orders_failed_total",
		Description: "Total number of payment orders failed",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	OrdersCancelled, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_orders_cancelled_total",
		Description: "Total number of payment orders cancelled",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	WebhooksReceived, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_webhooks_received_total",
		Description: "Total number of webhook deliveries received",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	WebhooksApplied, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_webhooks_applied_total",
		Description: "Total number of webhook deliveries that transitioned state",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	WebhooksRejected, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_webhooks_rejected_total",
		Description: "Total number of webhook deliveries rejected by verification",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	WebhooksDuplicate, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_webhooks_duplicate_total",
		Description: "Total number of duplicate webhook deliveries",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	ReconciliationDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "payment_reconciliation_duration_seconds",
		Description: "Duration of webhook reconciliation",
		Unit:        "s",
	}, []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}) // 10ms to 5s
	if err != nil {
		return err
	}

	OrderAmount, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "payment_order_amount_vnd",
		Description: "Payment order amounts distribution",
		Unit:        "VND",
	}, []float64{50000, 100000, 250000, 500000, 1000000, 2500000, 5000000, 10000000})
	if err != nil {
		return err
	}

	PendingOrders, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "payment_orders_pending",
		Description: "Current number of pending payment orders",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	return nil
}

// RecordOrderCreated records an order creation metric
func RecordOrderCreated(ctx context.Context, provider string, amount int64) {
	if OrdersCreated != nil {
		OrdersCreated.Inc(ctx, attribute.String("provider", provider))
	}
	if OrderAmount != nil {
		OrderAmount.Record(ctx, float64(amount), attribute.String("provider", provider))
	}
	if PendingOrders != nil {
		PendingOrders.Inc(ctx)
	}
}

// RecordOrderSettled records a terminal transition metric
func RecordOrderSettled(ctx context.Context, provider, status string) {
	switch status {
	case "completed":
		if OrdersCompleted != nil {
			OrdersCompleted.Inc(ctx, attribute.String("provider", provider))
		}
	case "failed":
		if OrdersFailed != nil {
			OrdersFailed.Inc(ctx, attribute.String("provider", provider))
		}
	case "cancelled":
		if OrdersCancelled != nil {
			OrdersCancelled.Inc(ctx, attribute.String("provider", provider))
		}
	}
	if PendingOrders != nil {
		PendingOrders.Dec(ctx)
	}
}

// RecordWebhookReceived records a webhook receipt metric
func RecordWebhookReceived(ctx context.Context, provider string) {
	if WebhooksReceived != nil {
		WebhooksReceived.Inc(ctx, attribute.String("provider", provider))
	}
}

// RecordWebhookApplied records a webhook that transitioned state
func RecordWebhookApplied(ctx context.Context, provider string, durationSeconds float64) {
	if WebhooksApplied != nil {
		WebhooksApplied.Inc(ctx, attribute.String("provider", provider))
	}
	if ReconciliationDuration != nil {
		ReconciliationDuration.Record(ctx, durationSeconds, attribute.String("provider", provider))
	}
}

// RecordWebhookRejected records a webhook rejected by verification
func RecordWebhookRejected(ctx context.Context, provider, reason string) {
	if WebhooksRejected != nil {
		WebhooksRejected.Inc(ctx,
			attribute.String("provider", provider),
			attribute.String("reason", reason),
		)
	}
}

// RecordWebhookDuplicate records a duplicate delivery
func RecordWebhookDuplicate(ctx context.Context, provider string) {
	if WebhooksDuplicate != nil {
		WebhooksDuplicate.Inc(ctx, attribute.String("provider", provider))
	}
}
