package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records topicbus metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records an event admitted for delivery, along with the
	// pending queue depth observed at admission time.
	RecordPublish(ctx context.Context, topic string, queueDepth int64)

	// RecordDelivery records a handler invocation with its duration and error status.
	RecordDelivery(ctx context.Context, topic string, duration time.Duration, err error)

	// RecordRetry records a delivery retry attempt.
	RecordRetry(ctx context.Context, topic string)

	// RecordDeadLetter records an event routed to a dead-letter queue.
	RecordDeadLetter(ctx context.Context, queue, topic string)

	// RecordDrop records an event dropped before delivery, with a reason
	// such as "evicted", "rejected", or "no_subscribers".
	RecordDrop(ctx context.Context, topic, reason string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	eventsPublished metric.Int64Counter
	queueDepth      metric.Int64Histogram
	deliveries      metric.Int64Counter
	deliveryLatency metric.Float64Histogram
	deliveryErrors  metric.Int64Counter
	retries         metric.Int64Counter
	deadLetters     metric.Int64Counter
	eventsDropped   metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("topicbus")

	eventsPublished, err := meter.Int64Counter("topicbus.events.published",
		metric.WithDescription("Number of events admitted for delivery"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64Histogram("topicbus.queue.depth",
		metric.WithDescription("Pending queue depth sampled at admission"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("topicbus.deliveries",
		metric.WithDescription("Number of handler invocations"),
	)
	if err != nil {
		return nil, err
	}

	deliveryLatency, err := meter.Float64Histogram("topicbus.delivery.latency_ms",
		metric.WithDescription("Handler invocation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	deliveryErrors, err := meter.Int64Counter("topicbus.delivery.errors",
		metric.WithDescription("Number of failed handler invocations"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter("topicbus.retries",
		metric.WithDescription("Number of delivery retries"),
	)
	if err != nil {
		return nil, err
	}

	deadLetters, err := meter.Int64Counter("topicbus.dead_letters",
		metric.WithDescription("Number of events routed to a dead-letter queue"),
	)
	if err != nil {
		return nil, err
	}

	eventsDropped, err := meter.Int64Counter("topicbus.events.dropped",
		metric.WithDescription("Number of events dropped before delivery"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		eventsPublished: eventsPublished,
		queueDepth:      queueDepth,
		deliveries:      deliveries,
		deliveryLatency: deliveryLatency,
		deliveryErrors:  deliveryErrors,
		retries:         retries,
		deadLetters:     deadLetters,
		eventsDropped:   eventsDropped,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPublish records an admitted event and the observed queue depth.
func (m *otelMetrics) RecordPublish(ctx context.Context, topic string, queueDepth int64) {
	attrs := []attribute.KeyValue{
		attribute.String("topic", topic),
	}
	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.queueDepth.Record(ctx, queueDepth, metric.WithAttributes(attrs...))
}

// RecordDelivery records a handler invocation.
func (m *otelMetrics) RecordDelivery(ctx context.Context, topic string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("topic", topic),
	}

	m.deliveries.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.deliveryLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.deliveryErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordRetry records a delivery retry.
func (m *otelMetrics) RecordRetry(ctx context.Context, topic string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
	))
}

// RecordDeadLetter records a dead-lettered event.
func (m *otelMetrics) RecordDeadLetter(ctx context.Context, queue, topic string) {
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("topic", topic),
	))
}

// RecordDrop records a dropped event.
func (m *otelMetrics) RecordDrop(ctx context.Context, topic, reason string) {
	m.eventsDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("reason", reason),
	))
}
