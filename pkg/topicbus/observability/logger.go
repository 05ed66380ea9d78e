// Package observability provides production-grade observability features
// for topicbus: structured logging, metrics, and distributed tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds delivery context to a logger.
// Returns a new logger with topic, subscription_id, and attempt fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "order.created", "sub-123", 1)
//	enriched.Info("doing work") // includes topic, subscription_id, attempt
func EnrichLogger(logger *slog.Logger, topic, subscriptionID string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("topic", topic),
		slog.String("subscription_id", subscriptionID),
		slog.Int("attempt", attempt),
	)
}

// LogPublish logs the admission of an event into the pending queue.
func LogPublish(logger *slog.Logger, topic string, queueDepth int) {
	if logger == nil {
		return
	}
	logger.Debug("event published",
		slog.String("topic", topic),
		slog.Int("queue_depth", queueDepth),
	)
}

// LogDeliveryStart logs the start of a handler invocation.
func LogDeliveryStart(logger *slog.Logger, topic, subscriptionID string) {
	if logger == nil {
		return
	}
	logger.Debug("delivery starting",
		slog.String("topic", topic),
		slog.String("subscription_id", subscriptionID),
	)
}

// LogDeliveryComplete logs successful handler completion.
func LogDeliveryComplete(logger *slog.Logger, topic, subscriptionID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("delivery completed",
		slog.String("topic", topic),
		slog.String("subscription_id", subscriptionID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDeliveryError logs a failed handler invocation.
func LogDeliveryError(logger *slog.Logger, topic, subscriptionID string, attempt int, err error) {
	if logger == nil {
		return
	}
	logger.Error("delivery failed",
		slog.String("topic", topic),
		slog.String("subscription_id", subscriptionID),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}

// LogRetryScheduled logs that a failed delivery will be retried after a delay.
func LogRetryScheduled(logger *slog.Logger, topic, subscriptionID string, attempt int, delayMs float64) {
	if logger == nil {
		return
	}
	logger.Warn("delivery retry scheduled",
		slog.String("topic", topic),
		slog.String("subscription_id", subscriptionID),
		slog.Int("attempt", attempt),
		slog.Float64("delay_ms", delayMs),
	)
}

// LogRetryDropped logs a retry abandoned because its subscription was removed.
func LogRetryDropped(logger *slog.Logger, topic, subscriptionID string) {
	if logger == nil {
		return
	}
	logger.Warn("retry dropped for removed subscription",
		slog.String("topic", topic),
		slog.String("subscription_id", subscriptionID),
	)
}

// LogDeadLetter logs an event routed to a dead-letter queue.
func LogDeadLetter(logger *slog.Logger, queue, topic, subscriptionID string, attempts int) {
	if logger == nil {
		return
	}
	logger.Error("event dead-lettered",
		slog.String("queue", queue),
		slog.String("topic", topic),
		slog.String("subscription_id", subscriptionID),
		slog.Int("attempts", attempts),
	)
}

// LogDeadLetterError logs a failure to record a dead-letter entry (non-fatal).
func LogDeadLetterError(logger *slog.Logger, queue, topic string, err error) {
	if logger == nil {
		return
	}
	logger.Error("dead-letter record failed",
		slog.String("queue", queue),
		slog.String("topic", topic),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
