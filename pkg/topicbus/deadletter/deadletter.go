// Package deadletter provides terminal storage for events whose delivery
// permanently failed: retries exhausted or payload serialization broken.
//
// Records are append-only. They persist until explicitly drained by the
// owner. Multiple named queues are supported; the bus records into
// DefaultQueue unless a subscription or hook routes elsewhere.
//
// Two sinks are provided: MemorySink for tests and single-instance use,
// and SQLiteSink for durability across process restarts.
package deadletter

import (
	"context"
	"errors"
	"time"
)

// DefaultQueue is the queue name used when none is specified.
const DefaultQueue = "default"

var (
	// ErrSinkClosed indicates the sink has been closed.
	ErrSinkClosed = errors.New("dead letter sink closed")

	// ErrSinkFull indicates the sink refused a record because its size
	// limit was reached. The dispatch path logs this; it never
	// propagates to publishers or handlers.
	ErrSinkFull = errors.New("dead letter sink full")
)

// Record is one permanently failed delivery. Append-only; never mutated
// after insertion.
type Record struct {
	// ID uniquely identifies the record.
	ID string `json:"id"`

	// Queue is the named dead-letter queue holding the record.
	Queue string `json:"queue"`

	// Topic the event was published to.
	Topic string `json:"topic"`

	// Payload is the event payload as handed to the failing subscriber.
	Payload any `json:"payload"`

	// Context is the propagated context snapshot attached to the event.
	Context map[string]any `json:"context,omitempty"`

	// SubscriptionID identifies the subscriber whose delivery failed.
	SubscriptionID string `json:"subscription_id,omitempty"`

	// Pattern is the failing subscription's topic pattern.
	Pattern string `json:"pattern,omitempty"`

	// LastError is the error message of the final failed attempt.
	LastError string `json:"last_error"`

	// Attempts is the total number of delivery attempts made.
	Attempts int `json:"attempts"`

	// EnqueuedAt is when the event entered the bus.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// RecordedAt is when the record was written to the sink.
	RecordedAt time.Time `json:"recorded_at"`
}

// Sink stores dead-letter records. Implementations must be safe for
// concurrent use. Record failures must be returned, never panicked; the
// dispatch path treats them as log-and-continue.
type Sink interface {
	// Record appends a record to its queue.
	Record(ctx context.Context, rec Record) error

	// List returns records in a queue without removing them, oldest
	// first. An unknown queue yields an empty slice, not an error.
	List(ctx context.Context, queue string, opts ...DrainOption) ([]Record, error)

	// Drain removes and returns records from a queue, oldest first.
	// Only records matching the options are removed.
	Drain(ctx context.Context, queue string, opts ...DrainOption) ([]Record, error)

	// Len returns the number of records in a queue.
	Len(ctx context.Context, queue string) (int, error)

	// Close releases any resources.
	Close() error
}

// Stats summarizes one named queue.
type Stats struct {
	// Queue is the queue name.
	Queue string

	// Depth is the number of records currently held.
	Depth int
}

// Queue is a handle to one named dead-letter queue on a sink.
type Queue struct {
	name string
	sink Sink
}

// NewQueue wraps a named queue on the given sink.
func NewQueue(name string, sink Sink) *Queue {
	if name == "" {
		name = DefaultQueue
	}
	return &Queue{name: name, sink: sink}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// List returns the queue's records without removing them.
func (q *Queue) List(ctx context.Context, opts ...DrainOption) ([]Record, error) {
	return q.sink.List(ctx, q.name, opts...)
}

// Drain removes and returns the queue's records.
func (q *Queue) Drain(ctx context.Context, opts ...DrainOption) ([]Record, error) {
	return q.sink.Drain(ctx, q.name, opts...)
}

// Len returns the queue depth.
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.sink.Len(ctx, q.name)
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	n, err := q.sink.Len(ctx, q.name)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Queue: q.name, Depth: n}, nil
}
