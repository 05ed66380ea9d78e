package topicbus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is one published message moving through the bus.
//
// Events are created at publish time and are transient: they live until
// every matched subscriber has been served (delivered, or dead-lettered
// after exhausting retries). The payload is opaque to the bus.
type Event struct {
	// ID uniquely identifies this event.
	ID string `json:"id"`

	// Topic the event was published to.
	Topic string `json:"topic"`

	// Payload is the published value, passed through untouched unless
	// the receiving subscription declares a serialization boundary.
	Payload any `json:"payload"`

	// Attempt is the delivery attempt number for the current
	// subscriber, starting at 1. Each subscriber's trajectory owns its
	// own counter; it is never shared across deliveries.
	Attempt int `json:"attempt"`

	// EnqueuedAt is when the event entered the bus.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Context is the propagated context snapshot captured at publish
	// time. Read it inside handlers with ContextValue.
	Context map[string]any `json:"context,omitempty"`
}

// newEvent creates an event for a publish call.
func newEvent(topic string, payload any, propagated map[string]any) *Event {
	return &Event{
		ID:         fmt.Sprintf("evt-%s", uuid.New().String()[:8]),
		Topic:      topic,
		Payload:    payload,
		Attempt:    1,
		EnqueuedAt: time.Now(),
		Context:    propagated,
	}
}

// Clone creates a deep copy of the event. Each subscriber's delivery
// works on its own clone so concurrent trajectories never alias.
func (e *Event) Clone() *Event {
	eventCopy := *e
	if e.Context != nil {
		eventCopy.Context = make(map[string]any, len(e.Context))
		for k, v := range e.Context {
			eventCopy.Context[k] = v
		}
	}
	return &eventCopy
}

// Message is one topic/payload pair for PublishBatch.
type Message struct {
	// Topic to publish to.
	Topic string `json:"topic"`

	// Payload is the published value.
	Payload any `json:"payload"`
}

// Handler processes one delivered event. Returning an error drives the
// retry/dead-letter machinery; a nil return acknowledges the delivery.
// Handlers run on bus workers (or the publisher's goroutine for
// PublishSync) and must be safe for concurrent use if the same function
// is registered under multiple subscriptions.
type Handler func(ctx context.Context, evt Event) error

// Middleware wraps a handler with cross-cutting behavior.
type Middleware func(Handler) Handler

// Chain applies middleware to a handler, outermost first.
//
//	h := topicbus.Chain(handler, logging, topicbus.TimeoutMiddleware(time.Second))
func Chain(h Handler, mw ...Middleware) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// WithHandlerTimeout bounds each delivery attempt. The handler runs with
// a deadline-carrying context; if it does not return in time the attempt
// fails with context.DeadlineExceeded and the handler goroutine is
// abandoned, so handlers used with this wrapper should honor ctx.
func WithHandlerTimeout(h Handler, timeout time.Duration) Handler {
	return func(ctx context.Context, evt Event) error {
		tctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- h(tctx, evt)
		}()

		select {
		case err := <-done:
			return err
		case <-tctx.Done():
			return tctx.Err()
		}
	}
}

// TimeoutMiddleware is WithHandlerTimeout in middleware form.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(h Handler) Handler {
		return WithHandlerTimeout(h, timeout)
	}
}
