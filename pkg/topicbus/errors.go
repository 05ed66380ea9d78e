package topicbus

import (
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/topicbus/pkg/topicbus/codec"
	"github.com/randalmurphal/topicbus/pkg/topicbus/topic"
)

// Sentinel errors surfaced at subscribe time.
var (
	// ErrInvalidPattern indicates a malformed subscription pattern.
	// Alias of topic.ErrInvalidPattern so callers need only this package.
	ErrInvalidPattern = topic.ErrInvalidPattern

	// ErrNilHandler indicates Subscribe was called without a handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrInvalidFilter indicates a malformed subscription filter expression.
	ErrInvalidFilter = errors.New("invalid filter expression")

	// ErrMaxSubscribers indicates the configured subscriber cap was reached.
	ErrMaxSubscribers = errors.New("maximum subscribers reached")
)

// Sentinel errors surfaced at publish time.
var (
	// ErrQueueFull indicates the admission queue is at its limit under
	// the reject overflow policy.
	ErrQueueFull = errors.New("admission queue full")

	// ErrInvalidTopic indicates a malformed publish topic.
	// Alias of topic.ErrInvalidTopic.
	ErrInvalidTopic = topic.ErrInvalidTopic

	// ErrBusClosed indicates the bus has been closed.
	ErrBusClosed = errors.New("bus is closed")

	// ErrPluginRejected indicates a pre-publish plugin vetoed the event.
	ErrPluginRejected = errors.New("publish rejected by plugin")
)

// Sentinel errors classifying delivery failures.
var (
	// ErrHandlerFailure wraps a subscriber handler's error. It drives
	// the retry/dead-letter state machine and never reaches the
	// publisher.
	ErrHandlerFailure = errors.New("handler failure")

	// ErrSerializationFailure wraps encode/decode/encrypt errors at a
	// subscription's serialization boundary. Routed directly to the
	// dead-letter sink, bypassing retry: a malformed payload cannot
	// succeed on a re-attempt.
	ErrSerializationFailure = errors.New("payload serialization failure")

	// ErrUnknownSerializer indicates a codec name that was never
	// registered. Alias of codec.ErrUnknownSerializer.
	ErrUnknownSerializer = codec.ErrUnknownSerializer

	// ErrUnknownSubscription indicates a subscription ID that does not
	// exist on this bus.
	ErrUnknownSubscription = errors.New("unknown subscription")
)

// DeliveryError describes one subscriber's failed delivery. It wraps the
// underlying handler or serialization error for errors.Is/As.
type DeliveryError struct {
	// Topic the event was published to.
	Topic string
	// SubscriptionID is the subscriber whose delivery failed.
	SubscriptionID string
	// Attempt is the attempt number that failed (1 = first delivery).
	Attempt int
	// Err is the underlying error.
	Err error
	// Timestamp is when the failure occurred.
	Timestamp time.Time
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s on %q failed (attempt %d): %v", e.SubscriptionID, e.Topic, e.Attempt, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// PanicError captures a handler panic. Panics are recovered and treated
// as handler failures; they never escape the dispatch loop.
type PanicError struct {
	// SubscriptionID is the subscriber whose handler panicked.
	SubscriptionID string
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler for %s panicked: %v", e.SubscriptionID, e.Value)
}

// Unwrap returns ErrHandlerFailure for errors.Is support.
func (e *PanicError) Unwrap() error {
	return ErrHandlerFailure
}
