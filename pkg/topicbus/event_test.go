package topicbus

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	before := time.Now()
	ev := newEvent("order.created", map[string]int{"qty": 2}, map[string]any{"req": "r-1"})

	assert.True(t, strings.HasPrefix(ev.ID, "evt-"), "ID %q", ev.ID)
	assert.Equal(t, "order.created", ev.Topic)
	assert.Equal(t, 1, ev.Attempt)
	assert.False(t, ev.EnqueuedAt.Before(before))
	assert.Equal(t, map[string]any{"req": "r-1"}, ev.Context)

	other := newEvent("order.created", nil, nil)
	assert.NotEqual(t, ev.ID, other.ID)
}

func TestEventClone(t *testing.T) {
	ev := newEvent("a.b", "payload", map[string]any{"k": "v"})
	clone := ev.Clone()

	require.Equal(t, ev.ID, clone.ID)
	require.Equal(t, ev.Context, clone.Context)

	// Mutating the clone's context must not reach the original.
	clone.Context["k"] = "changed"
	clone.Attempt = 9
	assert.Equal(t, "v", ev.Context["k"])
	assert.Equal(t, 1, ev.Attempt)
}

func TestChainAppliesOutermostFirst(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, evt Event) error {
				order = append(order, name)
				return next(ctx, evt)
			}
		}
	}

	h := Chain(func(_ context.Context, _ Event) error {
		order = append(order, "handler")
		return nil
	}, tag("outer"), tag("inner"))

	require.NoError(t, h(context.Background(), Event{}))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestWithHandlerTimeout(t *testing.T) {
	fast := WithHandlerTimeout(func(_ context.Context, _ Event) error {
		return nil
	}, 100*time.Millisecond)
	assert.NoError(t, fast(context.Background(), Event{}))

	failing := WithHandlerTimeout(func(_ context.Context, _ Event) error {
		return errors.New("boom")
	}, 100*time.Millisecond)
	assert.EqualError(t, failing(context.Background(), Event{}), "boom")

	slow := WithHandlerTimeout(func(ctx context.Context, _ Event) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, 20*time.Millisecond)
	assert.ErrorIs(t, slow(context.Background(), Event{}), context.DeadlineExceeded)
}

func TestTimeoutMiddlewareInChain(t *testing.T) {
	h := Chain(
		func(ctx context.Context, _ Event) error {
			select {
			case <-time.After(time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		TimeoutMiddleware(20*time.Millisecond),
	)
	assert.ErrorIs(t, h(context.Background(), Event{}), context.DeadlineExceeded)
}
