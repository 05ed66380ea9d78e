package topicbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(_ context.Context, _ Event) error { return nil }

func addSub(t *testing.T, r *subscriptionRegistry, pattern string, opts ...SubscribeOption) *subscription {
	t.Helper()
	sub := &subscription{pattern: pattern, handler: noopHandler}
	for _, opt := range opts {
		opt(sub)
	}
	require.NoError(t, r.add(sub))
	return sub
}

func TestRegistryAddAssignsIdentity(t *testing.T) {
	r := newSubscriptionRegistry(0)

	s1 := addSub(t, r, "order.*")
	s2 := addSub(t, r, "order.*")

	assert.Contains(t, s1.id, "sub-")
	assert.NotEqual(t, s1.id, s2.id)
	assert.Less(t, s1.seq, s2.seq, "sequence numbers follow registration order")
	assert.Equal(t, 2, r.count())
}

func TestRegistryResolveOrdersByPriority(t *testing.T) {
	r := newSubscriptionRegistry(0)

	low := addSub(t, r, "job.*", WithPriority(5))
	urgent := addSub(t, r, "job.done", WithPriority(0))
	tied := addSub(t, r, "job.#", WithPriority(5))

	got := r.resolve("job.done")
	require.Len(t, got, 3)
	assert.Same(t, urgent, got[0])
	assert.Same(t, low, got[1], "equal priorities keep registration order")
	assert.Same(t, tied, got[2])
}

func TestRegistryResolveSkipsPausedAndCancelled(t *testing.T) {
	r := newSubscriptionRegistry(0)

	s1 := addSub(t, r, "a.b")
	s2 := addSub(t, r, "a.b")
	s3 := addSub(t, r, "a.b")

	require.NoError(t, r.pause(s2.id))
	require.True(t, r.remove(s3.id))

	got := r.resolve("a.b")
	require.Len(t, got, 1)
	assert.Same(t, s1, got[0])

	require.NoError(t, r.resume(s2.id))
	assert.Len(t, r.resolve("a.b"), 2)
}

func TestRegistryActive(t *testing.T) {
	r := newSubscriptionRegistry(0)

	sub := addSub(t, r, "a.b")
	assert.True(t, r.active(sub.id))

	// Paused subscriptions stay active so in-flight retries finish.
	require.NoError(t, r.pause(sub.id))
	assert.True(t, r.active(sub.id))

	require.True(t, r.remove(sub.id))
	assert.False(t, r.active(sub.id))
	assert.False(t, r.active("sub-missing"))
}

func TestRegistryRemoveCleansMatcher(t *testing.T) {
	r := newSubscriptionRegistry(0)

	s1 := addSub(t, r, "logs.#")
	s2 := addSub(t, r, "logs.#")

	// Removing one of two same-pattern subscriptions keeps the pattern
	// matching.
	require.True(t, r.remove(s1.id))
	assert.Len(t, r.resolve("logs.app.error"), 1)

	require.True(t, r.remove(s2.id))
	assert.Empty(t, r.resolve("logs.app.error"))
	assert.False(t, r.remove(s2.id), "removing twice reports missing")
}

func TestRegistryMaxSubscribers(t *testing.T) {
	r := newSubscriptionRegistry(2)

	addSub(t, r, "a.b")
	addSub(t, r, "c.d")

	err := r.add(&subscription{pattern: "e.f", handler: noopHandler})
	assert.ErrorIs(t, err, ErrMaxSubscribers)

	// Zero lifts the cap.
	r.setMaxSubscribers(0)
	assert.NoError(t, r.add(&subscription{pattern: "e.f", handler: noopHandler}))
}

func TestSubscriptionClaim(t *testing.T) {
	sub := &subscription{}

	assert.True(t, sub.claim())
	assert.False(t, sub.claim(), "claim is taken exactly once")
}

func TestSubscribeOptions(t *testing.T) {
	sub := &subscription{}
	filter := func(Event) bool { return true }

	for _, opt := range []SubscribeOption{
		WithPriority(3),
		WithOnce(),
		WithFilter(filter),
		WithFilterExpr(`attempt >= 2`),
		WithBoundary("yaml"),
		WithDeadLetterQueue("audit"),
	} {
		opt(sub)
	}

	assert.Equal(t, 3, sub.priority)
	assert.True(t, sub.once)
	assert.NotNil(t, sub.filter)
	assert.Equal(t, `attempt >= 2`, sub.filterExpr)
	assert.Equal(t, "yaml", sub.boundary)
	assert.Equal(t, "audit", sub.dlq)
}
