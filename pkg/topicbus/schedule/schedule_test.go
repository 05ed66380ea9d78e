package schedule_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/topicbus/pkg/topicbus/cluster"
	"github.com/randalmurphal/topicbus/pkg/topicbus/schedule"
)

func TestNewEntry(t *testing.T) {
	before := time.Now()
	entry := schedule.NewEntry("order.followup", map[string]any{"order_id": 7}, 50*time.Millisecond)

	assert.NotEmpty(t, entry.ID)
	assert.True(t, strings.HasPrefix(entry.ID, "sch-"))
	assert.Equal(t, "order.followup", entry.Topic)
	assert.Equal(t, schedule.StatusPending, entry.Status)
	assert.NotZero(t, entry.CreatedAt)
	assert.True(t, entry.DueAt.After(before))
}

func TestEntry_Clone(t *testing.T) {
	entry := schedule.NewEntry("order.followup", "payload", time.Minute)
	entry.Context = map[string]any{"request_id": "req-1"}

	clone := entry.Clone()

	// Verify copy
	assert.Equal(t, entry.ID, clone.ID)
	assert.Equal(t, entry.Topic, clone.Topic)
	assert.Equal(t, entry.Context["request_id"], clone.Context["request_id"])

	// Verify independence
	clone.Context["request_id"] = "modified"
	assert.Equal(t, "req-1", entry.Context["request_id"])
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("save and get", func(t *testing.T) {
		store := schedule.NewMemoryStore()
		entry := schedule.NewEntry("a.b", 1, time.Minute)
		require.NoError(t, store.Save(ctx, entry))

		got, err := store.Get(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, entry.ID, got.ID)
		assert.Equal(t, entry.Topic, got.Topic)
	})

	t.Run("get returns a copy", func(t *testing.T) {
		store := schedule.NewMemoryStore()
		entry := schedule.NewEntry("a.b", 1, time.Minute)
		entry.Context = map[string]any{"k": "v"}
		require.NoError(t, store.Save(ctx, entry))

		got, err := store.Get(ctx, entry.ID)
		require.NoError(t, err)
		got.Context["k"] = "mutated"

		again, err := store.Get(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, "v", again.Context["k"])
	})

	t.Run("get missing entry", func(t *testing.T) {
		store := schedule.NewMemoryStore()
		_, err := store.Get(ctx, "sch-missing")
		assert.ErrorIs(t, err, schedule.ErrEntryNotFound)
	})

	t.Run("save fills defaults", func(t *testing.T) {
		store := schedule.NewMemoryStore()
		entry := &schedule.Entry{Topic: "a.b", DueAt: time.Now()}
		require.NoError(t, store.Save(ctx, entry))

		assert.NotEmpty(t, entry.ID)
		got, err := store.Get(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, schedule.StatusPending, got.Status)
		assert.NotZero(t, got.CreatedAt)
	})

	t.Run("mark delivered", func(t *testing.T) {
		store := schedule.NewMemoryStore()
		entry := schedule.NewEntry("a.b", 1, time.Minute)
		require.NoError(t, store.Save(ctx, entry))

		require.NoError(t, store.MarkDelivered(ctx, entry.ID))
		got, err := store.Get(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, schedule.StatusDelivered, got.Status)
		assert.NotNil(t, got.DeliveredAt)

		// Only pending entries transition.
		assert.ErrorIs(t, store.MarkDelivered(ctx, entry.ID), schedule.ErrNotPending)
	})

	t.Run("mark failed", func(t *testing.T) {
		store := schedule.NewMemoryStore()
		entry := schedule.NewEntry("a.b", 1, time.Minute)
		require.NoError(t, store.Save(ctx, entry))

		require.NoError(t, store.MarkFailed(ctx, entry.ID, errors.New("admission rejected")))
		got, err := store.Get(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, schedule.StatusFailed, got.Status)
		assert.Equal(t, "admission rejected", got.Error)
	})

	t.Run("mark cancelled", func(t *testing.T) {
		store := schedule.NewMemoryStore()
		entry := schedule.NewEntry("a.b", 1, time.Minute)
		require.NoError(t, store.Save(ctx, entry))

		require.NoError(t, store.MarkCancelled(ctx, entry.ID))
		got, err := store.Get(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, schedule.StatusCancelled, got.Status)

		assert.ErrorIs(t, store.MarkDelivered(ctx, entry.ID), schedule.ErrNotPending)
	})

	t.Run("list pending filters settled entries", func(t *testing.T) {
		store := schedule.NewMemoryStore()
		pending := schedule.NewEntry("a.b", 1, time.Minute)
		settled := schedule.NewEntry("a.c", 2, time.Minute)
		require.NoError(t, store.Save(ctx, pending))
		require.NoError(t, store.Save(ctx, settled))
		require.NoError(t, store.MarkDelivered(ctx, settled.ID))

		got, err := store.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, pending.ID, got[0].ID)
	})

	t.Run("delete", func(t *testing.T) {
		store := schedule.NewMemoryStore()
		entry := schedule.NewEntry("a.b", 1, time.Minute)
		require.NoError(t, store.Save(ctx, entry))

		require.NoError(t, store.Delete(ctx, entry.ID))
		assert.ErrorIs(t, store.Delete(ctx, entry.ID), schedule.ErrEntryNotFound)
	})
}

func TestScheduler_DeliversWhenDue(t *testing.T) {
	store := schedule.NewMemoryStore()
	delivered := make(chan *schedule.Entry, 1)
	s := schedule.NewScheduler(store, func(_ context.Context, e *schedule.Entry) error {
		delivered <- e
		return nil
	})
	defer s.Close()

	start := time.Now()
	entry := schedule.NewEntry("metrics.tick", "beat", 60*time.Millisecond)
	require.NoError(t, s.Schedule(context.Background(), entry))

	select {
	case got := <-delivered:
		assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond, "delivered before due")
		assert.Equal(t, entry.ID, got.ID)
		assert.Equal(t, "metrics.tick", got.Topic)
		assert.Equal(t, "beat", got.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	assert.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), entry.ID)
		return err == nil && got.Status == schedule.StatusDelivered
	}, time.Second, 10*time.Millisecond)
}

func TestScheduler_ImmediateDelay(t *testing.T) {
	store := schedule.NewMemoryStore()
	var count atomic.Int32
	s := schedule.NewScheduler(store, func(context.Context, *schedule.Entry) error {
		count.Add(1)
		return nil
	})
	defer s.Close()

	entry := schedule.NewEntry("metrics.tick", nil, 0)
	require.NoError(t, s.Schedule(context.Background(), entry))

	assert.Eventually(t, func() bool {
		return count.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestScheduler_Cancel(t *testing.T) {
	store := schedule.NewMemoryStore()
	var count atomic.Int32
	s := schedule.NewScheduler(store, func(context.Context, *schedule.Entry) error {
		count.Add(1)
		return nil
	})
	defer s.Close()

	entry := schedule.NewEntry("order.followup", nil, 60*time.Millisecond)
	require.NoError(t, s.Schedule(context.Background(), entry))
	require.True(t, s.Cancel(entry.ID))

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load(), "cancelled entry must not deliver")

	got, err := store.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusCancelled, got.Status)

	// Repeat and unknown cancels report false.
	assert.False(t, s.Cancel(entry.ID))
	assert.False(t, s.Cancel("sch-unknown"))
}

func TestScheduler_DeliveryFailureMarksFailed(t *testing.T) {
	store := schedule.NewMemoryStore()
	s := schedule.NewScheduler(store, func(context.Context, *schedule.Entry) error {
		return errors.New("queue full")
	})
	defer s.Close()

	entry := schedule.NewEntry("order.followup", nil, 10*time.Millisecond)
	require.NoError(t, s.Schedule(context.Background(), entry))

	assert.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), entry.ID)
		return err == nil && got.Status == schedule.StatusFailed
	}, time.Second, 10*time.Millisecond)

	got, err := store.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Error, "queue full")
}

func TestScheduler_NotLeaderLeavesPending(t *testing.T) {
	store := schedule.NewMemoryStore()
	var count atomic.Int32
	s := schedule.NewScheduler(store, func(context.Context, *schedule.Entry) error {
		count.Add(1)
		return nil
	}).WithCoordinator(cluster.Static(false))
	defer s.Close()

	entry := schedule.NewEntry("order.followup", nil, 20*time.Millisecond)
	require.NoError(t, s.Schedule(context.Background(), entry))

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load(), "followers must not deliver")

	got, err := store.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusPending, got.Status)
}

func TestScheduler_Close(t *testing.T) {
	store := schedule.NewMemoryStore()
	var count atomic.Int32
	s := schedule.NewScheduler(store, func(context.Context, *schedule.Entry) error {
		count.Add(1)
		return nil
	})

	entry := schedule.NewEntry("order.followup", nil, 50*time.Millisecond)
	require.NoError(t, s.Schedule(context.Background(), entry))
	require.NoError(t, s.Close())

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load(), "closed scheduler must not deliver")

	// Close is idempotent; scheduling after close fails.
	require.NoError(t, s.Close())
	err := s.Schedule(context.Background(), schedule.NewEntry("a.b", nil, time.Minute))
	assert.Error(t, err)
}

func TestScheduler_Pending(t *testing.T) {
	store := schedule.NewMemoryStore()
	s := schedule.NewScheduler(store, func(context.Context, *schedule.Entry) error {
		return nil
	})
	defer s.Close()

	require.NoError(t, s.Schedule(context.Background(), schedule.NewEntry("a.b", 1, time.Hour)))
	require.NoError(t, s.Schedule(context.Background(), schedule.NewEntry("a.c", 2, time.Hour)))

	pending, err := s.Pending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
