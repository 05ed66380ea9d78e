package benchmarks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/randalmurphal/topicbus/pkg/topicbus"
)

// noop is a subscriber that does minimal work to measure bus overhead.
func noop(ctx context.Context, evt topicbus.Event) error {
	return nil
}

// newBus creates a bus sized so admission never blocks the benchmark.
func newBus(b *testing.B, opts ...topicbus.Option) *topicbus.Bus {
	b.Helper()
	opts = append([]topicbus.Option{
		topicbus.WithQueueLimit(1 << 16),
		topicbus.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	bus := topicbus.New(opts...)
	b.Cleanup(func() {
		_ = bus.Close(context.Background())
	})
	return bus
}

// BenchmarkPublish measures async publish with one exact subscriber.
func BenchmarkPublish(b *testing.B) {
	bus := newBus(b)
	if _, err := bus.Subscribe("bench.topic", noop); err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = bus.Publish(ctx, "bench.topic", i)
	}
}

// BenchmarkPublish_FanOut_10 publishes to 10 matching subscribers.
func BenchmarkPublish_FanOut_10(b *testing.B) {
	benchmarkFanOut(b, 10)
}

// BenchmarkPublish_FanOut_100 publishes to 100 matching subscribers.
func BenchmarkPublish_FanOut_100(b *testing.B) {
	benchmarkFanOut(b, 100)
}

func benchmarkFanOut(b *testing.B, subscribers int) {
	bus := newBus(b)
	for i := 0; i < subscribers; i++ {
		if _, err := bus.Subscribe("bench.fanout", noop); err != nil {
			b.Fatal(err)
		}
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = bus.Publish(ctx, "bench.fanout", i)
	}
}

// BenchmarkPublishSync measures inline delivery without the queue.
func BenchmarkPublishSync(b *testing.B) {
	bus := newBus(b)
	if _, err := bus.Subscribe("bench.sync", noop); err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = bus.PublishSync(ctx, "bench.sync", i)
	}
}

// BenchmarkPublish_Wildcard routes through single- and multi-segment
// wildcard subscriptions.
func BenchmarkPublish_Wildcard(b *testing.B) {
	bus := newBus(b)
	patterns := []string{"bench.*.created", "bench.#", "*.orders.*"}
	for _, p := range patterns {
		if _, err := bus.Subscribe(p, noop); err != nil {
			b.Fatal(err)
		}
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = bus.Publish(ctx, "bench.orders.created", i)
	}
}

// BenchmarkPublish_Parallel measures admission contention across
// publishers.
func BenchmarkPublish_Parallel(b *testing.B) {
	bus := newBus(b)
	if _, err := bus.Subscribe("bench.parallel", noop); err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = bus.Publish(ctx, "bench.parallel", nil)
		}
	})
}

// BenchmarkSubscribe measures registration cost as the registry grows.
func BenchmarkSubscribe(b *testing.B) {
	bus := newBus(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = bus.Subscribe(fmt.Sprintf("bench.sub.%d", i%1000), noop)
	}
}
