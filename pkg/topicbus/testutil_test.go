package topicbus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// Shared helpers and fixtures used across bus tests.

// newTestBus creates a bus with a discarding logger and closes it when
// the test finishes.
func newTestBus(t *testing.T, opts ...Option) *Bus {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	b := New(opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Close(ctx)
	})
	return b
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// contextWithTimeout returns a context that outlives any reasonable
// close, cancelled when the test finishes.
func contextWithTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, msg)
}

// recorder collects delivered events in arrival order.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handler(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) payloads() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.Payload
	}
	return out
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.Topic
	}
	return out
}

// gate blocks every delivery until released and reports each handler
// entry on started. Used to hold a topic worker busy while tests poke at
// the admission queue behind it.
type gate struct {
	started chan string
	release chan struct{}
}

func newGate() *gate {
	return &gate{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (g *gate) handler(_ context.Context, evt Event) error {
	if s, ok := evt.Payload.(string); ok {
		g.started <- s
	} else {
		g.started <- evt.ID
	}
	<-g.release
	return nil
}

// awaitStart blocks until a handler reports entry, failing the test
// after one second.
func (g *gate) awaitStart(t *testing.T) string {
	t.Helper()
	select {
	case s := <-g.started:
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a delivery to start")
		return ""
	}
}

func (g *gate) open() {
	close(g.release)
}
