package deadletter

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryConfig configures the in-memory sink.
type MemoryConfig struct {
	// MaxSize limits the total number of records across all queues.
	// Record returns ErrSinkFull beyond it. Default: 10000.
	MaxSize int
}

// DefaultMemoryConfig provides reasonable defaults.
var DefaultMemoryConfig = MemoryConfig{
	MaxSize: 10000,
}

// MemorySink is an in-memory Sink. Suitable for testing and
// single-instance deployments.
type MemorySink struct {
	mu     sync.RWMutex
	queues map[string][]Record
	total  int
	cfg    MemoryConfig
	closed bool
}

// NewMemorySink creates an in-memory sink with default config.
func NewMemorySink() *MemorySink {
	return NewMemorySinkWithConfig(DefaultMemoryConfig)
}

// NewMemorySinkWithConfig creates an in-memory sink.
func NewMemorySinkWithConfig(cfg MemoryConfig) *MemorySink {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMemoryConfig.MaxSize
	}
	return &MemorySink{
		queues: make(map[string][]Record),
		cfg:    cfg,
	}
}

// Record implements Sink.
func (s *MemorySink) Record(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if s.total >= s.cfg.MaxSize {
		return ErrSinkFull
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Queue == "" {
		rec.Queue = DefaultQueue
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	s.queues[rec.Queue] = append(s.queues[rec.Queue], rec)
	s.total++
	return nil
}

// List implements Sink.
func (s *MemorySink) List(ctx context.Context, queue string, opts ...DrainOption) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrSinkClosed
	}

	q := buildQuery(opts)
	var out []Record
	for _, rec := range s.queues[queue] {
		if q.full(len(out)) {
			break
		}
		if q.matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Drain implements Sink.
func (s *MemorySink) Drain(ctx context.Context, queue string, opts ...DrainOption) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSinkClosed
	}

	q := buildQuery(opts)
	records := s.queues[queue]
	var drained, kept []Record
	for i, rec := range records {
		if q.full(len(drained)) {
			kept = append(kept, records[i:]...)
			break
		}
		if q.matches(rec) {
			drained = append(drained, rec)
		} else {
			kept = append(kept, rec)
		}
	}

	if len(kept) == 0 {
		delete(s.queues, queue)
	} else {
		s.queues[queue] = kept
	}
	s.total -= len(drained)
	return drained, nil
}

// Len implements Sink.
func (s *MemorySink) Len(ctx context.Context, queue string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrSinkClosed
	}
	return len(s.queues[queue]), nil
}

// Queues returns the names of queues currently holding records.
func (s *MemorySink) Queues() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.queues))
	for name := range s.queues {
		names = append(names, name)
	}
	return names
}

// Close implements Sink.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.queues = nil
	return nil
}
