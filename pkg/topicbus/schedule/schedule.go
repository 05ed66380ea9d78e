// Package schedule provides delayed and periodic delivery for the bus.
//
// A one-shot Entry is stored, armed on a timer, and handed back to the bus
// when due. Periodic registrations (see cron.go) fire on a cron expression
// instead of a single deadline. Both paths defer to a cluster.Coordinator
// so that only the leader instance delivers shared schedules.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/topicbus/pkg/topicbus/cluster"
)

// Status represents the current state of a scheduled entry.
type Status string

// Entry status constants.
const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// ErrEntryNotFound is returned when an entry cannot be found.
var ErrEntryNotFound = errors.New("scheduled entry not found")

// ErrNotPending is returned when a status transition is attempted on an
// entry that already left the pending state.
var ErrNotPending = errors.New("scheduled entry is not pending")

// Entry is a one-shot delayed delivery.
type Entry struct {
	// ID uniquely identifies this entry.
	ID string `json:"id"`

	// Topic is the topic the payload is delivered to when due.
	Topic string `json:"topic"`

	// Payload is the event payload.
	Payload any `json:"payload,omitempty"`

	// Context carries correlation data captured when the entry was scheduled.
	Context map[string]any `json:"context,omitempty"`

	// Status is the current entry status.
	Status Status `json:"status"`

	// Timestamps
	CreatedAt   time.Time  `json:"created_at"`
	DueAt       time.Time  `json:"due_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	// Error contains error details if delivery failed.
	Error string `json:"error,omitempty"`
}

// NewEntry creates a pending entry due after the given delay.
func NewEntry(topic string, payload any, delay time.Duration) *Entry {
	now := time.Now()
	return &Entry{
		ID:        fmt.Sprintf("sch-%s", uuid.New().String()[:8]),
		Topic:     topic,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
		DueAt:     now.Add(delay),
	}
}

// Clone creates a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	entryCopy := *e
	if e.Context != nil {
		entryCopy.Context = make(map[string]any, len(e.Context))
		for k, v := range e.Context {
			entryCopy.Context[k] = v
		}
	}
	if e.DeliveredAt != nil {
		t := *e.DeliveredAt
		entryCopy.DeliveredAt = &t
	}
	return &entryCopy
}

// Store persists scheduled entries.
type Store interface {
	// Save adds or replaces an entry.
	Save(ctx context.Context, entry *Entry) error

	// Get retrieves an entry by ID.
	Get(ctx context.Context, id string) (*Entry, error)

	// MarkDelivered marks a pending entry as delivered.
	MarkDelivered(ctx context.Context, id string) error

	// MarkFailed marks a pending entry as failed with an error.
	MarkFailed(ctx context.Context, id string, err error) error

	// MarkCancelled marks a pending entry as cancelled.
	MarkCancelled(ctx context.Context, id string) error

	// ListPending returns all pending entries.
	ListPending(ctx context.Context) ([]*Entry, error)

	// Delete removes an entry.
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	entries map[string]*Entry
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory entry store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
	}
}

// Save adds or replaces an entry.
func (s *MemoryStore) Save(_ context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("sch-%s", uuid.New().String()[:8])
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Status == "" {
		entry.Status = StatusPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry.Clone()
	return nil
}

// Get retrieves an entry by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[id]
	if !exists {
		return nil, ErrEntryNotFound
	}
	return entry.Clone(), nil
}

// MarkDelivered marks a pending entry as delivered.
func (s *MemoryStore) MarkDelivered(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[id]
	if !exists {
		return ErrEntryNotFound
	}
	if entry.Status != StatusPending {
		return ErrNotPending
	}

	now := time.Now()
	entry.Status = StatusDelivered
	entry.DeliveredAt = &now
	return nil
}

// MarkFailed marks a pending entry as failed.
func (s *MemoryStore) MarkFailed(_ context.Context, id string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[id]
	if !exists {
		return ErrEntryNotFound
	}
	if entry.Status != StatusPending {
		return ErrNotPending
	}

	entry.Status = StatusFailed
	if err != nil {
		entry.Error = err.Error()
	}
	return nil
}

// MarkCancelled marks a pending entry as cancelled.
func (s *MemoryStore) MarkCancelled(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[id]
	if !exists {
		return ErrEntryNotFound
	}
	if entry.Status != StatusPending {
		return ErrNotPending
	}

	entry.Status = StatusCancelled
	return nil
}

// ListPending returns all pending entries.
func (s *MemoryStore) ListPending(_ context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*Entry
	for _, entry := range s.entries {
		if entry.Status == StatusPending {
			pending = append(pending, entry.Clone())
		}
	}
	return pending, nil
}

// Delete removes an entry.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; !exists {
		return ErrEntryNotFound
	}
	delete(s.entries, id)
	return nil
}

// DeliverFunc hands a due entry to the bus for admission.
type DeliverFunc func(ctx context.Context, entry *Entry) error

// Scheduler arms timers for one-shot entries and delivers them when due.
type Scheduler struct {
	store       Store
	deliver     DeliverFunc
	coordinator cluster.Coordinator
	logger      *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewScheduler creates a scheduler that stores entries in store and hands
// due entries to deliver.
func NewScheduler(store Store, deliver DeliverFunc) *Scheduler {
	return &Scheduler{
		store:   store,
		deliver: deliver,
		logger:  slog.Default(),
		timers:  make(map[string]*time.Timer),
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// WithCoordinator gates deliveries on cluster leadership. Entries due on a
// non-leader instance are left pending for the leader to deliver.
func (s *Scheduler) WithCoordinator(c cluster.Coordinator) *Scheduler {
	s.coordinator = c
	return s
}

// Schedule stores the entry and arms its delivery timer.
func (s *Scheduler) Schedule(ctx context.Context, entry *Entry) error {
	if entry.Topic == "" {
		return errors.New("topic is required")
	}

	if err := s.store.Save(ctx, entry); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("scheduler is closed")
	}

	id := entry.ID
	delay := time.Until(entry.DueAt)
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id) })

	s.logger.Debug("delivery scheduled",
		"entry_id", id,
		"topic", entry.Topic,
		"due_at", entry.DueAt,
	)
	return nil
}

// fire delivers a due entry.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.mu.Unlock()

	ctx := context.Background()
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		s.logger.Error("due entry lookup failed",
			"entry_id", id,
			"error", err,
		)
		return
	}
	if entry.Status != StatusPending {
		// Cancelled while the timer was in flight.
		return
	}

	if s.coordinator != nil && !s.coordinator.IsLeader(ctx) {
		s.logger.Debug("not leader, leaving entry for the leader",
			"entry_id", id,
			"topic", entry.Topic,
		)
		return
	}

	if deliverErr := s.deliver(ctx, entry); deliverErr != nil {
		s.logger.Error("scheduled delivery failed",
			"entry_id", id,
			"topic", entry.Topic,
			"error", deliverErr,
		)
		if markErr := s.store.MarkFailed(ctx, id, deliverErr); markErr != nil {
			s.logger.Error("failed to mark entry as failed",
				"entry_id", id,
				"error", markErr,
			)
		}
		return
	}

	if markErr := s.store.MarkDelivered(ctx, id); markErr != nil {
		s.logger.Error("failed to mark entry as delivered",
			"entry_id", id,
			"error", markErr,
		)
	}

	s.logger.Debug("scheduled delivery completed",
		"entry_id", id,
		"topic", entry.Topic,
	)
}

// Cancel stops a pending entry. Returns false if the entry is unknown or
// already left the pending state.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if err := s.store.MarkCancelled(context.Background(), id); err != nil {
		return false
	}
	return true
}

// Pending returns all pending entries.
func (s *Scheduler) Pending(ctx context.Context) ([]*Entry, error) {
	return s.store.ListPending(ctx)
}

// Close stops all timers. Pending entries remain in the store.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	return nil
}
