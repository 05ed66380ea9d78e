package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	cronv3 "github.com/robfig/cron/v3"

	"github.com/randalmurphal/topicbus/pkg/topicbus/cluster"
)

// PeriodicFunc produces the payload for one periodic delivery.
type PeriodicFunc func() any

// PublishFunc hands a periodic firing to the bus for admission.
type PublishFunc func(ctx context.Context, topic string, payload any) error

// Periodic runs recurring deliveries on cron expressions.
//
// Expressions use the 6-field form with a seconds column
// ("*/10 * * * * *" fires every ten seconds); @every descriptors
// ("@every 1m") are also accepted.
type Periodic struct {
	cron        *cronv3.Cron
	publish     PublishFunc
	coordinator cluster.Coordinator
	logger      *slog.Logger

	mu  sync.Mutex
	ids map[string]cronv3.EntryID
}

// NewPeriodic creates a periodic runner that hands firings to publish.
// Call Start to begin firing.
func NewPeriodic(publish PublishFunc) *Periodic {
	return &Periodic{
		cron:    cronv3.New(cronv3.WithSeconds()),
		publish: publish,
		logger:  slog.Default(),
		ids:     make(map[string]cronv3.EntryID),
	}
}

// WithLogger sets the logger for the runner.
func (p *Periodic) WithLogger(logger *slog.Logger) *Periodic {
	p.logger = logger
	return p
}

// WithCoordinator gates firings on cluster leadership.
func (p *Periodic) WithCoordinator(c cluster.Coordinator) *Periodic {
	p.coordinator = c
	return p
}

// Add registers a recurring delivery. Each firing publishes fn() to topic.
// Returns the registration ID for Remove.
func (p *Periodic) Add(spec, topic string, fn PeriodicFunc) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	if fn == nil {
		return "", errors.New("payload func is required")
	}

	entryID, err := p.cron.AddFunc(spec, func() { p.fire(topic, fn) })
	if err != nil {
		return "", fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("cron-%s", uuid.New().String()[:8])
	p.ids[id] = entryID
	return id, nil
}

// fire publishes one periodic delivery.
func (p *Periodic) fire(topic string, fn PeriodicFunc) {
	ctx := context.Background()
	if p.coordinator != nil && !p.coordinator.IsLeader(ctx) {
		return
	}

	if err := p.publish(ctx, topic, fn()); err != nil {
		p.logger.Error("periodic delivery failed",
			"topic", topic,
			"error", err,
		)
	}
}

// Remove unregisters a recurring delivery. Returns false for unknown IDs.
func (p *Periodic) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entryID, ok := p.ids[id]
	if !ok {
		return false
	}
	p.cron.Remove(entryID)
	delete(p.ids, id)
	return true
}

// Start begins firing registered deliveries.
func (p *Periodic) Start() {
	p.cron.Start()
}

// Stop stops firing. Registrations are kept and resume on the next Start.
func (p *Periodic) Stop() {
	p.cron.Stop()
}
