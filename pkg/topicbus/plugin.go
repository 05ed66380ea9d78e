package topicbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Plugin is the base interface for bus extensions. A plugin declares the
// hooks it wants by also implementing PrePublishHook, PublishHook, or
// PostPublishHook; the bus probes for each with a type assertion.
type Plugin interface {
	// Name identifies the plugin in logs and veto errors.
	Name() string
}

// PrePublishHook runs before an event enters the dispatch path. The hook
// may transform the event in place (payload, context) or veto it by
// returning an error, which surfaces to the publisher wrapped in
// ErrPluginRejected.
type PrePublishHook interface {
	PrePublish(ctx context.Context, evt *Event) error
}

// PublishHook observes events at admission, after pre-publish hooks
// accepted them. Observers cannot veto.
type PublishHook interface {
	OnPublish(ctx context.Context, evt Event)
}

// PostPublishHook runs after an event's fan-out completed: every matched
// subscriber was delivered, dead-lettered, or skipped.
type PostPublishHook interface {
	PostPublish(ctx context.Context, evt Event)
}

// pluginSet holds registered plugins, probed once at registration.
type pluginSet struct {
	mu   sync.RWMutex
	all  []Plugin
	pre  []namedPreHook
	on   []PublishHook
	post []PostPublishHook
}

// namedPreHook pairs a pre-publish hook with its plugin name so veto
// errors can say who rejected the event.
type namedPreHook struct {
	name string
	hook PrePublishHook
}

func (p *pluginSet) register(plugin Plugin) error {
	if plugin == nil {
		return errors.New("plugin cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.all = append(p.all, plugin)
	if h, ok := plugin.(PrePublishHook); ok {
		p.pre = append(p.pre, namedPreHook{name: plugin.Name(), hook: h})
	}
	if h, ok := plugin.(PublishHook); ok {
		p.on = append(p.on, h)
	}
	if h, ok := plugin.(PostPublishHook); ok {
		p.post = append(p.post, h)
	}
	return nil
}

func (p *pluginSet) prePublish(ctx context.Context, evt *Event) error {
	p.mu.RLock()
	hooks := p.pre
	p.mu.RUnlock()

	for _, h := range hooks {
		if err := h.hook.PrePublish(ctx, evt); err != nil {
			return fmt.Errorf("%w: plugin %q: %w", ErrPluginRejected, h.name, err)
		}
	}
	return nil
}

func (p *pluginSet) onPublish(ctx context.Context, evt Event) {
	p.mu.RLock()
	hooks := p.on
	p.mu.RUnlock()

	for _, h := range hooks {
		h.OnPublish(ctx, evt)
	}
}

func (p *pluginSet) postPublish(ctx context.Context, evt Event) {
	p.mu.RLock()
	hooks := p.post
	p.mu.RUnlock()

	for _, h := range hooks {
		h.PostPublish(ctx, evt)
	}
}

// AuditEntry is one observed publish in the audit ring.
type AuditEntry struct {
	// EventID identifies the published event.
	EventID string `json:"event_id"`

	// Topic the event was published to.
	Topic string `json:"topic"`

	// At is when the publish was observed.
	At time.Time `json:"at"`
}

// AuditPlugin records recent publishes in a bounded ring. It is the
// reference PublishHook implementation and is handy in tests and
// debugging sessions:
//
//	audit := topicbus.NewAuditPlugin(128)
//	bus.RegisterPlugin(audit)
//	// ...
//	for _, entry := range audit.Recent() {
//	    fmt.Println(entry.At, entry.Topic)
//	}
type AuditPlugin struct {
	mu      sync.Mutex
	entries []AuditEntry
	next    int
	filled  bool
}

// NewAuditPlugin creates an audit ring holding the last size publishes.
func NewAuditPlugin(size int) *AuditPlugin {
	if size <= 0 {
		size = 64
	}
	return &AuditPlugin{
		entries: make([]AuditEntry, size),
	}
}

// Name identifies the plugin.
func (a *AuditPlugin) Name() string { return "audit" }

// OnPublish records the publish in the ring.
func (a *AuditPlugin) OnPublish(_ context.Context, evt Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries[a.next] = AuditEntry{
		EventID: evt.ID,
		Topic:   evt.Topic,
		At:      time.Now(),
	}
	a.next++
	if a.next == len(a.entries) {
		a.next = 0
		a.filled = true
	}
}

// Recent returns the ring's contents, oldest first.
func (a *AuditPlugin) Recent() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.filled {
		out := make([]AuditEntry, a.next)
		copy(out, a.entries[:a.next])
		return out
	}

	out := make([]AuditEntry, 0, len(a.entries))
	out = append(out, a.entries[a.next:]...)
	out = append(out, a.entries[:a.next]...)
	return out
}
