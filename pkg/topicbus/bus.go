package topicbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/topicbus/pkg/topicbus/cluster"
	"github.com/randalmurphal/topicbus/pkg/topicbus/codec"
	"github.com/randalmurphal/topicbus/pkg/topicbus/deadletter"
	"github.com/randalmurphal/topicbus/pkg/topicbus/filter"
	"github.com/randalmurphal/topicbus/pkg/topicbus/observability"
	"github.com/randalmurphal/topicbus/pkg/topicbus/retry"
	"github.com/randalmurphal/topicbus/pkg/topicbus/schedule"
	"github.com/randalmurphal/topicbus/pkg/topicbus/topic"
)

// ScopeGlobal is the RegisterErrorHook scope reached by every topic.
const ScopeGlobal = "global"

// ErrorHook observes terminal delivery failures: retry-exhausted and
// serialization failures, after the dead-letter record was written.
type ErrorHook func(topic string, evt Event, err error)

// Bus is an in-process publish/subscribe broker. All state lives on the
// instance; construct independent buses for isolation. Safe for
// concurrent use.
type Bus struct {
	// Construction-time components, fixed for the bus lifetime.
	registry    *subscriptionRegistry
	admission   *admitter
	retries     *retry.Engine
	codecs      *codec.Registry
	encryptor   *codec.Encryptor
	sink        deadletter.Sink
	coordinator cluster.Coordinator
	scheduler   *schedule.Scheduler
	periodic    *schedule.Periodic
	evaluator   *filter.Evaluator

	// cfg holds the live config; cfgMu guards the runtime-mutable
	// parts (callbacks, logger, metrics, spans).
	cfgMu sync.RWMutex
	cfg   Config

	plugins  pluginSet
	counters busCounters

	hooksMu    sync.RWMutex
	errorHooks map[string][]ErrorHook

	queuesMu sync.Mutex
	queues   map[string]*topicQueue

	// lifecycle fences enqueue against Close: publishers enqueue under
	// the read side, Close takes the write side as a barrier.
	lifecycle sync.RWMutex
	closed    atomic.Bool
	wg        sync.WaitGroup
}

// New creates a bus with DefaultConfig, adjusted by opts.
func New(opts ...Option) *Bus {
	cfg := DefaultConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a bus from an explicit config. Zero fields fall
// back to defaults.
func NewWithConfig(cfg Config) *Bus {
	cfg = cfg.normalize()

	b := &Bus{
		registry:    newSubscriptionRegistry(cfg.MaxSubscribers),
		admission:   newAdmitter(cfg.QueueLimit, cfg.Overflow),
		retries:     retry.NewEngine(),
		codecs:      cfg.Codecs,
		sink:        cfg.DeadLetter,
		coordinator: cfg.Coordinator,
		evaluator:   filter.New(),
		cfg:         cfg,
		errorHooks:  make(map[string][]ErrorHook),
		queues:      make(map[string]*topicQueue),
	}
	b.retries.SetDefault(cfg.DefaultRetry)

	if len(cfg.EncryptionSecret) > 0 {
		enc, err := codec.NewEncryptor(cfg.EncryptionSecret)
		if err != nil {
			cfg.Logger.Warn("payload encryption disabled", "error", err)
		} else {
			b.encryptor = enc
		}
	}

	b.scheduler = schedule.NewScheduler(schedule.NewMemoryStore(), b.deliverScheduled).
		WithLogger(cfg.Logger).
		WithCoordinator(cfg.Coordinator)
	b.periodic = schedule.NewPeriodic(b.publishScheduled).
		WithLogger(cfg.Logger).
		WithCoordinator(cfg.Coordinator)
	b.periodic.Start()

	return b
}

// Subscribe registers a handler for every topic matching pattern and
// returns the subscription ID. The pattern uses dot-segmented wildcards:
// "*" matches one segment, a trailing "#" matches zero or more.
func (b *Bus) Subscribe(pattern string, h Handler, opts ...SubscribeOption) (string, error) {
	if b.closed.Load() {
		return "", ErrBusClosed
	}
	if h == nil {
		return "", ErrNilHandler
	}
	if err := topic.ValidatePattern(pattern); err != nil {
		return "", err
	}

	sub := &subscription{pattern: pattern, handler: h}
	for _, opt := range opts {
		opt(sub)
	}
	if sub.filterExpr != "" {
		if err := filter.Validate(sub.filterExpr); err != nil {
			return "", errors.Join(ErrInvalidFilter, err)
		}
	}
	if sub.boundary != "" {
		if _, err := b.codecs.Get(sub.boundary); err != nil {
			return "", err
		}
	}

	if err := b.registry.add(sub); err != nil {
		return "", err
	}
	return sub.id, nil
}

// Unsubscribe removes a subscription. It reports whether the ID existed;
// unknown IDs are not an error. A retry in flight for the removed
// subscription is dropped before its next attempt.
func (b *Bus) Unsubscribe(id string) bool {
	return b.registry.remove(id)
}

// PauseSubscription stops resolve-time matching for a subscription
// without removing it. In-flight retry trajectories still complete.
func (b *Bus) PauseSubscription(id string) error {
	return b.registry.pause(id)
}

// ResumeSubscription re-enables a paused subscription.
func (b *Bus) ResumeSubscription(id string) error {
	return b.registry.resume(id)
}

// PublishOption configures one publish call.
type PublishOption func(*publishSettings)

type publishSettings struct {
	extra map[string]any
}

// WithEventContext attaches a key/value to the published event's context
// snapshot, merged over values staged with PropagateContext.
func WithEventContext(key string, value any) PublishOption {
	return func(s *publishSettings) {
		if s.extra == nil {
			s.extra = make(map[string]any)
		}
		s.extra[key] = value
	}
}

// Publish sends payload to every subscriber matching topicName,
// asynchronously. It returns once the event is admitted: an error means
// admission failed (queue full, closed bus, invalid topic, plugin veto),
// never that a handler failed. Under the block overflow policy the call
// parks until space frees or ctx is done.
func (b *Bus) Publish(ctx context.Context, topicName string, payload any, opts ...PublishOption) error {
	return b.publishEvent(ctx, topicName, payload, buildSnapshot(ctx, opts))
}

// PublishSync delivers inline on the caller's goroutine, bypassing the
// admission queue. It returns after every matching subscriber's
// trajectory completed (including retries). Handler failures do not
// surface as errors; they drive the retry/dead-letter machinery.
func (b *Bus) PublishSync(ctx context.Context, topicName string, payload any, opts ...PublishOption) error {
	ev, err := b.prepareEvent(topicName, payload, buildSnapshot(ctx, opts))
	if err != nil {
		return err
	}

	sctx, span := b.spans().StartPublishSpan(ctx, topicName, ev.ID)
	defer span.End()

	if err := b.plugins.prePublish(sctx, ev); err != nil {
		b.spans().EndSpanWithError(span, err)
		return err
	}

	b.counters.published.Add(1)
	b.metrics().RecordPublish(sctx, topicName, int64(b.admission.depth()))
	observability.LogPublish(b.logger(), topicName, b.admission.depth())
	b.plugins.onPublish(sctx, *ev)

	b.deliver(sctx, ev)
	b.plugins.postPublish(sctx, *ev)
	return nil
}

// PublishBatch admits messages in order, stopping at the first admission
// failure. Messages admitted before the failure stay in flight.
func (b *Bus) PublishBatch(ctx context.Context, msgs []Message) error {
	snap := stagedContext(ctx)
	for i, msg := range msgs {
		if err := b.publishEvent(ctx, msg.Topic, msg.Payload, cloneSnapshot(snap)); err != nil {
			return fmt.Errorf("batch message %d (%s): %w", i, msg.Topic, err)
		}
	}
	return nil
}

// publishEvent runs the admission path shared by Publish, PublishBatch,
// scheduled deliveries, and redrive.
func (b *Bus) publishEvent(ctx context.Context, topicName string, payload any, snap map[string]any) error {
	ev, err := b.prepareEvent(topicName, payload, snap)
	if err != nil {
		return err
	}

	sctx, span := b.spans().StartPublishSpan(ctx, topicName, ev.ID)
	defer span.End()

	p := &pending{ev: ev}
	evicted, err := b.admission.admit(ctx, p)
	if err != nil {
		b.spans().EndSpanWithError(span, err)
		return err
	}
	for _, victim := range evicted {
		// Silent by contract: no hook sees the evicted event.
		b.counters.evicted.Add(1)
		b.metrics().RecordDrop(sctx, victim.ev.Topic, "evicted")
	}

	if err := b.plugins.prePublish(sctx, ev); err != nil {
		b.admission.release(p)
		b.spans().EndSpanWithError(span, err)
		return err
	}

	b.counters.published.Add(1)
	b.metrics().RecordPublish(sctx, topicName, int64(b.admission.depth()))
	observability.LogPublish(b.logger(), topicName, b.admission.depth())
	b.plugins.onPublish(sctx, *ev)

	b.lifecycle.RLock()
	defer b.lifecycle.RUnlock()
	if b.closed.Load() {
		b.admission.release(p)
		return ErrBusClosed
	}
	b.enqueue(p)
	return nil
}

// prepareEvent validates the publish and builds the event.
func (b *Bus) prepareEvent(topicName string, payload any, snap map[string]any) (*Event, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	if err := topic.Topic(topicName).Validate(); err != nil {
		return nil, err
	}
	return newEvent(topicName, payload, snap), nil
}

// buildSnapshot merges staged context values with per-publish extras.
func buildSnapshot(ctx context.Context, opts []PublishOption) map[string]any {
	snap := stagedContext(ctx)
	var s publishSettings
	for _, opt := range opts {
		opt(&s)
	}
	if len(s.extra) > 0 {
		if snap == nil {
			snap = make(map[string]any, len(s.extra))
		}
		for k, v := range s.extra {
			snap[k] = v
		}
	}
	return snap
}

// cloneSnapshot copies a context snapshot so batch messages never alias.
func cloneSnapshot(snap map[string]any) map[string]any {
	if snap == nil {
		return nil
	}
	out := make(map[string]any, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	return out
}

// ScheduleDelivery publishes payload to topicName after delay, through
// normal admission. Context values staged on ctx at schedule time reach
// the handlers. It returns the schedule entry ID for CancelScheduled.
// If admission rejects at fire time the entry is marked failed, not
// dead-lettered.
func (b *Bus) ScheduleDelivery(ctx context.Context, topicName string, payload any, delay time.Duration) (string, error) {
	if b.closed.Load() {
		return "", ErrBusClosed
	}
	if err := topic.Topic(topicName).Validate(); err != nil {
		return "", err
	}

	entry := schedule.NewEntry(topicName, payload, delay)
	entry.Context = stagedContext(ctx)
	if err := b.scheduler.Schedule(ctx, entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// SchedulePeriodic publishes fn() to topicName on a cron schedule (with
// a seconds field, so "*/5 * * * * *" and "@every 5s" both work). When a
// cluster coordinator is configured, ticks fire only on the leader.
func (b *Bus) SchedulePeriodic(cronExpr, topicName string, fn func() any) (string, error) {
	if b.closed.Load() {
		return "", ErrBusClosed
	}
	if err := topic.Topic(topicName).Validate(); err != nil {
		return "", err
	}
	return b.periodic.Add(cronExpr, topicName, schedule.PeriodicFunc(fn))
}

// CancelScheduled cancels a pending scheduled delivery or a periodic
// schedule by ID. It reports whether anything was cancelled.
func (b *Bus) CancelScheduled(id string) bool {
	if strings.HasPrefix(id, "cron-") {
		return b.periodic.Remove(id)
	}
	return b.scheduler.Cancel(id)
}

// ScheduledEntries returns a snapshot of pending scheduled deliveries.
func (b *Bus) ScheduledEntries(ctx context.Context) ([]*schedule.Entry, error) {
	return b.scheduler.Pending(ctx)
}

// deliverScheduled feeds a due schedule entry into normal admission.
func (b *Bus) deliverScheduled(ctx context.Context, entry *schedule.Entry) error {
	return b.publishEvent(ctx, entry.Topic, entry.Payload, cloneSnapshot(entry.Context))
}

// publishScheduled feeds a periodic tick into normal admission.
func (b *Bus) publishScheduled(ctx context.Context, topicName string, payload any) error {
	return b.publishEvent(ctx, topicName, payload, nil)
}

// SetRetryPolicy sets the retry policy for one topic, or the bus-wide
// default when topicOrDefault is retry.DefaultScope (the empty string).
// It affects subsequently dispatched events; in-flight trajectories keep
// the policy they captured.
func (b *Bus) SetRetryPolicy(topicOrDefault string, p retry.Policy) {
	b.retries.SetPolicy(topicOrDefault, p)
}

// ApplyBackpressure changes the admission queue limit and overflow
// policy at runtime. The change applies from the next admission check;
// a lower limit never retroactively evicts already queued events.
func (b *Bus) ApplyBackpressure(limit int, policy OverflowPolicy) {
	b.cfgMu.Lock()
	if limit > 0 {
		b.cfg.QueueLimit = limit
	}
	if policy.Valid() {
		b.cfg.Overflow = policy
	}
	b.cfgMu.Unlock()

	b.admission.configure(limit, policy)
}

// UpdateConfig applies options to the live configuration. Runtime
// honored settings: queue limit, overflow policy, default retry policy,
// subscriber cap, logger, metrics, spans, and the callbacks.
// Construction-only settings (sink, codecs, coordinator, encryption)
// are ignored here.
func (b *Bus) UpdateConfig(opts ...Option) {
	b.cfgMu.Lock()
	cfg := b.cfg
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.normalize()
	b.cfg = cfg
	b.cfgMu.Unlock()

	b.admission.configure(cfg.QueueLimit, cfg.Overflow)
	b.retries.SetDefault(cfg.DefaultRetry)
	b.registry.setMaxSubscribers(cfg.MaxSubscribers)
}

// RegisterSerializer adds a named encode/decode pair for use with
// WithBoundary. Registering an existing name fails.
func (b *Bus) RegisterSerializer(name string, encode func(any) ([]byte, error), decode func([]byte, any) error) error {
	return b.codecs.RegisterFuncs(name, encode, decode)
}

// RegisterErrorHook observes terminal delivery failures. Scope is
// ScopeGlobal or an exact topic string. Hooks run after the dead-letter
// record is written; a panicking hook is recovered and logged.
func (b *Bus) RegisterErrorHook(scope string, hook ErrorHook) error {
	if scope == "" {
		return fmt.Errorf("hook scope cannot be empty (use ScopeGlobal)")
	}
	if hook == nil {
		return fmt.Errorf("hook cannot be nil")
	}

	b.hooksMu.Lock()
	defer b.hooksMu.Unlock()
	b.errorHooks[scope] = append(b.errorHooks[scope], hook)
	return nil
}

// RegisterPlugin adds a plugin. The bus probes it for PrePublishHook,
// PublishHook, and PostPublishHook.
func (b *Bus) RegisterPlugin(p Plugin) error {
	return b.plugins.register(p)
}

// DeadLetterQueue returns a handle to a named dead-letter queue.
func (b *Bus) DeadLetterQueue(name string) *deadletter.Queue {
	return deadletter.NewQueue(name, b.sink)
}

// DrainDeadLetters removes and returns the records of one dead-letter
// queue, oldest first.
func (b *Bus) DrainDeadLetters(ctx context.Context, queue string, opts ...deadletter.DrainOption) ([]deadletter.Record, error) {
	return b.sink.Drain(ctx, queue, opts...)
}

// RedriveDeadLetters drains a queue and republishes every record through
// normal admission with a fresh attempt counter. It returns the number
// republished; records that fail admission are put back in the queue.
func (b *Bus) RedriveDeadLetters(ctx context.Context, queue string) (int, error) {
	if b.closed.Load() {
		return 0, ErrBusClosed
	}

	recs, err := b.sink.Drain(ctx, queue)
	if err != nil {
		return 0, err
	}

	published := 0
	var firstErr error
	for _, rec := range recs {
		if err := b.publishEvent(ctx, rec.Topic, rec.Payload, cloneSnapshot(rec.Context)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if recErr := b.sink.Record(ctx, rec); recErr != nil {
				observability.LogDeadLetterError(b.logger(), queue, rec.Topic, recErr)
			}
			continue
		}
		published++
	}
	return published, firstErr
}

// Stats returns a snapshot of bus activity.
func (b *Bus) Stats() BusStats {
	stats := b.counters.snapshot()
	stats.QueueDepth = b.admission.depth()
	stats.Subscriptions = b.registry.count()
	return stats
}

// Close stops intake, drains in-flight deliveries, and releases
// resources. Publish and Subscribe fail with ErrBusClosed afterwards.
// If ctx expires before the drain completes, Close returns ctx's error
// while workers finish in the background; the sink and coordinator are
// then left open for them.
func (b *Bus) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.periodic.Stop()
	if err := b.scheduler.Close(); err != nil {
		b.logger().Warn("scheduler close failed", "error", err)
	}
	b.admission.close()

	// Barrier: publishers already past the closed check finish their
	// enqueue before we start waiting on workers.
	b.lifecycle.Lock()
	b.lifecycle.Unlock() //nolint:staticcheck // empty critical section is the barrier

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("close: %w", ctx.Err())
	}

	return errors.Join(b.coordinator.Close(), b.sink.Close())
}

// Runtime-mutable accessors. Fixed components (registry, admission,
// sink, codecs) are read directly; these go through cfgMu because
// UpdateConfig can swap them.

func (b *Bus) logger() *slog.Logger {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return b.cfg.Logger
}

func (b *Bus) metrics() observability.MetricsRecorder {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return b.cfg.Metrics
}

func (b *Bus) spans() observability.SpanManager {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return b.cfg.Spans
}

func (b *Bus) onDrop() func(topic, reason string) {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return b.cfg.OnDrop
}

func (b *Bus) onDeadLetter() func(rec deadletter.Record) {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return b.cfg.OnDeadLetter
}

func (b *Bus) onError() func(err *DeliveryError) {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return b.cfg.OnError
}
