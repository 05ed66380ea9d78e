package topicbus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/randalmurphal/topicbus/pkg/topicbus/deadletter"
	"github.com/randalmurphal/topicbus/pkg/topicbus/observability"
)

// topicQueue serializes dispatch for one topic. A single worker drains
// it, so subscribers for the same topic observe events in publish order
// and a retrying delivery holds later events back.
type topicQueue struct {
	mu      sync.Mutex
	entries []*pending
	running bool
}

func (b *Bus) queueFor(topicName string) *topicQueue {
	b.queuesMu.Lock()
	defer b.queuesMu.Unlock()

	tq, ok := b.queues[topicName]
	if !ok {
		tq = &topicQueue{}
		b.queues[topicName] = tq
	}
	return tq
}

// enqueue hands an admitted event to its topic's worker, spawning one if
// the topic is idle. Callers hold lifecycle.RLock so the wg.Add cannot
// race Close's wg.Wait.
func (b *Bus) enqueue(p *pending) {
	tq := b.queueFor(p.ev.Topic)

	tq.mu.Lock()
	tq.entries = append(tq.entries, p)
	if !tq.running {
		tq.running = true
		b.wg.Add(1)
		go b.runWorker(tq)
	}
	tq.mu.Unlock()
}

// runWorker drains one topic queue and exits when it is empty. A fresh
// worker is spawned on the next enqueue.
func (b *Bus) runWorker(tq *topicQueue) {
	defer b.wg.Done()

	for {
		tq.mu.Lock()
		if len(tq.entries) == 0 {
			tq.running = false
			tq.mu.Unlock()
			return
		}
		p := tq.entries[0]
		tq.entries = tq.entries[1:]
		tq.mu.Unlock()

		// Dequeue frees the admission slot: from here the event is in
		// flight and its retries cost no queue capacity. Eviction only
		// reaches entries still admitted, so after release the flag is
		// settled.
		b.admission.release(p)
		if p.evicted.Load() {
			continue
		}

		// Workers outlive the publish call; deliveries run on a fresh
		// background context.
		ctx := context.Background()
		b.deliver(ctx, p.ev)
		b.plugins.postPublish(ctx, *p.ev)
	}
}

// deliver fans an event out to every matching subscription, lowest
// priority value first. With no subscribers the event is dropped.
func (b *Bus) deliver(ctx context.Context, ev *Event) {
	subs := b.registry.resolve(ev.Topic)
	if len(subs) == 0 {
		b.dropEvent(ctx, ev, "no_subscribers")
		return
	}

	for _, sub := range subs {
		// A once subscription is claimed by exactly one event; the
		// claim covers the whole trajectory including retries.
		if sub.once && !sub.claim() {
			continue
		}
		b.deliverTo(ctx, sub, ev)
		if sub.once {
			b.registry.remove(sub.id)
		}
	}
}

// deliverTo runs one subscriber's full delivery trajectory: filter,
// attempt, backoff, re-attempt, and finally dead-letter if the retry
// budget runs out. The retry policy is captured once at the start, so a
// mid-trajectory SetRetryPolicy does not change this delivery.
func (b *Bus) deliverTo(ctx context.Context, sub *subscription, src *Event) {
	ev := src.Clone()

	if !b.passesFilter(sub, ev) {
		return
	}

	policy := b.retries.PolicyFor(ev.Topic)
	for {
		err := b.invoke(ctx, sub, ev)
		if err == nil {
			b.counters.delivered.Add(1)
			return
		}

		derr := &DeliveryError{
			Topic:          ev.Topic,
			SubscriptionID: sub.id,
			Attempt:        ev.Attempt,
			Err:            err,
			Timestamp:      time.Now(),
		}
		if cb := b.onError(); cb != nil {
			cb(derr)
		}
		observability.LogDeliveryError(b.logger(), ev.Topic, sub.id, ev.Attempt, err)

		// Serialization failures are deterministic; retrying cannot
		// help, so they go straight to the dead-letter queue.
		if errors.Is(err, ErrSerializationFailure) {
			b.deadLetter(ctx, sub, ev, derr)
			return
		}

		delay, ok := policy.NextDelay(ev.Attempt)
		if !ok {
			b.deadLetter(ctx, sub, ev, derr)
			return
		}

		b.counters.retried.Add(1)
		b.metrics().RecordRetry(ctx, ev.Topic)
		observability.LogRetryScheduled(b.logger(), ev.Topic, sub.id, ev.Attempt,
			float64(delay)/float64(time.Millisecond))

		// The backoff suspends this topic's worker in place. The
		// admission slot was freed at dequeue, so waiting here costs
		// no queue capacity.
		time.Sleep(delay)

		if !b.registry.active(sub.id) {
			observability.LogRetryDropped(b.logger(), ev.Topic, sub.id)
			b.dropEvent(ctx, ev, "unsubscribed")
			return
		}
		ev.Attempt++
	}
}

// passesFilter evaluates the subscription's predicate and expression
// filters. An expression that fails to evaluate skips the delivery with
// a warning rather than counting as a handler failure.
func (b *Bus) passesFilter(sub *subscription, ev *Event) bool {
	if sub.filter != nil && !sub.filter(*ev) {
		return false
	}
	if sub.filterExpr == "" {
		return true
	}

	vars := map[string]any{
		"topic":   ev.Topic,
		"attempt": ev.Attempt,
		"payload": ev.Payload,
		"context": ev.Context,
	}
	ok, err := b.evaluator.Evaluate(sub.filterExpr, vars)
	if err != nil {
		b.logger().Warn("filter expression failed, skipping delivery",
			"subscription_id", sub.id,
			"topic", ev.Topic,
			"error", err)
		return false
	}
	return ok
}

// invoke runs a single delivery attempt. Handler panics are recovered
// into a PanicError so one bad subscriber cannot take the worker down;
// the error classifies as a handler failure and retries normally.
func (b *Bus) invoke(ctx context.Context, sub *subscription, ev *Event) (err error) {
	dctx, span := b.spans().StartDeliverySpan(ctx, ev.Topic, sub.id)
	start := time.Now()
	defer func() {
		b.spans().EndSpanWithError(span, err)
		b.metrics().RecordDelivery(dctx, ev.Topic, time.Since(start), err)
		if err == nil {
			observability.LogDeliveryComplete(b.logger(), ev.Topic, sub.id,
				float64(time.Since(start))/float64(time.Millisecond))
		}
	}()
	observability.LogDeliveryStart(b.logger(), ev.Topic, sub.id)

	call := *ev
	if sub.boundary != "" {
		payload, serr := b.roundTrip(sub.boundary, ev.Payload)
		if serr != nil {
			return fmt.Errorf("%w: %w", ErrSerializationFailure, serr)
		}
		call.Payload = payload
	}

	hctx := deliveryContext(dctx, ev.Context)

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				SubscriptionID: sub.id,
				Value:          r,
				Stack:          string(debug.Stack()),
			}
		}
	}()
	if herr := sub.handler(hctx, call); herr != nil {
		return fmt.Errorf("%w: %w", ErrHandlerFailure, herr)
	}
	return nil
}

// roundTrip pushes a payload through the subscription's codec (and the
// bus encryptor when configured) and hands back the decoded generic
// form, simulating a process boundary.
func (b *Bus) roundTrip(codecName string, payload any) (any, error) {
	c, err := b.codecs.Get(codecName)
	if err != nil {
		return nil, err
	}

	data, err := c.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if b.encryptor != nil {
		if data, err = b.encryptor.Encrypt(data); err != nil {
			return nil, fmt.Errorf("encrypt: %w", err)
		}
		if data, err = b.encryptor.Decrypt(data); err != nil {
			return nil, fmt.Errorf("decrypt: %w", err)
		}
	}

	var out any
	if err := c.Decode(data, &out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return out, nil
}

// deadLetter records a terminal failure in the subscription's queue and
// fires the error hooks. A sink write failure is logged and the event is
// lost; hooks still run so observers see the terminal failure either
// way.
func (b *Bus) deadLetter(ctx context.Context, sub *subscription, ev *Event, cause error) {
	queue := sub.dlq
	if queue == "" {
		queue = deadletter.DefaultQueue
	}

	rec := deadletter.Record{
		Queue:          queue,
		Topic:          ev.Topic,
		Payload:        ev.Payload,
		Context:        ev.Context,
		SubscriptionID: sub.id,
		Pattern:        sub.pattern,
		LastError:      cause.Error(),
		Attempts:       ev.Attempt,
		EnqueuedAt:     ev.EnqueuedAt,
		RecordedAt:     time.Now(),
	}

	if err := b.sink.Record(ctx, rec); err != nil {
		observability.LogDeadLetterError(b.logger(), queue, ev.Topic, err)
	} else {
		b.counters.deadLettered.Add(1)
		b.metrics().RecordDeadLetter(ctx, queue, ev.Topic)
		observability.LogDeadLetter(b.logger(), queue, ev.Topic, sub.id, ev.Attempt)
		if cb := b.onDeadLetter(); cb != nil {
			cb(rec)
		}
	}

	b.runErrorHooks(ev.Topic, *ev, cause)
}

// dropEvent counts and reports a silent drop (no subscribers, or a
// retry whose subscription disappeared).
func (b *Bus) dropEvent(ctx context.Context, ev *Event, reason string) {
	b.counters.dropped.Add(1)
	b.metrics().RecordDrop(ctx, ev.Topic, reason)
	if cb := b.onDrop(); cb != nil {
		cb(ev.Topic, reason)
	}
	b.logger().Debug("event dropped",
		"topic", ev.Topic,
		"event_id", ev.ID,
		"reason", reason)
}

// runErrorHooks fires the global hooks then the exact-topic hooks. A
// panicking hook is recovered and logged; the remaining hooks still run.
func (b *Bus) runErrorHooks(topicName string, ev Event, cause error) {
	b.hooksMu.RLock()
	hooks := make([]ErrorHook, 0, len(b.errorHooks[ScopeGlobal])+len(b.errorHooks[topicName]))
	hooks = append(hooks, b.errorHooks[ScopeGlobal]...)
	if topicName != ScopeGlobal {
		hooks = append(hooks, b.errorHooks[topicName]...)
	}
	b.hooksMu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger().Error("error hook panicked",
						"topic", topicName,
						"panic", r)
				}
			}()
			hook(topicName, ev, cause)
		}()
	}
}
