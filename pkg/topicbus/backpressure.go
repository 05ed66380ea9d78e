package topicbus

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// OverflowPolicy decides what happens to a publisher when the admission
// queue is at its limit.
type OverflowPolicy string

// Overflow policy constants.
const (
	// OverflowBlock parks the publisher until space frees. No timeout
	// by default; the publisher's context bounds the wait.
	OverflowBlock OverflowPolicy = "block"

	// OverflowDropOldest evicts the oldest queued event bus-wide, then
	// admits the new one. Eviction is silent: no error, no callback,
	// only the evicted counter moves.
	OverflowDropOldest OverflowPolicy = "drop_oldest"

	// OverflowReject returns ErrQueueFull to the publisher.
	OverflowReject OverflowPolicy = "reject"
)

// Valid reports whether the policy is one of the defined constants.
func (p OverflowPolicy) Valid() bool {
	switch p {
	case OverflowBlock, OverflowDropOldest, OverflowReject:
		return true
	}
	return false
}

// ParseOverflowPolicy converts a config string into an OverflowPolicy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	p := OverflowPolicy(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
	return p, nil
}

// pending is one admitted event waiting for (or being handed to) its
// topic worker. The admission controller tracks it in global FIFO order
// until the worker dequeues it or drop_oldest evicts it.
type pending struct {
	ev   *Event
	elem *list.Element

	// evicted is set when drop_oldest removes the entry while it waits.
	// The topic worker checks it after release and skips silently.
	evicted atomic.Bool
}

// admitter is the backpressure controller guarding the ingress path.
// Limit and policy are mutable at runtime and take effect at the next
// admission check; a limit decrease never retroactively evicts.
type admitter struct {
	mu      sync.Mutex
	limit   int
	policy  OverflowPolicy
	order   *list.List // *pending in admission order across all topics
	waiters []chan struct{}
	closed  bool
}

func newAdmitter(limit int, policy OverflowPolicy) *admitter {
	return &admitter{
		limit:  limit,
		policy: policy,
		order:  list.New(),
	}
}

// admit applies the overflow policy and, on success, tracks p in global
// admission order. It returns the entries evicted to make room (empty
// unless the policy is drop_oldest). Blocking waits are bounded by ctx.
func (a *admitter) admit(ctx context.Context, p *pending) ([]*pending, error) {
	a.mu.Lock()
	for {
		if a.closed {
			a.mu.Unlock()
			return nil, ErrBusClosed
		}
		if a.order.Len() < a.limit {
			p.elem = a.order.PushBack(p)
			a.mu.Unlock()
			return nil, nil
		}

		switch a.policy {
		case OverflowReject:
			a.mu.Unlock()
			return nil, ErrQueueFull

		case OverflowDropOldest:
			// After a runtime limit decrease the queue may sit above
			// the limit; evict down to it before admitting.
			var evicted []*pending
			for a.order.Len() >= a.limit {
				head := a.order.Front()
				if head == nil {
					break
				}
				a.order.Remove(head)
				victim := head.Value.(*pending)
				victim.evicted.Store(true)
				evicted = append(evicted, victim)
			}
			p.elem = a.order.PushBack(p)
			a.mu.Unlock()
			return evicted, nil

		default: // OverflowBlock
			ch := make(chan struct{})
			a.waiters = append(a.waiters, ch)
			a.mu.Unlock()

			select {
			case <-ch:
				a.mu.Lock()
				// Re-check from scratch: the limit or policy may have
				// changed while we were parked.
			case <-ctx.Done():
				a.mu.Lock()
				a.dropWaiter(ch)
				a.mu.Unlock()
				return nil, ctx.Err()
			}
		}
	}
}

// release removes a dequeued entry from the global order and wakes one
// parked publisher. Releasing an entry that eviction already removed is
// harmless; list.Remove ignores detached elements.
func (a *admitter) release(p *pending) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p.elem != nil {
		a.order.Remove(p.elem)
	}
	a.wakeOne()
}

// depth returns the number of admitted, not yet dequeued events.
func (a *admitter) depth() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.order.Len()
}

// snapshot returns the current limit and policy.
func (a *admitter) snapshot() (int, OverflowPolicy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limit, a.policy
}

// configure updates the limit and/or policy. Parked publishers are woken
// to re-evaluate against the new settings.
func (a *admitter) configure(limit int, policy OverflowPolicy) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if limit > 0 {
		a.limit = limit
	}
	if policy.Valid() {
		a.policy = policy
	}
	a.wakeAll()
}

// close fails all parked publishers with ErrBusClosed and refuses
// further admissions.
func (a *admitter) close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	a.wakeAll()
}

// wakeOne releases the longest-parked publisher, if any. Callers hold mu.
func (a *admitter) wakeOne() {
	if len(a.waiters) == 0 {
		return
	}
	close(a.waiters[0])
	a.waiters = a.waiters[1:]
}

// wakeAll releases every parked publisher. Callers hold mu.
func (a *admitter) wakeAll() {
	for _, ch := range a.waiters {
		close(ch)
	}
	a.waiters = nil
}

// dropWaiter removes a cancelled publisher's wake channel. The channel
// may already have been taken by wakeOne; in that race the publisher
// gave up its slot, so wake the next waiter to avoid losing the signal.
func (a *admitter) dropWaiter(ch chan struct{}) {
	for i, w := range a.waiters {
		if w == ch {
			a.waiters = append(a.waiters[:i], a.waiters[i+1:]...)
			return
		}
	}
	// Not found: a wake raced the cancellation. Pass it on.
	a.wakeOne()
}
