package topicbus

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/randalmurphal/topicbus/pkg/topicbus/topic"
)

// subscription is one registered pattern/handler pair. The exported
// surface works with subscription IDs; the struct itself stays internal
// so registry invariants cannot be bypassed.
type subscription struct {
	id       string
	pattern  string
	handler  Handler
	priority int
	once     bool

	// filter/filterExpr gate deliveries by event content. Both may be
	// set; the predicate runs first.
	filter     func(Event) bool
	filterExpr string

	// boundary names the codec applied when delivery crosses a
	// serialization boundary. Empty means pass-through.
	boundary string

	// dlq routes this subscription's dead letters to a named queue.
	dlq string

	// seq is the registration sequence number, used for stable ordering
	// among equal priorities.
	seq uint64

	paused    atomic.Bool
	cancelled atomic.Bool

	// claimed marks a once-subscription as taken by its first matched
	// event. The claim covers that event's whole retry trajectory.
	claimed atomic.Bool
}

// claim atomically takes a once-subscription for one event. It reports
// false when an earlier event already holds the claim.
func (s *subscription) claim() bool {
	return s.claimed.CompareAndSwap(false, true)
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscription)

// WithPriority sets the delivery priority. Lower values run first.
// Default: 0
func WithPriority(priority int) SubscribeOption {
	return func(s *subscription) {
		s.priority = priority
	}
}

// WithOnce makes the subscription fire for exactly one matched event,
// then remove itself. Retries of that one event still run.
func WithOnce() SubscribeOption {
	return func(s *subscription) {
		s.once = true
	}
}

// WithFilter gates deliveries with a predicate. Events for which fn
// returns false are skipped for this subscription only.
func WithFilter(fn func(Event) bool) SubscribeOption {
	return func(s *subscription) {
		s.filter = fn
	}
}

// WithFilterExpr gates deliveries with a filter expression evaluated
// against the event, e.g. `context.region == "eu" && attempt >= 2`.
// The expression is validated at subscribe time.
func WithFilterExpr(expr string) SubscribeOption {
	return func(s *subscription) {
		s.filterExpr = expr
	}
}

// WithBoundary makes deliveries cross a serialization boundary: the
// payload is encoded with the named codec, optionally encrypted and
// decrypted, then decoded before the handler runs. The handler receives
// the round-tripped value in the codec's generic form (for JSON,
// map[string]any with float64 numbers). The codec name is validated at
// subscribe time.
func WithBoundary(codecName string) SubscribeOption {
	return func(s *subscription) {
		s.boundary = codecName
	}
}

// WithDeadLetterQueue routes this subscription's dead letters to a
// named queue instead of deadletter.DefaultQueue.
func WithDeadLetterQueue(name string) SubscribeOption {
	return func(s *subscription) {
		s.dlq = name
	}
}

// subscriptionRegistry owns subscriptions and answers resolve queries
// through a pattern trie. A single mutex guards add/remove/resolve.
type subscriptionRegistry struct {
	mu        sync.RWMutex
	matcher   *topic.Matcher
	byID      map[string]*subscription
	byPattern map[string][]*subscription
	nextSeq   uint64
	maxSubs   int
}

func newSubscriptionRegistry(maxSubs int) *subscriptionRegistry {
	return &subscriptionRegistry{
		matcher:   topic.NewMatcher(),
		byID:      make(map[string]*subscription),
		byPattern: make(map[string][]*subscription),
		maxSubs:   maxSubs,
	}
}

// add registers a subscription and assigns its ID and sequence number.
func (r *subscriptionRegistry) add(sub *subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSubs > 0 && len(r.byID) >= r.maxSubs {
		return fmt.Errorf("%w: limit %d", ErrMaxSubscribers, r.maxSubs)
	}

	sub.id = fmt.Sprintf("sub-%s", uuid.New().String()[:8])
	r.nextSeq++
	sub.seq = r.nextSeq

	r.byID[sub.id] = sub
	r.byPattern[sub.pattern] = append(r.byPattern[sub.pattern], sub)
	r.matcher.Add(sub.pattern)
	return nil
}

// remove unregisters a subscription. It reports whether the ID existed.
func (r *subscriptionRegistry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok {
		return false
	}

	sub.cancelled.Store(true)
	delete(r.byID, id)

	subs := r.byPattern[sub.pattern]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(r.byPattern, sub.pattern)
		r.matcher.Remove(sub.pattern)
	} else {
		r.byPattern[sub.pattern] = subs
	}
	return true
}

// resolve returns the active subscriptions matching a topic, sorted by
// priority ascending with registration order breaking ties. Paused and
// cancelled subscriptions are skipped.
func (r *subscriptionRegistry) resolve(topicName string) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*subscription
	for _, pattern := range r.matcher.Match(topicName) {
		for _, sub := range r.byPattern[pattern] {
			if sub.paused.Load() || sub.cancelled.Load() {
				continue
			}
			matched = append(matched, sub)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].priority != matched[j].priority {
			return matched[i].priority < matched[j].priority
		}
		return matched[i].seq < matched[j].seq
	})
	return matched
}

// active reports whether a subscription is still registered and not
// cancelled. The dispatch loop checks this before every retry attempt;
// paused subscriptions stay active so an in-flight trajectory finishes.
func (r *subscriptionRegistry) active(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.byID[id]
	return ok && !sub.cancelled.Load()
}

// pause suspends resolve-time matching for a subscription.
func (r *subscriptionRegistry) pause(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubscription, id)
	}
	sub.paused.Store(true)
	return nil
}

// resume re-enables resolve-time matching for a subscription.
func (r *subscriptionRegistry) resume(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubscription, id)
	}
	sub.paused.Store(false)
	return nil
}

// count returns the number of registered subscriptions.
func (r *subscriptionRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// setMaxSubscribers updates the subscriber cap. Zero means unlimited;
// lowering the cap never removes existing subscriptions.
func (r *subscriptionRegistry) setMaxSubscribers(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxSubs = n
}
