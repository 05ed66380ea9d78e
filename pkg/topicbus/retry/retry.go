// Package retry computes backoff delay sequences for failed deliveries.
//
// A Policy describes one backoff strategy (fixed or exponential with a
// cap) together with a retry budget. An Engine holds the bus-wide
// default policy plus per-topic overrides and answers which policy
// governs a given topic at dispatch time.
package retry

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Strategy selects how the delay between attempts grows.
type Strategy string

const (
	// StrategyFixed keeps a constant BaseDelay between attempts.
	StrategyFixed Strategy = "fixed"

	// StrategyExponential doubles the delay each attempt:
	// min(BaseDelay * 2^(attempt-1), MaxDelay).
	StrategyExponential Strategy = "exponential"
)

// DefaultScope is the topic key under which the bus-wide default policy
// is registered.
const DefaultScope = ""

// Policy configures the retry behavior for one topic or for the bus.
type Policy struct {
	// Strategy selects the delay progression. Default: StrategyFixed.
	Strategy Strategy

	// MaxRetries is the number of re-attempts after the initial
	// delivery. The total invocation count is MaxRetries+1.
	// Default: 0 (first failure is terminal).
	MaxRetries int

	// BaseDelay is the delay before the first retry. Default: 0.
	BaseDelay time.Duration

	// MaxDelay caps the exponential progression. Zero means uncapped.
	MaxDelay time.Duration

	// Jitter is the random jitter factor (0.0-1.0) applied to each
	// delay. Default: 0 (deterministic delays).
	Jitter float64
}

// DefaultPolicy is the policy used when none is configured: no retries,
// first failure is immediately dead-lettered.
var DefaultPolicy = Policy{
	Strategy:   StrategyFixed,
	MaxRetries: 0,
}

// Fixed returns a fixed-delay policy.
func Fixed(maxRetries int, delay time.Duration) Policy {
	return Policy{
		Strategy:   StrategyFixed,
		MaxRetries: maxRetries,
		BaseDelay:  delay,
	}
}

// Exponential returns an exponential-backoff policy capped at maxDelay.
func Exponential(maxRetries int, baseDelay, maxDelay time.Duration) Policy {
	return Policy{
		Strategy:   StrategyExponential,
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		MaxDelay:   maxDelay,
	}
}

// Validate reports whether the policy is well-formed. An empty Strategy
// passes; it behaves as StrategyFixed.
func (p Policy) Validate() error {
	switch p.Strategy {
	case "", StrategyFixed, StrategyExponential:
	default:
		return fmt.Errorf("unknown retry strategy %q", p.Strategy)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", p.MaxRetries)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay must not be negative, got %v", p.BaseDelay)
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("max delay must not be negative, got %v", p.MaxDelay)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("jitter must be between 0 and 1, got %v", p.Jitter)
	}
	return nil
}

// NextDelay returns the delay to wait before re-attempting after the
// given attempt failed, and whether a retry is allowed at all. Attempts
// are numbered from 1; the budget is exhausted once attempt exceeds
// MaxRetries, so ok=false means the failure is terminal.
func (p Policy) NextDelay(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > p.MaxRetries {
		return 0, false
	}

	delay := p.BaseDelay
	if p.Strategy == StrategyExponential {
		for i := 1; i < attempt; i++ {
			delay *= 2
			if p.MaxDelay > 0 && delay >= p.MaxDelay {
				delay = p.MaxDelay
				break
			}
		}
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	if delay < 0 {
		delay = 0
	}

	return applyJitter(delay, p.Jitter), true
}

// applyJitter spreads a delay by +/- delay*jitter*random.
func applyJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || base <= 0 {
		return base
	}

	amount := float64(base) * jitter * (rand.Float64()*2 - 1)
	d := time.Duration(float64(base) + amount)
	if d < 0 {
		return 0
	}
	return d
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithStrategy sets the delay strategy.
func WithStrategy(s Strategy) PolicyOption {
	return func(p *Policy) {
		p.Strategy = s
	}
}

// WithMaxRetries sets the number of re-attempts after the initial one.
func WithMaxRetries(n int) PolicyOption {
	return func(p *Policy) {
		p.MaxRetries = n
	}
}

// WithBaseDelay sets the delay before the first retry.
func WithBaseDelay(d time.Duration) PolicyOption {
	return func(p *Policy) {
		p.BaseDelay = d
	}
}

// WithMaxDelay caps the exponential progression.
func WithMaxDelay(d time.Duration) PolicyOption {
	return func(p *Policy) {
		p.MaxDelay = d
	}
}

// WithJitter sets the jitter factor (0.0-1.0).
func WithJitter(j float64) PolicyOption {
	return func(p *Policy) {
		p.Jitter = j
	}
}

// NewPolicy creates a policy starting from DefaultPolicy.
func NewPolicy(opts ...PolicyOption) Policy {
	p := DefaultPolicy
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Engine resolves which policy governs a topic. Per-topic overrides take
// precedence over the bus-wide default. Policies are value types: the
// policy returned by PolicyFor is a snapshot, so an in-flight delivery
// keeps the policy it captured at its first failure even if the engine
// is reconfigured mid-trajectory.
type Engine struct {
	mu      sync.RWMutex
	def     Policy
	byTopic map[string]Policy
}

// NewEngine creates an engine with DefaultPolicy as the bus default.
func NewEngine() *Engine {
	return &Engine{
		def:     DefaultPolicy,
		byTopic: make(map[string]Policy),
	}
}

// SetDefault replaces the bus-wide default policy. It affects only
// subsequently dispatched events.
func (e *Engine) SetDefault(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.def = p
}

// SetPolicy registers a per-topic override. Setting a policy is
// idempotent; topic DefaultScope ("") replaces the bus default.
func (e *Engine) SetPolicy(topic string, p Policy) {
	if topic == DefaultScope {
		e.SetDefault(p)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byTopic[topic] = p
}

// RemovePolicy drops a per-topic override, reverting the topic to the
// bus default.
func (e *Engine) RemovePolicy(topic string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.byTopic, topic)
}

// PolicyFor returns the policy governing the topic: the exact-topic
// override if present, else the bus default.
func (e *Engine) PolicyFor(topic string) Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if p, ok := e.byTopic[topic]; ok {
		return p
	}
	return e.def
}
