package topicbus

import "sync/atomic"

// BusStats is a point-in-time snapshot of bus activity counters.
type BusStats struct {
	// Published counts events admitted through Publish, PublishSync,
	// PublishBatch, and scheduled deliveries.
	Published uint64 `json:"published"`

	// Delivered counts successful handler completions.
	Delivered uint64 `json:"delivered"`

	// Retried counts scheduled re-attempts after handler failures.
	Retried uint64 `json:"retried"`

	// DeadLettered counts records handed to the dead-letter sink.
	DeadLettered uint64 `json:"dead_lettered"`

	// Dropped counts events discarded outside the failure path: no
	// matching subscriber, or a retry whose subscription was removed.
	Dropped uint64 `json:"dropped"`

	// Evicted counts events removed by the drop_oldest overflow policy.
	Evicted uint64 `json:"evicted"`

	// QueueDepth is the number of admitted, not yet dispatched events.
	QueueDepth int `json:"queue_depth"`

	// Subscriptions is the number of registered subscriptions.
	Subscriptions int `json:"subscriptions"`
}

// busCounters holds the live counters, increment-only under atomics.
type busCounters struct {
	published    atomic.Uint64
	delivered    atomic.Uint64
	retried      atomic.Uint64
	deadLettered atomic.Uint64
	dropped      atomic.Uint64
	evicted      atomic.Uint64
}

func (c *busCounters) snapshot() BusStats {
	return BusStats{
		Published:    c.published.Load(),
		Delivered:    c.delivered.Load(),
		Retried:      c.retried.Load(),
		DeadLettered: c.deadLettered.Load(),
		Dropped:      c.dropped.Load(),
		Evicted:      c.evicted.Load(),
	}
}
