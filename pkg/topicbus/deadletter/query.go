package deadletter

import (
	"time"

	"github.com/randalmurphal/topicbus/pkg/topicbus/topic"
)

// DrainOption narrows which records List and Drain consider.
type DrainOption func(*drainQuery)

// drainQuery is the accumulated filter state.
type drainQuery struct {
	pattern string
	since   time.Time
	limit   int
}

// WithTopic keeps only records whose topic matches the given pattern.
// The pattern uses the subscription wildcard grammar ("*", "#").
func WithTopic(pattern string) DrainOption {
	return func(q *drainQuery) {
		q.pattern = pattern
	}
}

// WithSince keeps only records recorded at or after t.
func WithSince(t time.Time) DrainOption {
	return func(q *drainQuery) {
		q.since = t
	}
}

// WithLimit caps the number of records returned. Zero means unlimited.
func WithLimit(n int) DrainOption {
	return func(q *drainQuery) {
		q.limit = n
	}
}

func buildQuery(opts []DrainOption) drainQuery {
	var q drainQuery
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

// matches reports whether a record passes the filter, ignoring limit.
func (q drainQuery) matches(rec Record) bool {
	if q.pattern != "" && !topic.Matches(q.pattern, rec.Topic) {
		return false
	}
	if !q.since.IsZero() && rec.RecordedAt.Before(q.since) {
		return false
	}
	return true
}

// full reports whether the limit has been reached for n collected records.
func (q drainQuery) full(n int) bool {
	return q.limit > 0 && n >= q.limit
}
