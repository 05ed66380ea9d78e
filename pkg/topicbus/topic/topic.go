// Package topic defines dot-segmented topic strings and the wildcard
// pattern grammar used to subscribe to them.
//
// A topic is an immutable string of dot-separated segments, such as
// "order.created". A pattern is a topic-shaped string where a segment may
// be "*" (matches exactly one segment) or "#" (matches zero or more
// trailing segments; only valid as the final segment). The pattern "#" on
// its own matches every topic.
//
//	topic.Matches("order.*", "order.created")       // true
//	topic.Matches("order.*", "order.created.extra") // false
//	topic.Matches("order.#", "order")               // true
//	topic.Matches("#", "anything.at.all")           // true
package topic

import (
	"errors"
	"fmt"
	"strings"
)

// Wildcard and separator constants for the pattern grammar.
const (
	// WildcardSingle matches exactly one segment.
	WildcardSingle = "*"

	// WildcardMulti matches zero or more trailing segments. It is only
	// valid as the final segment of a pattern.
	WildcardMulti = "#"

	// Separator is the character used to separate topic segments.
	Separator = "."
)

var (
	// ErrInvalidPattern is returned when a subscription pattern is
	// malformed: an empty pattern, an empty segment, or a "#" wildcard
	// in a non-terminal position.
	ErrInvalidPattern = errors.New("invalid topic pattern")

	// ErrInvalidTopic is returned when a published topic is malformed:
	// empty, containing empty segments, or containing wildcard segments.
	ErrInvalidTopic = errors.New("invalid topic")
)

// Topic represents a hierarchical event subject using dot notation.
// Examples: "order.created", "metrics.cpu", "user.profile.updated".
type Topic string

// String returns the topic as a string.
func (t Topic) String() string {
	return string(t)
}

// Segments returns the topic split by the separator.
func (t Topic) Segments() []string {
	if t == "" {
		return nil
	}
	return strings.Split(string(t), Separator)
}

// Base returns the last segment of the topic.
//
// Example: "order.created" -> "created"
func (t Topic) Base() string {
	s := string(t)
	idx := strings.LastIndex(s, Separator)
	if idx < 0 {
		return s
	}
	return s[idx+1:]
}

// Child returns a child topic by appending a segment.
//
// Example: Topic("order").Child("created") -> "order.created"
func (t Topic) Child(segment string) Topic {
	if t == "" {
		return Topic(segment)
	}
	return Topic(string(t) + Separator + segment)
}

// Validate reports whether the topic is well formed. A valid topic is
// non-empty, has no empty segments, and contains no wildcard segments
// (wildcards belong to patterns, not topics).
func (t Topic) Validate() error {
	if t == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	for _, seg := range t.Segments() {
		switch seg {
		case "":
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidTopic, string(t))
		case WildcardSingle, WildcardMulti:
			return fmt.Errorf("%w: wildcard segment %q in %q", ErrInvalidTopic, seg, string(t))
		}
	}
	return nil
}

// Join joins segments into a topic.
func Join(segments ...string) Topic {
	return Topic(strings.Join(segments, Separator))
}

// Split splits a topic or pattern string into segments without
// allocating a Topic first. An empty string yields nil.
func Split(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, Separator)
}

// ValidatePattern reports whether a subscription pattern is well formed.
// A valid pattern is non-empty, has no empty segments, and uses "#" only
// as its final segment.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	segments := Split(pattern)
	for i, seg := range segments {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidPattern, pattern)
		}
		if seg == WildcardMulti && i != len(segments)-1 {
			return fmt.Errorf("%w: %q must be the final segment in %q", ErrInvalidPattern, WildcardMulti, pattern)
		}
	}
	return nil
}

// Matches reports whether pattern matches topic. It is pure, stateless,
// and deterministic. The walk is segment-by-segment:
//
//   - pattern and topic both exhausted: match.
//   - pattern segment "#": matches the remainder of the topic
//     unconditionally, including zero remaining segments.
//   - pattern segment "*": consumes exactly one topic segment; no match
//     if the topic is exhausted.
//   - literal segment: must equal the topic segment exactly
//     (case-sensitive).
//
// Matches assumes pattern passed ValidatePattern; a "#" found in a
// non-terminal position is still treated as terminal.
func Matches(pattern, topic string) bool {
	return matchSegments(Split(pattern), Split(topic))
}

// matchSegments walks pattern and topic segments in lockstep.
func matchSegments(pattern, topic []string) bool {
	pi, ti := 0, 0
	for pi < len(pattern) {
		seg := pattern[pi]
		if seg == WildcardMulti {
			// Matches everything that remains, including nothing.
			return true
		}
		if ti >= len(topic) {
			return false
		}
		if seg != WildcardSingle && seg != topic[ti] {
			return false
		}
		pi++
		ti++
	}
	return ti == len(topic)
}
