package benchmarks

import (
	"fmt"
	"testing"

	"github.com/randalmurphal/topicbus/pkg/topicbus/topic"
)

// buildMatcher registers n exact patterns plus a handful of wildcard
// patterns so lookups exercise both trie shapes.
func buildMatcher(n int) *topic.Matcher {
	m := topic.NewMatcher()
	for i := 0; i < n; i++ {
		m.Add(fmt.Sprintf("svc.%d.events", i))
	}
	m.Add("svc.*.events")
	m.Add("svc.#")
	m.Add("*.0.events")
	return m
}

// BenchmarkMatch_Exact_100 looks up an exact topic among 100 patterns.
func BenchmarkMatch_Exact_100(b *testing.B) {
	benchmarkMatch(b, 100, "svc.42.events")
}

// BenchmarkMatch_Exact_1000 looks up an exact topic among 1000 patterns.
func BenchmarkMatch_Exact_1000(b *testing.B) {
	benchmarkMatch(b, 1000, "svc.42.events")
}

// BenchmarkMatch_Miss_1000 looks up a topic no pattern matches exactly,
// leaving only the wildcard branches.
func BenchmarkMatch_Miss_1000(b *testing.B) {
	benchmarkMatch(b, 1000, "other.42.events")
}

// BenchmarkMatch_Deep matches a long topic against a trailing
// multi-segment wildcard.
func BenchmarkMatch_Deep(b *testing.B) {
	m := topic.NewMatcher()
	m.Add("a.#")
	t := "a.b.c.d.e.f.g.h"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Match(t)
	}
}

func benchmarkMatch(b *testing.B, patterns int, lookup string) {
	m := buildMatcher(patterns)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Match(lookup)
	}
}

// BenchmarkMatcherAdd measures trie insertion as patterns accumulate.
func BenchmarkMatcherAdd(b *testing.B) {
	m := topic.NewMatcher()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Add(fmt.Sprintf("svc.%d.events", i%10000))
	}
}

// BenchmarkMatches measures the standalone pattern check without a trie.
func BenchmarkMatches(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = topic.Matches("order.*.shipped", "order.123.shipped")
	}
}
