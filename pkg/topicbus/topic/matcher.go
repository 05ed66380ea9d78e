package topic

import "sync"

// Matcher is a pattern index built on a segment trie. It answers "which
// registered patterns match this topic" without scanning every pattern.
// It is safe for concurrent use.
//
// Matcher agrees with Matches for every valid pattern; it exists as a
// resolve-time optimization for registries holding many patterns.
type Matcher struct {
	mu   sync.RWMutex
	root *trieNode
}

// trieNode is one segment level of the pattern trie.
type trieNode struct {
	children map[string]*trieNode
	patterns []string // patterns terminating at this node
}

func newTrieNode() *trieNode {
	return &trieNode{
		children: make(map[string]*trieNode),
	}
}

// NewMatcher creates an empty pattern index.
func NewMatcher() *Matcher {
	return &Matcher{
		root: newTrieNode(),
	}
}

// Add registers a pattern. Adding the same pattern twice is a no-op.
// The pattern must have passed ValidatePattern.
func (m *Matcher) Add(pattern string) {
	if pattern == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	node := m.root
	for _, seg := range Split(pattern) {
		if node.children[seg] == nil {
			node.children[seg] = newTrieNode()
		}
		node = node.children[seg]
	}

	for _, p := range node.patterns {
		if p == pattern {
			return
		}
	}
	node.patterns = append(node.patterns, pattern)
}

// Remove unregisters a pattern. Removing an unknown pattern is a no-op.
func (m *Matcher) Remove(pattern string) {
	if pattern == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	node := m.root
	for _, seg := range Split(pattern) {
		if node.children[seg] == nil {
			return
		}
		node = node.children[seg]
	}

	for i, p := range node.patterns {
		if p == pattern {
			node.patterns = append(node.patterns[:i], node.patterns[i+1:]...)
			return
		}
	}
}

// Match returns every registered pattern that matches the topic. The
// topic must be a concrete topic, not a pattern. Order is unspecified.
func (m *Matcher) Match(topic string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []string
	m.walk(m.root, Split(topic), 0, &matches)
	return matches
}

// walk descends the trie alongside the topic segments. A "#" child
// terminates every pattern stored beneath it, so its patterns match the
// whole remainder at any depth, including a fully consumed topic.
func (m *Matcher) walk(node *trieNode, segments []string, depth int, out *[]string) {
	if node == nil {
		return
	}

	if child := node.children[WildcardMulti]; child != nil {
		*out = append(*out, child.patterns...)
	}

	if depth == len(segments) {
		*out = append(*out, node.patterns...)
		return
	}

	if child := node.children[segments[depth]]; child != nil {
		m.walk(child, segments, depth+1, out)
	}
	if child := node.children[WildcardSingle]; child != nil {
		m.walk(child, segments, depth+1, out)
	}
}

// Patterns returns all registered patterns. Order is unspecified.
func (m *Matcher) Patterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var patterns []string
	collectPatterns(m.root, &patterns)
	return patterns
}

func collectPatterns(node *trieNode, out *[]string) {
	if node == nil {
		return
	}
	*out = append(*out, node.patterns...)
	for _, child := range node.children {
		collectPatterns(child, out)
	}
}

// Len returns the number of registered patterns.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	countPatterns(m.root, &count)
	return count
}

func countPatterns(node *trieNode, count *int) {
	if node == nil {
		return
	}
	*count += len(node.patterns)
	for _, child := range node.children {
		countPatterns(child, count)
	}
}

// Clear removes all patterns.
func (m *Matcher) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = newTrieNode()
}
