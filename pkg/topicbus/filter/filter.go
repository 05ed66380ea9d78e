// Package filter evaluates content-based subscription filters against
// event fields.
//
// Filters are small boolean expressions over the delivery environment:
// the event's topic, attempt counter, payload, and propagated context.
// Dotted paths reach into nested maps:
//
//	topic == "order.created"
//	context.region == "eu" && attempt >= 2
//	payload.amount > 100 or payload.priority == "high"
//
// Supported operators: ==, !=, <, >, <=, >=, contains, and/&&, or/||,
// not/! prefix negation. A bare value is truthy-checked.
package filter

import (
	"fmt"
	"strings"
)

// BinaryOp compares two values and returns a boolean result.
type BinaryOp func(left, right any) bool

// Evaluator evaluates filter expressions with optional custom operators.
type Evaluator struct {
	customOps map[string]BinaryOp
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCustomOperator registers a custom binary operator. The operator
// name should not conflict with built-in operators.
func WithCustomOperator(name string, fn BinaryOp) Option {
	return func(e *Evaluator) {
		if e.customOps == nil {
			e.customOps = make(map[string]BinaryOp)
		}
		e.customOps[name] = fn
	}
}

// New creates an Evaluator with the given options.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate checks an expression for syntax problems without an
// environment. It catches unbalanced quotes so a bad filter fails at
// subscribe time rather than per delivery.
func Validate(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fmt.Errorf("empty filter expression")
	}
	if strings.Count(expr, `"`)%2 != 0 || strings.Count(expr, "'")%2 != 0 {
		return fmt.Errorf("unbalanced quotes in filter expression %q", expr)
	}
	return nil
}

// Evaluate evaluates a filter expression against the delivery
// environment.
func (e *Evaluator) Evaluate(expr string, vars map[string]any) (bool, error) {
	return e.evaluateCondition(expr, vars)
}

// Eval evaluates an expression using the default evaluator.
func Eval(expr string, vars map[string]any) (bool, error) {
	return New().Evaluate(expr, vars)
}

// evaluateCondition evaluates one condition, recursing through boolean
// connectives before trying comparisons.
func (e *Evaluator) evaluateCondition(expr string, vars map[string]any) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, nil
	}

	// Negation prefixes.
	if strings.HasPrefix(expr, "not ") {
		result, err := e.evaluateCondition(strings.TrimPrefix(expr, "not "), vars)
		if err != nil {
			return false, err
		}
		return !result, nil
	}
	if strings.HasPrefix(expr, "!") && !strings.HasPrefix(expr, "!=") {
		result, err := e.evaluateCondition(strings.TrimPrefix(expr, "!"), vars)
		if err != nil {
			return false, err
		}
		return !result, nil
	}

	// Boolean connectives, split on the first occurrence. Symbolic and
	// word forms are equivalent.
	for _, conn := range []struct {
		sep string
		and bool
	}{
		{" && ", true},
		{" and ", true},
		{" || ", false},
		{" or ", false},
	} {
		if parts := strings.SplitN(expr, conn.sep, 2); len(parts) == 2 {
			left, err := e.evaluateCondition(parts[0], vars)
			if err != nil {
				return false, err
			}
			right, err := e.evaluateCondition(parts[1], vars)
			if err != nil {
				return false, err
			}
			if conn.and {
				return left && right, nil
			}
			return left || right, nil
		}
	}

	// Built-in comparisons, longer operators first to avoid partial
	// matches.
	builtinOps := []struct {
		op      string
		compare BinaryOp
	}{
		{"==", func(l, r any) bool { return fmt.Sprintf("%v", l) == fmt.Sprintf("%v", r) }},
		{"!=", func(l, r any) bool { return fmt.Sprintf("%v", l) != fmt.Sprintf("%v", r) }},
		{">=", func(l, r any) bool { return ToFloat64(l) >= ToFloat64(r) }},
		{"<=", func(l, r any) bool { return ToFloat64(l) <= ToFloat64(r) }},
		{">", func(l, r any) bool { return ToFloat64(l) > ToFloat64(r) }},
		{"<", func(l, r any) bool { return ToFloat64(l) < ToFloat64(r) }},
		{" contains ", func(l, r any) bool {
			return strings.Contains(fmt.Sprintf("%v", l), fmt.Sprintf("%v", r))
		}},
	}
	for _, op := range builtinOps {
		if parts := strings.SplitN(expr, op.op, 2); len(parts) == 2 {
			left := Resolve(strings.TrimSpace(parts[0]), vars)
			right := Resolve(strings.TrimSpace(parts[1]), vars)
			return op.compare(left, right), nil
		}
	}

	// Custom operators, wrapped with spaces for word boundaries.
	for name, fn := range e.customOps {
		opPattern := " " + name + " "
		if parts := strings.SplitN(expr, opPattern, 2); len(parts) == 2 {
			left := Resolve(strings.TrimSpace(parts[0]), vars)
			right := Resolve(strings.TrimSpace(parts[1]), vars)
			return fn(left, right), nil
		}
	}

	// Single value: truthy check.
	return IsTruthy(Resolve(expr, vars)), nil
}
