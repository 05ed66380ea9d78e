package filter

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Resolve resolves a token to a value: a quoted string, boolean, null,
// number, or a lookup in the environment. Lookups support dotted paths
// descending through nested map[string]any values, so "payload.amount"
// reaches into a map payload and "context.region" into the propagated
// context.
func Resolve(s string, vars map[string]any) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// Quoted string literal (single or double quotes).
	if (strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'")) ||
		(strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"")) {
		if len(s) < 2 {
			return ""
		}
		return s[1 : len(s)-1]
	}

	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "nil":
		return nil
	}

	// Number literal, via json.Number for precise parsing.
	var num json.Number
	if err := json.Unmarshal([]byte(s), &num); err == nil {
		if i, err := num.Int64(); err == nil {
			return i
		}
		if f, err := num.Float64(); err == nil {
			return f
		}
	}

	// Environment lookup: exact key first, then a dotted-path descent.
	if vars != nil {
		if val, ok := vars[s]; ok {
			return val
		}
		if val, ok := lookupPath(s, vars); ok {
			return val
		}
	}

	// Unquoted identifier not in the environment: a string literal.
	return s
}

// lookupPath walks a dotted path through nested maps.
func lookupPath(path string, vars map[string]any) (any, bool) {
	segments := strings.Split(path, ".")
	if len(segments) < 2 {
		return nil, false
	}

	var current any = vars
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// IsTruthy reports whether a value is truthy: nil is false, bools are
// themselves, empty strings and zero numbers are false, everything else
// is true.
func IsTruthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case int32:
		return val != 0
	case float64:
		return val != 0
	case float32:
		return val != 0
	default:
		return true
	}
}

// ToFloat64 converts a value for numeric comparison. Values that cannot
// be converted yield 0.
func ToFloat64(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case string:
		var f float64
		_, _ = fmt.Sscanf(val, "%f", &f)
		return f
	default:
		return 0
	}
}
