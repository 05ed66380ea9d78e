package config

import (
	"bytes"
	"os"
	"regexp"
)

// envPattern matches ${VAR} and ${VAR:-default} references.
// VAR can contain alphanumerics and underscores and must not start with a digit.
var envPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} references in raw config
// bytes with values from the process environment.
//
// Set variables expand to their value, even when empty. Unset variables
// expand to the default when one is given and are otherwise kept as-is,
// so unresolved references stay visible in the parsed config.
func ExpandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		groups := envPattern.FindSubmatch(match)
		if val, ok := os.LookupEnv(string(groups[1])); ok {
			return []byte(val)
		}
		if bytes.Contains(match, []byte(":-")) {
			return groups[2]
		}
		return match
	})
}
