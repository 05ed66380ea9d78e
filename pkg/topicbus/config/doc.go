/*
Package config provides configuration loading for the bus: type-safe
extraction from map[string]any, file loading with environment expansion,
and env-tag struct parsing.

# Overview

config wraps a map[string]any and provides typed accessor methods that handle
missing keys and type mismatches gracefully by returning default values.
This is useful for extracting configuration values from YAML/JSON structures
without verbose type assertions and nil checks.

# Basic Usage

Create a Config from any map and extract values with defaults:

	cfg := config.New(map[string]any{
	    "base_delay": "100ms",
	    "limit":      1024,
	    "jitter":     true,
	})

	delay := cfg.Duration("base_delay", time.Second) // 100ms
	limit := cfg.Int("limit", 512)                   // 1024
	jitter := cfg.Bool("jitter", false)              // true
	missing := cfg.String("missing", "default")      // "default"

Nested mappings are reached with Section:

	limit := cfg.Section("backpressure").Int("limit", 1024)

# Type Coercion

Duration handles multiple input types:
  - string: parsed with time.ParseDuration ("30s", "1h30m")
  - int/float64: interpreted as seconds
  - time.Duration: used directly

Numeric and boolean accessors also accept string forms ("8", "2.5", "true"),
so values produced by ${VAR} expansion behave like their literal
counterparts.

All methods return the default value if:
  - The key is missing
  - The value cannot be converted to the requested type
  - The conversion would lose precision (e.g., float to int with fraction)

# File Loading

Load configuration from YAML or JSON files:

	cfg, err := config.FromFile("bus.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	// Or load from bytes
	cfg, err = config.FromYAML(yamlBytes)
	cfg, err = config.FromJSON(jsonBytes)

${VAR} and ${VAR:-default} references in the file are expanded from the
process environment before parsing.

# Environment Loading

Structs tagged with `env` fields load directly from the environment,
reading a .env file first when one exists:

	var cfg config.BusEnv
	if err := config.Load(&cfg); err != nil {
	    log.Fatal(err)
	}

BusEnv is the bus's own schema (queue limit, overflow policy, retry
defaults, store paths); Load works with any tagged struct.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation. However, if the original map is modified
externally, behavior is undefined.
*/
package config
