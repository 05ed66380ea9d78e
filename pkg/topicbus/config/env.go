package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Package-specific errors
var (
	// ErrNilPointer is returned when a nil pointer is provided to Load.
	ErrNilPointer = errors.New("nil pointer provided to config loader")

	// ErrParsingConfig is returned when environment variables cannot be
	// parsed into the config struct.
	ErrParsingConfig = errors.New("failed to parse environment variables into config")
)

// BusEnv is the environment schema for a bus instance.
// Zero or unset variables fall back to the envDefault tags.
type BusEnv struct {
	// Queue admission
	QueueLimit     int    `env:"TOPICBUS_QUEUE_LIMIT" envDefault:"1024"`
	OverflowPolicy string `env:"TOPICBUS_OVERFLOW_POLICY" envDefault:"block"`

	// Default retry policy
	RetryStrategy  string        `env:"TOPICBUS_RETRY_STRATEGY" envDefault:"fixed"`
	MaxRetries     int           `env:"TOPICBUS_MAX_RETRIES" envDefault:"0"`
	RetryBaseDelay time.Duration `env:"TOPICBUS_RETRY_BASE_DELAY" envDefault:"100ms"`
	RetryMaxDelay  time.Duration `env:"TOPICBUS_RETRY_MAX_DELAY" envDefault:"30s"`

	// DeadLetterPath selects the SQLite dead-letter store when set;
	// an empty value keeps dead letters in memory.
	DeadLetterPath string `env:"TOPICBUS_DEAD_LETTER_PATH"`

	// RedisAddr enables Redis-backed leader coordination when set;
	// an empty value makes this instance its own leader.
	RedisAddr string `env:"TOPICBUS_REDIS_ADDR"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"TOPICBUS_LOG_LEVEL" envDefault:"info"`
}

// Load parses environment variables into v based on `env` field tags.
// A .env file in the working directory is loaded first when present.
//
// Example:
//
//	var cfg config.BusEnv
//	if err := config.Load(&cfg); err != nil {
//	    log.Fatal(err)
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	// Ignore errors - the .env file might not exist and that's ok
	_ = godotenv.Load()

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// MustLoad works like Load but panics if configuration loading fails.
// This is useful for configurations that are required for the application
// to start.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}
