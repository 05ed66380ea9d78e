package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/topicbus/pkg/topicbus/config"
)

// TestLoad_Defaults verifies that an empty environment yields documented defaults.
func TestLoad_Defaults(t *testing.T) {
	var cfg config.BusEnv
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, 1024, cfg.QueueLimit)
	assert.Equal(t, "block", cfg.OverflowPolicy)
	assert.Equal(t, "fixed", cfg.RetryStrategy)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.RetryMaxDelay)
	assert.Empty(t, cfg.DeadLetterPath)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, "info", cfg.LogLevel)
}

// TestLoad_Overrides verifies that environment variables override defaults.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TOPICBUS_QUEUE_LIMIT", "256")
	t.Setenv("TOPICBUS_OVERFLOW_POLICY", "drop_oldest")
	t.Setenv("TOPICBUS_RETRY_STRATEGY", "exponential")
	t.Setenv("TOPICBUS_MAX_RETRIES", "5")
	t.Setenv("TOPICBUS_RETRY_BASE_DELAY", "250ms")
	t.Setenv("TOPICBUS_DEAD_LETTER_PATH", "/tmp/dlq.db")
	t.Setenv("TOPICBUS_LOG_LEVEL", "debug")

	var cfg config.BusEnv
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, 256, cfg.QueueLimit)
	assert.Equal(t, "drop_oldest", cfg.OverflowPolicy)
	assert.Equal(t, "exponential", cfg.RetryStrategy)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, "/tmp/dlq.db", cfg.DeadLetterPath)
	assert.Equal(t, "debug", cfg.LogLevel)
}

// TestLoad_NilPointer verifies the nil-pointer guard.
func TestLoad_NilPointer(t *testing.T) {
	var cfg *config.BusEnv
	err := config.Load(cfg)

	assert.ErrorIs(t, err, config.ErrNilPointer)
}

// TestLoad_ParseError verifies malformed values surface as parsing errors.
func TestLoad_ParseError(t *testing.T) {
	t.Setenv("TOPICBUS_QUEUE_LIMIT", "not-a-number")

	var cfg config.BusEnv
	err := config.Load(&cfg)

	assert.ErrorIs(t, err, config.ErrParsingConfig)
}

// TestMustLoad verifies panic behavior on invalid environments.
func TestMustLoad(t *testing.T) {
	t.Run("valid environment populates config", func(t *testing.T) {
		var cfg config.BusEnv
		assert.NotPanics(t, func() {
			config.MustLoad(&cfg)
		})
		assert.Equal(t, "block", cfg.OverflowPolicy)
	})

	t.Run("invalid environment panics", func(t *testing.T) {
		t.Setenv("TOPICBUS_MAX_RETRIES", "banana")
		var cfg config.BusEnv
		assert.Panics(t, func() {
			config.MustLoad(&cfg)
		})
	})
}
