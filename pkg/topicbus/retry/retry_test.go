package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyNextDelay(t *testing.T) {
	t.Run("default policy never retries", func(t *testing.T) {
		_, ok := DefaultPolicy.NextDelay(1)
		assert.False(t, ok)
	})

	t.Run("fixed delay is constant", func(t *testing.T) {
		p := Fixed(3, 50*time.Millisecond)

		for attempt := 1; attempt <= 3; attempt++ {
			d, ok := p.NextDelay(attempt)
			require.True(t, ok, "attempt %d should be retryable", attempt)
			assert.Equal(t, 50*time.Millisecond, d)
		}

		_, ok := p.NextDelay(4)
		assert.False(t, ok, "budget exhausted after MaxRetries")
	})

	t.Run("exponential doubles and caps", func(t *testing.T) {
		p := Exponential(5, 100*time.Millisecond, 400*time.Millisecond)

		want := []time.Duration{
			100 * time.Millisecond, // attempt 1: base * 2^0
			200 * time.Millisecond, // attempt 2: base * 2^1
			400 * time.Millisecond, // attempt 3: base * 2^2
			400 * time.Millisecond, // attempt 4: capped
			400 * time.Millisecond, // attempt 5: capped
		}
		for i, w := range want {
			d, ok := p.NextDelay(i + 1)
			require.True(t, ok)
			assert.Equal(t, w, d, "attempt %d", i+1)
		}

		_, ok := p.NextDelay(6)
		assert.False(t, ok)
	})

	t.Run("exponential without cap keeps doubling", func(t *testing.T) {
		p := Exponential(4, 10*time.Millisecond, 0)

		d, ok := p.NextDelay(4)
		require.True(t, ok)
		assert.Equal(t, 80*time.Millisecond, d)
	})

	t.Run("attempt below one is terminal", func(t *testing.T) {
		p := Fixed(3, time.Millisecond)
		_, ok := p.NextDelay(0)
		assert.False(t, ok)
	})

	t.Run("jitter stays within bounds", func(t *testing.T) {
		p := Fixed(1, 100*time.Millisecond)
		p.Jitter = 0.5

		for i := 0; i < 50; i++ {
			d, ok := p.NextDelay(1)
			require.True(t, ok)
			assert.GreaterOrEqual(t, d, 50*time.Millisecond)
			assert.LessOrEqual(t, d, 150*time.Millisecond)
		}
	})
}

func TestPolicyValidate(t *testing.T) {
	t.Run("zero value passes", func(t *testing.T) {
		assert.NoError(t, Policy{}.Validate())
	})

	t.Run("constructors pass", func(t *testing.T) {
		assert.NoError(t, Fixed(3, 10*time.Millisecond).Validate())
		assert.NoError(t, Exponential(5, 10*time.Millisecond, time.Second).Validate())
	})

	t.Run("unknown strategy fails", func(t *testing.T) {
		p := Policy{Strategy: "cubic"}
		assert.ErrorContains(t, p.Validate(), "unknown retry strategy")
	})

	t.Run("negative values fail", func(t *testing.T) {
		assert.Error(t, Policy{MaxRetries: -1}.Validate())
		assert.Error(t, Policy{BaseDelay: -time.Second}.Validate())
		assert.Error(t, Policy{MaxDelay: -time.Second}.Validate())
	})

	t.Run("jitter outside unit range fails", func(t *testing.T) {
		assert.Error(t, Policy{Jitter: -0.1}.Validate())
		assert.Error(t, Policy{Jitter: 1.5}.Validate())
	})
}

func TestNewPolicy(t *testing.T) {
	p := NewPolicy(
		WithStrategy(StrategyExponential),
		WithMaxRetries(4),
		WithBaseDelay(20*time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0.1),
	)

	assert.Equal(t, StrategyExponential, p.Strategy)
	assert.Equal(t, 4, p.MaxRetries)
	assert.Equal(t, 20*time.Millisecond, p.BaseDelay)
	assert.Equal(t, time.Second, p.MaxDelay)
	assert.Equal(t, 0.1, p.Jitter)
}

func TestEngine(t *testing.T) {
	t.Run("falls back to default", func(t *testing.T) {
		e := NewEngine()
		assert.Equal(t, DefaultPolicy, e.PolicyFor("order.created"))
	})

	t.Run("per-topic override wins", func(t *testing.T) {
		e := NewEngine()
		override := Fixed(2, 10*time.Millisecond)
		e.SetPolicy("order.created", override)

		assert.Equal(t, override, e.PolicyFor("order.created"))
		assert.Equal(t, DefaultPolicy, e.PolicyFor("order.deleted"))
	})

	t.Run("default scope replaces the bus default", func(t *testing.T) {
		e := NewEngine()
		def := Exponential(3, 5*time.Millisecond, 50*time.Millisecond)
		e.SetPolicy(DefaultScope, def)

		assert.Equal(t, def, e.PolicyFor("anything"))
	})

	t.Run("remove reverts to default", func(t *testing.T) {
		e := NewEngine()
		e.SetPolicy("order.created", Fixed(5, time.Millisecond))
		e.RemovePolicy("order.created")

		assert.Equal(t, DefaultPolicy, e.PolicyFor("order.created"))
	})

	t.Run("setting a policy is idempotent", func(t *testing.T) {
		e := NewEngine()
		p := Fixed(2, time.Millisecond)
		e.SetPolicy("order.created", p)
		e.SetPolicy("order.created", p)

		assert.Equal(t, p, e.PolicyFor("order.created"))
	})

	t.Run("snapshot is unaffected by reconfiguration", func(t *testing.T) {
		e := NewEngine()
		e.SetPolicy("order.created", Fixed(2, 10*time.Millisecond))

		captured := e.PolicyFor("order.created")
		e.SetPolicy("order.created", Fixed(9, time.Second))

		assert.Equal(t, 2, captured.MaxRetries)
		assert.Equal(t, 10*time.Millisecond, captured.BaseDelay)
	})
}
