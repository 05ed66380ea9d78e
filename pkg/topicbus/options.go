package topicbus

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/randalmurphal/topicbus/pkg/topicbus/cluster"
	"github.com/randalmurphal/topicbus/pkg/topicbus/codec"
	"github.com/randalmurphal/topicbus/pkg/topicbus/config"
	"github.com/randalmurphal/topicbus/pkg/topicbus/deadletter"
	"github.com/randalmurphal/topicbus/pkg/topicbus/observability"
	"github.com/randalmurphal/topicbus/pkg/topicbus/retry"
)

// Config configures a Bus. The zero value is usable; NewWithConfig fills
// zero fields from DefaultConfig and fresh component instances, so two
// buses never share state unless the caller passes it in explicitly.
type Config struct {
	// QueueLimit bounds the admission queue.
	// Default: 1024
	QueueLimit int

	// Overflow decides what happens to publishers at the limit.
	// Default: OverflowBlock
	Overflow OverflowPolicy

	// MaxSubscribers limits total subscriptions.
	// Default: 0 (unlimited)
	MaxSubscribers int

	// DefaultRetry is the bus-wide retry policy for topics without an
	// override. Default: retry.DefaultPolicy (no retries)
	DefaultRetry retry.Policy

	// DeadLetter stores permanently failed events.
	// Default: an in-memory sink
	DeadLetter deadletter.Sink

	// Codecs is the serializer registry used at subscription
	// serialization boundaries. Default: a registry with "json" and
	// "yaml".
	Codecs *codec.Registry

	// EncryptionSecret enables AES-GCM payload encryption at
	// serialization boundaries. Default: nil (no encryption)
	EncryptionSecret []byte

	// Coordinator gates periodic scheduled publishes in multi-instance
	// deployments. Default: cluster.Static(true) (always leader)
	Coordinator cluster.Coordinator

	// Logger receives structured dispatch logs.
	// Default: slog.Default()
	Logger *slog.Logger

	// Metrics receives dispatch counters and histograms.
	// Default: observability.NoopMetrics
	Metrics observability.MetricsRecorder

	// Spans receives publish/delivery tracing spans.
	// Default: observability.NoopSpanManager
	Spans observability.SpanManager

	// OnDrop is called when an event is dropped outside the failure
	// path: no matching subscriber, or a retry whose subscription was
	// removed. Eviction under drop_oldest is silent and does not call
	// OnDrop.
	OnDrop func(topic, reason string)

	// OnDeadLetter is called after a record is handed to the sink.
	OnDeadLetter func(rec deadletter.Record)

	// OnError is called for every failed delivery attempt.
	OnError func(err *DeliveryError)
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	QueueLimit:   1024,
	Overflow:     OverflowBlock,
	DefaultRetry: retry.DefaultPolicy,
}

// Validate reports configuration values that defaulting cannot repair:
// negative limits, an unknown overflow policy, a malformed retry policy.
// The zero value passes.
func (c Config) Validate() error {
	if c.QueueLimit < 0 {
		return fmt.Errorf("queue limit must not be negative, got %d", c.QueueLimit)
	}
	if c.Overflow != "" && !c.Overflow.Valid() {
		return fmt.Errorf("unknown overflow policy %q", c.Overflow)
	}
	if c.MaxSubscribers < 0 {
		return fmt.Errorf("max subscribers must not be negative, got %d", c.MaxSubscribers)
	}
	if err := c.DefaultRetry.Validate(); err != nil {
		return fmt.Errorf("default retry policy: %w", err)
	}
	return nil
}

// normalize fills zero fields with defaults and fresh components.
func (c Config) normalize() Config {
	if c.QueueLimit <= 0 {
		c.QueueLimit = DefaultConfig.QueueLimit
	}
	if !c.Overflow.Valid() {
		c.Overflow = DefaultConfig.Overflow
	}
	if c.DeadLetter == nil {
		c.DeadLetter = deadletter.NewMemorySink()
	}
	if c.Codecs == nil {
		c.Codecs = codec.NewRegistry()
	}
	if c.Coordinator == nil {
		c.Coordinator = cluster.Static(true)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = observability.NoopMetrics{}
	}
	if c.Spans == nil {
		c.Spans = observability.NoopSpanManager{}
	}
	return c
}

// Option configures a Bus at construction or through UpdateConfig.
type Option func(*Config)

// WithQueueLimit bounds the admission queue.
// Default: 1024
func WithQueueLimit(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.QueueLimit = n
		}
	}
}

// WithOverflowPolicy selects the behavior at the queue limit.
// Default: OverflowBlock
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(c *Config) {
		if p.Valid() {
			c.Overflow = p
		}
	}
}

// WithMaxSubscribers limits total subscriptions. Zero means unlimited.
func WithMaxSubscribers(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.MaxSubscribers = n
		}
	}
}

// WithDefaultRetry sets the bus-wide retry policy.
func WithDefaultRetry(p retry.Policy) Option {
	return func(c *Config) {
		c.DefaultRetry = p
	}
}

// WithDeadLetterSink stores permanently failed events in sink.
func WithDeadLetterSink(sink deadletter.Sink) Option {
	return func(c *Config) {
		if sink != nil {
			c.DeadLetter = sink
		}
	}
}

// WithCodecRegistry replaces the serializer registry.
func WithCodecRegistry(reg *codec.Registry) Option {
	return func(c *Config) {
		if reg != nil {
			c.Codecs = reg
		}
	}
}

// WithPayloadEncryption encrypts and decrypts payloads crossing a
// serialization boundary using a key derived from secret.
func WithPayloadEncryption(secret []byte) Option {
	return func(c *Config) {
		c.EncryptionSecret = secret
	}
}

// WithCoordinator gates periodic publishes on cluster leadership.
func WithCoordinator(coord cluster.Coordinator) Option {
	return func(c *Config) {
		if coord != nil {
			c.Coordinator = coord
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *Config) {
		if m != nil {
			c.Metrics = m
		}
	}
}

// WithSpans sets the tracing span manager.
func WithSpans(s observability.SpanManager) Option {
	return func(c *Config) {
		if s != nil {
			c.Spans = s
		}
	}
}

// WithOnDrop registers the drop callback.
func WithOnDrop(fn func(topic, reason string)) Option {
	return func(c *Config) {
		c.OnDrop = fn
	}
}

// WithOnDeadLetter registers the dead-letter callback.
func WithOnDeadLetter(fn func(rec deadletter.Record)) Option {
	return func(c *Config) {
		c.OnDeadLetter = fn
	}
}

// WithOnError registers the delivery-error callback.
func WithOnError(fn func(err *DeliveryError)) Option {
	return func(c *Config) {
		c.OnError = fn
	}
}

// NewFromConfig builds a bus from a loaded configuration file. Options
// are applied on top and win over file values.
//
// Recognized keys:
//
//	queue_limit: 1024
//	overflow_policy: block | drop_oldest | reject
//	max_subscribers: 0
//	encryption_secret: ${TOPICBUS_SECRET:-}
//	retry:
//	  strategy: fixed | exponential
//	  max_retries: 0
//	  base_delay: 100ms
//	  max_delay: 30s
//	topic_retry:
//	  order.created: {strategy: exponential, max_retries: 5, base_delay: 50ms}
//	dead_letter:
//	  backend: memory | sqlite
//	  path: topicbus.db
//	redis:
//	  addr: localhost:6379
//	  lease_key: topicbus:leader
//	  lease_ttl: 10s
func NewFromConfig(fileCfg config.Config, opts ...Option) (*Bus, error) {
	c := DefaultConfig

	c.QueueLimit = fileCfg.Int("queue_limit", c.QueueLimit)
	if s := fileCfg.String("overflow_policy", ""); s != "" {
		p, err := ParseOverflowPolicy(s)
		if err != nil {
			return nil, err
		}
		c.Overflow = p
	}
	c.MaxSubscribers = fileCfg.Int("max_subscribers", 0)
	if secret := fileCfg.String("encryption_secret", ""); secret != "" {
		c.EncryptionSecret = []byte(secret)
	}

	if fileCfg.Has("retry") {
		c.DefaultRetry = retryFromConfig(fileCfg.Section("retry"))
	}

	dl := fileCfg.Section("dead_letter")
	switch backend := dl.String("backend", "memory"); backend {
	case "memory":
		// Filled by normalize.
	case "sqlite":
		sink, err := deadletter.NewSQLiteSink(dl.String("path", "topicbus.db"))
		if err != nil {
			return nil, fmt.Errorf("open dead letter sink: %w", err)
		}
		c.DeadLetter = sink
	default:
		return nil, fmt.Errorf("unknown dead letter backend %q", backend)
	}

	if addr := fileCfg.Section("redis").String("addr", ""); addr != "" {
		rd := fileCfg.Section("redis")
		client := redis.NewClient(&redis.Options{Addr: addr})
		c.Coordinator = cluster.NewRedisLease(client, cluster.LeaseConfig{
			Key: rd.String("lease_key", ""),
			TTL: rd.Duration("lease_ttl", 0),
		})
	}

	topicRetry := fileCfg.Section("topic_retry")
	overrides := make(map[string]retry.Policy)
	for topicName := range topicRetry.Raw() {
		p := retryFromConfig(topicRetry.Section(topicName))
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("retry policy for topic %q: %w", topicName, err)
		}
		overrides[topicName] = p
	}

	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	bus := NewWithConfig(c)

	// Per-topic overrides land on the live engine after construction.
	for topicName, p := range overrides {
		bus.SetRetryPolicy(topicName, p)
	}
	return bus, nil
}

// retryFromConfig maps a retry config section onto a policy.
func retryFromConfig(section config.Config) retry.Policy {
	return retry.Policy{
		Strategy:   retry.Strategy(section.String("strategy", string(retry.StrategyFixed))),
		MaxRetries: section.Int("max_retries", 0),
		BaseDelay:  section.Duration("base_delay", 0),
		MaxDelay:   section.Duration("max_delay", 0),
		Jitter:     section.Float("jitter", 0),
	}
}

// NewFromEnv builds a bus from TOPICBUS_* environment variables (see
// config.BusEnv). Options are applied on top and win over the
// environment.
func NewFromEnv(opts ...Option) (*Bus, error) {
	var env config.BusEnv
	if err := config.Load(&env); err != nil {
		return nil, err
	}

	c := DefaultConfig
	c.QueueLimit = env.QueueLimit
	if p, err := ParseOverflowPolicy(env.OverflowPolicy); err == nil {
		c.Overflow = p
	} else {
		return nil, err
	}
	c.DefaultRetry = retry.Policy{
		Strategy:   retry.Strategy(env.RetryStrategy),
		MaxRetries: env.MaxRetries,
		BaseDelay:  env.RetryBaseDelay,
		MaxDelay:   env.RetryMaxDelay,
	}

	if env.DeadLetterPath != "" {
		sink, err := deadletter.NewSQLiteSink(env.DeadLetterPath)
		if err != nil {
			return nil, fmt.Errorf("open dead letter sink: %w", err)
		}
		c.DeadLetter = sink
	}

	if env.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: env.RedisAddr})
		c.Coordinator = cluster.NewRedisLease(client, cluster.LeaseConfig{})
	}

	c.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(env.LogLevel),
	}))

	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return NewWithConfig(c), nil
}

// parseLogLevel maps a level name onto a slog level, defaulting to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
