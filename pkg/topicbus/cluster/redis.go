package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LeaseClient is the subset of the go-redis client used by RedisLease.
// *redis.Client and *redis.ClusterClient both satisfy it.
type LeaseClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// LeaseConfig configures a RedisLease coordinator.
type LeaseConfig struct {
	// Key is the Redis key holding the leader lock.
	// Default: "topicbus:leader".
	Key string

	// TTL is how long the lease survives without renewal. The holder renews
	// at TTL/2, so a crashed holder loses leadership after at most TTL.
	// Default: 10s.
	TTL time.Duration

	// HolderID identifies this instance in the lease value.
	// Default: a random UUID.
	HolderID string
}

// DefaultLeaseConfig provides default lease settings.
var DefaultLeaseConfig = LeaseConfig{
	Key: "topicbus:leader",
	TTL: 10 * time.Second,
}

// RedisLease is a Coordinator backed by a Redis SETNX lease.
//
// The first instance to set the key becomes leader and renews the lease at
// TTL/2. Followers re-probe on every IsLeader call, so leadership moves to
// a follower at most one TTL after the leader stops renewing.
type RedisLease struct {
	client LeaseClient
	cfg    LeaseConfig

	mu     sync.Mutex
	leader bool
	closed bool
	cancel context.CancelFunc
}

// Compile-time interface check.
var _ Coordinator = (*RedisLease)(nil)

// NewRedisLease creates a lease-based Coordinator on the given client.
// Zero-value config fields fall back to DefaultLeaseConfig. The caller
// retains ownership of the client; Close does not close it.
func NewRedisLease(client LeaseClient, cfg LeaseConfig) *RedisLease {
	if cfg.Key == "" {
		cfg.Key = DefaultLeaseConfig.Key
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultLeaseConfig.TTL
	}
	if cfg.HolderID == "" {
		cfg.HolderID = uuid.New().String()
	}
	return &RedisLease{client: client, cfg: cfg}
}

// IsLeader reports whether this instance holds the lease, acquiring it if
// currently unheld. Acquisition failures (key held elsewhere, Redis errors)
// leave this instance a follower; it probes again on the next call.
func (l *RedisLease) IsLeader(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	if l.leader {
		return true
	}

	ok, err := l.client.SetNX(ctx, l.cfg.Key, l.cfg.HolderID, l.cfg.TTL).Result()
	if err != nil || !ok {
		return false
	}

	l.leader = true
	renewCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.renew(renewCtx)
	return true
}

// renew extends the lease at TTL/2 until cancelled or a renewal fails.
func (l *RedisLease) renew(ctx context.Context) {
	t := time.NewTicker(l.cfg.TTL / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ok, err := l.client.Expire(ctx, l.cfg.Key, l.cfg.TTL).Result()
			if err != nil || !ok {
				l.demote()
				return
			}
		}
	}
}

// demote drops leadership after a failed renewal.
func (l *RedisLease) demote() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.leader = false
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// Close stops renewal and releases the lease if held. The key also expires
// on its own after at most TTL, so followers recover even when the release
// never reaches Redis.
func (l *RedisLease) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	wasLeader := l.leader
	l.leader = false
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.mu.Unlock()

	if !wasLeader {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return l.client.Del(ctx, l.cfg.Key).Err()
}
