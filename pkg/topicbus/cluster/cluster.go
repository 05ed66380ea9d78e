// Package cluster provides leadership coordination for bus instances.
//
// The bus itself is in-process, but several processes may share a schedule
// store (SQLite on shared storage, or a common Redis). A Coordinator decides
// which instance fires scheduled and periodic deliveries so that shared
// schedules are not double-delivered.
//
// Two implementations are provided:
//   - Static: a fixed answer, for single-process deployments
//   - RedisLease: a SETNX-based lease with TTL renewal (see redis.go)
package cluster

import "context"

// Coordinator reports whether this bus instance holds cluster leadership.
type Coordinator interface {
	// IsLeader reports whether this instance currently holds leadership.
	IsLeader(ctx context.Context) bool

	// Close releases any leadership held by this instance.
	Close() error
}

// Static is a Coordinator with a fixed answer.
// A single-process deployment uses Static(true): the only instance is
// always the leader.
type Static bool

// Compile-time interface check.
var _ Coordinator = Static(false)

// IsLeader reports the fixed leadership value.
func (s Static) IsLeader(context.Context) bool { return bool(s) }

// Close does nothing.
func (Static) Close() error { return nil }
