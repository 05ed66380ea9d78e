package topicbus

import "context"

// Context propagation carries correlation data from a publish call to
// the handlers it reaches. Values accumulate on the caller's context via
// PropagateContext; Publish snapshots them into Event.Context, and each
// delivery installs that snapshot on the handler's context. Everything
// is explicit context-value threading; no goroutine-local storage.

// pendingKey carries the map of values staged for the next publish.
type pendingKey struct{}

// snapshotKey carries the delivery-time snapshot inside handlers.
type snapshotKey struct{}

// PropagateContext returns a derived context staging key=value for
// subsequent Publish calls made with it. The staged map is copied on
// write, so sibling contexts never observe each other's values.
//
//	ctx = topicbus.PropagateContext(ctx, "request_id", reqID)
//	bus.Publish(ctx, "order.created", order)
func PropagateContext(ctx context.Context, key string, value any) context.Context {
	staged, _ := ctx.Value(pendingKey{}).(map[string]any)
	next := make(map[string]any, len(staged)+1)
	for k, v := range staged {
		next[k] = v
	}
	next[key] = value
	return context.WithValue(ctx, pendingKey{}, next)
}

// ContextValue reads a propagated value. Inside a handler the event's
// snapshot is consulted first, then any values the handler has staged
// itself; outside a handler it reads the values staged on ctx.
func ContextValue(ctx context.Context, key string) (any, bool) {
	if snap, ok := ctx.Value(snapshotKey{}).(map[string]any); ok {
		if v, found := snap[key]; found {
			return v, true
		}
	}
	if staged, ok := ctx.Value(pendingKey{}).(map[string]any); ok {
		if v, found := staged[key]; found {
			return v, true
		}
	}
	return nil, false
}

// stagedContext returns a copy of the values staged on ctx, or nil.
func stagedContext(ctx context.Context) map[string]any {
	staged, _ := ctx.Value(pendingKey{}).(map[string]any)
	if len(staged) == 0 {
		return nil
	}
	snap := make(map[string]any, len(staged))
	for k, v := range staged {
		snap[k] = v
	}
	return snap
}

// deliveryContext prepares the context a handler runs with: the event's
// snapshot is installed and any staged values are cleared, so a publish
// made inside the handler does not silently inherit the parent flow's
// values. Handlers re-propagate explicitly when chaining is wanted.
func deliveryContext(ctx context.Context, snapshot map[string]any) context.Context {
	ctx = context.WithValue(ctx, pendingKey{}, (map[string]any)(nil))
	return context.WithValue(ctx, snapshotKey{}, snapshot)
}
