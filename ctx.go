package auth

import (
	"context"
)

var notifierCtxKey = &contextKey{"notifier"}
var snapshotCtxKey = &contextKey{"snapshot"}

type contextKey struct {
	name string
}

// ContextWithNotifier scopes a notifier to a single call.
func ContextWithNotifier(ctx context.Context, n Notifier) context.Context {
	if n == nil {
		return ctx
	}
	return context.WithValue(ctx, notifierCtxKey, n)
}

// NotifierFromContext returns the call scoped notifier or fallback.
func NotifierFromContext(ctx context.Context, fallback Notifier) Notifier {
	if ctx != nil {
		if n, ok := ctx.Value(notifierCtxKey).(Notifier); ok && n != nil {
			return n
		}
	}
	return normalizeNotifier(fallback)
}

// ContextWithSnapshot stores the session state a request runs as.
func ContextWithSnapshot(ctx context.Context, snap Snapshot) context.Context {
	return context.WithValue(ctx, snapshotCtxKey, snap)
}

// SnapshotFromContext returns the state stored by ContextWithSnapshot,
// then the fallback source, then the anonymous state.
func SnapshotFromContext(ctx context.Context, fallback SnapshotSource) Snapshot {
	if ctx != nil {
		if snap, ok := ctx.Value(snapshotCtxKey).(Snapshot); ok {
			return snap
		}
	}
	if fallback != nil {
		return fallback.Snapshot()
	}
	return AnonymousSnapshot()
}
