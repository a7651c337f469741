package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess          ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure          ActivityEventType = "auth.login.failure"
	ActivityEventRegisterSuccess       ActivityEventType = "auth.register.success"
	ActivityEventRegisterFailure       ActivityEventType = "auth.register.failure"
	ActivityEventLogout                ActivityEventType = "auth.logout"
	ActivityEventPasswordChanged       ActivityEventType = "auth.password.changed"
	ActivityEventPasswordResetRequest  ActivityEventType = "auth.password.reset_requested"
	ActivityEventPasswordResetSuccess  ActivityEventType = "auth.password.reset"
	ActivityEventUsernameUpdated       ActivityEventType = "auth.username.updated"
	ActivityEventActionFailure         ActivityEventType = "auth.action.failure"
	ActivityEventSessionChanged        ActivityEventType = "auth.session.changed"
	ActivityEventSessionFetchFailure   ActivityEventType = "auth.session.fetch_failed"
	ActivityEventSubscriptionFailure   ActivityEventType = "auth.subscription.failed"
	ActivityEventRecoveryLinkRejected  ActivityEventType = "auth.recovery.rejected"
	ActivityEventRecoveryLinkActivated ActivityEventType = "auth.recovery.activated"
)

// ActorRef identifies who triggered an activity.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	Action     ActionKind
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// ActivitySinks records each event on every sink, returning the first error.
type ActivitySinks []ActivitySink

// Record implements ActivitySink.
func (s ActivitySinks) Record(ctx context.Context, event ActivityEvent) error {
	var first error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		logger.Warn("activity sink error", "error", err, "event", event.EventType)
	}
}
