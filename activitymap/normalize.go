package activitymap

import (
	"strings"
	"time"

	auth "github.com/goliatone/go-auth-session"
)

const (
	// MetadataKeyActorType stores the actor type derived from auth.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataKeyAction stores the credential action that produced the event.
	MetadataKeyAction = "action"
)

const (
	defaultChannel    = "auth"
	defaultObjectType = "session"
	defaultActorID    = "anonymous"
)

// Normalized is a transport agnostic activity record for audit trails.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	objectType    string
	actorFallback string
	redact        []string
	now           func() time.Time
}

// Normalize converts an auth.ActivityEvent into an audit record. Events
// raised before anyone signed in are attributed to the actor fallback.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now().UTC()
	}

	return Normalized{
		ActorID: firstNonEmpty(
			strings.TrimSpace(event.Actor.ID),
			strings.TrimSpace(event.UserID),
			options.actorFallback,
		),
		Verb:       string(event.EventType),
		ObjectType: options.objectType,
		ObjectID:   strings.TrimSpace(event.UserID),
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event, options.redact),
		OccurredAt: occurredAt,
	}
}

// WithChannel sets the channel for normalized records.
func WithChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithObjectType sets the object type for normalized records.
func WithObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback sets the actor id used when actor and user ids are empty.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithRedactedKeys drops metadata keys, e.g. emails, from the record.
func WithRedactedKeys(keys ...string) Option {
	return func(opts *normalizeOptions) {
		opts.redact = append(opts.redact, keys...)
	}
}

// WithClock sets the time source for events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
}

func normalizeMetadata(event auth.ActivityEvent, redact []string) map[string]any {
	metadata := cloneMap(event.Metadata)
	for _, key := range redact {
		delete(metadata, key)
	}

	set := func(key, value string) {
		if value == "" {
			return
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[key]; !exists {
			metadata[key] = value
		}
	}
	set(MetadataKeyActorType, strings.TrimSpace(event.Actor.Type))
	set(MetadataKeyAction, string(event.Action))

	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
