package activitymap

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	auth "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
)

// Sink is an auth.ActivitySink writing normalized records as JSON lines
// and, when a logger is set, logging them.
type Sink struct {
	mu     sync.Mutex
	enc    *json.Encoder
	logger auth.Logger
	opts   []Option
}

var _ auth.ActivitySink = (*Sink)(nil)

// NewSink writes to w. A nil w only logs.
func NewSink(w io.Writer, opts ...Option) *Sink {
	s := &Sink{opts: opts}
	if w != nil {
		s.enc = json.NewEncoder(w)
	}
	return s
}

func (s *Sink) WithLogger(logger auth.Logger) *Sink {
	s.logger = logger
	return s
}

// Record implements auth.ActivitySink.
func (s *Sink) Record(_ context.Context, event auth.ActivityEvent) error {
	record := Normalize(event, s.opts...)

	if s.logger != nil {
		s.logger.Info("audit",
			"verb", record.Verb,
			"actor_id", record.ActorID,
			"object_id", record.ObjectID,
			"metadata", record.Metadata,
		)
	}

	if s.enc == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(record); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write audit record").
			WithMetadata(map[string]any{"verb": record.Verb})
	}
	return nil
}
