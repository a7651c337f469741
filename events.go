package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStreamClosed is reported by subscriptions of a closed EventStream.
var ErrStreamClosed = errors.New("event stream closed")

// EventStream is the change event fan-out identity services build their
// Subscribe on. Events reach every subscription in emission order.
type EventStream struct {
	broadcaster *Broadcaster[Event]
	now         func() time.Time

	mu     sync.RWMutex
	err    error
	closed bool
}

// NewEventStream creates an open stream.
func NewEventStream(opts ...BroadcasterOption) *EventStream {
	return &EventStream{
		broadcaster: NewBroadcaster[Event](opts...),
		now:         time.Now,
	}
}

// Emit publishes an event. It is a no-op once the stream is closed.
func (s *EventStream) Emit(kind EventKind, session *Session) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}

	s.broadcaster.Publish(Event{
		Kind:       kind,
		Session:    session,
		OccurredAt: s.now(),
	})
}

// Subscribe opens a subscription. It fails once the stream is closed.
func (s *EventStream) Subscribe(ctx context.Context) (Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		if s.err != nil {
			return nil, s.err
		}
		return nil, ErrStreamClosed
	}

	ch, id := s.broadcaster.Subscribe(ctx)
	return &streamSubscription{events: ch, id: id, stream: s}, nil
}

// Fail ends the stream for every subscriber with err.
func (s *EventStream) Fail(err error) {
	if err == nil {
		err = ErrStreamClosed
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	s.mu.Unlock()

	s.broadcaster.Close()
}

// Close ends the stream without an error.
func (s *EventStream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.broadcaster.Close()
}

func (s *EventStream) failure() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

type streamSubscription struct {
	events <-chan Event
	id     string
	stream *EventStream

	mu           sync.Mutex
	unsubscribed bool
}

func (s *streamSubscription) Events() <-chan Event {
	return s.events
}

func (s *streamSubscription) Err() error {
	s.mu.Lock()
	unsubscribed := s.unsubscribed
	s.mu.Unlock()
	if unsubscribed {
		return nil
	}
	return s.stream.failure()
}

func (s *streamSubscription) Unsubscribe() {
	s.mu.Lock()
	s.unsubscribed = true
	s.mu.Unlock()
	s.stream.broadcaster.Unsubscribe(s.id)
}
