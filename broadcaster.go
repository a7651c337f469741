package auth

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Broadcaster fans out values to subscribers. Publish never blocks:
// every subscriber has its own queue drained in order by a pump
// goroutine. With a max queue size set, the oldest pending values are
// dropped for slow subscribers.
type Broadcaster[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber[T]
	maxQueue    int
	closed      bool
	logger      Logger
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*broadcasterOptions)

type broadcasterOptions struct {
	maxQueue int
	logger   Logger
}

// WithMaxQueue bounds each subscriber queue. Zero means unbounded.
func WithMaxQueue(n int) BroadcasterOption {
	return func(o *broadcasterOptions) {
		if n >= 0 {
			o.maxQueue = n
		}
	}
}

// WithBroadcasterLogger sets the logger used for drop and lifecycle logs.
func WithBroadcasterLogger(logger Logger) BroadcasterOption {
	return func(o *broadcasterOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster[T any](opts ...BroadcasterOption) *Broadcaster[T] {
	options := broadcasterOptions{logger: defaultLogger()}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return &Broadcaster[T]{
		subscribers: make(map[string]*subscriber[T]),
		maxQueue:    options.maxQueue,
		logger:      options.logger,
	}
}

// Subscribe registers a subscriber, optionally seeded with initial values.
// The returned channel is closed on Unsubscribe, Close, or when ctx is done.
func (b *Broadcaster[T]) Subscribe(ctx context.Context, initial ...T) (<-chan T, string) {
	sub := newSubscriber[T](uuid.NewString(), b.maxQueue)
	for _, v := range initial {
		sub.push(v)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.stop()
		go sub.pump()
		return sub.out, sub.id
	}
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	go sub.pump()

	go func() {
		select {
		case <-ctx.Done():
			b.Unsubscribe(sub.id)
		case <-sub.done:
		}
	}()

	b.logger.Debug("subscriber added", "sub_id", sub.id)

	return sub.out, sub.id
}

// Publish queues value for every subscriber.
func (b *Broadcaster[T]) Publish(value T) {
	b.mu.RLock()
	targets := make([]*subscriber[T], 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if dropped := sub.push(value); dropped > 0 {
			b.logger.Debug("dropped values for slow subscriber", "sub_id", sub.id, "dropped", dropped)
		}
	}
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster[T]) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	if ok {
		sub.stop()
		b.logger.Debug("subscriber removed", "sub_id", id)
	}
}

// Close removes every subscriber. Later subscriptions are closed at once.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	b.closed = true
	subs := b.subscribers
	b.subscribers = make(map[string]*subscriber[T])
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

// Len returns the number of active subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

type subscriber[T any] struct {
	id       string
	maxQueue int

	mu    sync.Mutex
	queue []T

	wake     chan struct{}
	out      chan T
	done     chan struct{}
	stopOnce sync.Once
}

func newSubscriber[T any](id string, maxQueue int) *subscriber[T] {
	return &subscriber[T]{
		id:       id,
		maxQueue: maxQueue,
		wake:     make(chan struct{}, 1),
		out:      make(chan T),
		done:     make(chan struct{}),
	}
}

func (s *subscriber[T]) push(value T) int {
	dropped := 0
	s.mu.Lock()
	s.queue = append(s.queue, value)
	if s.maxQueue > 0 && len(s.queue) > s.maxQueue {
		dropped = len(s.queue) - s.maxQueue
		s.queue = s.queue[dropped:]
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return dropped
}

func (s *subscriber[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		value := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- value:
		case <-s.done:
			return
		}
	}
}

func (s *subscriber[T]) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}
