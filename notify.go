package auth

import (
	"context"
	"sync"
	"time"
)

// Variant selects how a notification is styled.
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantSuccess     Variant = "success"
	VariantDestructive Variant = "destructive"
)

const (
	// DefaultNotificationDuration is how long a regular notification shows.
	DefaultNotificationDuration = 5 * time.Second
	// LongNotificationDuration is used for messages that need reading time.
	LongNotificationDuration = 7 * time.Second
)

// Notification is a short lived user facing message.
type Notification struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Variant     Variant       `json:"variant"`
	Duration    time.Duration `json:"duration"`
}

// Notifier receives the user facing outcome of credential actions.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) {
	if f != nil {
		f(ctx, n)
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) {}

func normalizeNotifier(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}

// NotificationRecorder collects notifications, typically for one request.
type NotificationRecorder struct {
	mu    sync.Mutex
	items []Notification
}

// Notify implements Notifier.
func (r *NotificationRecorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

// Notifications returns a copy of what was recorded.
func (r *NotificationRecorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Last returns the most recent notification.
func (r *NotificationRecorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Notification{}, false
	}
	return r.items[len(r.items)-1], true
}

// NotificationQueue keeps the latest notifications raised outside of a
// request, until a client drains them.
type NotificationQueue struct {
	mu    sync.Mutex
	size  int
	items []Notification
}

// NewNotificationQueue keeps at most size notifications.
func NewNotificationQueue(size int) *NotificationQueue {
	if size <= 0 {
		size = 20
	}
	return &NotificationQueue{size: size}
}

// Notify implements Notifier.
func (q *NotificationQueue) Notify(_ context.Context, n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, n)
	if len(q.items) > q.size {
		q.items = q.items[len(q.items)-q.size:]
	}
}

// Drain returns and clears the queued notifications.
func (q *NotificationQueue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func withDefaults(n Notification) Notification {
	if n.Variant == "" {
		n.Variant = VariantDefault
	}
	if n.Duration <= 0 {
		n.Duration = DefaultNotificationDuration
	}
	return n
}
