package local

import (
	"context"
	"sync"

	auth "github.com/goliatone/go-auth-session"
)

// Message is an outgoing email carrying a one time link.
type Message struct {
	To      string
	Subject string
	Purpose string
	Link    string
}

// Mailer delivers link emails.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	Logger auth.Logger
}

func (m LogMailer) Send(_ context.Context, msg Message) error {
	if m.Logger == nil {
		return nil
	}
	m.Logger.Info("email notification", "to", msg.To, "subject", msg.Subject, "purpose", msg.Purpose, "link", msg.Link)
	return nil
}

// Outbox keeps sent messages in memory.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
}

func (o *Outbox) Send(_ context.Context, msg Message) error {
	o.mu.Lock()
	o.messages = append(o.messages, msg)
	o.mu.Unlock()
	return nil
}

// Messages returns a copy of the sent messages.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// Last returns the most recent message.
func (o *Outbox) Last() (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.messages) == 0 {
		return Message{}, false
	}
	return o.messages[len(o.messages)-1], true
}
