// Package store persists the current session so a process restart does
// not sign the user out.
package store

import (
	"context"
	"sync"

	auth "github.com/goliatone/go-auth-session"
)

var (
	_ auth.SessionStore = (*Memory)(nil)
	_ auth.SessionStore = (*File)(nil)
	_ auth.SessionStore = (*Redis)(nil)
)

// Memory keeps the session in process. Useful for tests and for
// processes that do not need to survive a restart.
type Memory struct {
	mu      sync.Mutex
	session *auth.Session
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(context.Context) (*auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSession(m.session), nil
}

func (m *Memory) Save(_ context.Context, session *auth.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = cloneSession(session)
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

func cloneSession(s *auth.Session) *auth.Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.User != nil {
		user := *s.User
		if s.User.UserMetadata != nil {
			user.UserMetadata = make(map[string]any, len(s.User.UserMetadata))
			for k, v := range s.User.UserMetadata {
				user.UserMetadata[k] = v
			}
		}
		out.User = &user
	}
	return &out
}
