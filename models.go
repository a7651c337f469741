package auth

import (
	"strings"
	"time"
)

// User is the identity service view of an account.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	ConfirmedAt  *time.Time     `json:"confirmed_at,omitempty"`
	CreatedAt    *time.Time     `json:"created_at,omitempty"`
	UpdatedAt    *time.Time     `json:"updated_at,omitempty"`
}

// MetadataString returns a trimmed string metadata value.
func (u *User) MetadataString(key string) string {
	if u == nil || u.UserMetadata == nil {
		return ""
	}
	v, ok := u.UserMetadata[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func (u *User) userID() string {
	if u == nil {
		return ""
	}
	return u.ID
}

// Session is the live proof that a user is authenticated.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *User     `json:"user"`
	// Recovery marks a short lived session created from a reset link.
	Recovery bool `json:"recovery,omitempty"`
}

// Expired reports whether the access token is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// EventKind is the kind of a session change event.
type EventKind string

const (
	EventSignedIn         EventKind = "SIGNED_IN"
	EventSignedOut        EventKind = "SIGNED_OUT"
	EventTokenRefreshed   EventKind = "TOKEN_REFRESHED"
	EventUserUpdated      EventKind = "USER_UPDATED"
	EventPasswordRecovery EventKind = "PASSWORD_RECOVERY"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventSignedIn, EventSignedOut, EventTokenRefreshed, EventUserUpdated, EventPasswordRecovery:
		return true
	}
	return false
}

// Event is one entry of the change event stream. Session is nil when the
// event leaves no active session.
type Event struct {
	Kind       EventKind
	Session    *Session
	OccurredAt time.Time
}

// SignUpRequest carries the sign up inputs.
type SignUpRequest struct {
	Email      string
	Password   string
	Metadata   map[string]any
	RedirectTo string
}

// UserAttributes are the updatable fields of the current user. Nil
// fields are left untouched.
type UserAttributes struct {
	Password *string
	Metadata map[string]any
}
