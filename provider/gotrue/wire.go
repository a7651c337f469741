package gotrue

import (
	"time"

	auth "github.com/goliatone/go-auth-session"
)

type passwordGrant struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshGrant struct {
	RefreshToken string `json:"refresh_token"`
}

type signUpBody struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

type recoverBody struct {
	Email string `json:"email"`
}

type verifyBody struct {
	Type      string `json:"type"`
	TokenHash string `json:"token_hash"`
}

type updateUserBody struct {
	Password *string        `json:"password,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

type userResponse struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	UserMetadata     map[string]any `json:"user_metadata"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	ConfirmedAt      *time.Time     `json:"confirmed_at"`
	CreatedAt        *time.Time     `json:"created_at"`
	UpdatedAt        *time.Time     `json:"updated_at"`
}

func (u *userResponse) toUser() *auth.User {
	if u == nil || u.ID == "" {
		return nil
	}
	confirmed := u.EmailConfirmedAt
	if confirmed == nil {
		confirmed = u.ConfirmedAt
	}
	return &auth.User{
		ID:           u.ID,
		Email:        u.Email,
		UserMetadata: u.UserMetadata,
		ConfirmedAt:  confirmed,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// tokenResponse is returned by /token and /verify. /signup returns it
// when the account is confirmed right away, otherwise a bare user.
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`

	userResponse
}

func (t *tokenResponse) session(now time.Time) *auth.Session {
	if t == nil || t.AccessToken == "" {
		return nil
	}

	expiresAt := time.Time{}
	switch {
	case t.ExpiresAt > 0:
		expiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		expiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	}

	return &auth.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresAt:    expiresAt,
		User:         t.User.toUser(),
	}
}
