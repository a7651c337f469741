package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the package.
type Logger = glog.Logger

// LoggerProvider hands out named loggers.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// IdentityService is the remote identity/session backend the manager
// coordinates with. Implementations live under provider/.
type IdentityService interface {
	// GetSession returns the current session or nil when anonymous.
	GetSession(ctx context.Context) (*Session, error)
	// Subscribe registers a listener for session change events.
	Subscribe(ctx context.Context) (Subscription, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, req SignUpRequest) (*User, error)
	SignOut(ctx context.Context) error
	// UpdateUser updates the user bound to the current session.
	UpdateUser(ctx context.Context, attrs UserAttributes) (*User, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	// GetUser reads the current user from the backend, bypassing any
	// cached session copy.
	GetUser(ctx context.Context) (*User, error)
}

// Subscription is a live change event stream. Events are delivered in
// emission order. The channel is closed when the stream ends; Err reports
// why it ended, nil after Unsubscribe.
type Subscription interface {
	Events() <-chan Event
	Err() error
	Unsubscribe()
}

// RecoveryLinkConsumer is implemented by identity services that turn the
// token carried by a password reset link into a recovery session.
type RecoveryLinkConsumer interface {
	ConsumeRecoveryLink(ctx context.Context, signal RecoverySignal) error
}

// Config holds the session manager options
type Config interface {
	GetAdminEmail() string
	GetSiteURL() string
	GetLoginPath() string
	GetForgotPasswordPath() string
	GetResetPasswordPath() string
	GetSignUpSuccessPath() string
	GetRedirectParam() string
	GetRequestTimeout() time.Duration
}

// SessionStore persists the current session so it survives a restart.
// Load returns nil, nil when nothing is stored.
type SessionStore interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Clear(ctx context.Context) error
}
