package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// ActionKind names a credential action.
type ActionKind string

const (
	ActionLogin                 ActionKind = "login"
	ActionRegister              ActionKind = "register"
	ActionLogout                ActionKind = "logout"
	ActionChangePassword        ActionKind = "change_password"
	ActionSendPasswordReset     ActionKind = "send_password_reset"
	ActionCompletePasswordReset ActionKind = "complete_password_reset"
	ActionUpdateUsername        ActionKind = "update_username"
)

// DefaultRequestTimeout bounds each identity service call.
const DefaultRequestTimeout = 15 * time.Second

// ErrNoRecoverySession is returned when a password reset is submitted
// without a recovery or regular session.
var ErrNoRecoverySession = goerrors.New(
	"Your password reset link is invalid or has expired. Please request a new one.",
	goerrors.CategoryAuth,
).WithCode(goerrors.CodeUnauthorized).WithTextCode(TextCodeRecoveryLinkFailed)

// Actions runs the credential flows against the identity service. Every
// method returns nil on success. Outcomes are also reported to the
// notifier found in ctx, or the default one. A call made while the same
// action is already running returns ErrActionInFlight and reports
// nothing.
type Actions struct {
	manager  *Manager
	notifier Notifier
	activity ActivitySink
	logger   Logger
	provider LoggerProvider
	timeout  time.Duration

	mu       sync.Mutex
	inflight map[ActionKind]bool
}

// NewActions binds the credential actions to a manager.
func NewActions(manager *Manager) *Actions {
	provider, logger := ResolveLogger("auth.actions", nil, nil)
	timeout := DefaultRequestTimeout
	if cfg := manager.Config(); cfg != nil && cfg.GetRequestTimeout() > 0 {
		timeout = cfg.GetRequestTimeout()
	}
	return &Actions{
		manager:  manager,
		notifier: noopNotifier{},
		activity: noopActivitySink{},
		logger:   logger,
		provider: provider,
		timeout:  timeout,
		inflight: make(map[ActionKind]bool),
	}
}

// WithNotifier sets the default notifier.
func (a *Actions) WithNotifier(n Notifier) *Actions {
	a.notifier = normalizeNotifier(n)
	return a
}

// WithActivitySink sets the sink used to emit action events.
func (a *Actions) WithActivitySink(sink ActivitySink) *Actions {
	a.activity = normalizeActivitySink(sink)
	return a
}

// WithLogger overrides the logger used by the actions.
func (a *Actions) WithLogger(logger Logger) *Actions {
	a.provider, a.logger = ResolveLogger("auth.actions", a.provider, logger)
	return a
}

// WithLoggerProvider overrides the logger provider.
func (a *Actions) WithLoggerProvider(provider LoggerProvider) *Actions {
	a.provider, a.logger = ResolveLogger("auth.actions", provider, a.logger)
	return a
}

// WithTimeout overrides the per call timeout.
func (a *Actions) WithTimeout(d time.Duration) *Actions {
	if d > 0 {
		a.timeout = d
	}
	return a
}

// Login signs in with email and password. State changes when the
// resulting sign in event reaches the manager.
func (a *Actions) Login(ctx context.Context, email, password string) error {
	return a.run(ctx, ActionLogin, func(ctx context.Context) error {
		const title = "Login Failed"
		email = strings.TrimSpace(email)

		if err := ValidateEmail(email); err != nil {
			return a.fail(ctx, ActionLogin, title, err, 0)
		}

		err := a.remote(ctx, func(ctx context.Context) error {
			_, err := a.manager.Service().SignInWithPassword(ctx, email, password)
			return err
		})
		if err != nil {
			return a.fail(ctx, ActionLogin, title, NewRemoteAuthError(err, "Invalid email or password."), 0)
		}

		a.succeed(ctx, ActionLogin, ActivityEventLoginSuccess, "", Notification{
			Title:       "Login Successful",
			Description: "Welcome back!",
			Variant:     VariantSuccess,
		}, map[string]any{"email": email})
		return nil
	})
}

// Register creates an account. Local checks run in order: required
// fields, email shape, password policy.
func (a *Actions) Register(ctx context.Context, name, email, password string) error {
	return a.run(ctx, ActionRegister, func(ctx context.Context) error {
		const title = "Registration Failed"
		name = strings.TrimSpace(name)
		email = strings.TrimSpace(email)

		if err := ValidateRequired(name, email, password); err != nil {
			return a.fail(ctx, ActionRegister, title, err, 0)
		}
		if err := ValidateEmail(email); err != nil {
			return a.fail(ctx, ActionRegister, title, err, 0)
		}
		if err := ValidatePassword(password); err != nil {
			return a.fail(ctx, ActionRegister, title, err, LongNotificationDuration)
		}

		var user *User
		err := a.remote(ctx, func(ctx context.Context) error {
			var err error
			user, err = a.manager.Service().SignUp(ctx, SignUpRequest{
				Email:      email,
				Password:   password,
				Metadata:   map[string]any{MetadataKeyName: name},
				RedirectTo: a.siteURL(a.manager.Config().GetSignUpSuccessPath()),
			})
			return err
		})
		if err != nil {
			return a.fail(ctx, ActionRegister, title, NewRemoteAuthError(err, "Could not register user."), 0)
		}

		a.succeed(ctx, ActionRegister, ActivityEventRegisterSuccess, user.userID(), Notification{
			Title:       "Registration Successful",
			Description: fmt.Sprintf("Welcome, %s! Please check your email to confirm your account.", name),
			Variant:     VariantSuccess,
			Duration:    LongNotificationDuration,
		}, map[string]any{"email": email})
		return nil
	})
}

// Logout signs out. Local identity is cleared right away whatever the
// remote outcome; a remote error is still reported as a failure.
func (a *Actions) Logout(ctx context.Context) error {
	return a.run(ctx, ActionLogout, func(ctx context.Context) error {
		userID := a.manager.Snapshot().Identity.ID()
		a.manager.clearIdentity()

		err := a.remote(ctx, func(ctx context.Context) error {
			return a.manager.Service().SignOut(ctx)
		})
		if err != nil {
			return a.fail(ctx, ActionLogout, "Logout Failed", NewRemoteAuthError(err, "Could not log out."), 0)
		}

		a.succeed(ctx, ActionLogout, ActivityEventLogout, userID, Notification{
			Title:       "Logged Out",
			Description: "You have been successfully logged out.",
		}, nil)
		return nil
	})
}

// ChangePassword sets a new password on the current session. The
// current password is not asked for again.
func (a *Actions) ChangePassword(ctx context.Context, newPassword string) error {
	return a.run(ctx, ActionChangePassword, func(ctx context.Context) error {
		const title = "Password Change Failed"

		identity := a.manager.Snapshot().Identity
		if identity == nil {
			return a.fail(ctx, ActionChangePassword, "Error", ErrNotAuthenticated, 0)
		}
		if err := ValidatePassword(newPassword); err != nil {
			return a.fail(ctx, ActionChangePassword, title, err, LongNotificationDuration)
		}

		err := a.remote(ctx, func(ctx context.Context) error {
			_, err := a.manager.Service().UpdateUser(ctx, UserAttributes{Password: &newPassword})
			return err
		})
		if err != nil {
			return a.fail(ctx, ActionChangePassword, title, NewRemoteAuthError(err, "Could not update password."), 0)
		}

		a.succeed(ctx, ActionChangePassword, ActivityEventPasswordChanged, identity.ID(), Notification{
			Title:       "Success",
			Description: "Password changed successfully.",
			Variant:     VariantSuccess,
		}, nil)
		return nil
	})
}

// SendPasswordResetEmail asks for a recovery email. The outcome does not
// reveal whether an account exists for the address.
func (a *Actions) SendPasswordResetEmail(ctx context.Context, email string) error {
	return a.run(ctx, ActionSendPasswordReset, func(ctx context.Context) error {
		email = strings.TrimSpace(email)

		if err := ValidateEmail(email); err != nil {
			return a.fail(ctx, ActionSendPasswordReset, "Error", err, 0)
		}

		err := a.remote(ctx, func(ctx context.Context) error {
			return a.manager.Service().ResetPasswordForEmail(ctx, email, a.siteURL(a.manager.Config().GetResetPasswordPath()))
		})
		if err != nil && !goerrors.IsNotFound(err) {
			return a.fail(ctx, ActionSendPasswordReset, "Error Sending Reset Link", NewRemoteAuthError(err, "Could not send reset link."), 0)
		}

		a.succeed(ctx, ActionSendPasswordReset, ActivityEventPasswordResetRequest, "", Notification{
			Title:       "Reset Link Sent",
			Description: "If an account exists for this email, a password reset link has been sent.",
			Variant:     VariantSuccess,
			Duration:    LongNotificationDuration,
		}, nil)
		return nil
	})
}

// CompletePasswordReset sets the new password on the recovery session.
func (a *Actions) CompletePasswordReset(ctx context.Context, newPassword string) error {
	return a.run(ctx, ActionCompletePasswordReset, func(ctx context.Context) error {
		const title = "Password Reset Failed"

		if err := ValidatePassword(newPassword); err != nil {
			return a.fail(ctx, ActionCompletePasswordReset, title, err, LongNotificationDuration)
		}

		identity := a.manager.Snapshot().Identity
		if identity == nil {
			return a.fail(ctx, ActionCompletePasswordReset, title, ErrNoRecoverySession, 0)
		}

		err := a.remote(ctx, func(ctx context.Context) error {
			_, err := a.manager.Service().UpdateUser(ctx, UserAttributes{Password: &newPassword})
			return err
		})
		if err != nil {
			return a.fail(ctx, ActionCompletePasswordReset, title, NewRemoteAuthError(err, "Could not reset password."), 0)
		}

		a.succeed(ctx, ActionCompletePasswordReset, ActivityEventPasswordResetSuccess, identity.ID(), Notification{
			Title:       "Password Updated",
			Description: "Your password has been reset successfully.",
			Variant:     VariantSuccess,
		}, nil)
		return nil
	})
}

// UpdateUsername changes the display name and then reloads the user from
// the identity service, so the held identity reflects the server copy.
func (a *Actions) UpdateUsername(ctx context.Context, newName string) error {
	return a.run(ctx, ActionUpdateUsername, func(ctx context.Context) error {
		identity := a.manager.Snapshot().Identity
		if identity == nil {
			return a.fail(ctx, ActionUpdateUsername, "Error", ErrNotAuthenticated, 0)
		}
		if err := ValidateUsername(newName); err != nil {
			return a.fail(ctx, ActionUpdateUsername, "Update Failed", err, 0)
		}
		name := strings.TrimSpace(newName)

		var fresh *User
		err := a.remote(ctx, func(ctx context.Context) error {
			updated, err := a.manager.Service().UpdateUser(ctx, UserAttributes{
				Metadata: map[string]any{MetadataKeyName: name},
			})
			if err != nil {
				return err
			}

			fresh, err = a.manager.Service().GetUser(ctx)
			if err != nil {
				a.logger.Warn("refresh after username update failed, using update response", "error", err)
				fresh = updated
			}
			return nil
		})
		if err != nil {
			return a.fail(ctx, ActionUpdateUsername, "Username Update Failed", NewRemoteAuthError(err, "Could not update username."), 0)
		}

		if fresh != nil && !a.manager.replaceUser(fresh) {
			a.logger.Debug("username refresh skipped, identity changed meanwhile")
		}

		a.succeed(ctx, ActionUpdateUsername, ActivityEventUsernameUpdated, identity.ID(), Notification{
			Title:       "Success",
			Description: "Username updated successfully!",
			Variant:     VariantSuccess,
		}, map[string]any{"name": name})
		return nil
	})
}

func (a *Actions) run(ctx context.Context, kind ActionKind, fn func(context.Context) error) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled before "+string(kind))
	default:
	}

	if !a.acquire(kind) {
		a.logger.Debug("duplicate action ignored", "action", kind)
		return ErrActionInFlight
	}
	defer a.release(kind)

	return fn(ctx)
}

// remote runs one identity service call with the loading flag raised
// and the request timeout applied.
func (a *Actions) remote(ctx context.Context, fn func(context.Context) error) error {
	done := a.manager.beginAction()
	defer done()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	return fn(ctx)
}

func (a *Actions) acquire(kind ActionKind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inflight[kind] {
		return false
	}
	a.inflight[kind] = true
	return true
}

func (a *Actions) release(kind ActionKind) {
	a.mu.Lock()
	delete(a.inflight, kind)
	a.mu.Unlock()
}

func (a *Actions) fail(ctx context.Context, kind ActionKind, title string, err error, duration time.Duration) error {
	a.logger.Info("credential action failed", "action", kind, "error", err)

	NotifierFromContext(ctx, a.notifier).Notify(ctx, withDefaults(Notification{
		Title:       title,
		Description: ErrorMessage(err),
		Variant:     VariantDestructive,
		Duration:    duration,
	}))

	eventType := ActivityEventActionFailure
	switch kind {
	case ActionLogin:
		eventType = ActivityEventLoginFailure
	case ActionRegister:
		eventType = ActivityEventRegisterFailure
	}

	var textCode string
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		textCode = rich.TextCode
	}

	recordActivity(ctx, a.activity, a.logger, ActivityEvent{
		EventType: eventType,
		Actor:     a.actor(),
		UserID:    a.manager.Snapshot().Identity.ID(),
		Action:    kind,
		Metadata:  map[string]any{"text_code": textCode},
	})
	return err
}

func (a *Actions) succeed(ctx context.Context, kind ActionKind, eventType ActivityEventType, userID string, n Notification, metadata map[string]any) {
	a.logger.Debug("credential action succeeded", "action", kind)

	NotifierFromContext(ctx, a.notifier).Notify(ctx, withDefaults(n))

	if userID == "" {
		userID = a.manager.Snapshot().Identity.ID()
	}
	recordActivity(ctx, a.activity, a.logger, ActivityEvent{
		EventType: eventType,
		Actor:     a.actor(),
		UserID:    userID,
		Action:    kind,
		Metadata:  metadata,
	})
}

func (a *Actions) actor() ActorRef {
	if id := a.manager.Snapshot().Identity.ID(); id != "" {
		return ActorRef{ID: id, Type: "user"}
	}
	return ActorRef{Type: "anonymous"}
}

func (a *Actions) siteURL(path string) string {
	base := strings.TrimRight(a.manager.Config().GetSiteURL(), "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
