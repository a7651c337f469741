package auth

import (
	"context"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// RecoveryTypeRecovery is the link type of password reset links.
const RecoveryTypeRecovery = "recovery"

// DefaultRecoveryWait bounds how long a reset submission waits for the
// recovery session to show up.
const DefaultRecoveryWait = 10 * time.Second

// RecoverySignal is what a password reset link carries. It is parsed per
// visit and never stored.
type RecoverySignal struct {
	// Present is true when a recovery token or recovery type was found.
	Present      bool
	Error        string
	ErrorCode    string
	Type         string
	AccessToken  string
	RefreshToken string
	TokenHash    string
}

// ParseRecoverySignal reads a reset link. Fragment parameters win over
// query parameters. An error indicator takes precedence over a token.
func ParseRecoverySignal(rawURL string) (RecoverySignal, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return RecoverySignal{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed recovery link").
			WithCode(goerrors.CodeBadRequest).
			WithTextCode(TextCodeRecoveryLinkFailed)
	}

	fragment, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return RecoverySignal{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed recovery link fragment").
			WithCode(goerrors.CodeBadRequest).
			WithTextCode(TextCodeRecoveryLinkFailed)
	}
	query := u.Query()

	get := func(key string) string {
		if v := strings.TrimSpace(fragment.Get(key)); v != "" {
			return v
		}
		return strings.TrimSpace(query.Get(key))
	}

	sig := RecoverySignal{
		ErrorCode:    get("error_code"),
		Type:         get("type"),
		AccessToken:  get("access_token"),
		RefreshToken: get("refresh_token"),
		TokenHash:    firstNonEmpty(get("token_hash"), get("token")),
	}

	sig.Error = firstNonEmpty(get("error_description"), get("error"), sig.ErrorCode)
	if sig.Error != "" {
		return sig, nil
	}

	sig.Present = sig.AccessToken != "" || sig.TokenHash != "" || sig.Type == RecoveryTypeRecovery
	return sig, nil
}

// HasToken reports whether the signal carries a token to exchange.
func (s RecoverySignal) HasToken() bool {
	return s.AccessToken != "" || s.TokenHash != ""
}

// RecoveryView is what the reset password page should show.
type RecoveryView string

const (
	// RecoveryLinkError shows the link error and a way to request a new link.
	RecoveryLinkError RecoveryView = "link_error"
	// RecoveryRedirect sends the visitor to the forgot password page.
	RecoveryRedirect RecoveryView = "redirect"
	// RecoveryAwaitingSession shows the form with submit disabled.
	RecoveryAwaitingSession RecoveryView = "awaiting_session"
	// RecoveryReady shows the form ready to submit.
	RecoveryReady RecoveryView = "ready"
)

// RecoveryState is the resolved reset password page state.
type RecoveryState struct {
	View       RecoveryView `json:"view"`
	Message    string       `json:"message,omitempty"`
	RedirectTo string       `json:"redirect_to,omitempty"`
	CanSubmit  bool         `json:"can_submit"`
}

// RecoveryHandler drives the reset password page from a reset link.
type RecoveryHandler struct {
	manager  *Manager
	actions  *Actions
	consumer RecoveryLinkConsumer
	wait     time.Duration
	activity ActivitySink
	logger   Logger
	provider LoggerProvider
}

// NewRecoveryHandler binds the handler to the manager and actions. When
// the identity service can consume recovery links it is used for tokens.
func NewRecoveryHandler(manager *Manager, actions *Actions) *RecoveryHandler {
	provider, logger := ResolveLogger("auth.recovery", nil, nil)
	h := &RecoveryHandler{
		manager:  manager,
		actions:  actions,
		wait:     DefaultRecoveryWait,
		activity: noopActivitySink{},
		logger:   logger,
		provider: provider,
	}
	if consumer, ok := manager.Service().(RecoveryLinkConsumer); ok {
		h.consumer = consumer
	}
	return h
}

// WithWait overrides how long Submit waits for a session.
func (h *RecoveryHandler) WithWait(d time.Duration) *RecoveryHandler {
	if d > 0 {
		h.wait = d
	}
	return h
}

// WithActivitySink sets the sink used for recovery events.
func (h *RecoveryHandler) WithActivitySink(sink ActivitySink) *RecoveryHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RecoveryHandler) WithLogger(logger Logger) *RecoveryHandler {
	h.provider, h.logger = ResolveLogger("auth.recovery", h.provider, logger)
	return h
}

// WithLoggerProvider overrides the logger provider.
func (h *RecoveryHandler) WithLoggerProvider(provider LoggerProvider) *RecoveryHandler {
	h.provider, h.logger = ResolveLogger("auth.recovery", provider, h.logger)
	return h
}

// Resolve decides the page state for a visit to rawURL. A token in the
// link is only handed to the identity service, which opens the recovery
// session and emits the recovery event the manager reacts to.
func (h *RecoveryHandler) Resolve(ctx context.Context, rawURL string) (RecoveryState, error) {
	sig, err := ParseRecoverySignal(rawURL)
	if err != nil {
		return h.linkError(ctx, "Invalid password reset link."), nil
	}

	if sig.Error != "" {
		return h.linkError(ctx, sig.Error), nil
	}

	if sig.Present {
		if sig.HasToken() && h.consumer != nil {
			if err := h.consumer.ConsumeRecoveryLink(ctx, sig); err != nil {
				h.logger.Info("recovery link rejected", "error", err)
				return h.linkError(ctx, firstNonEmpty(RemoteMessage(err), ErrNoRecoverySession.Message)), nil
			}
			recordActivity(ctx, h.activity, h.logger, ActivityEvent{
				EventType: ActivityEventRecoveryLinkActivated,
				Actor:     ActorRef{Type: "anonymous"},
			})
		}
		return h.current(), nil
	}

	if err := h.manager.WaitResolved(ctx); err != nil {
		return RecoveryState{}, err
	}

	if h.manager.Snapshot().Identity == nil {
		return RecoveryState{
			View:       RecoveryRedirect,
			RedirectTo: h.manager.Config().GetForgotPasswordPath(),
		}, nil
	}
	return h.current(), nil
}

// Status reports whether the form can be submitted yet.
func (h *RecoveryHandler) Status() RecoveryState {
	return h.current()
}

// Submit waits, bounded by the handler wait, for a session and then
// completes the password reset.
func (h *RecoveryHandler) Submit(ctx context.Context, password, confirm string) error {
	if err := ValidatePasswordConfirmation(password, confirm); err != nil {
		NotifierFromContext(ctx, h.actions.notifier).Notify(ctx, withDefaults(Notification{
			Title:       "Password Reset Failed",
			Description: ErrorMessage(err),
			Variant:     VariantDestructive,
			Duration:    LongNotificationDuration,
		}))
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, h.wait)
	defer cancel()

	_, err := h.manager.WaitFor(waitCtx, func(s Snapshot) bool {
		return s.Resolved && s.Identity != nil
	})
	if err != nil {
		h.logger.Info("no session for password reset", "error", err)
	}

	return h.actions.CompletePasswordReset(ctx, password)
}

func (h *RecoveryHandler) current() RecoveryState {
	snap := h.manager.Snapshot()
	if snap.Resolved && snap.Identity != nil {
		return RecoveryState{View: RecoveryReady, CanSubmit: true}
	}
	return RecoveryState{View: RecoveryAwaitingSession}
}

func (h *RecoveryHandler) linkError(ctx context.Context, message string) RecoveryState {
	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventRecoveryLinkRejected,
		Actor:     ActorRef{Type: "anonymous"},
		Metadata:  map[string]any{"message": message},
	})
	return RecoveryState{
		View:       RecoveryLinkError,
		Message:    message,
		RedirectTo: h.manager.Config().GetForgotPasswordPath(),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
