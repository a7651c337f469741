package auth

import (
	"context"
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes attached to the errors produced by this package.
const (
	TextCodeValidationFailed   = "VALIDATION_FAILED"
	TextCodeInvalidEmail       = "INVALID_EMAIL"
	TextCodeWeakPassword       = "WEAK_PASSWORD"
	TextCodeRequiredFields     = "REQUIRED_FIELDS"
	TextCodeUsernameTooShort   = "USERNAME_TOO_SHORT"
	TextCodePasswordMismatch   = "PASSWORD_MISMATCH"
	TextCodeRemoteAuth         = "REMOTE_AUTH_ERROR"
	TextCodeRequestTimeout     = "REQUEST_TIMEOUT"
	TextCodeSessionFetch       = "SESSION_FETCH_FAILED"
	TextCodeSubscription       = "SUBSCRIPTION_FAILED"
	TextCodeNotAuthenticated   = "NOT_AUTHENTICATED"
	TextCodeActionInFlight     = "ACTION_IN_FLIGHT"
	TextCodeRecoveryLinkFailed = "RECOVERY_LINK_INVALID"
	TextCodeForbidden          = "FORBIDDEN"
)

// ErrActionInFlight is returned when the same credential action is
// already running.
var ErrActionInFlight = goerrors.New("action already in progress", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict).
	WithTextCode(TextCodeActionInFlight)

// ErrNotAuthenticated is returned by actions that need an active session.
var ErrNotAuthenticated = goerrors.New("You are not logged in.", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeNotAuthenticated)

// ErrNotAdmin is returned when an operation is restricted to the admin.
var ErrNotAdmin = goerrors.New("admin privileges required", goerrors.CategoryAuthz).
	WithCode(goerrors.CodeForbidden).
	WithTextCode(TextCodeForbidden)

// NewValidationError builds a local, pre-network validation failure.
func NewValidationError(textCode, message string) *goerrors.Error {
	if textCode == "" {
		textCode = TextCodeValidationFailed
	}
	return goerrors.New(message, goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(textCode)
}

// NewRemoteAuthError wraps an identity service rejection. The service
// message is kept verbatim when there is one, otherwise fallback is used.
// Deadline and cancellation errors become a generic timeout failure.
func NewRemoteAuthError(err error, fallback string) *goerrors.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return wrap(err, goerrors.CategoryOperation, "The request timed out. Please try again.").
			WithCode(goerrors.CodeRequestTimeout).
			WithTextCode(TextCodeRequestTimeout)
	}

	message := RemoteMessage(err)
	if message == "" {
		message = fallback
	}

	code := goerrors.CodeUnauthorized
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code != 0 {
		code = rich.Code
	}

	return wrap(err, goerrors.CategoryAuth, message).
		WithCode(code).
		WithTextCode(TextCodeRemoteAuth)
}

// NewSessionFetchError reports a failed initial session fetch.
func NewSessionFetchError(err error) *goerrors.Error {
	return wrap(err, goerrors.CategoryOperation, "Could not fetch session.").
		WithTextCode(TextCodeSessionFetch)
}

// NewSubscriptionError reports a change event stream that failed to
// establish or dropped.
func NewSubscriptionError(err error) *goerrors.Error {
	if err == nil {
		err = errors.New("change event stream closed")
	}
	return wrap(err, goerrors.CategoryOperation, "session change stream unavailable").
		WithTextCode(TextCodeSubscription)
}

// RemoteMessage extracts the user facing message of a remote error.
func RemoteMessage(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return strings.TrimSpace(rich.Message)
	}
	return strings.TrimSpace(err.Error())
}

// IsValidationError reports whether err is a local validation failure.
func IsValidationError(err error) bool {
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich.Category == goerrors.CategoryValidation
}

// IsRemoteAuthError reports whether err came from the identity service.
func IsRemoteAuthError(err error) bool {
	return hasTextCode(err, TextCodeRemoteAuth)
}

// IsSessionFetchError reports whether err is an initial fetch failure.
func IsSessionFetchError(err error) bool {
	return hasTextCode(err, TextCodeSessionFetch)
}

// IsSubscriptionError reports whether err is a change stream failure.
func IsSubscriptionError(err error) bool {
	return hasTextCode(err, TextCodeSubscription)
}

// IsTimeoutError reports whether err is a remote call that ran out of time.
func IsTimeoutError(err error) bool {
	return hasTextCode(err, TextCodeRequestTimeout)
}

func hasTextCode(err error, code string) bool {
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich.TextCode == code
}

// ErrorMessage returns the message to show for err.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Message != "" {
		return rich.Message
	}
	return err.Error()
}

// wrap keeps err as the source of a new error. goerrors.Wrap would
// instead clone a rich source, keeping its category and message.
func wrap(err error, category goerrors.Category, message string) *goerrors.Error {
	e := goerrors.New(message, category)
	e.Source = err
	return e
}
