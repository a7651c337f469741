package local

import (
	goerrors "github.com/goliatone/go-errors"
)

// Text codes for errors raised by the local identity service.
const (
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeTooManyAttempts    = "TOO_MANY_ATTEMPTS"
	TextCodeEmailNotConfirmed  = "EMAIL_NOT_CONFIRMED"
	TextCodeUserSuspended      = "USER_SUSPENDED"
	TextCodeUserDisabled       = "USER_DISABLED"
	TextCodeUserExists         = "USER_ALREADY_EXISTS"
	TextCodeNoSession          = "SESSION_MISSING"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeTokenUsed          = "TOKEN_ALREADY_USED"
)

// Messages are shown to users verbatim.
var (
	ErrInvalidCredentials = goerrors.New("Invalid login credentials", goerrors.CategoryAuth).
				WithCode(goerrors.CodeBadRequest).
				WithTextCode(TextCodeInvalidCredentials)

	ErrTooManyLoginAttempts = goerrors.New("Too many login attempts. Please try again later.", goerrors.CategoryRateLimit).
				WithCode(goerrors.CodeTooManyRequests).
				WithTextCode(TextCodeTooManyAttempts)

	ErrEmailNotConfirmed = goerrors.New("Email not confirmed", goerrors.CategoryAuth).
				WithCode(goerrors.CodeBadRequest).
				WithTextCode(TextCodeEmailNotConfirmed)

	ErrUserSuspended = goerrors.New("User is suspended", goerrors.CategoryAuthz).
				WithCode(goerrors.CodeForbidden).
				WithTextCode(TextCodeUserSuspended)

	ErrUserDisabled = goerrors.New("User is disabled", goerrors.CategoryAuthz).
			WithCode(goerrors.CodeForbidden).
			WithTextCode(TextCodeUserDisabled)

	ErrUserExists = goerrors.New("User already registered", goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict).
			WithTextCode(TextCodeUserExists)

	ErrNoSession = goerrors.New("Auth session missing!", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(TextCodeNoSession)

	ErrTokenExpired = goerrors.New("Token has expired or is invalid", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(TextCodeTokenExpired)

	ErrTokenMalformed = goerrors.New("Token is malformed", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized).
				WithTextCode(TextCodeTokenMalformed)

	ErrTokenUsed = goerrors.New("Email link is invalid or has expired", goerrors.CategoryAuth).
			WithCode(goerrors.CodeForbidden).
			WithTextCode(TextCodeTokenUsed)
)
