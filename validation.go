package auth

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
)

// PasswordSymbols is the set of symbols a password must draw one from.
const PasswordSymbols = "@$!%*#?&"

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// MinUsernameLength is the shortest accepted display name, after trimming.
const MinUsernameLength = 3

// User facing validation messages.
const (
	MsgInvalidEmail      = "Please enter a valid email address."
	MsgRequiredFields    = "All fields are required."
	MsgUsernameTooShort  = "Username must be at least 3 characters long."
	MsgPasswordMismatch  = "Passwords do not match."
	MsgPasswordTooShort  = "Password must be at least 8 characters long."
	MsgPasswordNoLetter  = "Password must include at least one letter."
	MsgPasswordNoDigit   = "Password must include at least one number."
	MsgPasswordNoSymbol  = "Password must include at least one symbol (@$!%*#?&)."
	MsgPasswordBadSymbol = "Password may only contain letters, numbers, and the symbols @$!%*#?&."
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// EmailRule checks the basic local@domain.tld shape.
var EmailRule = validation.Match(emailPattern).Error(MsgInvalidEmail)

// PasswordRule enforces the password policy. Checks run in a fixed
// order and the first failing one is reported.
var PasswordRule = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	return checkPassword(s)
})

func checkPassword(s string) error {
	if len(s) < MinPasswordLength {
		return errors.New(MsgPasswordTooShort)
	}

	var letter, digit, symbol bool
	for _, r := range s {
		switch {
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			letter = true
		case r < unicode.MaxASCII && unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			symbol = true
		default:
			return errors.New(MsgPasswordBadSymbol)
		}
	}

	switch {
	case !letter:
		return errors.New(MsgPasswordNoLetter)
	case !digit:
		return errors.New(MsgPasswordNoDigit)
	case !symbol:
		return errors.New(MsgPasswordNoSymbol)
	}
	return nil
}

// ValidateEmail reports a ValidationError for a malformed email.
func ValidateEmail(email string) error {
	err := validation.Validate(email,
		validation.Required.Error(MsgInvalidEmail),
		EmailRule,
	)
	if err != nil {
		return NewValidationError(TextCodeInvalidEmail, err.Error())
	}
	return nil
}

// ValidatePassword reports a ValidationError for a password that fails
// the policy.
func ValidatePassword(password string) error {
	if err := validation.Validate(password, PasswordRule); err != nil {
		return NewValidationError(TextCodeWeakPassword, err.Error())
	}
	return nil
}

// ValidatePasswordConfirmation checks the policy and that both entries match.
func ValidatePasswordConfirmation(password, confirm string) error {
	if password != confirm {
		return NewValidationError(TextCodePasswordMismatch, MsgPasswordMismatch)
	}
	return ValidatePassword(password)
}

// ValidateUsername checks the trimmed display name length.
func ValidateUsername(name string) error {
	err := validation.Validate(strings.TrimSpace(name),
		validation.Required.Error(MsgUsernameTooShort),
		validation.RuneLength(MinUsernameLength, 0).Error(MsgUsernameTooShort),
	)
	if err != nil {
		return NewValidationError(TextCodeUsernameTooShort, MsgUsernameTooShort)
	}
	return nil
}

// ValidateRequired fails when any value is blank after trimming.
func ValidateRequired(values ...string) error {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return NewValidationError(TextCodeRequiredFields, MsgRequiredFields)
		}
	}
	return nil
}
