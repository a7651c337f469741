package local

import (
	goerrors "github.com/goliatone/go-errors"
)

// UserStatus is the lifecycle state of an account.
type UserStatus string

const (
	UserStatusPending   UserStatus = "pending"
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusDisabled  UserStatus = "disabled"
)

const textCodeInvalidTransition = "INVALID_USER_STATE_TRANSITION"

var transitions = map[UserStatus]map[UserStatus]struct{}{
	UserStatusPending: {
		UserStatusActive:   {},
		UserStatusDisabled: {},
	},
	UserStatusActive: {
		UserStatusSuspended: {},
		UserStatusDisabled:  {},
	},
	UserStatusSuspended: {
		UserStatusActive:   {},
		UserStatusDisabled: {},
	},
}

// CanTransition reports whether an account may move from one status to
// another. Disabled is terminal.
func CanTransition(from, to UserStatus) bool {
	if from == to {
		return true
	}
	_, ok := transitions[from][to]
	return ok
}

func transitionError(from, to UserStatus) error {
	return goerrors.New("invalid user state transition", goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(textCodeInvalidTransition).
		WithMetadata(map[string]any{"from": from, "to": to})
}

// statusAuthError maps statuses that cannot sign in to an error.
func statusAuthError(status UserStatus, autoConfirm bool) error {
	switch status {
	case UserStatusActive:
		return nil
	case UserStatusPending:
		if autoConfirm {
			return nil
		}
		return ErrEmailNotConfirmed
	case UserStatusSuspended:
		return ErrUserSuspended
	default:
		return ErrUserDisabled
	}
}

func ensureStatus(u *User) {
	if u != nil && u.Status == "" {
		u.Status = UserStatusPending
	}
}
