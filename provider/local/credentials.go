package local

import (
	"context"
	"sync"
	"time"

	auth "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// MaxLoginAttempts is the number of failed attempts allowed within
// CoolDownPeriod.
var MaxLoginAttempts = 5

// CoolDownPeriod is the window failed attempts are counted in.
var CoolDownPeriod = "24h"

// credentials checks passwords and tracks login attempts.
type credentials struct {
	users       Users
	logger      auth.Logger
	now         func() time.Time
	autoConfirm bool
}

// Verify finds the user by email, enforces the attempt limit and
// compares the password.
func (c credentials) Verify(ctx context.Context, email, password string) (*User, error) {
	user, err := c.users.GetByIdentifier(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			_ = ComparePasswordAndHash(password, unknownUserHash())
			return nil, ErrInvalidCredentials
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user during verification")
	}

	if user.LoginAttemptAt != nil {
		expired, err := IsOutsideThresholdPeriod(c.now(), *user.LoginAttemptAt, CoolDownPeriod)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to calculate login attempt cooldown")
		}

		if expired {
			user.LoginAttempts = 0
		}
	}

	if user.LoginAttempts >= MaxLoginAttempts {
		return nil, ErrTooManyLoginAttempts
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if err2 := c.users.TrackAttemptedLogin(ctx, user); err2 != nil {
			return nil, goerrors.Wrap(err2, goerrors.CategoryInternal, "failed to track login attempt")
		}
		return nil, ErrInvalidCredentials
	}

	ensureStatus(user)
	if err := statusAuthError(user.Status, c.autoConfirm); err != nil {
		return nil, err
	}

	if err := c.users.TrackSuccessfulLogin(ctx, user); err != nil {
		c.logger.Error("failed to track successful login", "error", err)
	}

	return user, nil
}

var unknownHash struct {
	once sync.Once
	hash string
}

func unknownUserHash() string {
	unknownHash.once.Do(func() {
		unknownHash.hash = RandomPasswordHash()
	})
	return unknownHash.hash
}
