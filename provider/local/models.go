package local

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the stored account.
type User struct {
	bun.BaseModel    `bun:"table:users,alias:usr"`
	ID               uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email            string         `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash     string         `bun:"password_hash" json:"-"`
	Status           UserStatus     `bun:"status,notnull" json:"status,omitempty"`
	Metadata         map[string]any `bun:"metadata" json:"metadata,omitempty"`
	EmailConfirmedAt *time.Time     `bun:"email_confirmed_at,nullzero" json:"email_confirmed_at,omitempty"`
	LoginAttempts    int            `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt   *time.Time     `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt       *time.Time     `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	ResetedAt        *time.Time     `bun:"reseted_at,nullzero" json:"reseted_at,omitempty"`
	CreatedAt        *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt        *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt        *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// AddMetadata sets a metadata key.
func (u *User) AddMetadata(key string, val any) *User {
	if u.Metadata == nil {
		u.Metadata = make(map[string]any)
	}
	u.Metadata[key] = val
	return u
}

// Confirmed reports whether the email address was confirmed.
func (u *User) Confirmed() bool {
	return u != nil && u.EmailConfirmedAt != nil
}

// Purposes a PasswordReset request can serve.
const (
	PurposeRecovery = "recovery"
	PurposeSignup   = "signup"
)

const (
	// ResetRequestedStatus is a request waiting for its link to be used.
	ResetRequestedStatus = "requested"
	// ResetConsumedStatus is a request whose link opened a session.
	ResetConsumedStatus = "consumed"
	// ResetExpiredStatus is a request the janitor expired.
	ResetExpiredStatus = "expired"
	// ResetChangedStatus is a recovery that ended in a new password.
	ResetChangedStatus = "changed"
)

// PasswordReset is a single use link request. Signup confirmations use
// the same table with PurposeSignup.
type PasswordReset struct {
	bun.BaseModel `bun:"table:password_reset,alias:pwdr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        *uuid.UUID `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Purpose       string     `bun:"purpose,notnull" json:"purpose,omitempty"`
	Status        string     `bun:"status,notnull" json:"status,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
	ResetedAt     *time.Time `bun:"reseted_at,nullzero" json:"reseted_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}
