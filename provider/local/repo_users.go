package local

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var ResetUserPasswordSQL = `UPDATE "users" AS "usr"
SET
	"password_hash" = ?,
	"reseted_at" = ?,
	"updated_at" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

type Users interface {
	repository.Repository[*User]

	TrackAttemptedLogin(ctx context.Context, user *User) error
	TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error)
	UpdateStatus(ctx context.Context, user *User, status UserStatus) (*User, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, user *User, status UserStatus) (*User, error)
	ConfirmEmailTx(ctx context.Context, tx bun.IDB, user *User, at time.Time) (*User, error)
	UpdateMetadataTx(ctx context.Context, tx bun.IDB, user *User, metadata map[string]any) (*User, error)

	ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
}

type users struct {
	repository.Repository[*User]
	db  *bun.DB
	now func() time.Time
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	return a.CreateTx(ctx, tx, user)
}

// GetByIdentifier resolves an account by id or email.
func (a *users) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

func (a *users) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	for _, opt := range resolveUserIdentifier(identifier) {
		record := &User{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *users) Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	prepareUserDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *users) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.ResetPasswordTx(ctx, a.db, id, passwordHash)
}

func (a *users) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	now := a.now()
	res, err := a.Repository.RawTx(ctx, tx, ResetUserPasswordSQL, passwordHash, now, now, id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	return a.TrackSuccessfulLoginTx(ctx, a.db, user)
}

func (a *users) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	// NOTE: an ORM update skips the zero values we need to write here.
	loggedInAt := a.now()
	_, err := tx.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"loggedin_at" = ?,
			"login_attempt_at" = NULL,
			"login_attempts" = 0
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, loggedInAt, user.ID).Exec(ctx)

	if err == nil {
		user.LoggedInAt = &loggedInAt
		user.LoginAttempts = 0
		user.LoginAttemptAt = nil
	}

	return err
}

func (a *users) TrackAttemptedLogin(ctx context.Context, user *User) error {
	return a.TrackAttemptedLoginTx(ctx, a.db, user)
}

func (a *users) TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	now := a.now()
	_, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("login_attempts = ?", user.LoginAttempts+1).
		Set("login_attempt_at = ?", now).
		Where("id = ?", user.ID).
		Exec(ctx)
	if err == nil {
		user.LoginAttempts++
		user.LoginAttemptAt = &now
	}
	return err
}

func (a *users) UpdateStatus(ctx context.Context, user *User, status UserStatus) (*User, error) {
	return a.UpdateStatusTx(ctx, a.db, user, status)
}

// UpdateStatusTx moves user to status if the transition is allowed.
func (a *users) UpdateStatusTx(ctx context.Context, tx bun.IDB, user *User, status UserStatus) (*User, error) {
	ensureStatus(user)
	if !CanTransition(user.Status, status) {
		return nil, transitionError(user.Status, status)
	}

	now := a.now()
	_, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", now).
		Where("id = ?", user.ID).
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	user.Status = status
	user.UpdatedAt = &now
	return user, nil
}

// ConfirmEmailTx stamps the confirmation and activates a pending account.
func (a *users) ConfirmEmailTx(ctx context.Context, tx bun.IDB, user *User, at time.Time) (*User, error) {
	ensureStatus(user)
	status := user.Status
	if status == UserStatusPending {
		status = UserStatusActive
	}

	_, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("email_confirmed_at = ?", at).
		Set("status = ?", status).
		Set("updated_at = ?", at).
		Where("id = ?", user.ID).
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	user.EmailConfirmedAt = &at
	user.Status = status
	return user, nil
}

// UpdateMetadataTx merges metadata into the stored map.
func (a *users) UpdateMetadataTx(ctx context.Context, tx bun.IDB, user *User, metadata map[string]any) (*User, error) {
	for k, v := range metadata {
		user.AddMetadata(k, v)
	}

	now := a.now()
	user.UpdatedAt = &now
	_, err := tx.NewUpdate().
		Model(user).
		Column("metadata", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	record.Email = strings.TrimSpace(record.Email)
	ensureStatus(record)

	if record.Metadata == nil {
		record.Metadata = map[string]any{}
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

type identifierOption struct {
	column string
	value  string
}

func resolveUserIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 2)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			column: "id",
			value:  trimmed,
		})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{
			column: "email",
			value:  trimmed,
		})
	}

	return options
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}
