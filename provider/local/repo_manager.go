package local

import (
	"context"
	"database/sql"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryManager groups the provider repositories over one database.
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	DB() *bun.DB
	Users() Users
	// Links holds recovery and signup confirmation link records.
	Links() repository.Repository[*PasswordReset]
}

// NewLinksRepository looks link records up by id or by the email they
// were sent to.
func NewLinksRepository(db *bun.DB) repository.Repository[*PasswordReset] {
	return repository.NewRepository(db, repository.ModelHandlers[*PasswordReset]{
		NewRecord: func() *PasswordReset { return &PasswordReset{} },
		GetID: func(link *PasswordReset) uuid.UUID {
			if link == nil {
				return uuid.Nil
			}
			return link.ID
		},
		SetID:         func(link *PasswordReset, id uuid.UUID) { link.ID = id },
		GetIdentifier: func() string { return "email" },
	})
}

type repositories struct {
	db    *bun.DB
	users Users
	links repository.Repository[*PasswordReset]
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &repositories{
		db:    db,
		users: NewUsersRepository(db),
		links: NewLinksRepository(db),
	}
}

func (r *repositories) Validate() error {
	missing := []string{}
	if r.db == nil {
		missing = append(missing, "db")
	}
	if r.users == nil {
		missing = append(missing, "users")
	}
	if r.links == nil {
		missing = append(missing, "links")
	}
	if len(missing) == 0 {
		return nil
	}
	return goerrors.New("local provider repositories are not initialized", goerrors.CategoryInternal).
		WithMetadata(map[string]any{"missing": missing})
}

func (r *repositories) MustValidate() {
	if err := r.Validate(); err != nil {
		panic(err)
	}
}

// RunInTx refuses to open a transaction for a done context.
func (r *repositories) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.RunInTx(ctx, opts, f)
}

func (r *repositories) DB() *bun.DB { return r.db }

func (r *repositories) Users() Users { return r.users }

func (r *repositories) Links() repository.Repository[*PasswordReset] { return r.links }
