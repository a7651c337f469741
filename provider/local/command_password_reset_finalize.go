package local

import (
	"context"
	"time"

	auth "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// FinalizePasswordResetMessage sets a new password for the owner of a
// consumed recovery request.
type FinalizePasswordResetMessage struct {
	Session  string `json:"session"`
	UserID   uuid.UUID
	Password string `json:"password"`
}

type FinalizePasswordResetHandler struct {
	repo     RepositoryManager
	activity auth.ActivitySink
	logger   auth.Logger
	now      func() time.Time
}

func NewFinalizePasswordResetHandler(repo RepositoryManager) *FinalizePasswordResetHandler {
	_, logger := auth.ResolveLogger("local.password_reset", nil, nil)
	return &FinalizePasswordResetHandler{
		repo:     repo,
		activity: auth.ActivitySinks{},
		logger:   logger,
		now:      time.Now,
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink auth.ActivitySink) *FinalizePasswordResetHandler {
	if sink != nil {
		h.activity = sink
	}
	return h
}

func (h *FinalizePasswordResetHandler) WithLogger(logger auth.Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	passwordHash, err := HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		reset, err := findReset(ctx, tx, event.Session)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return goerrors.New("invalid or expired password reset token", goerrors.CategoryNotFound).
					WithCode(goerrors.CodeNotFound)
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve password reset request")
		}

		if reset.Status != ResetConsumedStatus || reset.Purpose != PurposeRecovery {
			return goerrors.New("password reset token has already been used", goerrors.CategoryConflict).
				WithCode(goerrors.CodeConflict).
				WithTextCode(TextCodeTokenUsed)
		}

		if reset.UserID == nil || *reset.UserID != event.UserID {
			return goerrors.New("password reset request belongs to another user", goerrors.CategoryAuthz).
				WithCode(goerrors.CodeForbidden)
		}

		if err := h.repo.Users().ResetPasswordTx(ctx, tx, *reset.UserID, passwordHash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password in database")
		}

		if err := markReset(ctx, tx, reset.ID, ResetChangedStatus, h.now()); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password reset status")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize password reset")
	}

	h.recordActivity(ctx, event)
	return nil
}

func (h *FinalizePasswordResetHandler) recordActivity(ctx context.Context, event FinalizePasswordResetMessage) {
	activity := auth.ActivityEvent{
		EventType: auth.ActivityEventPasswordResetSuccess,
		Actor: auth.ActorRef{
			ID:   event.UserID.String(),
			Type: "user",
		},
		UserID: event.UserID.String(),
		Metadata: map[string]any{
			"password_reset_id": event.Session,
			"source":            "local",
		},
		OccurredAt: h.now(),
	}

	if err := h.activity.Record(ctx, activity); err != nil {
		h.logger.Warn("activity sink error during password reset", "error", err)
	}
}
