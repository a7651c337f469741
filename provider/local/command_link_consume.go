package local

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LinkTTL is how long an emailed link stays usable.
var LinkTTL = "24h"

// ConsumeLinkMessage redeems the link identified by Session.
type ConsumeLinkMessage struct {
	Session string `json:"session"`
	Purpose string `json:"purpose"`
}

// ConsumeLinkResponse carries the request and its owner.
type ConsumeLinkResponse struct {
	Reset *PasswordReset
	User  *User
}

// ConsumeLinkHandler marks a link request as used. A request can be
// consumed once, within LinkTTL of its creation.
type ConsumeLinkHandler struct {
	repo RepositoryManager
	now  func() time.Time
}

func NewConsumeLinkHandler(repo RepositoryManager) *ConsumeLinkHandler {
	return &ConsumeLinkHandler{repo: repo, now: time.Now}
}

func (h *ConsumeLinkHandler) Execute(ctx context.Context, event ConsumeLinkMessage) (*ConsumeLinkResponse, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled while consuming link",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ConsumeLinkHandler) execute(ctx context.Context, event ConsumeLinkMessage) (*ConsumeLinkResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp := &ConsumeLinkResponse{}

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if !isUUID(event.Session) {
			return ErrTokenUsed
		}

		reset, err := findReset(ctx, tx, event.Session)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrTokenUsed
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve link request")
		}

		if reset.Purpose != event.Purpose || reset.Status != ResetRequestedStatus {
			return ErrTokenUsed
		}

		if reset.CreatedAt == nil || reset.UserID == nil {
			return goerrors.New("link request record is incomplete", goerrors.CategoryInternal)
		}

		expired, err := IsOutsideThresholdPeriod(h.now(), *reset.CreatedAt, LinkTTL)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check token expiration period")
		}
		if expired {
			return ErrTokenExpired
		}

		user, err := h.repo.Users().GetByIdentifierTx(ctx, tx, reset.UserID.String())
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve link owner")
		}

		if err := markReset(ctx, tx, reset.ID, ResetConsumedStatus, h.now()); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update link request status")
		}

		reset.Status = ResetConsumedStatus
		resp.Reset = reset
		resp.User = user
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume link")
	}
	return resp, nil
}

func findReset(ctx context.Context, tx bun.IDB, id string) (*PasswordReset, error) {
	reset := &PasswordReset{}
	err := tx.NewSelect().
		Model(reset).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return reset, nil
}

func markReset(ctx context.Context, tx bun.IDB, id uuid.UUID, status string, now time.Time) error {
	_, err := tx.NewUpdate().
		Model((*PasswordReset)(nil)).
		Set("status = ?", status).
		Set("reseted_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	return err
}
