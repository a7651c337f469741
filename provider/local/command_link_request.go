package local

import (
	"context"
	"net/url"
	"time"

	auth "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LinkRequestMessage asks for a one time link to be mailed to Email.
type LinkRequestMessage struct {
	Email      string `json:"email"`
	Purpose    string `json:"purpose"`
	RedirectTo string `json:"redirect_to"`
}

// LinkRequestResponse reports the created request, nil for unknown
// accounts.
type LinkRequestResponse struct {
	Reset *PasswordReset
	Link  string
}

// LinkRequestHandler stores a PasswordReset and mails its link.
type LinkRequestHandler struct {
	repo     RepositoryManager
	mailer   Mailer
	activity auth.ActivitySink
	logger   auth.Logger

	// OnResponse, when set, receives the outcome of each request.
	OnResponse func(resp *LinkRequestResponse)
}

func NewLinkRequestHandler(repo RepositoryManager, mailer Mailer) *LinkRequestHandler {
	_, logger := auth.ResolveLogger("local.link_request", nil, nil)
	return &LinkRequestHandler{
		repo:     repo,
		mailer:   mailer,
		activity: auth.ActivitySinks{},
		logger:   logger,
	}
}

func (h *LinkRequestHandler) WithActivitySink(sink auth.ActivitySink) *LinkRequestHandler {
	if sink != nil {
		h.activity = sink
	}
	return h
}

func (h *LinkRequestHandler) WithLogger(logger auth.Logger) *LinkRequestHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *LinkRequestHandler) Execute(ctx context.Context, event LinkRequestMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during link request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *LinkRequestHandler) execute(ctx context.Context, event LinkRequestMessage) error {
	if event.Purpose != PurposeRecovery && event.Purpose != PurposeSignup {
		return goerrors.New("unknown link purpose", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"purpose": event.Purpose})
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp := &LinkRequestResponse{}

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByIdentifierTx(ctx, tx, event.Email)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for link request")
		}

		reset := &PasswordReset{
			ID:      uuid.New(),
			UserID:  &user.ID,
			Email:   user.Email,
			Purpose: event.Purpose,
			Status:  ResetRequestedStatus,
		}
		created, err := h.repo.Links().CreateTx(ctx, tx, reset)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create link request record")
		}
		resp.Reset = created
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize link request")
	}

	if resp.Reset != nil {
		resp.Link = BuildLink(event.RedirectTo, resp.Reset.ID.String(), event.Purpose)
		if err := h.mailer.Send(ctx, Message{
			To:      resp.Reset.Email,
			Subject: subjectFor(event.Purpose),
			Purpose: event.Purpose,
			Link:    resp.Link,
		}); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to send email")
		}
		h.record(ctx, resp.Reset)
	}

	if h.OnResponse != nil {
		h.OnResponse(resp)
	}
	return nil
}

func (h *LinkRequestHandler) record(ctx context.Context, reset *PasswordReset) {
	if reset.Purpose != PurposeRecovery {
		return
	}
	event := auth.ActivityEvent{
		EventType: auth.ActivityEventPasswordResetRequest,
		Actor:     auth.ActorRef{ID: reset.UserID.String(), Type: "user"},
		UserID:    reset.UserID.String(),
		Metadata: map[string]any{
			"password_reset_id": reset.ID.String(),
		},
		OccurredAt: time.Now(),
	}
	if err := h.activity.Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during link request", "error", err)
	}
}

// BuildLink appends the token hash and type to redirectTo as a URL
// fragment, the way hosted identity services do.
func BuildLink(redirectTo, tokenHash, purpose string) string {
	values := url.Values{}
	values.Set("token_hash", tokenHash)
	values.Set("type", purpose)

	u, err := url.Parse(redirectTo)
	if err != nil || redirectTo == "" {
		return "#" + values.Encode()
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String() + "#" + values.Encode()
}

func subjectFor(purpose string) string {
	if purpose == PurposeSignup {
		return "Confirm your email"
	}
	return "Reset your password"
}
