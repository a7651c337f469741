package local

import (
	"context"
	"strings"
	"sync"
	"time"

	auth "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Service is a self hosted identity service backed by a bun database.
// It holds a single current session, the way a browser client does.
type Service struct {
	repo     RepositoryManager
	tokens   *TokenService
	mailer   Mailer
	store    auth.SessionStore
	stream   *auth.EventStream
	activity auth.ActivitySink
	logger   auth.Logger
	now      func() time.Time

	accessTTL   time.Duration
	refreshTTL  time.Duration
	autoConfirm bool
	redirectTo  string

	// commitMu orders session changes with their store writes and
	// events. It is taken before mu.
	commitMu sync.Mutex
	mu       sync.Mutex
	session  *auth.Session
	resetID  string
	restored bool
}

// sessionChange is the outcome of a committed session update. A nil
// session clears the store; an empty kind emits nothing.
type sessionChange struct {
	session *auth.Session
	kind    auth.EventKind
}

var (
	_ auth.IdentityService      = (*Service)(nil)
	_ auth.RecoveryLinkConsumer = (*Service)(nil)
)

// NewService creates a Service. Mail goes to the log until WithMailer
// is called.
func NewService(repo RepositoryManager, tokens *TokenService) *Service {
	_, logger := auth.ResolveLogger("local", nil, nil)
	return &Service{
		repo:       repo,
		tokens:     tokens,
		mailer:     LogMailer{Logger: logger},
		stream:     auth.NewEventStream(),
		activity:   auth.ActivitySinks{},
		logger:     logger,
		now:        time.Now,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
	}
}

func (s *Service) WithMailer(mailer Mailer) *Service {
	if mailer != nil {
		s.mailer = mailer
	}
	return s
}

// WithSessionStore persists the current session across restarts.
func (s *Service) WithSessionStore(store auth.SessionStore) *Service {
	s.store = store
	return s
}

func (s *Service) WithActivitySink(sink auth.ActivitySink) *Service {
	if sink != nil {
		s.activity = sink
	}
	return s
}

func (s *Service) WithLogger(logger auth.Logger) *Service {
	if logger != nil {
		s.logger = logger
		if m, ok := s.mailer.(LogMailer); ok {
			m.Logger = logger
			s.mailer = m
		}
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithTTL sets access and refresh token lifetimes. Zero keeps the
// current value.
func (s *Service) WithTTL(access, refresh time.Duration) *Service {
	if access > 0 {
		s.accessTTL = access
	}
	if refresh > 0 {
		s.refreshTTL = refresh
	}
	return s
}

// WithAutoConfirm activates new accounts without an email confirmation.
func (s *Service) WithAutoConfirm(enabled bool) *Service {
	s.autoConfirm = enabled
	return s
}

// WithConfirmRedirect sets the page signup confirmation links open
// when the request names none.
func (s *Service) WithConfirmRedirect(url string) *Service {
	s.redirectTo = url
	return s
}

// Fork returns a Service over the same accounts and tokens with its own
// current session, persisted in store. Each browser gets one.
func (s *Service) Fork(store auth.SessionStore) *Service {
	return &Service{
		repo:        s.repo,
		tokens:      s.tokens,
		mailer:      s.mailer,
		store:       store,
		stream:      auth.NewEventStream(),
		activity:    s.activity,
		logger:      s.logger,
		now:         s.now,
		accessTTL:   s.accessTTL,
		refreshTTL:  s.refreshTTL,
		autoConfirm: s.autoConfirm,
		redirectTo:  s.redirectTo,
	}
}

// Close ends every subscription.
func (s *Service) Close() {
	s.stream.Close()
}

func (s *Service) Subscribe(ctx context.Context) (auth.Subscription, error) {
	return s.stream.Subscribe(ctx)
}

// GetSession returns the current session. The first call restores the
// stored session; an expired access token is refreshed.
func (s *Service) GetSession(ctx context.Context) (*auth.Session, error) {
	if err := s.restore(ctx); err != nil {
		return nil, err
	}

	session := s.current()
	if session == nil {
		return nil, nil
	}

	if _, err := s.tokens.Validate(session.AccessToken, PurposeAccess); err == nil {
		return session, nil
	}

	refreshed, err := s.RefreshSession(ctx)
	if err != nil {
		if goerrors.Is(err, ErrTokenExpired) || goerrors.Is(err, ErrTokenMalformed) || goerrors.Is(err, ErrNoSession) {
			s.logger.Info("stored session is no longer valid", "error", err)
			s.drop(ctx, session)
			return nil, nil
		}
		return nil, err
	}
	return refreshed, nil
}

func (s *Service) restore(ctx context.Context) error {
	s.mu.Lock()
	if s.restored || s.store == nil {
		s.restored = true
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	stored, err := s.store.Load(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to load stored session")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.restored {
		s.restored = true
		if s.session == nil {
			s.session = stored
		}
	}
	return nil
}

func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	creds := credentials{
		users:       s.repo.Users(),
		logger:      s.logger,
		now:         s.now,
		autoConfirm: s.autoConfirm,
	}

	user, err := creds.Verify(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return nil, err
	}

	return s.open(ctx, user, auth.EventSignedIn, "")
}

// SignUp registers an account. Without auto confirm the account stays
// pending until the mailed confirmation link is used.
func (s *Service) SignUp(ctx context.Context, req auth.SignUpRequest) (*auth.User, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return nil, goerrors.New("email is required", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	_, err := s.repo.Users().GetByIdentifier(ctx, email)
	if err == nil {
		return nil, ErrUserExists
	}
	if !repository.IsRecordNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up account")
	}

	passwordHash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Email:        email,
		PasswordHash: passwordHash,
		Status:       UserStatusPending,
		Metadata:     copyMetadata(req.Metadata),
	}
	if id, err := hashid.NewUUID(email); err == nil {
		user.ID = id
	}
	if s.autoConfirm {
		now := s.now()
		user.Status = UserStatusActive
		user.EmailConfirmedAt = &now
	}

	created, err := s.repo.Users().Register(ctx, user)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to register account")
	}

	if s.autoConfirm {
		if _, err := s.open(ctx, created, auth.EventSignedIn, ""); err != nil {
			return nil, err
		}
		return toAuthUser(created), nil
	}

	redirectTo := req.RedirectTo
	if redirectTo == "" {
		redirectTo = s.redirectTo
	}
	err = NewLinkRequestHandler(s.repo, s.mailer).
		WithLogger(s.logger).
		Execute(ctx, LinkRequestMessage{
			Email:      created.Email,
			Purpose:    PurposeSignup,
			RedirectTo: redirectTo,
		})
	if err != nil {
		return nil, err
	}
	return toAuthUser(created), nil
}

// ConfirmEmail redeems a signup link and signs the account in.
func (s *Service) ConfirmEmail(ctx context.Context, tokenHash string) (*auth.Session, error) {
	resp, err := s.consumer().Execute(ctx, ConsumeLinkMessage{
		Session: tokenHash,
		Purpose: PurposeSignup,
	})
	if err != nil {
		return nil, err
	}

	var confirmed *User
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		confirmed, err = s.repo.Users().ConfirmEmailTx(ctx, tx, resp.User, s.now())
		return err
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to confirm email")
	}

	return s.open(ctx, confirmed, auth.EventSignedIn, "")
}

// SignOut ends the current session. Signing out without one is a no-op.
func (s *Service) SignOut(ctx context.Context) error {
	return s.commit(ctx, func() (sessionChange, error) {
		had := s.session != nil
		s.session = nil
		s.resetID = ""
		s.restored = true
		if !had {
			return sessionChange{}, nil
		}
		return sessionChange{kind: auth.EventSignedOut}, nil
	})
}

// UpdateUser changes the password or merges metadata for the signed in
// account. Inside a recovery session the password change finalizes the
// recovery request. When the session changed while the update ran, the
// database change stays but the session is left alone and ErrNoSession
// is returned.
func (s *Service) UpdateUser(ctx context.Context, attrs auth.UserAttributes) (*auth.User, error) {
	session := s.current()
	if session == nil || session.User == nil {
		return nil, ErrNoSession
	}

	id, err := uuid.Parse(session.User.ID)
	if err != nil {
		return nil, ErrNoSession
	}

	s.mu.Lock()
	resetID := s.resetID
	s.mu.Unlock()

	recovered := false
	if attrs.Password != nil {
		if session.Recovery && resetID != "" {
			err = NewFinalizePasswordResetHandler(s.repo).
				WithActivitySink(s.activity).
				WithLogger(s.logger).
				Execute(ctx, FinalizePasswordResetMessage{
					Session:  resetID,
					UserID:   id,
					Password: *attrs.Password,
				})
			recovered = err == nil
		} else {
			err = s.changePassword(ctx, id, *attrs.Password)
		}
		if err != nil {
			return nil, err
		}
	}

	var user *User
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err = s.repo.Users().GetByIdentifierTx(ctx, tx, id.String())
		if err != nil {
			return err
		}
		if len(attrs.Metadata) > 0 {
			user, err = s.repo.Users().UpdateMetadataTx(ctx, tx, user, attrs.Metadata)
		}
		return err
	})
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrNoSession
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update account")
	}

	updated := toAuthUser(user)

	err = s.commit(ctx, func() (sessionChange, error) {
		if s.session == nil || s.session.AccessToken != session.AccessToken {
			return sessionChange{}, ErrNoSession
		}
		next := *s.session
		next.User = updated
		if recovered {
			next.Recovery = false
			s.resetID = ""
		}
		s.session = &next
		return sessionChange{session: &next, kind: auth.EventUserUpdated}, nil
	})
	if err != nil {
		s.logger.Info("session changed during account update, keeping the new session", "user_id", id.String())
		return nil, err
	}
	return updated, nil
}

func (s *Service) changePassword(ctx context.Context, id uuid.UUID, password string) error {
	passwordHash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.repo.Users().ResetPassword(ctx, id, passwordHash); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
	}
	return nil
}

// ResetPasswordForEmail mails a recovery link. Unknown addresses
// succeed without sending anything.
func (s *Service) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	return NewLinkRequestHandler(s.repo, s.mailer).
		WithActivitySink(s.activity).
		WithLogger(s.logger).
		Execute(ctx, LinkRequestMessage{
			Email:      strings.TrimSpace(email),
			Purpose:    PurposeRecovery,
			RedirectTo: redirectTo,
		})
}

// GetUser reads the signed in account from the database.
func (s *Service) GetUser(ctx context.Context) (*auth.User, error) {
	session := s.current()
	if session == nil || session.User == nil {
		return nil, ErrNoSession
	}

	user, err := s.repo.Users().GetByIdentifier(ctx, session.User.ID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrNoSession
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account")
	}
	return toAuthUser(user), nil
}

// ConsumeRecoveryLink redeems the token hash of an emailed link. Recovery
// links open a recovery session; signup links confirm the account.
func (s *Service) ConsumeRecoveryLink(ctx context.Context, signal auth.RecoverySignal) error {
	token := signal.TokenHash
	if token == "" {
		token = signal.AccessToken
	}
	if token == "" {
		return ErrTokenUsed
	}

	if signal.Type == PurposeSignup {
		_, err := s.ConfirmEmail(ctx, token)
		return err
	}

	resp, err := s.consumer().Execute(ctx, ConsumeLinkMessage{
		Session: token,
		Purpose: PurposeRecovery,
	})
	if err != nil {
		return err
	}

	_, err = s.open(ctx, resp.User, auth.EventPasswordRecovery, resp.Reset.ID.String())
	return err
}

// RefreshSession trades the refresh token for a new token pair.
func (s *Service) RefreshSession(ctx context.Context) (*auth.Session, error) {
	session := s.current()
	if session == nil {
		return nil, ErrNoSession
	}

	claims, err := s.tokens.Validate(session.RefreshToken, PurposeRefresh)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.Users().GetByIdentifier(ctx, claims.Subject)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrNoSession
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account for refresh")
	}
	if err := statusAuthError(user.Status, s.autoConfirm); err != nil {
		return nil, err
	}

	next, err := s.issue(user, claims.SessionID, session.Recovery)
	if err != nil {
		return nil, err
	}

	err = s.commit(ctx, func() (sessionChange, error) {
		if s.session == nil || s.session.RefreshToken != session.RefreshToken {
			return sessionChange{}, ErrNoSession
		}
		s.session = next
		return sessionChange{session: next, kind: auth.EventTokenRefreshed}, nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// ExpiresWithin reports whether the current session expires before d
// elapses.
func (s *Service) ExpiresWithin(d time.Duration) bool {
	session := s.current()
	if session == nil {
		return false
	}
	return session.ExpiresAt.Before(s.now().Add(d))
}

// ExpireLinks marks requested links older than LinkTTL as expired.
func (s *Service) ExpireLinks(ctx context.Context) (int64, error) {
	ttl, err := time.ParseDuration(LinkTTL)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "invalid link ttl")
	}

	now := s.now()
	res, err := s.repo.DB().NewUpdate().
		Model((*PasswordReset)(nil)).
		Set("status = ?", ResetExpiredStatus).
		Set("updated_at = ?", now).
		Where("status = ?", ResetRequestedStatus).
		Where("created_at < ?", now.Add(-ttl)).
		Exec(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to expire links")
	}
	return res.RowsAffected()
}

func (s *Service) consumer() *ConsumeLinkHandler {
	h := NewConsumeLinkHandler(s.repo)
	h.now = s.now
	return h
}

func (s *Service) current() *auth.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	out := *s.session
	return &out
}

// open starts a new session for user, makes it current and announces
// it as kind. A non empty resetID opens a recovery session.
func (s *Service) open(ctx context.Context, user *User, kind auth.EventKind, resetID string) (*auth.Session, error) {
	session, err := s.issue(user, uuid.NewString(), resetID != "")
	if err != nil {
		return nil, err
	}

	err = s.commit(ctx, func() (sessionChange, error) {
		s.session = session
		s.restored = true
		s.resetID = resetID
		return sessionChange{session: session, kind: kind}, nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// commit applies a session update and then persists and announces it.
// Nothing else can change the session between the update and its event,
// so events reach subscribers in the order the changes were made.
func (s *Service) commit(ctx context.Context, apply func() (sessionChange, error)) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	change, err := apply()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if change.session != nil {
		s.save(ctx, change.session)
	} else if s.store != nil {
		if err := s.store.Clear(ctx); err != nil {
			s.logger.Warn("failed to clear stored session", "error", err)
		}
	}

	if change.kind != "" {
		var announced *auth.Session
		if change.session != nil {
			out := *change.session
			announced = &out
		}
		s.stream.Emit(change.kind, announced)
	}
	return nil
}

func (s *Service) issue(user *User, sessionID string, recovery bool) (*auth.Session, error) {
	subject := user.ID.String()

	access, expiresAt, err := s.tokens.Generate(subject, user.Email, sessionID, PurposeAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.tokens.Generate(subject, user.Email, sessionID, PurposeRefresh, s.refreshTTL)
	if err != nil {
		return nil, err
	}

	return &auth.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresAt:    expiresAt,
		User:         toAuthUser(user),
		Recovery:     recovery,
	}, nil
}

func (s *Service) save(ctx context.Context, session *auth.Session) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, session); err != nil {
		s.logger.Warn("failed to persist session", "error", err)
	}
}

// drop forgets session if it is still current.
func (s *Service) drop(ctx context.Context, session *auth.Session) {
	_ = s.commit(ctx, func() (sessionChange, error) {
		if s.session == nil || s.session.AccessToken != session.AccessToken {
			return sessionChange{}, ErrNoSession
		}
		s.session = nil
		s.resetID = ""
		return sessionChange{}, nil
	})
}

func toAuthUser(u *User) *auth.User {
	if u == nil {
		return nil
	}
	return &auth.User{
		ID:           u.ID.String(),
		Email:        u.Email,
		UserMetadata: copyMetadata(u.Metadata),
		ConfirmedAt:  u.EmailConfirmedAt,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func copyMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
