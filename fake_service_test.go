package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/require"
)

const (
	testAdminEmail = "admin@example.com"
	testSiteURL    = "https://site.test"
	waitTimeout    = 2 * time.Second
)

type fakeAccount struct {
	user     auth.User
	password string
}

// fakeService is an in memory identity service. Calls that change the
// session emit change events through an EventStream, like a real backend.
type fakeService struct {
	mu       sync.Mutex
	stream   *auth.EventStream
	accounts map[string]*fakeAccount
	session  *auth.Session
	calls    map[string]int

	getSessionErr error
	subscribeErr  error
	signInErr     error
	signUpErr     error
	signOutErr    error
	updateErr     error
	resetErr      error
	getUserErr    error

	// quiet suppresses change events.
	quiet bool
	// gate, when set, blocks remote calls until closed or ctx is done.
	gate chan struct{}
	// beforeGetSession runs inside GetSession before it returns.
	beforeGetSession func()

	lastSignUp    auth.SignUpRequest
	lastAttrs     auth.UserAttributes
	lastResetTo   string
	lastResetMail string
	consumed      []auth.RecoverySignal
}

func newFakeService() *fakeService {
	return &fakeService{
		stream:   auth.NewEventStream(),
		accounts: map[string]*fakeAccount{},
		calls:    map[string]int{},
	}
}

func (f *fakeService) addAccount(id, email, name, password string) *auth.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc := &fakeAccount{
		user: auth.User{
			ID:           id,
			Email:        email,
			UserMetadata: map[string]any{auth.MetadataKeyName: name},
		},
		password: password,
	}
	f.accounts[email] = acc
	u := acc.user
	return &u
}

func (f *fakeService) sessionFor(email string) *auth.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc := f.accounts[email]
	u := acc.user
	return &auth.Session{AccessToken: "token-" + u.ID, User: &u}
}

// setGate makes remote calls block until the returned channel is closed.
func (f *fakeService) setGate() chan struct{} {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	return gate
}

func (f *fakeService) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeService) enter(ctx context.Context, name string) error {
	f.mu.Lock()
	f.calls[name]++
	gate := f.gate
	f.mu.Unlock()

	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeService) emit(kind auth.EventKind, session *auth.Session) {
	if f.quiet {
		return
	}
	f.stream.Emit(kind, session)
}

func (f *fakeService) GetSession(ctx context.Context) (*auth.Session, error) {
	if err := f.enter(ctx, "GetSession"); err != nil {
		return nil, err
	}
	if f.beforeGetSession != nil {
		f.beforeGetSession()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getSessionErr != nil {
		return nil, f.getSessionErr
	}
	return f.session, nil
}

func (f *fakeService) Subscribe(ctx context.Context) (auth.Subscription, error) {
	f.mu.Lock()
	f.calls["Subscribe"]++
	err := f.subscribeErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.stream.Subscribe(ctx)
}

func (f *fakeService) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	if err := f.enter(ctx, "SignInWithPassword"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	if f.signInErr != nil {
		err := f.signInErr
		f.mu.Unlock()
		return nil, err
	}
	acc, ok := f.accounts[email]
	if !ok || acc.password != password {
		f.mu.Unlock()
		return nil, goerrors.New("Invalid login credentials", goerrors.CategoryAuth).
			WithCode(goerrors.CodeBadRequest)
	}
	u := acc.user
	session := &auth.Session{AccessToken: "token-" + u.ID, User: &u}
	f.session = session
	f.mu.Unlock()

	f.emit(auth.EventSignedIn, session)
	return session, nil
}

func (f *fakeService) SignUp(ctx context.Context, req auth.SignUpRequest) (*auth.User, error) {
	if err := f.enter(ctx, "SignUp"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSignUp = req
	if f.signUpErr != nil {
		return nil, f.signUpErr
	}
	u := auth.User{ID: "new-" + req.Email, Email: req.Email, UserMetadata: req.Metadata}
	f.accounts[req.Email] = &fakeAccount{user: u, password: req.Password}
	return &u, nil
}

func (f *fakeService) SignOut(ctx context.Context) error {
	if err := f.enter(ctx, "SignOut"); err != nil {
		return err
	}
	f.mu.Lock()
	if f.signOutErr != nil {
		err := f.signOutErr
		f.mu.Unlock()
		return err
	}
	had := f.session != nil
	f.session = nil
	f.mu.Unlock()

	if had {
		f.emit(auth.EventSignedOut, nil)
	}
	return nil
}

func (f *fakeService) UpdateUser(ctx context.Context, attrs auth.UserAttributes) (*auth.User, error) {
	if err := f.enter(ctx, "UpdateUser"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastAttrs = attrs
	if f.updateErr != nil {
		err := f.updateErr
		f.mu.Unlock()
		return nil, err
	}
	if f.session == nil || f.session.User == nil {
		f.mu.Unlock()
		return nil, goerrors.New("Auth session missing!", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}
	acc := f.accounts[f.session.User.Email]
	if attrs.Password != nil {
		acc.password = *attrs.Password
	}
	if attrs.Metadata != nil {
		meta := map[string]any{}
		for k, v := range acc.user.UserMetadata {
			meta[k] = v
		}
		for k, v := range attrs.Metadata {
			meta[k] = v
		}
		acc.user.UserMetadata = meta
	}
	u := acc.user
	session := &auth.Session{AccessToken: f.session.AccessToken, User: &u, Recovery: f.session.Recovery}
	f.session = session
	f.mu.Unlock()

	f.emit(auth.EventUserUpdated, session)
	return &u, nil
}

func (f *fakeService) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	if err := f.enter(ctx, "ResetPasswordForEmail"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastResetMail = email
	f.lastResetTo = redirectTo
	return f.resetErr
}

func (f *fakeService) GetUser(ctx context.Context) (*auth.User, error) {
	if err := f.enter(ctx, "GetUser"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getUserErr != nil {
		return nil, f.getUserErr
	}
	if f.session == nil || f.session.User == nil {
		return nil, goerrors.New("no user", goerrors.CategoryAuth)
	}
	u := f.accounts[f.session.User.Email].user
	return &u, nil
}

// ConsumeRecoveryLink opens a recovery session for the first account.
func (f *fakeService) ConsumeRecoveryLink(ctx context.Context, sig auth.RecoverySignal) error {
	f.mu.Lock()
	f.consumed = append(f.consumed, sig)
	if sig.AccessToken == "expired" {
		f.mu.Unlock()
		return goerrors.New("Token has expired or is invalid", goerrors.CategoryAuth)
	}
	var acc *fakeAccount
	for _, a := range f.accounts {
		acc = a
		break
	}
	u := acc.user
	session := &auth.Session{AccessToken: sig.AccessToken, User: &u, Recovery: true}
	f.session = session
	f.mu.Unlock()

	f.emit(auth.EventPasswordRecovery, session)
	return nil
}

type activityRecorder struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (r *activityRecorder) Record(_ context.Context, event auth.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *activityRecorder) ofType(t auth.ActivityEventType) []auth.ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []auth.ActivityEvent
	for _, e := range r.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	service  *fakeService
	manager  *auth.Manager
	actions  *auth.Actions
	notes    *auth.NotificationRecorder
	activity *activityRecorder
}

func testSettings() auth.Settings {
	return auth.Settings{
		AdminEmail: testAdminEmail,
		SiteURL:    testSiteURL,
	}
}

// newHarness builds a manager and actions over service without
// initializing the manager.
func newHarness(t *testing.T, service *fakeService) *harness {
	t.Helper()

	notes := &auth.NotificationRecorder{}
	activity := &activityRecorder{}

	manager := auth.NewManager(service, testSettings(),
		auth.WithManagerNotifier(notes),
		auth.WithManagerActivitySink(activity),
	)
	t.Cleanup(manager.Teardown)

	actions := auth.NewActions(manager).
		WithNotifier(notes).
		WithActivitySink(activity)

	return &harness{
		service:  service,
		manager:  manager,
		actions:  actions,
		notes:    notes,
		activity: activity,
	}
}

// startedHarness is newHarness plus a successful Initialize.
func startedHarness(t *testing.T, service *fakeService) *harness {
	t.Helper()
	h := newHarness(t, service)
	require.NoError(t, h.manager.Initialize(context.Background()))
	return h
}

func (h *harness) waitFor(t *testing.T, cond func(auth.Snapshot) bool) auth.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	snap, err := h.manager.WaitFor(ctx, cond)
	require.NoError(t, err, "snapshot condition not met")
	return snap
}

func (h *harness) signIn(t *testing.T, email, password string) {
	t.Helper()
	require.NoError(t, h.actions.Login(context.Background(), email, password))
	h.waitFor(t, func(s auth.Snapshot) bool {
		return s.Identity.Email() == email && !s.Loading
	})
}

func lastNotification(t *testing.T, rec *auth.NotificationRecorder) auth.Notification {
	t.Helper()
	n, ok := rec.Last()
	require.True(t, ok, "expected a notification")
	return n
}
