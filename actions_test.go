package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginRejectsMalformedEmailLocally(t *testing.T) {
	h := startedHarness(t, newFakeService())

	for _, email := range []string{"", "alice", "alice@example", "al ice@example.com"} {
		err := h.actions.Login(context.Background(), email, "whatever")
		require.Error(t, err, email)
		assert.True(t, auth.IsValidationError(err))
		assert.Equal(t, auth.MsgInvalidEmail, auth.ErrorMessage(err))
	}

	assert.Equal(t, 0, h.service.count("SignInWithPassword"))
	n := lastNotification(t, h.notes)
	assert.Equal(t, "Login Failed", n.Title)
	assert.Equal(t, auth.VariantDestructive, n.Variant)
	assert.Equal(t, auth.DefaultNotificationDuration, n.Duration)
}

func TestLoginSuccessWaitsForEvent(t *testing.T) {
	service := newFakeService()
	service.addAccount("u-a", "a@example.com", "Alice", "Secret1!")
	h := startedHarness(t, service)

	require.NoError(t, h.actions.Login(context.Background(), "  a@example.com ", "Secret1!"))

	snap := h.waitFor(t, func(s auth.Snapshot) bool { return s.Identity != nil })
	assert.Equal(t, "Alice", snap.Identity.DisplayName())
	assert.Equal(t, auth.GuardAuthenticated, auth.GuardStateOf(h.manager.Snapshot()))

	n := lastNotification(t, h.notes)
	assert.Equal(t, auth.VariantSuccess, n.Variant)
	assert.Len(t, h.activity.ofType(auth.ActivityEventLoginSuccess), 1)
}

func TestLoginDoesNotMutateStateWithoutEvent(t *testing.T) {
	service := newFakeService()
	service.addAccount("u-a", "a@example.com", "Alice", "Secret1!")
	service.quiet = true
	h := startedHarness(t, service)

	require.NoError(t, h.actions.Login(context.Background(), "a@example.com", "Secret1!"))
	assert.Nil(t, h.manager.Snapshot().Identity)
}

func TestLoginSurfacesRemoteMessageVerbatim(t *testing.T) {
	service := newFakeService()
	service.addAccount("u-a", "a@example.com", "Alice", "Secret1!")
	h := startedHarness(t, service)

	err := h.actions.Login(context.Background(), "a@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, auth.IsRemoteAuthError(err))
	assert.Equal(t, "Invalid login credentials", auth.ErrorMessage(err))

	n := lastNotification(t, h.notes)
	assert.Equal(t, "Login Failed", n.Title)
	assert.Equal(t, "Invalid login credentials", n.Description)
	assert.Nil(t, h.manager.Snapshot().Identity)
	assert.False(t, h.manager.Snapshot().Loading)
	assert.Len(t, h.activity.ofType(auth.ActivityEventLoginFailure), 1)
}

func TestLoginTimeout(t *testing.T) {
	service := newFakeService()
	h := startedHarness(t, service)

	gate := service.setGate()
	defer close(gate)

	h.actions.WithTimeout(30 * time.Millisecond)

	err := h.actions.Login(context.Background(), "a@example.com", "Secret1!")
	require.Error(t, err)
	assert.True(t, auth.IsTimeoutError(err))
	assert.Equal(t, "The request timed out. Please try again.", lastNotification(t, h.notes).Description)
	assert.False(t, h.manager.Snapshot().Loading)
}

func TestActionInFlightIsRejected(t *testing.T) {
	service := newFakeService()
	service.addAccount("u-a", "a@example.com", "Alice", "Secret1!")
	h := startedHarness(t, service)

	gate := service.setGate()

	done := make(chan error, 1)
	go func() {
		done <- h.actions.Login(context.Background(), "a@example.com", "Secret1!")
	}()

	require.Eventually(t, func() bool {
		return service.count("SignInWithPassword") == 1
	}, waitTimeout, 5*time.Millisecond)

	assert.True(t, h.manager.Snapshot().Loading, "loading while a remote call is in flight")
	assert.Equal(t, auth.GuardPending, auth.GuardStateOf(h.manager.Snapshot()))

	before := len(h.notes.Notifications())
	err := h.actions.Login(context.Background(), "a@example.com", "Secret1!")
	assert.ErrorIs(t, err, auth.ErrActionInFlight)
	assert.Len(t, h.notes.Notifications(), before, "a rejected duplicate reports nothing")
	assert.Equal(t, 1, service.count("SignInWithPassword"))

	close(gate)
	require.NoError(t, <-done)
	h.waitFor(t, func(s auth.Snapshot) bool { return s.Identity != nil && !s.Loading })
}

func TestRegisterLocalChecksRunInOrder(t *testing.T) {
	h := startedHarness(t, newFakeService())

	tests := []struct {
		name     string
		user     string
		email    string
		password string
		message  string
		duration time.Duration
	}{
		{name: "missing name", user: "  ", email: "bad", password: "short", message: auth.MsgRequiredFields, duration: auth.DefaultNotificationDuration},
		{name: "missing password", user: "Al", email: "a@example.com", password: "", message: auth.MsgRequiredFields, duration: auth.DefaultNotificationDuration},
		{name: "bad email before weak password", user: "Al", email: "bad", password: "short", message: auth.MsgInvalidEmail, duration: auth.DefaultNotificationDuration},
		{name: "too short", user: "Al", email: "a@example.com", password: "Ab1!", message: auth.MsgPasswordTooShort, duration: auth.LongNotificationDuration},
		{name: "no digit", user: "Al", email: "a@example.com", password: "Abcdefg!", message: auth.MsgPasswordNoDigit, duration: auth.LongNotificationDuration},
		{name: "no symbol", user: "Al", email: "a@example.com", password: "Abcdefg1", message: auth.MsgPasswordNoSymbol, duration: auth.LongNotificationDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.actions.Register(context.Background(), tt.user, tt.email, tt.password)
			require.Error(t, err)
			assert.True(t, auth.IsValidationError(err))
			assert.Equal(t, tt.message, auth.ErrorMessage(err))

			n := lastNotification(t, h.notes)
			assert.Equal(t, "Registration Failed", n.Title)
			assert.Equal(t, tt.duration, n.Duration)
		})
	}

	assert.Equal(t, 0, h.service.count("SignUp"))
}

func TestRegisterSuccess(t *testing.T) {
	h := startedHarness(t, newFakeService())

	require.NoError(t, h.actions.Register(context.Background(), " Alice ", "alice@example.com", "Secret12!"))

	req := h.service.lastSignUp
	assert.Equal(t, "alice@example.com", req.Email)
	assert.Equal(t, "Alice", req.Metadata[auth.MetadataKeyName])
	assert.Equal(t, testSiteURL+"/success", req.RedirectTo)

	n := lastNotification(t, h.notes)
	assert.Equal(t, "Welcome, Alice! Please check your email to confirm your account.", n.Description)
	assert.Equal(t, auth.LongNotificationDuration, n.Duration)
	assert.Nil(t, h.manager.Snapshot().Identity, "sign up does not sign in")
}

func TestRegisterRemoteFailure(t *testing.T) {
	service := newFakeService()
	service.signUpErr = goerrors.New("User already registered", goerrors.CategoryConflict).
		WithCode(goerrors.CodeConflict)
	h := startedHarness(t, service)

	err := h.actions.Register(context.Background(), "Alice", "alice@example.com", "Secret12!")
	require.Error(t, err)
	assert.Equal(t, "User already registered", auth.ErrorMessage(err))
	assert.Equal(t, 409, auth.StatusFor(err))
}

func TestLogoutClearsIdentityEvenWhenRemoteFails(t *testing.T) {
	service := newFakeService()
	service.addAccount("u-a", "a@example.com", "Alice", "Secret1!")
	h := startedHarness(t, service)
	h.signIn(t, "a@example.com", "Secret1!")

	service.signOutErr = errors.New("server went away")

	err := h.actions.Logout(context.Background())
	require.Error(t, err)
	assert.True(t, auth.IsRemoteAuthError(err))
	assert.Nil(t, h.manager.Snapshot().Identity)
	assert.Equal(t, auth.GuardAnonymous, auth.GuardStateOf(h.manager.Snapshot()))
}

func TestLogoutIsIdempotent(t *testing.T) {
	service := newFakeService()
	service.addAccount("u-a", "a@example.com", "Alice", "Secret1!")
	h := startedHarness(t, service)
	h.signIn(t, "a@example.com", "Secret1!")

	require.NoError(t, h.actions.Logout(context.Background()))
	assert.Nil(t, h.manager.Snapshot().Identity)
	assert.Equal(t, "Logged Out", lastNotification(t, h.notes).Title)

	require.NoError(t, h.actions.Logout(context.Background()))
	assert.Nil(t, h.manager.Snapshot().Identity)
}

func TestChangePasswordRequiresSession(t *testing.T) {
	h := startedHarness(t, newFakeService())

	err := h.actions.ChangePassword(context.Background(), "Secret12!")
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
	assert.Equal(t, "You are not logged in.", lastNotification(t, h.notes).Description)
	assert.Equal(t, 0, h.service.count("UpdateUser"))
}

func TestChangePassword(t *testing.T) {
	service := newFakeService()
	service.addAccount("u-a", "a@example.com", "Alice", "Secret1!")
	h := startedHarness(t, service)
	h.signIn(t, "a@example.com", "Secret1!")

	err := h.actions.ChangePassword(context.Background(), "weak")
	require.Error(t, err)
	assert.Equal(t, "Password Change Failed", lastNotification(t, h.notes).Title)
	assert.Equal(t, auth.LongNotificationDuration, lastNotification(t, h.notes).Duration)

	require.NoError(t, h.actions.ChangePassword(context.Background(), "Newpass12!"))
	require.NotNil(t, service.lastAttrs.Password)
	assert.Equal(t, "Newpass12!", *service.lastAttrs.Password)
	assert.Nil(t, service.lastAttrs.Metadata)
	assert.Len(t, h.activity.ofType(auth.ActivityEventPasswordChanged), 1)
}

func TestSendPasswordResetEmail(t *testing.T) {
	h := startedHarness(t, newFakeService())

	err := h.actions.SendPasswordResetEmail(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, 0, h.service.count("ResetPasswordForEmail"))

	require.NoError(t, h.actions.SendPasswordResetEmail(context.Background(), " a@example.com "))
	assert.Equal(t, "a@example.com", h.service.lastResetMail)
	assert.Equal(t, testSiteURL+"/reset-password", h.service.lastResetTo)

	n := lastNotification(t, h.notes)
	assert.Equal(t, "Reset Link Sent", n.Title)
	assert.Equal(t, auth.LongNotificationDuration, n.Duration)
}

func TestSendPasswordResetEmailDoesNotRevealUnknownAccounts(t *testing.T) {
	service := newFakeService()
	service.resetErr = goerrors.New("user not found", goerrors.CategoryNotFound).
		WithCode(goerrors.CodeNotFound)
	h := startedHarness(t, service)

	require.NoError(t, h.actions.SendPasswordResetEmail(context.Background(), "ghost@example.com"))
	assert.Equal(t, "Reset Link Sent", lastNotification(t, h.notes).Title)
}

func TestCompletePasswordResetWithoutSession(t *testing.T) {
	h := startedHarness(t, newFakeService())

	err := h.actions.CompletePasswordReset(context.Background(), "Newpass12!")
	assert.ErrorIs(t, err, auth.ErrNoRecoverySession)
	assert.Equal(t, 0, h.service.count("UpdateUser"))
}

func TestUpdateUsernameRoundTrip(t *testing.T) {
	service := newFakeService()
	service.addAccount("u-a", "a@example.com", "Alice", "Secret1!")
	h := startedHarness(t, service)
	h.signIn(t, "a@example.com", "Secret1!")

	err := h.actions.UpdateUsername(context.Background(), " ab ")
	require.Error(t, err)
	assert.Equal(t, auth.MsgUsernameTooShort, auth.ErrorMessage(err))
	assert.Equal(t, 0, service.count("UpdateUser"))

	service.quiet = true
	require.NoError(t, h.actions.UpdateUsername(context.Background(), "  Alicia "))
	assert.Equal(t, "Alicia", service.lastAttrs.Metadata[auth.MetadataKeyName])
	assert.Equal(t, 1, service.count("GetUser"))
	assert.Equal(t, "Alicia", h.manager.Snapshot().Identity.DisplayName(), "identity refreshed without an event")
}

func TestUpdateUsernameFallsBackToUpdateResponse(t *testing.T) {
	service := newFakeService()
	service.addAccount("u-a", "a@example.com", "Alice", "Secret1!")
	h := startedHarness(t, service)
	h.signIn(t, "a@example.com", "Secret1!")

	service.quiet = true
	service.getUserErr = errors.New("read replica lagging")

	require.NoError(t, h.actions.UpdateUsername(context.Background(), "Alicia"))
	assert.Equal(t, "Alicia", h.manager.Snapshot().Identity.DisplayName())
}

func TestActionsHonourCancelledContext(t *testing.T) {
	h := startedHarness(t, newFakeService())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.actions.Login(ctx, "a@example.com", "Secret1!")
	require.Error(t, err)
	assert.Equal(t, 0, h.service.count("SignInWithPassword"))
	assert.Empty(t, h.notes.Notifications())
}

func TestActionsUseContextNotifier(t *testing.T) {
	h := startedHarness(t, newFakeService())
	rec := &auth.NotificationRecorder{}

	ctx := auth.ContextWithNotifier(context.Background(), rec)
	require.Error(t, h.actions.Login(ctx, "bad", "x"))

	assert.Len(t, rec.Notifications(), 1)
	assert.Empty(t, h.notes.Notifications())
}
