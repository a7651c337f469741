package auth_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestSessionController(t *testing.T, h *harness) *auth.SessionController {
	t.Helper()
	return auth.NewSessionController(
		auth.WithControllerManager(h.manager),
		auth.WithControllerActions(h.actions),
		auth.WithControllerRecovery(auth.NewRecoveryHandler(h.manager, h.actions).WithWait(200*time.Millisecond)),
	)
}

// expectResponse captures the ActionResponse written with status.
func expectResponse(ctx *requestMock, status int) *auth.ActionResponse {
	res := &auth.ActionResponse{}
	ctx.On("Context").Return(context.Background())
	ctx.On("JSON", status, mock.Anything).Run(func(args mock.Arguments) {
		*res = args.Get(1).(auth.ActionResponse)
	}).Return(nil)
	return res
}

func TestNewSessionControllerRequiresManager(t *testing.T) {
	assert.Panics(t, func() { auth.NewSessionController() })
}

func TestSessionShow(t *testing.T) {
	service := newFakeService()
	service.addAccount("u-admin", testAdminEmail, "Root", "Secret1!")
	service.session = service.sessionFor(testAdminEmail)
	h := startedHarness(t, service)
	ctrl := newTestSessionController(t, h)

	ctx := router.NewMockContext()
	var view auth.SnapshotView
	ctx.On("JSON", router.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
		view = args.Get(1).(auth.SnapshotView)
	}).Return(nil)

	require.NoError(t, ctrl.SessionShow(ctx))
	require.NotNil(t, view.Identity)
	assert.Equal(t, "Root", view.Identity.DisplayName)
	assert.True(t, view.IsAdmin)
	assert.False(t, view.Loading)
}

func TestLoginPostSuccess(t *testing.T) {
	service := newFakeService()
	service.addAccount("u-a", "a@example.com", "Alice", "Secret1!")
	h := startedHarness(t, service)
	ctrl := newTestSessionController(t, h)

	ctx := newRequestMock("/login").withBody(auth.LoginPayload{Email: "a@example.com", Password: "Secret1!"})
	ctx.jar[auth.DefaultRedirectParam] = "/offers/7"
	res := expectResponse(ctx, http.StatusOK)

	require.NoError(t, ctrl.LoginPost(ctx))

	assert.True(t, res.Success)
	assert.Equal(t, "/offers/7", res.Redirect)
	require.NotNil(t, res.Session.Identity, "response waits for the sign in event")
	assert.Equal(t, "a@example.com", res.Session.Identity.Email)
	require.Len(t, res.Notifications, 1)
	assert.Equal(t, "Login Successful", res.Notifications[0].Title)
	assert.Empty(t, h.notes.Notifications(), "request notifications stay with the request")
}

func TestLoginPostRejected(t *testing.T) {
	service := newFakeService()
	service.addAccount("u-a", "a@example.com", "Alice", "Secret1!")
	h := startedHarness(t, service)
	ctrl := newTestSessionController(t, h)

	ctx := newRequestMock("/login").withBody(auth.LoginPayload{Email: "a@example.com", Password: "Wrong1!!"})
	res := expectResponse(ctx, http.StatusBadRequest)

	require.NoError(t, ctrl.LoginPost(ctx))

	assert.False(t, res.Success)
	assert.Equal(t, "Invalid login credentials", res.Error)
	assert.Equal(t, auth.TextCodeRemoteAuth, res.TextCode)
	assert.Nil(t, res.Session.Identity)
	require.Len(t, res.Notifications, 1)
	assert.Equal(t, auth.VariantDestructive, res.Notifications[0].Variant)
}

func TestLoginPostMissingFields(t *testing.T) {
	h := startedHarness(t, newFakeService())
	ctrl := newTestSessionController(t, h)

	ctx := newRequestMock("/login").withBody(auth.LoginPayload{Email: "a@example.com"})
	res := expectResponse(ctx, http.StatusBadRequest)

	require.NoError(t, ctrl.LoginPost(ctx))
	assert.Equal(t, auth.TextCodeInvalidEmail, res.TextCode)
	assert.Equal(t, 0, h.service.count("SignInWithPassword"))
}

func TestLoginShowRedirectsWhenAuthenticated(t *testing.T) {
	service := newFakeService()
	service.addAccount("u-a", "a@example.com", "Alice", "Secret1!")
	service.session = service.sessionFor("a@example.com")
	h := startedHarness(t, service)
	ctrl := newTestSessionController(t, h)

	ctx := router.NewMockContext()
	ctx.On("Redirect", "/", []int{http.StatusSeeOther}).Return(nil)

	require.NoError(t, ctrl.LoginShow(ctx))
	ctx.AssertExpectations(t)
}

func TestRegisterPost(t *testing.T) {
	h := startedHarness(t, newFakeService())
	ctrl := newTestSessionController(t, h)

	ctx := newRequestMock("/register").withBody(auth.RegisterPayload{
		Name:     "Carol",
		Email:    "carol@example.com",
		Password: "Secret1!",
	})
	res := expectResponse(ctx, http.StatusOK)

	require.NoError(t, ctrl.RegisterPost(ctx))
	assert.True(t, res.Success)
	assert.Equal(t, auth.DefaultSignUpSuccessPath, res.Redirect)
	assert.Equal(t, "carol@example.com", h.service.lastSignUp.Email)
}

func TestRegisterPostWeakPassword(t *testing.T) {
	h := startedHarness(t, newFakeService())
	ctrl := newTestSessionController(t, h)

	ctx := newRequestMock("/register").withBody(auth.RegisterPayload{
		Name:     "Carol",
		Email:    "carol@example.com",
		Password: "short",
	})
	res := expectResponse(ctx, http.StatusBadRequest)

	require.NoError(t, ctrl.RegisterPost(ctx))
	assert.Equal(t, auth.MsgPasswordTooShort, res.Error)
	assert.Equal(t, auth.TextCodeWeakPassword, res.TextCode)
	assert.Empty(t, res.Redirect)
}

func TestLogoutPost(t *testing.T) {
	service := newFakeService()
	service.addAccount("u-a", "a@example.com", "Alice", "Secret1!")
	h := startedHarness(t, service)
	h.signIn(t, "a@example.com", "Secret1!")
	ctrl := newTestSessionController(t, h)

	ctx := newRequestMock("/logout")
	res := expectResponse(ctx, http.StatusOK)

	require.NoError(t, ctrl.LogoutPost(ctx))
	assert.True(t, res.Success)
	assert.Equal(t, "/", res.Redirect)
	assert.Nil(t, res.Session.Identity)
}

func TestChangePasswordPostMismatch(t *testing.T) {
	service := newFakeService()
	service.addAccount("u-a", "a@example.com", "Alice", "Secret1!")
	h := startedHarness(t, service)
	h.signIn(t, "a@example.com", "Secret1!")
	ctrl := newTestSessionController(t, h)

	ctx := newRequestMock("/profile/password").withBody(auth.PasswordPayload{
		Password:        "Newpass12!",
		ConfirmPassword: "Newpass13!",
	})
	res := expectResponse(ctx, http.StatusBadRequest)

	require.NoError(t, ctrl.ChangePasswordPost(ctx))
	assert.Equal(t, auth.TextCodePasswordMismatch, res.TextCode)
	assert.Equal(t, 0, h.service.count("UpdateUser"))
}

func TestUpdateUsernamePost(t *testing.T) {
	service := newFakeService()
	service.addAccount("u-a", "a@example.com", "Alice", "Secret1!")
	h := startedHarness(t, service)
	h.signIn(t, "a@example.com", "Secret1!")
	ctrl := newTestSessionController(t, h)

	ctx := newRequestMock("/profile/name").withBody(auth.UsernamePayload{Name: "Alicia"})
	res := expectResponse(ctx, http.StatusOK)

	require.NoError(t, ctrl.UpdateUsernamePost(ctx))
	assert.True(t, res.Success)
	h.waitFor(t, func(s auth.Snapshot) bool { return s.Identity.DisplayName() == "Alicia" })
}

func TestRecoveryLinkPostError(t *testing.T) {
	h := startedHarness(t, newFakeService())
	ctrl := newTestSessionController(t, h)

	ctx := newRequestMock("/reset-password/link").withBody(auth.RecoveryLinkPayload{
		URL: "https://site.test/reset-password#error_description=Email+link+is+invalid+or+has+expired",
	})
	res := expectResponse(ctx, http.StatusBadRequest)

	require.NoError(t, ctrl.RecoveryLinkPost(ctx))
	assert.False(t, res.Success)
	require.NotNil(t, res.Recovery)
	assert.Equal(t, auth.RecoveryLinkError, res.Recovery.View)
	assert.Equal(t, "Email link is invalid or has expired", res.Error)
}

func TestNotificationsShowDrainsQueue(t *testing.T) {
	h := startedHarness(t, newFakeService())
	queue := auth.NewNotificationQueue(5)
	ctrl := auth.NewSessionController(
		auth.WithControllerManager(h.manager),
		auth.WithControllerActions(h.actions),
		auth.WithControllerQueue(queue),
	)
	queue.Notify(context.Background(), auth.Notification{Title: "Session Error"})

	ctx := router.NewMockContext()
	var body router.ViewContext
	ctx.On("JSON", router.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
		body = args.Get(1).(router.ViewContext)
	}).Return(nil)

	require.NoError(t, ctrl.NotificationsShow(ctx))
	items := body["notifications"].([]auth.Notification)
	require.Len(t, items, 1)
	assert.Equal(t, "Session Error", items[0].Title)
	assert.Empty(t, queue.Drain())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "nil", err: nil, status: http.StatusOK},
		{name: "plain error", err: errors.New("boom"), status: http.StatusInternalServerError},
		{name: "in flight", err: auth.ErrActionInFlight, status: http.StatusConflict},
		{name: "validation", err: auth.NewValidationError(auth.TextCodeInvalidEmail, auth.MsgInvalidEmail), status: http.StatusBadRequest},
		{name: "timeout", err: auth.NewRemoteAuthError(context.DeadlineExceeded, "x"), status: http.StatusGatewayTimeout},
		{name: "not authenticated", err: auth.ErrNotAuthenticated, status: http.StatusUnauthorized},
		{name: "not admin", err: auth.ErrNotAdmin, status: http.StatusForbidden},
		{name: "registry full", err: auth.ErrTooManySessions, status: http.StatusServiceUnavailable},
		{
			name:   "remote keeps the service code",
			err:    auth.NewRemoteAuthError(goerrors.New("User already registered", goerrors.CategoryConflict).WithCode(goerrors.CodeConflict), "x"),
			status: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, auth.StatusFor(tt.err))
		})
	}
}
