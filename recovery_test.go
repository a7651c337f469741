package auth_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecoverySignal(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		present bool
		errMsg  string
		token   string
		kind    string
	}{
		{
			name:    "fragment token",
			url:     "https://site.test/reset-password#access_token=abc&refresh_token=r1&type=recovery",
			present: true,
			token:   "abc",
			kind:    "recovery",
		},
		{
			name:    "type only",
			url:     "https://site.test/reset-password?type=recovery",
			present: true,
			kind:    "recovery",
		},
		{
			name:   "error description wins over token",
			url:    "https://site.test/reset-password#access_token=abc&error=access_denied&error_description=Email+link+is+invalid+or+has+expired",
			errMsg: "Email link is invalid or has expired",
		},
		{
			name:   "expired token from query",
			url:    "https://site.test/reset-password?error_description=token+expired",
			errMsg: "token expired",
		},
		{
			name:   "error code only",
			url:    "https://site.test/reset-password#error_code=otp_expired",
			errMsg: "otp_expired",
		},
		{
			name: "no signal",
			url:  "https://site.test/reset-password",
		},
		{
			name:    "fragment wins over query",
			url:     "https://site.test/reset-password?access_token=query#access_token=fragment",
			present: true,
			token:   "fragment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := auth.ParseRecoverySignal(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.present, sig.Present)
			assert.Equal(t, tt.errMsg, sig.Error)
			if tt.errMsg == "" {
				assert.Equal(t, tt.token, sig.AccessToken)
				assert.Equal(t, tt.kind, sig.Type)
			}
		})
	}
}

func TestParseRecoverySignalMalformed(t *testing.T) {
	_, err := auth.ParseRecoverySignal("http://[::1")
	require.Error(t, err)
}

func newRecoveryHarness(t *testing.T) (*harness, *auth.RecoveryHandler) {
	t.Helper()
	service := newFakeService()
	service.addAccount("u-a", "a@example.com", "Alice", "Secret1!")
	h := startedHarness(t, service)
	handler := auth.NewRecoveryHandler(h.manager, h.actions).
		WithWait(200 * time.Millisecond).
		WithActivitySink(h.activity)
	return h, handler
}

func TestRecoveryResolveLinkError(t *testing.T) {
	h, handler := newRecoveryHarness(t)

	state, err := handler.Resolve(context.Background(), "https://site.test/reset-password?error_description=token+expired")
	require.NoError(t, err)
	assert.Equal(t, auth.RecoveryLinkError, state.View)
	assert.Equal(t, "token expired", state.Message)
	assert.False(t, state.CanSubmit)
	assert.Empty(t, h.service.consumed, "tokens are not consumed when the link carries an error")
	assert.Len(t, h.activity.ofType(auth.ActivityEventRecoveryLinkRejected), 1)
}

func TestRecoveryResolveWithoutSignalRedirects(t *testing.T) {
	_, handler := newRecoveryHarness(t)

	state, err := handler.Resolve(context.Background(), "https://site.test/reset-password")
	require.NoError(t, err)
	assert.Equal(t, auth.RecoveryRedirect, state.View)
	assert.Equal(t, auth.DefaultForgotPasswordPath, state.RedirectTo)
}

func TestRecoveryResolveWithoutSignalButSession(t *testing.T) {
	h, handler := newRecoveryHarness(t)
	h.signIn(t, "a@example.com", "Secret1!")

	state, err := handler.Resolve(context.Background(), "https://site.test/reset-password")
	require.NoError(t, err)
	assert.Equal(t, auth.RecoveryReady, state.View)
	assert.True(t, state.CanSubmit)
}

func TestRecoveryConsumesTokenAndSubmits(t *testing.T) {
	h, handler := newRecoveryHarness(t)

	state, err := handler.Resolve(context.Background(), "https://site.test/reset-password#access_token=tok&type=recovery")
	require.NoError(t, err)
	assert.NotEqual(t, auth.RecoveryLinkError, state.View)
	require.Len(t, h.service.consumed, 1)
	assert.Equal(t, "tok", h.service.consumed[0].AccessToken)

	snap := h.waitFor(t, func(s auth.Snapshot) bool { return s.Recovery && s.Identity != nil })
	assert.Equal(t, "u-a", snap.Identity.ID())
	assert.Equal(t, auth.RecoveryReady, handler.Status().View)

	require.NoError(t, handler.Submit(context.Background(), "Newpass12!", "Newpass12!"))
	require.NotNil(t, h.service.lastAttrs.Password)
	assert.Equal(t, "Newpass12!", *h.service.lastAttrs.Password)
	assert.Len(t, h.activity.ofType(auth.ActivityEventPasswordResetSuccess), 1)
}

func TestRecoveryRejectedToken(t *testing.T) {
	h, handler := newRecoveryHarness(t)

	state, err := handler.Resolve(context.Background(), "https://site.test/reset-password#access_token=expired")
	require.NoError(t, err)
	assert.Equal(t, auth.RecoveryLinkError, state.View)
	assert.Equal(t, "Token has expired or is invalid", state.Message)
	assert.Nil(t, h.manager.Snapshot().Identity)
}

func TestRecoverySubmitMismatch(t *testing.T) {
	h, handler := newRecoveryHarness(t)

	err := handler.Submit(context.Background(), "Newpass12!", "Newpass13!")
	require.Error(t, err)
	assert.Equal(t, auth.MsgPasswordMismatch, auth.ErrorMessage(err))
	assert.Equal(t, 0, h.service.count("UpdateUser"))
	assert.Equal(t, "Password Reset Failed", lastNotification(t, h.notes).Title)
}

func TestRecoverySubmitWithoutSessionTimesOut(t *testing.T) {
	h, handler := newRecoveryHarness(t)

	err := handler.Submit(context.Background(), "Newpass12!", "Newpass12!")
	assert.ErrorIs(t, err, auth.ErrNoRecoverySession)
	assert.Equal(t, 0, h.service.count("UpdateUser"))
}

func TestRecoverySubmitWaitsForLateSession(t *testing.T) {
	h, handler := newRecoveryHarness(t)
	handler.WithWait(waitTimeout)

	go func() {
		time.Sleep(20 * time.Millisecond)
		session := h.service.sessionFor("a@example.com")
		session.Recovery = true
		h.service.mu.Lock()
		h.service.session = session
		h.service.mu.Unlock()
		h.service.stream.Emit(auth.EventPasswordRecovery, session)
	}()

	require.NoError(t, handler.Submit(context.Background(), "Newpass12!", "Newpass12!"))
	assert.Equal(t, 1, h.service.count("UpdateUser"))
}
