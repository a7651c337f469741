// Package gotrue is an IdentityService client for hosted auth servers
// speaking the GoTrue REST API.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	auth "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Options configures a Client.
type Options struct {
	// URL is the auth API root, for example https://project.supabase.co/auth/v1.
	URL string
	// APIKey is sent in the apikey header.
	APIKey     string
	Verifier   VerifierConfig
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client talks to the auth server and keeps the current session in
// memory, optionally backed by a SessionStore.
type Client struct {
	base     *url.URL
	apiKey   string
	http     *http.Client
	verifier *Verifier
	limiter  *rate.Limiter
	stream   *auth.EventStream
	store    auth.SessionStore
	logger   auth.Logger
	now      func() time.Time

	refreshes singleflight.Group
	// forked clients share the verifier of their parent.
	forked bool

	mu       sync.Mutex
	session  *auth.Session
	restored bool
	cron     *cron.Cron
}

var (
	_ auth.IdentityService      = (*Client)(nil)
	_ auth.RecoveryLinkConsumer = (*Client)(nil)
)

// New creates a client. A JWKS URL in opts.Verifier is fetched here.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.URL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, goerrors.New("auth server URL must be absolute", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"url": opts.URL})
	}

	_, logger := auth.ResolveLogger("gotrue", nil, nil)

	verifier, err := NewVerifier(opts.Verifier, logger)
	if err != nil {
		return nil, err
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		base:     base,
		apiKey:   opts.APIKey,
		http:     httpClient,
		verifier: verifier,
		stream:   auth.NewEventStream(),
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (c *Client) WithLogger(logger auth.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithSessionStore persists the current session across restarts.
func (c *Client) WithSessionStore(store auth.SessionStore) *Client {
	c.store = store
	return c
}

// WithRateLimit caps outgoing requests. Requests wait for a token.
func (c *Client) WithRateLimit(limit rate.Limit, burst int) *Client {
	if limit > 0 && burst > 0 {
		c.limiter = rate.NewLimiter(limit, burst)
	}
	return c
}

func (c *Client) WithClock(now func() time.Time) *Client {
	if now != nil {
		c.now = now
		if c.verifier != nil {
			c.verifier.now = now
		}
	}
	return c
}

// Fork returns a client for the same server with its own current
// session, persisted in store. Each browser gets one.
func (c *Client) Fork(store auth.SessionStore) *Client {
	return &Client{
		base:     c.base,
		apiKey:   c.apiKey,
		http:     c.http,
		verifier: c.verifier,
		limiter:  c.limiter,
		stream:   auth.NewEventStream(),
		store:    store,
		logger:   c.logger,
		now:      c.now,
		forked:   true,
	}
}

// Close stops auto refresh, the key set refresh and every subscription.
// A forked client leaves the shared key set running.
func (c *Client) Close() {
	c.StopAutoRefresh()
	if !c.forked {
		c.verifier.Close()
	}
	c.stream.Close()
}

func (c *Client) Subscribe(ctx context.Context) (auth.Subscription, error) {
	return c.stream.Subscribe(ctx)
}

// GetSession returns the current session, restoring it from the store
// on first use and refreshing it once expired.
func (c *Client) GetSession(ctx context.Context) (*auth.Session, error) {
	if err := c.restore(ctx); err != nil {
		return nil, err
	}

	session := c.current()
	if session == nil || !session.Expired(c.now()) {
		return session, nil
	}

	refreshed, err := c.RefreshSession(ctx)
	if err != nil {
		if isAuthFailure(err) {
			c.logger.Info("stored session could not be refreshed", "error", err)
			c.drop(ctx, session)
			return nil, nil
		}
		return nil, err
	}
	return refreshed, nil
}

func (c *Client) restore(ctx context.Context) error {
	c.mu.Lock()
	if c.restored || c.store == nil {
		c.restored = true
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	stored, err := c.store.Load(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to load stored session")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.restored {
		c.restored = true
		if c.session == nil {
			c.session = stored
		}
	}
	return nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"password"}}, "",
		passwordGrant{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, err
	}

	session, err := c.accept(&resp)
	if err != nil {
		return nil, err
	}
	c.set(ctx, session)
	c.stream.Emit(auth.EventSignedIn, session)
	return session, nil
}

// SignUp registers an account. When the server confirms it right away
// the returned session becomes current.
func (c *Client) SignUp(ctx context.Context, req auth.SignUpRequest) (*auth.User, error) {
	query := url.Values{}
	if req.RedirectTo != "" {
		query.Set("redirect_to", req.RedirectTo)
	}

	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/signup", query, "",
		signUpBody{Email: req.Email, Password: req.Password, Data: req.Metadata}, &resp)
	if err != nil {
		return nil, err
	}

	if session := resp.session(c.now()); session != nil {
		if session.User == nil {
			return nil, unexpected("signup session without user")
		}
		c.set(ctx, session)
		c.stream.Emit(auth.EventSignedIn, session)
		return session.User, nil
	}

	user := resp.userResponse.toUser()
	if user == nil {
		return nil, unexpected("signup response without user")
	}
	return user, nil
}

// SignOut revokes the session server side and always forgets it
// locally.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.restored = true
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Clear(ctx); err != nil {
			c.logger.Warn("failed to clear stored session", "error", err)
		}
	}

	if session == nil {
		return nil
	}
	c.stream.Emit(auth.EventSignedOut, nil)

	err := c.do(ctx, http.MethodPost, "/logout", nil, session.AccessToken, nil, nil)
	if err != nil && !isAuthFailure(err) {
		return err
	}
	return nil
}

func (c *Client) UpdateUser(ctx context.Context, attrs auth.UserAttributes) (*auth.User, error) {
	session := c.current()
	if session == nil {
		return nil, ErrNoSession
	}

	var resp userResponse
	err := c.do(ctx, http.MethodPut, "/user", nil, session.AccessToken,
		updateUserBody{Password: attrs.Password, Data: attrs.Metadata}, &resp)
	if err != nil {
		return nil, err
	}

	user := resp.toUser()
	if user == nil {
		return nil, unexpected("user update response without user")
	}

	c.mu.Lock()
	if c.session == nil || c.session.AccessToken != session.AccessToken {
		c.mu.Unlock()
		return user, nil
	}
	next := *c.session
	next.User = user
	if attrs.Password != nil {
		next.Recovery = false
	}
	c.session = &next
	c.mu.Unlock()
	c.save(ctx, &next)

	c.stream.Emit(auth.EventUserUpdated, &next)
	return user, nil
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	query := url.Values{}
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}
	return c.do(ctx, http.MethodPost, "/recover", query, "", recoverBody{Email: email}, nil)
}

// GetUser asks the server for the user behind the current access token.
func (c *Client) GetUser(ctx context.Context) (*auth.User, error) {
	session := c.current()
	if session == nil {
		return nil, ErrNoSession
	}
	return c.fetchUser(ctx, session.AccessToken)
}

func (c *Client) fetchUser(ctx context.Context, accessToken string) (*auth.User, error) {
	var resp userResponse
	if err := c.do(ctx, http.MethodGet, "/user", nil, accessToken, nil, &resp); err != nil {
		return nil, err
	}
	user := resp.toUser()
	if user == nil {
		return nil, unexpected("user response without id")
	}
	return user, nil
}

// ConsumeRecoveryLink exchanges the token carried by an emailed link for
// a session. Token hashes are verified by the server; implicit access
// tokens are checked locally when a verifier is configured, then used to
// load the user.
func (c *Client) ConsumeRecoveryLink(ctx context.Context, signal auth.RecoverySignal) error {
	kind := signal.Type
	if kind == "" {
		kind = auth.RecoveryTypeRecovery
	}
	recovery := kind == auth.RecoveryTypeRecovery

	var session *auth.Session
	switch {
	case signal.TokenHash != "":
		var resp tokenResponse
		err := c.do(ctx, http.MethodPost, "/verify", nil, "",
			verifyBody{Type: kind, TokenHash: signal.TokenHash}, &resp)
		if err != nil {
			return err
		}
		session, err = c.accept(&resp)
		if err != nil {
			return err
		}
	case signal.AccessToken != "":
		expiresAt := peekExpiry(signal.AccessToken)
		if c.verifier != nil {
			claims, err := c.verifier.Verify(signal.AccessToken)
			if err != nil {
				return err
			}
			expiresAt = claims.ExpiresAt.Time
		}
		user, err := c.fetchUser(ctx, signal.AccessToken)
		if err != nil {
			return err
		}
		session = &auth.Session{
			AccessToken:  signal.AccessToken,
			RefreshToken: signal.RefreshToken,
			TokenType:    "bearer",
			ExpiresAt:    expiresAt,
			User:         user,
		}
	default:
		return ErrMissingToken
	}

	session.Recovery = recovery
	c.set(ctx, session)
	if recovery {
		c.stream.Emit(auth.EventPasswordRecovery, session)
	} else {
		c.stream.Emit(auth.EventSignedIn, session)
	}
	return nil
}

// RefreshSession trades the refresh token for a new session. Concurrent
// calls share one request.
func (c *Client) RefreshSession(ctx context.Context) (*auth.Session, error) {
	v, err, _ := c.refreshes.Do("refresh", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*auth.Session), nil
}

func (c *Client) refresh(ctx context.Context) (*auth.Session, error) {
	session := c.current()
	if session == nil || session.RefreshToken == "" {
		return nil, ErrNoSession
	}

	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"refresh_token"}}, "",
		refreshGrant{RefreshToken: session.RefreshToken}, &resp)
	if err != nil {
		return nil, err
	}

	next, err := c.accept(&resp)
	if err != nil {
		return nil, err
	}
	next.Recovery = session.Recovery
	if next.User == nil {
		next.User = session.User
	}

	c.mu.Lock()
	if c.session == nil || c.session.RefreshToken != session.RefreshToken {
		c.mu.Unlock()
		return nil, ErrNoSession
	}
	c.session = next
	c.mu.Unlock()
	c.save(ctx, next)

	c.stream.Emit(auth.EventTokenRefreshed, next)
	return next, nil
}

// ExpiresWithin reports whether the current session expires before d
// elapses.
func (c *Client) ExpiresWithin(d time.Duration) bool {
	session := c.current()
	if session == nil || session.ExpiresAt.IsZero() {
		return false
	}
	return session.ExpiresAt.Before(c.now().Add(d))
}

// accept validates a token response and builds the session.
func (c *Client) accept(resp *tokenResponse) (*auth.Session, error) {
	session := resp.session(c.now())
	if session == nil {
		return nil, unexpected("token response without access token")
	}
	if c.verifier != nil {
		if _, err := c.verifier.Verify(session.AccessToken); err != nil {
			return nil, err
		}
	}
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = peekExpiry(session.AccessToken)
	}
	return session, nil
}

func (c *Client) current() *auth.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	out := *c.session
	return &out
}

func (c *Client) set(ctx context.Context, session *auth.Session) {
	c.mu.Lock()
	c.session = session
	c.restored = true
	c.mu.Unlock()
	c.save(ctx, session)
}

func (c *Client) save(ctx context.Context, session *auth.Session) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, session); err != nil {
		c.logger.Warn("failed to persist session", "error", err)
	}
}

func (c *Client) drop(ctx context.Context, session *auth.Session) {
	c.mu.Lock()
	if c.session == nil || c.session.AccessToken != session.AccessToken {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Clear(ctx); err != nil {
			c.logger.Warn("failed to clear stored session", "error", err)
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return goerrors.Wrap(err, goerrors.CategoryExternal, "auth server unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to decode auth server response").
			WithTextCode(TextCodeServerResponse)
	}
	return nil
}

// isAuthFailure reports whether the server rejected the credentials, as
// opposed to being unreachable.
func isAuthFailure(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	if rich.Category == goerrors.CategoryAuth {
		return true
	}
	return rich.Code >= 400 && rich.Code < 500 && rich.Code != http.StatusTooManyRequests
}

func unexpected(msg string) error {
	return goerrors.New(msg, goerrors.CategoryExternal).
		WithTextCode(TextCodeServerResponse)
}
