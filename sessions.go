package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultSessionCookie names the cookie carrying the browser id.
	DefaultSessionCookie = "auth_session"
	// DefaultSessionCookieTTL is how long a browser keeps its id.
	DefaultSessionCookieTTL = 30 * 24 * time.Hour
	// DefaultSessionIdle is how long an unused client stays in memory.
	DefaultSessionIdle = 24 * time.Hour
	// MinSessionKeyLength is the shortest accepted cookie signing key.
	MinSessionKeyLength = 32

	TextCodeTooManySessions = "TOO_MANY_SESSIONS"
)

// ErrTooManySessions is returned when the registry is full.
var ErrTooManySessions = goerrors.New("Too many active sessions. Please try again later.", goerrors.CategoryRateLimit).
	WithCode(503).
	WithTextCode(TextCodeTooManySessions)

// ErrRegistryClosed is returned once the registry has been closed.
var ErrRegistryClosed = goerrors.New("session registry closed", goerrors.CategoryInternal).
	WithCode(503)

// SessionClient is the session state of one browser: its manager, the
// actions bound to it and the notifications raised outside of requests.
type SessionClient struct {
	ID       string
	Manager  *Manager
	Actions  *Actions
	Recovery *RecoveryHandler
	Queue    *NotificationQueue

	service  IdentityService
	lastSeen atomic.Int64
}

// Service returns the identity service the client runs against.
func (c *SessionClient) Service() IdentityService {
	if c.service == nil && c.Manager != nil {
		return c.Manager.Service()
	}
	return c.service
}

// LastSeen returns when a request last reached the client.
func (c *SessionClient) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *SessionClient) touch(now time.Time) {
	c.lastSeen.Store(now.UnixNano())
}

// SessionResolver finds the client a request belongs to.
type SessionResolver interface {
	// Lookup returns the client named by the request, or nil when the
	// request names none.
	Lookup(ctx router.Context) (*SessionClient, error)
	// Acquire is Lookup that starts a client for requests without one.
	Acquire(ctx router.Context) (*SessionClient, error)
}

// FixedSession resolves every request to the same client. Use it when
// the process serves a single user, for tests and local tools.
type FixedSession struct {
	Client *SessionClient
}

func (f FixedSession) Lookup(router.Context) (*SessionClient, error) {
	return f.Client, nil
}

func (f FixedSession) Acquire(router.Context) (*SessionClient, error) {
	return f.Client, nil
}

// ServiceFactory builds the identity service for the browser id.
type ServiceFactory func(ctx context.Context, id string) (IdentityService, error)

type sessionClaims struct {
	jwt.RegisteredClaims
}

// SessionRegistry keeps one SessionClient per browser. Browsers are told
// apart by a signed cookie holding a random id; a request without a
// valid cookie has no client and is anonymous.
type SessionRegistry struct {
	factory ServiceFactory
	cfg     Config
	key     []byte

	cookie      string
	cookieTTL   time.Duration
	secure      bool
	maxClients  int
	idle        time.Duration
	openTimeout time.Duration
	settleWait  time.Duration
	activity    ActivitySink
	logger      Logger
	provider    LoggerProvider
	now         func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	clients map[string]*SessionClient
	onOpen  []func(*SessionClient)
	cron    *cron.Cron
	closed  bool
}

// NewSessionRegistry creates a registry. key signs the session cookie
// and must be at least MinSessionKeyLength bytes.
func NewSessionRegistry(factory ServiceFactory, cfg Config, key []byte) *SessionRegistry {
	if factory == nil {
		panic("auth: session registry requires a service factory")
	}
	if len(key) < MinSessionKeyLength {
		panic("auth: session key must be at least 32 bytes")
	}

	provider, logger := ResolveLogger("auth.sessions", nil, nil)
	return &SessionRegistry{
		factory:     factory,
		cfg:         cfg,
		key:         key,
		cookie:      DefaultSessionCookie,
		cookieTTL:   DefaultSessionCookieTTL,
		idle:        DefaultSessionIdle,
		openTimeout: DefaultRequestTimeout,
		activity:    noopActivitySink{},
		logger:      logger,
		provider:    provider,
		now:         time.Now,
		clients:     make(map[string]*SessionClient),
	}
}

// WithCookie sets the cookie name and whether it is HTTPS only.
func (r *SessionRegistry) WithCookie(name string, secure bool) *SessionRegistry {
	if name != "" {
		r.cookie = name
	}
	r.secure = secure
	return r
}

// WithMaxClients caps the number of live clients. Zero means no cap.
func (r *SessionRegistry) WithMaxClients(n int) *SessionRegistry {
	if n >= 0 {
		r.maxClients = n
	}
	return r
}

// WithIdle sets how long an unused client survives a Sweep.
func (r *SessionRegistry) WithIdle(d time.Duration) *SessionRegistry {
	if d > 0 {
		r.idle = d
	}
	return r
}

// WithRecoveryWait sets how long a reset submit waits for a session.
func (r *SessionRegistry) WithRecoveryWait(d time.Duration) *SessionRegistry {
	r.settleWait = d
	return r
}

func (r *SessionRegistry) WithActivitySink(sink ActivitySink) *SessionRegistry {
	r.activity = normalizeActivitySink(sink)
	return r
}

func (r *SessionRegistry) WithLogger(logger Logger) *SessionRegistry {
	r.provider, r.logger = ResolveLogger("auth.sessions", r.provider, logger)
	return r
}

func (r *SessionRegistry) WithLoggerProvider(provider LoggerProvider) *SessionRegistry {
	r.provider, r.logger = ResolveLogger("auth.sessions", provider, r.logger)
	return r
}

func (r *SessionRegistry) WithClock(now func() time.Time) *SessionRegistry {
	if now != nil {
		r.now = now
	}
	return r
}

// OnOpen registers fn to run for every new client.
func (r *SessionRegistry) OnOpen(fn func(*SessionClient)) *SessionRegistry {
	if fn != nil {
		r.mu.Lock()
		r.onOpen = append(r.onOpen, fn)
		r.mu.Unlock()
	}
	return r
}

// Config returns the settings every client is built with.
func (r *SessionRegistry) Config() Config {
	return r.cfg
}

// Lookup returns the client named by the session cookie. A valid cookie
// for an evicted client opens it again, restoring from its store.
func (r *SessionRegistry) Lookup(ctx router.Context) (*SessionClient, error) {
	id, ok := r.parse(ctx.Cookies(r.cookie))
	if !ok {
		return nil, nil
	}
	return r.get(id)
}

// Acquire returns the client of the request, starting one and setting
// its cookie when the request has none.
func (r *SessionRegistry) Acquire(ctx router.Context) (*SessionClient, error) {
	client, err := r.Lookup(ctx)
	if err != nil || client != nil {
		return client, err
	}

	id := uuid.NewString()
	client, err = r.get(id)
	if err != nil {
		return nil, err
	}

	token, err := r.sign(id)
	if err != nil {
		return nil, err
	}
	ctx.Cookie(&router.Cookie{
		Name:     r.cookie,
		Value:    token,
		Path:     "/",
		Expires:  r.now().Add(r.cookieTTL),
		HTTPOnly: true,
		Secure:   r.secure,
		SameSite: "Lax",
	})
	r.logger.Debug("session client started", "id", id)
	return client, nil
}

// Get returns the live client for id, if any.
func (r *SessionRegistry) Get(id string) (*SessionClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Clients returns the live clients.
func (r *SessionRegistry) Clients() []*SessionClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SessionClient, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Sweep tears down clients idle since before now minus the idle limit
// and returns how many went. Their stored sessions stay, so a browser
// coming back picks up where it was.
func (r *SessionRegistry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.idle)

	r.mu.Lock()
	var idle []*SessionClient
	for id, c := range r.clients {
		if c.LastSeen().Before(cutoff) {
			idle = append(idle, c)
			delete(r.clients, id)
		}
	}
	r.mu.Unlock()

	for _, c := range idle {
		r.teardown(c)
	}
	if len(idle) > 0 {
		r.logger.Info("swept idle session clients", "count", len(idle))
	}
	return len(idle)
}

// StartSweeper runs Sweep on a cron schedule.
func (r *SessionRegistry) StartSweeper(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid sweep schedule").
			WithMetadata(map[string]any{"schedule": schedule})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return goerrors.New("sweeper already started", goerrors.CategoryConflict)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { r.Sweep(r.now()) }); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to schedule sweeper")
	}
	c.Start()
	r.cron = c
	return nil
}

// Close stops the sweeper and tears every client down.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	c := r.cron
	r.cron = nil
	clients := r.clients
	r.clients = make(map[string]*SessionClient)
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	for _, client := range clients {
		r.teardown(client)
	}
}

func (r *SessionRegistry) get(id string) (*SessionClient, error) {
	if c, ok := r.Get(id); ok {
		c.touch(r.now())
		return c, nil
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		return r.open(id)
	})
	if err != nil {
		return nil, err
	}
	c := v.(*SessionClient)
	c.touch(r.now())
	return c, nil
}

func (r *SessionRegistry) open(id string) (*SessionClient, error) {
	if c, ok := r.Get(id); ok {
		return c, nil
	}
	if err := r.admit(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.openTimeout)
	defer cancel()

	service, err := r.factory(ctx, id)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create session service").
			WithMetadata(map[string]any{"id": id})
	}

	client := r.build(id, service)
	client.touch(r.now())
	if err := client.Manager.Initialize(ctx); err != nil {
		r.logger.Warn("session client started degraded", "id", id, "error", err)
	}

	r.mu.Lock()
	if err := r.admitLocked(); err != nil {
		r.mu.Unlock()
		r.teardown(client)
		return nil, err
	}
	r.clients[id] = client
	hooks := append([]func(*SessionClient){}, r.onOpen...)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(client)
	}
	return client, nil
}

func (r *SessionRegistry) admit() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admitLocked()
}

func (r *SessionRegistry) admitLocked() error {
	if r.closed {
		return ErrRegistryClosed
	}
	if r.maxClients > 0 && len(r.clients) >= r.maxClients {
		r.logger.Warn("session registry full", "max", r.maxClients)
		return ErrTooManySessions
	}
	return nil
}

func (r *SessionRegistry) build(id string, service IdentityService) *SessionClient {
	queue := NewNotificationQueue(0)
	manager := NewManager(service, r.cfg,
		WithManagerNotifier(queue),
		WithManagerActivitySink(r.activity),
		WithManagerLoggerProvider(r.provider),
	)
	actions := NewActions(manager).
		WithNotifier(queue).
		WithActivitySink(r.activity).
		WithLoggerProvider(r.provider)
	recovery := NewRecoveryHandler(manager, actions).
		WithWait(r.settleWait).
		WithActivitySink(r.activity).
		WithLoggerProvider(r.provider)

	return &SessionClient{
		ID:       id,
		Manager:  manager,
		Actions:  actions,
		Recovery: recovery,
		Queue:    queue,
		service:  service,
	}
}

func (r *SessionRegistry) teardown(c *SessionClient) {
	c.Manager.Teardown()
	if closer, ok := c.service.(interface{ Close() }); ok {
		closer.Close()
	}
}

func (r *SessionRegistry) sign(id string) (string, error) {
	claims := sessionClaims{RegisteredClaims: jwt.RegisteredClaims{
		ID:       id,
		IssuedAt: jwt.NewNumericDate(r.now()),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.key)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign session cookie")
	}
	return token, nil
}

func (r *SessionRegistry) parse(value string) (string, bool) {
	if value == "" {
		return "", false
	}
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(value, claims, func(*jwt.Token) (any, error) {
		return r.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		r.logger.Debug("ignoring invalid session cookie", "error", err)
		return "", false
	}
	if _, err := uuid.Parse(claims.ID); err != nil {
		return "", false
	}
	return claims.ID, true
}
