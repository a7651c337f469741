package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Manager owns the session state of one client. It reconciles the
// initial session fetch with the change event stream, applies events in
// delivery order through a single reducer and publishes snapshots.
type Manager struct {
	service  IdentityService
	cfg      Config
	policy   AdminPolicy
	notifier Notifier
	activity ActivitySink
	logger   Logger
	provider LoggerProvider

	// pubMu is taken before mu and held until the snapshot is queued,
	// so watchers see snapshots in the order they were computed.
	pubMu    sync.Mutex
	mu       sync.RWMutex
	state    sessionState
	resolved chan struct{}

	watchers *Broadcaster[Snapshot]

	sub      Subscription
	loopDone chan struct{}
	cancel   context.CancelFunc

	initOnce     sync.Once
	teardownOnce sync.Once
	torn         atomic.Bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerNotifier sets the default notifier for session level messages.
func WithManagerNotifier(n Notifier) ManagerOption {
	return func(m *Manager) {
		m.notifier = normalizeNotifier(n)
	}
}

// WithManagerActivitySink sets the sink receiving session events.
func WithManagerActivitySink(sink ActivitySink) ManagerOption {
	return func(m *Manager) {
		m.activity = normalizeActivitySink(sink)
	}
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		m.provider, m.logger = ResolveLogger("auth.manager", m.provider, logger)
	}
}

// WithManagerLoggerProvider resolves the manager logger from provider.
func WithManagerLoggerProvider(provider LoggerProvider) ManagerOption {
	return func(m *Manager) {
		m.provider, m.logger = ResolveLogger("auth.manager", provider, m.logger)
	}
}

// NewManager creates a manager. Call Initialize once before use and
// Teardown when done.
func NewManager(service IdentityService, cfg Config, opts ...ManagerOption) *Manager {
	provider, logger := ResolveLogger("auth.manager", nil, nil)
	m := &Manager{
		service:  service,
		cfg:      cfg,
		policy:   AdminPolicy{AdminEmail: cfg.GetAdminEmail()},
		notifier: noopNotifier{},
		activity: noopActivitySink{},
		logger:   logger,
		provider: provider,
		resolved: make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	m.watchers = NewBroadcaster[Snapshot](WithMaxQueue(1), WithBroadcasterLogger(m.logger))

	return m
}

// Initialize subscribes to the change event stream and then fetches the
// current session. It runs once; later calls return nil. Fetch and
// subscription failures are not fatal: the manager resolves to the
// anonymous or last known state and the error is returned for logging.
func (m *Manager) Initialize(ctx context.Context) error {
	var err error
	m.initOnce.Do(func() {
		err = m.initialize(ctx)
	})
	return err
}

func (m *Manager) initialize(ctx context.Context) error {
	if m.torn.Load() {
		return nil
	}

	// The subscription outlives the Initialize call.
	life, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var subErr error
	sub, err := m.service.Subscribe(life)
	if err != nil {
		subErr = NewSubscriptionError(err)
		m.logger.Error("session change subscription failed", "error", err)
		m.markStreamFailed(ctx, subErr)
		cancel()
	} else {
		m.mu.Lock()
		m.cancel = cancel
		m.sub = sub
		m.loopDone = make(chan struct{})
		m.mu.Unlock()
		go m.loop(sub, m.loopDone)
	}

	session, err := m.service.GetSession(ctx)

	var fetchErr error
	if err != nil {
		fetchErr = NewSessionFetchError(err)
	}

	var superseded bool
	snap := m.commit(func() bool {
		superseded = m.state.eventApplied
		if !superseded {
			if fetchErr != nil || session == nil {
				m.state.identity = nil
				m.state.recovery = false
			} else {
				m.state.identity = NewIdentity(session.User, m.policy)
				m.state.recovery = session.Recovery
			}
		}
		first := m.resolveLocked()
		return first || !superseded
	})

	if fetchErr != nil {
		m.logger.Error("initial session fetch failed", "error", err, "superseded", superseded)
		recordActivity(ctx, m.activity, m.logger, ActivityEvent{
			EventType: ActivityEventSessionFetchFailure,
			Actor:     ActorRef{Type: "system"},
			Metadata:  map[string]any{"error": err.Error()},
		})
		if !superseded {
			NotifierFromContext(ctx, m.notifier).Notify(ctx, withDefaults(Notification{
				Title:       "Session Error",
				Description: "Could not fetch session.",
				Variant:     VariantDestructive,
			}))
		}
	} else {
		m.logger.Debug("initial session resolved", "authenticated", snap.Authenticated(), "superseded", superseded)
	}

	return errors.Join(subErr, fetchErr)
}

func (m *Manager) loop(sub Subscription, done chan struct{}) {
	defer close(done)

	for event := range sub.Events() {
		m.HandleEvent(event)
	}

	if m.torn.Load() {
		return
	}

	err := NewSubscriptionError(sub.Err())
	m.logger.Error("session change stream dropped, keeping last known state", "error", err)
	m.markStreamFailed(context.Background(), err)
}

// HandleEvent is the reducer for change events. It rebuilds the
// identity from the event session and republishes the state. Applying
// the same event twice leaves the same state. Events after Teardown are
// ignored.
func (m *Manager) HandleEvent(event Event) {
	if m.torn.Load() {
		return
	}

	if !event.Kind.Valid() {
		m.logger.Warn("ignoring unknown session event", "kind", event.Kind)
		return
	}

	var identity *Identity
	if event.Session != nil {
		identity = NewIdentity(event.Session.User, m.policy)
	}

	var previous *Identity
	m.commit(func() bool {
		m.state.eventApplied = true
		switch {
		case event.Session == nil:
			m.state.recovery = false
		case event.Kind == EventPasswordRecovery || event.Session.Recovery:
			m.state.recovery = true
		case event.Kind == EventSignedIn:
			m.state.recovery = false
		}
		previous = m.state.identity
		m.state.identity = identity
		m.resolveLocked()
		return true
	})

	m.logger.Debug("session event applied", "kind", event.Kind, "authenticated", identity != nil)

	if !previous.Equal(identity) || event.Kind == EventPasswordRecovery {
		recordActivity(context.Background(), m.activity, m.logger, ActivityEvent{
			EventType: ActivityEventSessionChanged,
			Actor:     ActorRef{ID: identity.ID(), Type: "user"},
			UserID:    identity.ID(),
			Metadata:  map[string]any{"event": string(event.Kind)},
		})
	}
}

// Teardown unsubscribes from the change event stream and closes all
// watchers. Only the first call has an effect.
func (m *Manager) Teardown() {
	m.teardownOnce.Do(func() {
		m.torn.Store(true)

		m.mu.RLock()
		sub, done, cancel := m.sub, m.loopDone, m.cancel
		m.mu.RUnlock()

		if sub != nil {
			sub.Unsubscribe()
		}
		if cancel != nil {
			cancel()
		}
		if done != nil {
			<-done
		}

		m.watchers.Close()
		m.logger.Debug("session manager torn down")
	})
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Watch streams snapshots, starting with the current one. Slow readers
// only see the latest snapshot. The channel closes when ctx is done or
// the manager is torn down.
func (m *Manager) Watch(ctx context.Context) <-chan Snapshot {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.RLock()
	current := m.snapshotLocked()
	m.mu.RUnlock()

	ch, _ := m.watchers.Subscribe(ctx, current)
	return ch
}

// WaitResolved blocks until the first session resolution or ctx is done.
func (m *Manager) WaitResolved(ctx context.Context) error {
	select {
	case <-m.resolved:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitFor blocks until a snapshot satisfies cond.
func (m *Manager) WaitFor(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	if snap := m.Snapshot(); cond(snap) {
		return snap, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for snap := range m.Watch(ctx) {
		if cond(snap) {
			return snap, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return m.Snapshot(), err
	}
	return m.Snapshot(), errors.New("session manager closed")
}

// Service returns the identity service the manager is bound to.
func (m *Manager) Service() IdentityService {
	return m.service
}

// Config returns the manager configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Policy returns the admin policy.
func (m *Manager) Policy() AdminPolicy {
	return m.policy
}

// beginAction marks a remote call in flight. The returned func must be
// called exactly once when the call settles.
func (m *Manager) beginAction() func() {
	m.commit(func() bool {
		m.state.inflight++
		return true
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.commit(func() bool {
				m.state.inflight--
				return true
			})
		})
	}
}

// clearIdentity drops the identity right away, ahead of the sign out event.
func (m *Manager) clearIdentity() {
	m.commit(func() bool {
		m.state.identity = nil
		m.state.recovery = false
		m.state.eventApplied = true
		m.resolveLocked()
		return true
	})
}

// replaceUser rebuilds the identity from a fresh server copy of the
// user. It is ignored when a different identity, or none, is current.
func (m *Manager) replaceUser(user *User) bool {
	identity := NewIdentity(user, m.policy)
	if identity == nil {
		return false
	}

	replaced := false
	m.commit(func() bool {
		current := m.state.identity
		if current == nil || current.ID() != identity.ID() {
			return false
		}
		m.state.identity = identity
		replaced = true
		return true
	})
	return replaced
}

func (m *Manager) markStreamFailed(ctx context.Context, err error) {
	m.commit(func() bool {
		m.state.streamFailed = true
		return true
	})

	recordActivity(ctx, m.activity, m.logger, ActivityEvent{
		EventType: ActivityEventSubscriptionFailure,
		Actor:     ActorRef{Type: "system"},
		Metadata:  map[string]any{"error": err.Error()},
	})
}

// commit runs apply under the state lock and, when it reports a change
// worth publishing, queues the resulting snapshot for watchers.
func (m *Manager) commit(apply func() bool) Snapshot {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.Lock()
	publish := apply()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if publish {
		m.watchers.Publish(snap)
	}
	return snap
}

// resolveLocked flips the resolved flag once and reports whether this
// call did it.
func (m *Manager) resolveLocked() bool {
	if m.state.resolved {
		return false
	}
	m.state.resolved = true
	close(m.resolved)
	return true
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		Identity:      m.state.identity,
		Loading:       !m.state.resolved || m.state.inflight > 0,
		IsAdmin:       IsAdmin(m.state.identity, m.policy),
		Resolved:      m.state.resolved,
		Recovery:      m.state.recovery,
		StreamHealthy: !m.state.streamFailed,
	}
}
