package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-router"
)

// GuardState is the route guard decision for a snapshot.
type GuardState int

const (
	// GuardPending means the session is still loading.
	GuardPending GuardState = iota
	// GuardAnonymous means nobody is signed in.
	GuardAnonymous
	// GuardAuthenticated means an identity is present.
	GuardAuthenticated
)

func (s GuardState) String() string {
	switch s {
	case GuardPending:
		return "PENDING"
	case GuardAnonymous:
		return "ANONYMOUS"
	case GuardAuthenticated:
		return "AUTHENTICATED"
	}
	return "UNKNOWN"
}

// GuardStateOf derives the guard state from a snapshot.
func GuardStateOf(s Snapshot) GuardState {
	switch {
	case s.Loading:
		return GuardPending
	case s.Identity == nil:
		return GuardAnonymous
	default:
		return GuardAuthenticated
	}
}

// RouteGuard gates routes on the session state. It holds no state of
// its own; every decision reads a fresh snapshot of the session the
// request belongs to.
type RouteGuard struct {
	source   SnapshotSource
	sessions SessionResolver
	cfg      Config
	logger   Logger
	provider LoggerProvider
}

// NewRouteGuard creates a guard reading from source. source may be nil
// when sessions are resolved per request with WithSessions.
func NewRouteGuard(source SnapshotSource, cfg Config) *RouteGuard {
	provider, logger := ResolveLogger("auth.guard", nil, nil)
	return &RouteGuard{
		source:   source,
		cfg:      cfg,
		logger:   logger,
		provider: provider,
	}
}

// WithLogger overrides the logger used by the guard.
func (g *RouteGuard) WithLogger(logger Logger) *RouteGuard {
	g.provider, g.logger = ResolveLogger("auth.guard", g.provider, logger)
	return g
}

// WithLoggerProvider overrides the logger provider.
func (g *RouteGuard) WithLoggerProvider(provider LoggerProvider) *RouteGuard {
	g.provider, g.logger = ResolveLogger("auth.guard", provider, g.logger)
	return g
}

// WithSessions makes the guard read the session of each request.
func (g *RouteGuard) WithSessions(sessions SessionResolver) *RouteGuard {
	g.sessions = sessions
	return g
}

// Decide returns the guard state for the source snapshot.
func (g *RouteGuard) Decide() GuardState {
	if g.source == nil {
		return GuardStateOf(AnonymousSnapshot())
	}
	return GuardStateOf(g.source.Snapshot())
}

// SnapshotFor returns the state of the session ctx belongs to. A
// request without a session is anonymous.
func (g *RouteGuard) SnapshotFor(ctx router.Context) Snapshot {
	if g.sessions == nil {
		if g.source == nil {
			return AnonymousSnapshot()
		}
		return g.source.Snapshot()
	}

	client, err := g.sessions.Lookup(ctx)
	if err != nil {
		g.logger.Warn("failed to resolve session, treating request as anonymous", "error", err)
		return AnonymousSnapshot()
	}
	if client == nil {
		return AnonymousSnapshot()
	}
	return client.Manager.Snapshot()
}

// DecideFor returns the guard state for the session of ctx.
func (g *RouteGuard) DecideFor(ctx router.Context) GuardState {
	return GuardStateOf(g.SnapshotFor(ctx))
}

// Protect renders a placeholder while pending, redirects anonymous
// visitors to the login path, remembering where they were going, and
// lets authenticated requests through.
func (g *RouteGuard) Protect() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			switch g.DecideFor(ctx) {
			case GuardPending:
				return g.pending(ctx)
			case GuardAnonymous:
				g.logger.Info("anonymous request to protected route, redirecting to login", "path", ctx.OriginalURL())
				g.SetRedirect(ctx)
				return ctx.Redirect(g.cfg.GetLoginPath(), http.StatusSeeOther)
			default:
				return next(ctx)
			}
		}
	}
}

// ProtectAPI is Protect for JSON endpoints: anonymous requests get a 401.
func (g *RouteGuard) ProtectAPI() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			switch g.DecideFor(ctx) {
			case GuardPending:
				return g.pending(ctx)
			case GuardAnonymous:
				return ctx.JSON(router.StatusUnauthorized, router.ViewContext{
					"success":   false,
					"error":     ErrNotAuthenticated.Message,
					"text_code": ErrNotAuthenticated.TextCode,
				})
			default:
				return next(ctx)
			}
		}
	}
}

// AdminOnly lets through only the admin identity.
func (g *RouteGuard) AdminOnly() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return g.ProtectAPI()(func(ctx router.Context) error {
			if !g.SnapshotFor(ctx).IsAdmin {
				g.logger.Warn("non admin request to admin route", "path", ctx.OriginalURL())
				return ctx.JSON(router.StatusForbidden, router.ViewContext{
					"success":   false,
					"error":     ErrNotAdmin.Message,
					"text_code": ErrNotAdmin.TextCode,
				})
			}
			return next(ctx)
		})
	}
}

// SetRedirect remembers the rejected route so login can return to it.
func (g *RouteGuard) SetRedirect(ctx router.Context) {
	ctx.Cookie(&router.Cookie{
		Name:     g.cfg.GetRedirectParam(),
		Value:    ctx.OriginalURL(),
		Expires:  time.Now().Add(time.Minute * 5),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

// GetRedirect returns the remembered route, or def when there is none or
// it is not a local path. The cookie is cleared.
func (g *RouteGuard) GetRedirect(ctx router.Context, def string) string {
	key := g.cfg.GetRedirectParam()
	target := ctx.Cookies(key)
	if target == "" {
		return def
	}

	ctx.Cookie(&router.Cookie{
		Name:     key,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})

	if !IsLocalPath(target) {
		return def
	}
	return target
}

func (g *RouteGuard) pending(ctx router.Context) error {
	ctx.SetHeader("Retry-After", "1")
	return ctx.JSON(http.StatusServiceUnavailable, router.ViewContext{
		"status":  GuardPending.String(),
		"loading": true,
	})
}

// IsLocalPath reports whether target is a same-site absolute path.
func IsLocalPath(target string) bool {
	return strings.HasPrefix(target, "/") &&
		!strings.HasPrefix(target, "//") &&
		!strings.HasPrefix(target, "/\\")
}
