package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/activitymap"
	"github.com/goliatone/go-auth-session/config"
	"github.com/goliatone/go-auth-session/metrics"
	"github.com/goliatone/go-auth-session/middleware/csrf"
	"github.com/goliatone/go-auth-session/offers"
	"github.com/goliatone/go-auth-session/provider/gotrue"
	"github.com/goliatone/go-auth-session/provider/local"
	"github.com/goliatone/go-auth-session/store"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/spf13/pflag"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/time/rate"
)

type App struct {
	config   *config.BaseConfig
	logger   *glog.BaseLogger
	db       *bun.DB
	scope    store.Scope
	factory  auth.ServiceFactory
	sessions *auth.SessionRegistry
	metrics  *metrics.Collector
	sinks    auth.ActivitySinks
	srv      router.Server[*fiber.App]

	closers []func()
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "path to the YAML or TOML configuration file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(levelFor(cfg.Logging.Level)),
		glog.WithName("app"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	if cfg.Server.Debug {
		fmt.Println("============")
		fmt.Println(print.MaybeHighlightJSON(cfg))
		fmt.Println("============")
	}

	app := &App{config: cfg, logger: lgr}
	defer app.Close()

	ctx := context.Background()
	steps := []func(context.Context, *App) error{
		WithPersistence,
		WithSessionStore,
		WithIdentityService,
		WithSessionRegistry,
		WithHTTPServer,
		WithMetricsServer,
	}
	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			app.GetLogger("app").Error("startup failed", "error", err)
			app.Close()
			os.Exit(1)
		}
	}

	go func() {
		if err := app.srv.Serve(cfg.Server.Addr); err != nil {
			app.GetLogger("app").Error("server failed", "error", err)
		}
	}()

	sig := WaitExitSignal()
	app.GetLogger("app").Info("shutting down", "signal", sig.String())
}

func levelFor(level string) string {
	switch level {
	case "trace":
		return glog.Trace
	case "debug":
		return glog.Debug
	case "warn":
		return glog.Warn
	case "error":
		return glog.Error
	default:
		return glog.Info
	}
}

func WithPersistence(ctx context.Context, app *App) error {
	cfg := app.config.Database

	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.GetDSN())
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to open database")
	}
	app.onClose(func() { _ = sqldb.Close() })

	persistence.RegisterModel((*local.User)(nil))
	persistence.RegisterModel((*local.PasswordReset)(nil))
	persistence.RegisterModel((*offers.OfferModel)(nil))

	client, err := persistence.New(cfg, sqldb, sqlitedialect.New())
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to create persistence client")
	}
	client.SetLogger(app.GetLogger("persistence"))

	sources := []struct {
		label string
		fsys  fs.FS
		dir   string
	}{
		{label: "local", fsys: local.GetMigrationsFS(), dir: local.MigrationsDir},
		{label: "offers", fsys: offers.GetMigrationsFS(), dir: offers.MigrationsDir},
	}
	for _, src := range sources {
		migrationsFS, err := fs.Sub(src.fsys, src.dir)
		if err != nil {
			return err
		}
		client.RegisterDialectMigrations(
			migrationsFS,
			persistence.WithDialectSourceLabel(src.label+"/"+src.dir),
			persistence.WithValidationTargets("sqlite"),
		)
	}

	if err := client.ValidateDialects(ctx); err != nil {
		return err
	}
	if err := client.Migrate(ctx); err != nil {
		return err
	}

	app.db = client.DB()
	return nil
}

// WithSessionStore picks where each browser's session is kept. Every
// browser gets its own entry, keyed by its session id.
func WithSessionStore(ctx context.Context, app *App) error {
	cfg := app.config.Store

	switch cfg.Kind {
	case config.StoreFile:
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to create session directory").
				WithMetadata(map[string]any{"path": cfg.Path})
		}
		app.scope = store.FileScope(cfg.Path)
	case config.StoreRedis:
		client, err := store.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		app.onClose(func() { _ = client.Close() })
		app.scope = store.RedisScope(client, cfg.Redis.Key, cfg.Redis.TTL)
	default:
		app.scope = store.MemoryScope()
	}

	app.GetLogger("store").Info("session store ready", "kind", cfg.Kind)
	return nil
}

func WithIdentityService(ctx context.Context, app *App) error {
	cfg := app.config.Provider
	logger := app.GetLogger("auth:provider")

	app.metrics = metrics.NewCollector()
	app.sinks = auth.ActivitySinks{app.metrics}
	if path := app.config.Logging.AuditPath; path != "" {
		w, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to open audit log").
				WithMetadata(map[string]any{"path": path})
		}
		app.onClose(func() { _ = w.Close() })
		app.sinks = append(app.sinks, auditSink(w, app.GetLogger("audit")))
	}

	switch cfg.Kind {
	case config.ProviderGoTrue:
		client, err := gotrue.New(gotrue.Options{
			URL:    cfg.GoTrue.URL,
			APIKey: cfg.GoTrue.APIKey,
			Verifier: gotrue.VerifierConfig{
				Secret:      cfg.GoTrue.JWTSecret,
				SigningKeys: cfg.GoTrue.SigningKeys,
				JWKSURL:     cfg.GoTrue.JWKSURL,
				Issuer:      cfg.GoTrue.Issuer,
				Audience:    cfg.GoTrue.Audience,
			},
			Timeout: cfg.GoTrue.Timeout,
		})
		if err != nil {
			return err
		}
		client.WithLogger(logger)
		if cfg.GoTrue.RateLimit > 0 {
			client.WithRateLimit(rate.Limit(cfg.GoTrue.RateLimit), cfg.GoTrue.RateBurst)
		}
		app.onClose(client.Close)

		app.factory = func(ctx context.Context, id string) (auth.IdentityService, error) {
			fork := client.Fork(app.scope(id))
			if err := fork.StartAutoRefresh(cfg.RefreshScheduleRaw, cfg.RefreshBefore); err != nil {
				fork.Close()
				return nil, err
			}
			return fork, nil
		}

	default:
		key := []byte(cfg.Local.SigningKey)
		tokens := local.NewTokenService(key, cfg.Local.Issuer, cfg.Local.Audience)
		settings := app.config.Auth.Settings()

		repo := local.NewRepositoryManager(app.db)
		if err := repo.Validate(); err != nil {
			return err
		}

		service := local.NewService(repo, tokens).
			WithMailer(local.LogMailer{Logger: app.GetLogger("mailer")}).
			WithActivitySink(app.sinks).
			WithLogger(logger).
			WithTTL(cfg.Local.AccessTTL, cfg.Local.RefreshTTL).
			WithAutoConfirm(cfg.Local.AutoConfirm).
			WithConfirmRedirect(settings.GetSiteURL() + settings.GetLoginPath())

		app.factory = func(ctx context.Context, id string) (auth.IdentityService, error) {
			return service.Fork(app.scope(id)), nil
		}

		janitor := local.NewJanitor(service).
			WithLogger(app.GetLogger("auth:janitor")).
			WithRefreshBefore(cfg.RefreshBefore).
			WithSessions(app.localSessions)
		if err := janitor.Start(cfg.Local.JanitorRaw); err != nil {
			service.Close()
			return err
		}
		app.onClose(func() {
			janitor.Stop()
			service.Close()
		})
	}

	logger.Info("identity service ready", "kind", cfg.Kind)
	return nil
}

func auditSink(w io.Writer, logger glog.Logger) auth.ActivitySink {
	return activitymap.NewSink(w).WithLogger(logger)
}

// localSessions lists the services of the live browser sessions for
// the janitor.
func (a *App) localSessions() []*local.Service {
	if a.sessions == nil {
		return nil
	}
	var out []*local.Service
	for _, c := range a.sessions.Clients() {
		if svc, ok := c.Service().(*local.Service); ok {
			out = append(out, svc)
		}
	}
	return out
}

func WithSessionRegistry(ctx context.Context, app *App) error {
	cfg := app.config.Sessions

	key := []byte(cfg.Key)
	if len(key) == 0 {
		key = make([]byte, auth.MinSessionKeyLength)
		if _, err := rand.Read(key); err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to generate session key")
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	app.onClose(cancel)

	registry := auth.NewSessionRegistry(app.factory, app.config.Auth.Settings(), key).
		WithCookie(cfg.CookieName, app.config.Server.SecureCookie).
		WithMaxClients(cfg.MaxClients).
		WithIdle(cfg.Idle).
		WithRecoveryWait(app.config.Auth.SettleWait).
		WithActivitySink(app.sinks).
		WithLoggerProvider(app.logger).
		OnOpen(func(c *auth.SessionClient) {
			go app.metrics.Watch(c.Manager.Watch(watchCtx))
		})

	if err := registry.StartSweeper(cfg.SweepSchedule); err != nil {
		registry.Close()
		return err
	}
	app.onClose(registry.Close)

	app.sessions = registry
	return nil
}

func WithHTTPServer(ctx context.Context, app *App) error {
	cfg := app.config
	settings := cfg.Auth.Settings()

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: cfg.Server.Debug,
			StrictRouting:     false,
		}))
	})

	r := srv.Router()
	r.WithLogger(app.GetLogger("router"))

	key := []byte(cfg.Server.CSRFKey)
	if len(key) == 0 {
		key = make([]byte, csrf.MinKeyLength)
		if _, err := rand.Read(key); err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to generate CSRF key")
		}
	}
	r.Use(csrf.New(csrf.Config{
		Key:    key,
		Secure: cfg.Server.SecureCookie,
	}))
	csrf.RegisterRoutes(r, "/api/csrf")

	guard := auth.NewRouteGuard(nil, settings).
		WithSessions(app.sessions).
		WithLoggerProvider(app.logger)

	controller := auth.RegisterSessionRoutes(r,
		auth.WithControllerSessions(app.sessions),
		auth.WithControllerGuard(guard),
		auth.WithControllerLogger(app.GetLogger("auth:http")),
		auth.WithControllerDebug(cfg.Server.Debug),
	)
	if cfg.Auth.SettleWait > 0 {
		controller.SettleWait = cfg.Auth.SettleWait
	}

	service := offers.NewService(offers.NewRepository(app.db), nil).
		WithLoggerProvider(app.logger)
	offerController := offers.NewController(service, guard)
	offerController.Debug = cfg.Server.Debug
	offerController.Logger = app.GetLogger("offers:http")
	offers.RegisterRoutes(r, offerController)

	app.onClose(func() {
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			app.GetLogger("app").Warn("server shutdown", "error", err)
		}
	})

	app.srv = srv
	return nil
}

// WithMetricsServer exposes the collector on its own listener.
func WithMetricsServer(ctx context.Context, app *App) error {
	cfg := app.config.Metrics
	if !cfg.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, app.metrics.Handler())
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger := app.GetLogger("metrics")
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	app.onClose(func() {
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdown)
	})

	logger.Info("metrics listening", "addr", cfg.Addr, "path", cfg.Path)
	return nil
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
