package offers_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"io/fs"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/offers"
	"github.com/goliatone/go-router"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/migrate"
)

const adminEmail = "admin@example.com"

var policy = auth.AdminPolicy{AdminEmail: adminEmail}

// sessionSource is a switchable snapshot source.
type sessionSource struct {
	mu   sync.Mutex
	snap auth.Snapshot
}

func (s *sessionSource) Snapshot() auth.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *sessionSource) signIn(id, email string) {
	identity := auth.NewIdentity(&auth.User{ID: id, Email: email}, policy)
	s.mu.Lock()
	s.snap = auth.Snapshot{Identity: identity, IsAdmin: auth.IsAdmin(identity, policy), Resolved: true}
	s.mu.Unlock()
}

func (s *sessionSource) signOut() {
	s.mu.Lock()
	s.snap = auth.Snapshot{Resolved: true}
	s.mu.Unlock()
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now advances a second per call so inserts get distinct timestamps.
func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func setupDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	sub, err := fs.Sub(offers.GetMigrationsFS(), offers.MigrationsDir)
	require.NoError(t, err)
	migrations := migrate.NewMigrations()
	require.NoError(t, migrations.Discover(sub))

	ctx := context.Background()
	migrator := migrate.NewMigrator(db, migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err = migrator.Migrate(ctx)
	require.NoError(t, err)
	return db
}

type fixture struct {
	db      *bun.DB
	repo    *offers.Repository
	source  *sessionSource
	service *offers.Service
}

func setupService(t *testing.T) *fixture {
	t.Helper()
	db := setupDB(t)
	repo := offers.NewRepository(db)
	source := &sessionSource{snap: auth.Snapshot{Resolved: true}}
	clock := &stepClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return &fixture{
		db:      db,
		repo:    repo,
		source:  source,
		service: offers.NewService(repo, source).WithClock(clock.Now),
	}
}

func validInput(title string) offers.Input {
	return offers.Input{
		Title:        title,
		SiteName:     "AwesomeSoft",
		Instructions: "Step 1: **sign up**\nStep 2: redeem",
		Warnings:     []string{"first", "second", "third"},
		Link:         "https://example.com/offer",
	}
}

type requestMock struct {
	*router.MockContext
	body   []byte
	params map[string]string
}

func newRequestMock() *requestMock {
	return &requestMock{MockContext: router.NewMockContext(), params: map[string]string{}}
}

func (m *requestMock) withBody(v any) *requestMock {
	m.body, _ = json.Marshal(v)
	return m
}

func (m *requestMock) withParam(key, value string) *requestMock {
	m.params[key] = value
	return m
}

func (m *requestMock) Bind(v any) error {
	if len(m.body) == 0 {
		return nil
	}
	return json.Unmarshal(m.body, v)
}

func (m *requestMock) Param(name string, defaultValue ...string) string {
	if v, ok := m.params[name]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (m *requestMock) OriginalURL() string {
	return "/api/offers"
}

func toJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}
