package gotrue

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	testSecret = "gotrue-test-secret"
	testAPIKey = "anon-key"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeUser struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Password string         `json:"-"`
	Metadata map[string]any `json:"user_metadata"`
}

// fakeServer implements the subset of the GoTrue API the client uses.
type fakeServer struct {
	t      *testing.T
	clock  *testClock
	ttl    time.Duration
	secret string

	mu          sync.Mutex
	users       map[string]*fakeUser
	refresh     map[string]string
	hashes      map[string]string
	autoConfirm bool
	calls       map[string]int
	lastQuery   map[string]string
	apiKeys     []string
	// refreshGate, when set, blocks refresh grants until closed.
	refreshGate chan struct{}

	srv *httptest.Server
}

func newFakeServer(t *testing.T, clock *testClock) *fakeServer {
	t.Helper()
	s := &fakeServer{
		t:         t,
		clock:     clock,
		ttl:       time.Hour,
		secret:    testSecret,
		users:     map[string]*fakeUser{},
		refresh:   map[string]string{},
		hashes:    map[string]string{},
		calls:     map[string]int{},
		lastQuery: map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", s.token)
	mux.HandleFunc("/auth/v1/signup", s.signup)
	mux.HandleFunc("/auth/v1/logout", s.logout)
	mux.HandleFunc("/auth/v1/user", s.user)
	mux.HandleFunc("/auth/v1/recover", s.recover)
	mux.HandleFunc("/auth/v1/verify", s.verify)

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		key := r.Method + " " + strings.TrimPrefix(r.URL.Path, "/auth/v1")
		if gt := r.URL.Query().Get("grant_type"); gt != "" {
			key += "?" + gt
		}
		s.calls[key]++
		s.apiKeys = append(s.apiKeys, r.Header.Get("apikey"))
		for k := range r.URL.Query() {
			s.lastQuery[k] = r.URL.Query().Get(k)
		}
		s.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *fakeServer) url() string {
	return s.srv.URL + "/auth/v1"
}

func (s *fakeServer) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func (s *fakeServer) addUser(email, password, name string) *fakeUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &fakeUser{
		ID:       uuid.NewString(),
		Email:    email,
		Password: password,
		Metadata: map[string]any{"name": name},
	}
	s.users[email] = u
	return u
}

func (s *fakeServer) sign(u *fakeUser, secret string) string {
	now := s.clock.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Email:        u.Email,
		Role:         "authenticated",
		UserMetadata: u.Metadata,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		s.t.Fatalf("sign: %v", err)
	}
	return token
}

// issue must be called with mu held.
func (s *fakeServer) issue(u *fakeUser) map[string]any {
	rt := uuid.NewString()
	s.refresh[rt] = u.Email
	return map[string]any{
		"access_token":  s.sign(u, s.secret),
		"token_type":    "bearer",
		"expires_in":    int(s.ttl.Seconds()),
		"expires_at":    s.clock.Now().Add(s.ttl).Unix(),
		"refresh_token": rt,
		"user":          u,
	}
}

// recoveryHash must be called with mu held.
func (s *fakeServer) recoveryHash(email string) string {
	hash := uuid.NewString()
	s.hashes[hash] = email
	return hash
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *fakeServer) fail(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"code": status, "error_code": code, "msg": msg})
}

func (s *fakeServer) bearer(r *http.Request) (*fakeUser, bool) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(s.secret), nil
	}, jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[claims.Email]
	return u, ok
}

func (s *fakeServer) token(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("grant_type") {
	case "password":
		var body passwordGrant
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		defer s.mu.Unlock()
		u, ok := s.users[body.Email]
		if !ok || u.Password != body.Password {
			s.fail(w, http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
			return
		}
		writeJSON(w, http.StatusOK, s.issue(u))
	case "refresh_token":
		var body refreshGrant
		_ = json.NewDecoder(r.Body).Decode(&body)

		s.mu.Lock()
		gate := s.refreshGate
		s.mu.Unlock()
		if gate != nil {
			<-gate
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		email, ok := s.refresh[body.RefreshToken]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":             "invalid_grant",
				"error_description": "Invalid Refresh Token: Refresh Token Not Found",
			})
			return
		}
		delete(s.refresh, body.RefreshToken)
		writeJSON(w, http.StatusOK, s.issue(s.users[email]))
	default:
		s.fail(w, http.StatusBadRequest, "validation_failed", "unsupported grant type")
	}
}

func (s *fakeServer) signup(w http.ResponseWriter, r *http.Request) {
	var body signUpBody
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[body.Email]; exists {
		s.fail(w, http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
		return
	}
	u := &fakeUser{ID: uuid.NewString(), Email: body.Email, Password: body.Password, Metadata: body.Data}
	s.users[body.Email] = u
	if s.autoConfirm {
		writeJSON(w, http.StatusOK, s.issue(u))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *fakeServer) logout(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.bearer(r); !ok {
		s.fail(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *fakeServer) user(w http.ResponseWriter, r *http.Request) {
	u, ok := s.bearer(r)
	if !ok {
		s.fail(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT")
		return
	}

	if r.Method == http.MethodPut {
		var body updateUserBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		if body.Password != nil {
			u.Password = *body.Password
		}
		if u.Metadata == nil {
			u.Metadata = map[string]any{}
		}
		for k, v := range body.Data {
			u.Metadata[k] = v
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, u)
}

func (s *fakeServer) recover(w http.ResponseWriter, r *http.Request) {
	var body recoverBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[body.Email]; ok {
		s.recoveryHash(body.Email)
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *fakeServer) verify(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.hashes[body.TokenHash]
	if !ok {
		s.fail(w, http.StatusForbidden, "otp_expired", "Email link is invalid or has expired")
		return
	}
	delete(s.hashes, body.TokenHash)
	writeJSON(w, http.StatusOK, s.issue(s.users[email]))
}

// lastHash returns any pending recovery hash.
func (s *fakeServer) lastHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h := range s.hashes {
		return h
	}
	return ""
}
