// Package csrf protects state changing session endpoints with a signed
// double submit token.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"slices"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

const (
	TextCodeTokenMissing  = "CSRF_TOKEN_MISSING"
	TextCodeTokenMismatch = "CSRF_TOKEN_MISMATCH"
	TextCodeTokenExpired  = "CSRF_TOKEN_EXPIRED"
)

var ErrTokenMissing = goerrors.New("CSRF token missing", goerrors.CategoryAuthz).
	WithCode(goerrors.CodeForbidden).
	WithTextCode(TextCodeTokenMissing)

var ErrTokenMismatch = goerrors.New("CSRF token mismatch", goerrors.CategoryAuthz).
	WithCode(goerrors.CodeForbidden).
	WithTextCode(TextCodeTokenMismatch)

var ErrTokenExpired = goerrors.New("CSRF token expired", goerrors.CategoryAuthz).
	WithCode(goerrors.CodeForbidden).
	WithTextCode(TextCodeTokenExpired)

const (
	DefaultCookieName = "csrf_token"
	DefaultHeaderName = "X-CSRF-Token"
	DefaultFieldName  = "_token"
	// DefaultContextKey holds the current token in the request locals.
	DefaultContextKey = "csrf_token"
	DefaultExpiration = 12 * time.Hour
	// MinKeyLength is the shortest accepted signing key.
	MinKeyLength = 32

	nonceLength = 16
)

// Config defines the configuration for CSRF middleware.
type Config struct {
	// Key signs tokens. Required, at least MinKeyLength bytes.
	Key         []byte
	CookieName  string
	HeaderName  string
	FieldName   string
	ContextKey  string
	Expiration  time.Duration
	SafeMethods []string
	// Secure marks the cookie HTTPS only.
	Secure bool
	// Skip bypasses the check for matching requests.
	Skip         func(router.Context) bool
	ErrorHandler router.ErrorHandler
	Now          func() time.Time
}

func configDefault(cfg Config) Config {
	if len(cfg.Key) < MinKeyLength {
		panic("csrf: signing key must be at least 32 bytes")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.FieldName == "" {
		cfg.FieldName = DefaultFieldName
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = DefaultExpiration
	}
	if len(cfg.SafeMethods) == 0 {
		cfg.SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// New creates the middleware. Safe requests get a token cookie when
// they lack a valid one; other requests must echo the cookie value in
// the header or form field.
func New(config Config) router.MiddlewareFunc {
	cfg := configDefault(config)
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return next(ctx)
			}

			cookie := ctx.Cookies(cfg.CookieName)
			if slices.Contains(cfg.SafeMethods, strings.ToUpper(ctx.Method())) {
				token := cookie
				if verify(cfg.Key, token, cfg.Now(), cfg.Expiration) != nil {
					token = Issue(cfg.Key, cfg.Now())
					setCookie(ctx, cfg, token)
				}
				ctx.Locals(cfg.ContextKey, token)
				return next(ctx)
			}

			if err := check(ctx, cfg, cookie); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}
			ctx.Locals(cfg.ContextKey, cookie)
			return next(ctx)
		}
	}
}

func check(ctx router.Context, cfg Config, cookie string) error {
	received := ctx.GetString(cfg.HeaderName, "")
	if received == "" {
		received = ctx.FormValue(cfg.FieldName)
	}
	if received == "" || cookie == "" {
		return ErrTokenMissing
	}
	if subtle.ConstantTimeCompare([]byte(received), []byte(cookie)) != 1 {
		return ErrTokenMismatch
	}
	return verify(cfg.Key, received, cfg.Now(), cfg.Expiration)
}

// Issue returns a new token signed with key.
func Issue(key []byte, now time.Time) string {
	payload := make([]byte, 8+nonceLength)
	binary.BigEndian.PutUint64(payload, uint64(now.Unix()))
	if _, err := rand.Read(payload[8:]); err != nil {
		panic("csrf: failed to read random bytes: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(append(payload, sign(key, payload)...))
}

func verify(key []byte, token string, now time.Time, ttl time.Duration) error {
	if token == "" {
		return ErrTokenMissing
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != 8+nonceLength+sha256.Size {
		return ErrTokenMismatch
	}

	payload, mac := raw[:8+nonceLength], raw[8+nonceLength:]
	if !hmac.Equal(mac, sign(key, payload)) {
		return ErrTokenMismatch
	}

	issued := time.Unix(int64(binary.BigEndian.Uint64(payload)), 0)
	if now.Sub(issued) > ttl {
		return ErrTokenExpired
	}
	return nil
}

func sign(key, payload []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return h.Sum(nil)
}

func setCookie(ctx router.Context, cfg Config, token string) {
	ctx.Cookie(&router.Cookie{
		Name:     cfg.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  cfg.Now().Add(cfg.Expiration),
		HTTPOnly: false,
		Secure:   cfg.Secure,
		SameSite: "Strict",
	})
}

func defaultErrorHandler(ctx router.Context, err error) error {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		rich = ErrTokenMismatch
	}
	return ctx.JSON(router.StatusForbidden, router.ViewContext{
		"success":   false,
		"error":     rich.Message,
		"text_code": rich.TextCode,
	})
}
