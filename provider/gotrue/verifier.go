package gotrue

import (
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
)

// Claims are the access token claims issued by the auth server.
type Claims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// VerifierConfig selects how access tokens are checked. JWKSURL wins
// over SigningKeys, which win over Secret.
type VerifierConfig struct {
	// Secret is the shared HS256 secret.
	Secret string
	// SigningKeys maps key ids to HMAC secrets.
	SigningKeys map[string]string
	// JWKSURL is the server key set, refreshed in the background.
	JWKSURL  string
	Issuer   string
	Audience string
}

// Verifier validates access tokens locally.
type Verifier struct {
	keyfunc jwt.Keyfunc
	jwks    *keyfunc.JWKS
	issuer  string
	aud     string
	now     func() time.Time
}

// NewVerifier builds a verifier, fetching the key set when a JWKS URL
// is configured. It returns nil, nil when nothing is configured.
func NewVerifier(cfg VerifierConfig, logger auth.Logger) (*Verifier, error) {
	v := &Verifier{issuer: cfg.Issuer, aud: cfg.Audience, now: time.Now}

	switch {
	case cfg.JWKSURL != "":
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			RefreshErrorHandler: func(err error) {
				if logger != nil {
					logger.Warn("failed to do a background refresh of JWT set", "error", err)
				}
			},
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  time.Minute * 5,
			RefreshTimeout:    time.Second * 10,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to fetch JWT key set").
				WithMetadata(map[string]any{"url": cfg.JWKSURL})
		}
		v.jwks = jwks
		v.keyfunc = jwks.Keyfunc
	case len(cfg.SigningKeys) > 0:
		given := make(map[string]keyfunc.GivenKey, len(cfg.SigningKeys))
		for kid, key := range cfg.SigningKeys {
			given[kid] = keyfunc.NewGivenCustom([]byte(key), keyfunc.GivenKeyOptions{
				Algorithm: jwt.SigningMethodHS256.Alg(),
			})
		}
		v.keyfunc = keyfunc.NewGiven(given).Keyfunc
	case cfg.Secret != "":
		secret := []byte(cfg.Secret)
		v.keyfunc = func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		}
	default:
		return nil, nil
	}

	return v, nil
}

// Verify checks signature, expiry and, when configured, issuer and
// audience.
func (v *Verifier) Verify(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.aud != "" {
		opts = append(opts, jwt.WithAudience(v.aud))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, v.keyfunc, opts...)
	if err != nil {
		return nil, wrapTokenError(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Close stops the background key set refresh.
func (v *Verifier) Close() {
	if v != nil && v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// peekExpiry reads exp without checking the signature. Only used to
// schedule refreshes of tokens the server handed us.
func peekExpiry(token string) time.Time {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func wrapTokenError(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryAuth, ErrInvalidToken.Message).
		WithCode(goerrors.CodeUnauthorized).
		WithTextCode(TextCodeInvalidToken)
}
