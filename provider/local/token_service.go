package local

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Token purposes carried in the purpose claim.
const (
	PurposeAccess  = "access"
	PurposeRefresh = "refresh"
)

// Claims are the JWT claims issued by the local service.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Purpose   string `json:"purpose,omitempty"`
}

// TokenService signs and validates HS256 tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	now        func() time.Time
}

// NewTokenService creates a token service.
func NewTokenService(signingKey []byte, issuer string, audience ...string) *TokenService {
	return &TokenService{
		signingKey: signingKey,
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}
}

// WithClock overrides the clock used for issue and expiry times.
func (ts *TokenService) WithClock(now func() time.Time) *TokenService {
	if now != nil {
		ts.now = now
	}
	return ts
}

// Generate signs a token for subject with the given purpose and ttl.
func (ts *TokenService) Generate(subject, email, sessionID, purpose string, ttl time.Duration) (string, time.Time, error) {
	now := ts.now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   subject,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:     email,
		SessionID: sessionID,
		Purpose:   purpose,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", time.Time{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}
	return signed, expiresAt, nil
}

// Validate parses a token and checks signature, expiry, issuer,
// audience and purpose.
func (ts *TokenService) Validate(tokenString, purpose string) (*Claims, error) {
	parserOptions := []jwt.ParserOption{jwt.WithTimeFunc(ts.now)}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Purpose != purpose {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
