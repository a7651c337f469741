package gotrue

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, method jwt.SigningMethod, kid string, key any, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(method, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "https://auth.test",
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: "a@example.com",
	})
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestNewVerifierWithoutConfig(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
	v.Close()
}

func TestVerifierSecret(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{
		Secret:   testSecret,
		Issuer:   "https://auth.test",
		Audience: "authenticated",
	}, nil)
	require.NoError(t, err)

	claims, err := v.Verify(signedToken(t, jwt.SigningMethodHS256, "", []byte(testSecret), time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "a@example.com", claims.Email)

	_, err = v.Verify(signedToken(t, jwt.SigningMethodHS256, "", []byte(testSecret), -time.Minute))
	assert.Error(t, err, "expired")

	_, err = v.Verify(signedToken(t, jwt.SigningMethodHS256, "", []byte("other"), time.Minute))
	require.Error(t, err)
	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, TextCodeInvalidToken, rich.TextCode)
}

func TestVerifierSigningKeys(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{
		SigningKeys: map[string]string{"k1": "first-secret", "k2": "second-secret"},
	}, nil)
	require.NoError(t, err)

	_, err = v.Verify(signedToken(t, jwt.SigningMethodHS256, "k2", []byte("second-secret"), time.Minute))
	assert.NoError(t, err)

	_, err = v.Verify(signedToken(t, jwt.SigningMethodHS256, "k1", []byte("second-secret"), time.Minute))
	assert.Error(t, err, "key id selects the secret")

	_, err = v.Verify(signedToken(t, jwt.SigningMethodHS256, "k9", []byte("second-secret"), time.Minute))
	assert.Error(t, err, "unknown key id")
}

func TestVerifierJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "rsa-1",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	defer srv.Close()

	v, err := NewVerifier(VerifierConfig{JWKSURL: srv.URL + "/.well-known/jwks.json"}, nil)
	require.NoError(t, err)
	defer v.Close()

	claims, err := v.Verify(signedToken(t, jwt.SigningMethodRS256, "rsa-1", key, time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = v.Verify(signedToken(t, jwt.SigningMethodRS256, "rsa-1", other, time.Minute))
	assert.Error(t, err)
}

func TestNewVerifierJWKSUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewVerifier(VerifierConfig{JWKSURL: srv.URL}, nil)
	assert.Error(t, err)
}

func TestPeekExpiry(t *testing.T) {
	token := signedToken(t, jwt.SigningMethodHS256, "", []byte("whatever"), time.Hour)
	assert.WithinDuration(t, time.Now().Add(time.Hour), peekExpiry(token), 2*time.Second)
	assert.True(t, peekExpiry("garbage").IsZero())
}

func TestDecodeError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		message  string
		textCode string
		category goerrors.Category
	}{
		{
			name:     "current format",
			status:   http.StatusBadRequest,
			body:     `{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`,
			message:  "Invalid login credentials",
			textCode: "INVALID_CREDENTIALS",
			category: goerrors.CategoryBadInput,
		},
		{
			name:     "oauth format",
			status:   http.StatusBadRequest,
			body:     `{"error":"invalid_grant","error_description":"Invalid Refresh Token"}`,
			message:  "Invalid Refresh Token",
			textCode: "INVALID_GRANT",
			category: goerrors.CategoryBadInput,
		},
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"message":"Email rate limit exceeded"}`,
			message:  "Email rate limit exceeded",
			category: goerrors.CategoryRateLimit,
		},
		{
			name:     "empty body",
			status:   http.StatusBadGateway,
			body:     ``,
			message:  "Bad Gateway",
			category: goerrors.CategoryExternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/v1/token", nil)
			resp := &http.Response{
				StatusCode: tt.status,
				Body:       io.NopCloser(strings.NewReader(tt.body)),
				Request:    req,
			}

			var rich *goerrors.Error
			require.True(t, goerrors.As(decodeError(resp), &rich))
			assert.Equal(t, tt.message, rich.Message)
			assert.Equal(t, tt.textCode, rich.TextCode)
			assert.Equal(t, tt.category, rich.Category)
			assert.Equal(t, tt.status, rich.Code)
		})
	}
}
