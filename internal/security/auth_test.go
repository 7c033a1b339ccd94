package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuth_Disabled(t *testing.T) {
	a := NewAuth(testLogger(), AuthConfig{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := a.Authenticate(req, ScopeRead)
	assert.True(t, ctx.Allowed)
}

func TestAuth_MissingToken(t *testing.T) {
	a := NewAuth(testLogger(), AuthConfig{AdminToken: "secret"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := a.Authenticate(req, ScopeRead)
	assert.False(t, ctx.Allowed)
	assert.Equal(t, "missing_token", ctx.UserID)
}

func TestAuth_APIKeyReadScope(t *testing.T) {
	a := NewAuth(testLogger(), AuthConfig{ReadKeys: []string{"readtoken"}})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer readtoken")

	ctx := a.Authenticate(req, ScopeRead)
	assert.True(t, ctx.Allowed)

	ctx = a.Authenticate(req, ScopeAdmin)
	assert.False(t, ctx.Allowed)
}

func TestAuth_AdminKeyImpliesRead(t *testing.T) {
	a := NewAuth(testLogger(), AuthConfig{AdminKeys: []string{"admintoken"}})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Chaos-Token", "admintoken")

	ctx := a.Authenticate(req, ScopeRead)
	assert.True(t, ctx.Allowed)
	ctx = a.Authenticate(req, ScopeAdmin)
	assert.True(t, ctx.Allowed)
}

func TestAuth_LegacyAdminToken(t *testing.T) {
	a := NewAuth(testLogger(), AuthConfig{AdminToken: "legacy"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer legacy")

	ctx := a.Authenticate(req, ScopeAdmin)
	assert.True(t, ctx.Allowed)
}

func TestAuth_JWTValid(t *testing.T) {
	secret := "test-secret"
	a := NewAuth(testLogger(), AuthConfig{
		JWTSecret:   secret,
		JWTIssuer:   "chaosproxy",
		JWTAudience: "agents",
	})

	claims := jwt.MapClaims{
		"iss":    "chaosproxy",
		"aud":    "agents",
		"sub":    "alice",
		"scopes": []any{"READ"},
		"exp":    time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	ctx := a.Authenticate(req, ScopeRead)
	assert.True(t, ctx.Allowed)
	assert.Equal(t, "jwt:alice", ctx.UserID)
}

func TestAuth_JWTExpired(t *testing.T) {
	secret := "test-secret"
	a := NewAuth(testLogger(), AuthConfig{
		JWTSecret:   secret,
		JWTIssuer:   "chaosproxy",
		JWTAudience: "agents",
	})

	claims := jwt.MapClaims{
		"iss": "chaosproxy",
		"aud": "agents",
		"sub": "alice",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	ctx := a.Authenticate(req, ScopeRead)
	assert.False(t, ctx.Allowed)
}

func TestAuth_InvalidToken(t *testing.T) {
	a := NewAuth(testLogger(), AuthConfig{AdminToken: "legacy"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Chaos-Token", "not-a-valid-token")

	ctx := a.Authenticate(req, ScopeRead)
	assert.False(t, ctx.Allowed)
}
