package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Scope is a capability granted to an authenticated caller.
type Scope string

const (
	ScopeRead  Scope = "READ"
	ScopeAdmin Scope = "ADMIN"
)

// AuthConfig holds the static credentials Auth validates against.
type AuthConfig struct {
	AdminToken  string
	ReadKeys    []string
	AdminKeys   []string
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTStrict   bool
}

// AuthContext is the result of authenticating one request.
type AuthContext struct {
	Allowed bool
	UserID  string
	Scopes  []string
}

// Auth validates proxy control-plane access against API keys, a legacy
// admin token, or a JWT.
type Auth struct {
	logger       *zap.SugaredLogger
	config       AuthConfig
	apiKeyScopes map[string][]string
	enabled      bool
}

// NewAuth builds an Auth from config. If no credential source is
// configured, authentication is disabled and every request is allowed.
func NewAuth(logger *zap.SugaredLogger, config AuthConfig) *Auth {
	a := &Auth{logger: logger, config: config}

	a.apiKeyScopes = make(map[string][]string)
	for _, key := range config.ReadKeys {
		a.apiKeyScopes[key] = []string{string(ScopeRead)}
	}
	for _, key := range config.AdminKeys {
		a.apiKeyScopes[key] = []string{string(ScopeAdmin), string(ScopeRead)}
	}

	if config.AdminToken == "" && len(a.apiKeyScopes) == 0 && config.JWTSecret == "" {
		logger.Warn("no auth configured (CHAOS_ADMIN_TOKEN / READ_KEY / ADMIN_KEY / CHAOS_JWT_SECRET); authentication is DISABLED")
		a.enabled = false
		return a
	}

	a.enabled = true
	logger.Info("chaos authentication enabled")
	return a
}

// Authenticate extracts a bearer token from the request and checks it
// against API keys, the legacy admin token, and finally JWT validation.
func (a *Auth) Authenticate(r *http.Request, requiredScope Scope) AuthContext {
	if !a.enabled {
		return AuthContext{Allowed: true, UserID: "auth_disabled", Scopes: []string{string(ScopeRead), string(ScopeAdmin)}}
	}

	token := extractToken(r)
	if token == "" {
		a.logger.Warnw("unauthorized access attempt: missing token")
		return AuthContext{Allowed: false, UserID: "missing_token"}
	}

	if scopes, ok := a.apiKeyScopes[token]; ok {
		return AuthContext{Allowed: hasScope(scopes, requiredScope), UserID: tokenID(token), Scopes: scopes}
	}

	if a.config.AdminToken != "" && token == a.config.AdminToken {
		scopes := []string{string(ScopeAdmin), string(ScopeRead)}
		return AuthContext{Allowed: hasScope(scopes, requiredScope), UserID: tokenID(token), Scopes: scopes}
	}

	if looksLikeJWT(token) {
		ctx, err := a.validateJWT(token)
		if err != nil {
			a.logger.Warnw("invalid JWT", "error", err)
			return AuthContext{Allowed: false, UserID: "invalid_jwt"}
		}
		return AuthContext{Allowed: hasScope(ctx.Scopes, requiredScope), UserID: ctx.UserID, Scopes: ctx.Scopes}
	}

	a.logger.Warnw("unauthorized access attempt: invalid token")
	return AuthContext{Allowed: false, UserID: tokenID(token)}
}

func (a *Auth) validateJWT(token string) (AuthContext, error) {
	if a.config.JWTSecret == "" {
		return AuthContext{}, fmt.Errorf("JWT provided but no secret configured")
	}
	if a.config.JWTIssuer == "" || a.config.JWTAudience == "" {
		return AuthContext{}, fmt.Errorf("JWT issuer/audience not configured")
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			return []byte(a.config.JWTSecret), nil
		case *jwt.SigningMethodRSA:
			// For RS256 the configured secret holds the PEM-encoded public key.
			return jwt.ParseRSAPublicKeyFromPEM([]byte(a.config.JWTSecret))
		default:
			return nil, fmt.Errorf("unsupported signing method: %v", t.Header["alg"])
		}
	},
		jwt.WithIssuer(a.config.JWTIssuer),
		jwt.WithAudience(a.config.JWTAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return AuthContext{}, err
	}
	if !parsed.Valid {
		return AuthContext{}, fmt.Errorf("token failed validation")
	}

	scopes := extractScopes(claims)
	userID := "jwt_user"
	for _, key := range []string{"sub", "user_id", "uid"} {
		if v, ok := claims[key].(string); ok && v != "" {
			userID = v
			break
		}
	}

	return AuthContext{UserID: "jwt:" + userID, Scopes: scopes}, nil
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			return strings.TrimSpace(auth[len("bearer "):])
		}
	}
	return r.Header.Get("X-Chaos-Token")
}

func hasScope(scopes []string, required Scope) bool {
	for _, s := range scopes {
		if strings.EqualFold(s, string(required)) {
			return true
		}
	}
	return false
}

func looksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2
}

func tokenID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "token:" + hex.EncodeToString(sum[:])[:12]
}

func extractScopes(claims jwt.MapClaims) []string {
	if raw, ok := claims["scopes"].([]any); ok {
		scopes := make([]string, 0, len(raw))
		for _, s := range raw {
			if str, ok := s.(string); ok {
				scopes = append(scopes, strings.ToUpper(str))
			}
		}
		return scopes
	}
	if raw, ok := claims["scope"].(string); ok {
		fields := strings.Fields(raw)
		scopes := make([]string, 0, len(fields))
		for _, f := range fields {
			scopes = append(scopes, strings.ToUpper(f))
		}
		return scopes
	}
	return nil
}
