package wsgateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for tokens that fail validation
var ErrUnauthorized = errors.New("unauthorized")

// AnonymousUserID is assigned when auth is disabled or no token is sent
const AnonymousUserID = "default"

// AuthManager handles JWT authentication for the gateway and the REST API
type AuthManager struct {
	jwtSecret []byte
}

// NewAuthManager creates a new auth manager. An empty secret disables auth.
func NewAuthManager(jwtSecret string) *AuthManager {
	return &AuthManager{
		jwtSecret: []byte(jwtSecret),
	}
}

// Enabled reports whether tokens are verified
func (a *AuthManager) Enabled() bool {
	return len(a.jwtSecret) > 0
}

// ValidateToken validates an HMAC-signed JWT and returns the user ID from
// the user_id claim, falling back to sub
func (a *AuthManager) ValidateToken(tokenString string) (string, error) {
	if !a.Enabled() {
		return AnonymousUserID, nil
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	if userID, ok := claims["user_id"].(string); ok && userID != "" {
		return userID, nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("%w: user_id not found in token", ErrUnauthorized)
}

// ExtractTokenFromHeader extracts a JWT from an Authorization header.
// Both "Bearer <token>" and a bare token are accepted.
func (a *AuthManager) ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", fmt.Errorf("authorization header is empty")
	}

	parts := strings.Fields(authHeader)
	switch len(parts) {
	case 1:
		return parts[0], nil
	case 2:
		if !strings.EqualFold(parts[0], "bearer") {
			return "", fmt.Errorf("invalid authorization header format")
		}
		return parts[1], nil
	default:
		return "", fmt.Errorf("invalid authorization header format")
	}
}

// Authenticate resolves the user of a WebSocket upgrade request. Browsers
// cannot set headers on upgrades, so a ?token= query parameter is accepted
// too. A request without any token is anonymous.
func (a *AuthManager) Authenticate(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		authHeader = r.URL.Query().Get("token")
	}
	if authHeader == "" {
		return AnonymousUserID, nil
	}

	token, err := a.ExtractTokenFromHeader(authHeader)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return a.ValidateToken(token)
}
