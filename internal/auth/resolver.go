// ABOUTME: Identity resolvers for the dev, jwt, and api_key auth modes
// ABOUTME: JWT mode verifies HS256 and selects the user_id > sub > uid claim

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Auth errors
var (
	ErrNoIdentity   = errors.New("no identity")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing identity claim")
)

// Resolver extracts the caller's identity from an HTTP request.
type Resolver interface {
	Resolve(r *http.Request) (*Identity, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// DevResolver trusts the X-User-ID header and falls back to a fixed dev
// user. Never run this outside local development.
type DevResolver struct {
	DefaultUser string
}

// Resolve returns the header identity or the default dev user.
func (d *DevResolver) Resolve(r *http.Request) (*Identity, error) {
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		return &Identity{UserID: userID}, nil
	}
	if d.DefaultUser != "" {
		return &Identity{UserID: d.DefaultUser}, nil
	}
	return nil, ErrNoIdentity
}

// JWTResolver verifies HS256-signed bearer tokens.
type JWTResolver struct {
	secret []byte
}

// NewJWTResolver creates a JWT resolver with the given signing secret.
func NewJWTResolver(secret []byte) *JWTResolver {
	return &JWTResolver{secret: secret}
}

// Resolve validates the bearer token and extracts the user id. The claim
// selection order user_id > sub > uid is normative.
func (v *JWTResolver) Resolve(r *http.Request) (*Identity, error) {
	tokenString, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return nil, fmt.Errorf("%w: %s", ErrNoIdentity, errMsg)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	for _, claim := range []string{"user_id", "sub", "uid"} {
		if v, ok := claims[claim].(string); ok && v != "" {
			return &Identity{UserID: v}, nil
		}
	}
	return nil, fmt.Errorf("%w: user_id, sub, uid", ErrMissingClaim)
}

// Generate creates a signed token for userID, for tests and dev tooling.
func (v *JWTResolver) Generate(userID string, claims jwt.MapClaims) (string, error) {
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	if _, ok := claims["sub"]; !ok {
		claims["sub"] = userID
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// APIKeyResolver maps static keys to user ids, from config.
type APIKeyResolver struct {
	keys map[string]string // key -> user id
}

// NewAPIKeyResolver creates a resolver over the configured key table.
func NewAPIKeyResolver(keys map[string]string) *APIKeyResolver {
	return &APIKeyResolver{keys: keys}
}

// Resolve accepts the key from X-API-Key or a bearer header.
func (a *APIKeyResolver) Resolve(r *http.Request) (*Identity, error) {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		key, _ = extractBearerToken(r.Header.Get("Authorization"))
	}
	if key == "" {
		return nil, ErrNoIdentity
	}
	userID, ok := a.keys[key]
	if !ok {
		return nil, fmt.Errorf("%w: unknown api key", ErrInvalidToken)
	}
	return &Identity{UserID: userID}, nil
}
