// ABOUTME: Tests for the dev, jwt, and api_key identity resolvers
// ABOUTME: Covers claim selection order, expiry, and middleware rejection

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevResolver(t *testing.T) {
	r := &DevResolver{DefaultUser: "dev-user"}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	id, err := r.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "dev-user", id.UserID)

	req.Header.Set("X-User-ID", "harper")
	id, err = r.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "harper", id.UserID)
}

func TestDevResolver_NoDefault(t *testing.T) {
	r := &DevResolver{}

	_, err := r.Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestJWTResolver_ClaimOrder(t *testing.T) {
	v := NewJWTResolver([]byte("secret"))

	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"user_id wins", jwt.MapClaims{"user_id": "u-claim", "sub": "s-claim", "uid": "d-claim"}, "u-claim"},
		{"sub next", jwt.MapClaims{"sub": "s-claim", "uid": "d-claim"}, "s-claim"},
		{"uid last", jwt.MapClaims{"uid": "d-claim"}, "d-claim"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, tt.claims)
			signed, err := token.SignedString([]byte("secret"))
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+signed)

			id, err := v.Resolve(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, id.UserID)
		})
	}
}

func TestJWTResolver_Rejections(t *testing.T) {
	v := NewJWTResolver([]byte("secret"))

	// No header.
	_, err := v.Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrNoIdentity)

	// Wrong secret.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"})
	signed, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	_, err = v.Resolve(req)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Expired.
	token = jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err = token.SignedString([]byte("secret"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signed)
	_, err = v.Resolve(req)
	assert.ErrorIs(t, err, ErrExpiredToken)

	// No identity claim.
	token = jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"scope": "all"})
	signed, err = token.SignedString([]byte("secret"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signed)
	_, err = v.Resolve(req)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestJWTResolver_Generate(t *testing.T) {
	v := NewJWTResolver([]byte("secret"))

	signed, err := v.Generate("u1", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	id, err := v.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
}

func TestAPIKeyResolver(t *testing.T) {
	r := NewAPIKeyResolver(map[string]string{"key-123": "u1"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := r.Resolve(req)
	assert.ErrorIs(t, err, ErrNoIdentity)

	req.Header.Set("X-API-Key", "key-123")
	id, err := r.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)

	req.Header.Set("X-API-Key", "wrong")
	_, err = r.Resolve(req)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Bearer form also works.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer key-123")
	id, err = r.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
}

func TestMiddleware(t *testing.T) {
	handler := Middleware(&DevResolver{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromContext(r.Context())
		require.NotNil(t, id)
		w.WriteHeader(http.StatusNoContent)
	}))

	// No identity -> 401.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Identity flows through.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "u1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, FromContext(req.Context()))
}
