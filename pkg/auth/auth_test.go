package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/inkwell/pkg/community"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{
		Secret: []byte("test-secret"),
		Issuer: "inkwell",
		Now:    func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return v
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier(Config{})
	assert.Error(t, err)
}

func TestVerifier_IssueAndVerify(t *testing.T) {
	v := newTestVerifier(t)

	token, err := v.Issue(&community.Identity{UserID: "user_1", Email: "Ada@Example.com", Role: community.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user_1", id.UserID)
	assert.Equal(t, "ada@example.com", id.Email)
	assert.Equal(t, community.RoleAdmin, id.Role)
}

func TestVerifier_UnknownRoleIsWriter(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.Issue(&community.Identity{UserID: "user_1", Role: "superuser"}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, community.RoleWriter, id.Role)
}

func TestVerifier_Rejects(t *testing.T) {
	v := newTestVerifier(t)

	sign := func(claims Claims, method jwt.SigningMethod, key any) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}
	valid := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user_1",
		Issuer:    "inkwell",
		ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
	}}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(testNow.Add(-time.Hour))

	noExpiry := valid
	noExpiry.ExpiresAt = nil

	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"

	noSubject := valid
	noSubject.Subject = ""

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "not.a.token", ErrInvalidToken},
		{"wrong secret", sign(valid, jwt.SigningMethodHS256, []byte("other-secret")), ErrInvalidToken},
		{"wrong algorithm", sign(valid, jwt.SigningMethodHS512, []byte("test-secret")), ErrInvalidToken},
		{"expired", sign(expired, jwt.SigningMethodHS256, []byte("test-secret")), ErrExpiredToken},
		{"no expiry", sign(noExpiry, jwt.SigningMethodHS256, []byte("test-secret")), ErrInvalidToken},
		{"wrong issuer", sign(wrongIssuer, jwt.SigningMethodHS256, []byte("test-secret")), ErrInvalidToken},
		{"no subject", sign(noSubject, jwt.SigningMethodHS256, []byte("test-secret")), ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestVerifier_LeewayToleratesSkew(t *testing.T) {
	v := newTestVerifier(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user_1",
		ExpiresAt: jwt.NewNumericDate(testNow.Add(-10 * time.Second)),
	}}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.NoError(t, err)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc ", "abc"},
		{"Basic abc", ""},
		{"abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, BearerToken(r), "header %q", tt.header)
	}
}

func TestMiddleware(t *testing.T) {
	v := newTestVerifier(t)
	var seen *community.Identity
	var seenUserID string
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		seenUserID = UserID(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("anonymous", func(t *testing.T) {
		seen = nil
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Nil(t, seen)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := v.Issue(&community.Identity{UserID: "user_1"}, time.Hour)
		require.NoError(t, err)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "user_1", seen.UserID)
		assert.Equal(t, "user_1", seenUserID)
	})

	t.Run("invalid token", func(t *testing.T) {
		seen = nil
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer nope")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Header().Get("WWW-Authenticate"), "invalid_token")
		assert.Nil(t, seen)
	})
}
