// Package auth verifies bearer tokens and carries the caller's identity through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mihaimyh/inkwell/pkg/community"
)

var (
	// ErrMissingToken is returned when the request carries no bearer token
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken is returned when a token fails signature or claim validation
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned when a token is past its expiry
	ErrExpiredToken = errors.New("token expired")
)

const defaultLeeway = 30 * time.Second

// Config holds verifier configuration
type Config struct {
	// Secret is the HS256 signing key (required)
	Secret []byte

	// Issuer, when set, must match the iss claim
	Issuer string

	// Leeway tolerates clock skew on exp/nbf (default: 30s)
	Leeway time.Duration

	// Now overrides the clock (default: time.Now)
	Now func() time.Time
}

// Claims is the token payload
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Verifier validates HS256 bearer tokens
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewVerifier creates a verifier from config
func NewVerifier(config Config) (*Verifier, error) {
	if len(config.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if config.Leeway <= 0 {
		config.Leeway = defaultLeeway
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Verifier{
		secret: config.Secret,
		issuer: config.Issuer,
		leeway: config.Leeway,
		now:    config.Now,
	}, nil
}

// Verify parses a token and returns the identity it asserts.
func (v *Verifier) Verify(token string) (*community.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}
	role := community.RoleWriter
	if community.Role(claims.Role) == community.RoleAdmin {
		role = community.RoleAdmin
	}
	return &community.Identity{
		UserID: subject,
		Email:  strings.ToLower(strings.TrimSpace(claims.Email)),
		Role:   role,
	}, nil
}

// Issue signs a token for the identity valid for ttl. Used by tooling and tests.
func (v *Verifier) Issue(id *community.Identity, ttl time.Duration) (string, error) {
	if id == nil || id.UserID == "" {
		return "", errors.New("identity with user id is required")
	}
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: id.Email,
		Role:  string(id.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id
func WithIdentity(ctx context.Context, id *community.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by the middleware, or nil for anonymous requests
func FromContext(ctx context.Context) *community.Identity {
	id, _ := ctx.Value(contextKey{}).(*community.Identity)
	return id
}

// UserID returns the caller's user id, or "" for anonymous requests.
// Its signature matches the user extractors of the membership middlewares.
func UserID(r *http.Request) string {
	if id := FromContext(r.Context()); id != nil {
		return id.UserID
	}
	return ""
}

// Middleware authenticates requests carrying a bearer token.
// Requests without one continue anonymously; an invalid token is rejected with 401.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := v.Verify(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"unauthenticated","message":"invalid or expired token"}}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}
