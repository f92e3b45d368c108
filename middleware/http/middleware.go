// Package http provides net/http middleware gating routes on Community Wall membership
package http

import (
	"context"
	"net/http"
	"slices"

	"github.com/mihaimyh/inkwell/pkg/community"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// MembershipChecker reports a user's Community Wall standing. *community.Manager implements it.
type MembershipChecker interface {
	Membership(ctx context.Context, userID string) (*community.Membership, error)
}

// Config holds middleware configuration
type Config struct {
	// Manager is the membership source (required)
	Manager MembershipChecker

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// Tiers restricts access to members of the listed tiers (optional, default: any entitled tier)
	Tiers []string

	// Bypass lets a request through without a membership check, e.g. for admins (optional)
	Bypass func(r *http.Request) bool

	// OnNotMember is called when the user holds no entitled subscription or the wrong tier
	// If nil, returns 403 Forbidden
	OnNotMember func(w http.ResponseWriter, r *http.Request, membership *community.Membership)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// RequireMembership creates an HTTP middleware that admits Community Wall members only.
// The membership is stored in the request context for the next handler.
func RequireMembership(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			if config.Bypass != nil && config.Bypass(r) {
				next.ServeHTTP(w, r)
				return
			}

			ms, err := config.Manager.Membership(r.Context(), userID)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}
			if !allowed(ms, config.Tiers) {
				if config.OnNotMember != nil {
					config.OnNotMember(w, r, ms)
				} else {
					http.Error(w, "Community Wall membership required", http.StatusForbidden)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithMembership(r.Context(), ms)))
		})
	}
}

// HandlerFunc creates the membership middleware for http.HandlerFunc values
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := RequireMembership(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "inkwell:userID"

	// MembershipKey is the context key for the checked membership
	MembershipKey ContextKey = "inkwell:membership"
)

// FromContext returns an UserIDExtractor that gets user ID from request context
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithUserID adds user ID to request context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithMembership adds a checked membership to the context
func WithMembership(ctx context.Context, ms *community.Membership) context.Context {
	return context.WithValue(ctx, MembershipKey, ms)
}

// MembershipFromContext returns the membership stored by RequireMembership
func MembershipFromContext(ctx context.Context) (*community.Membership, bool) {
	ms, ok := ctx.Value(MembershipKey).(*community.Membership)
	return ms, ok
}

func allowed(ms *community.Membership, tiers []string) bool {
	if ms == nil || !ms.Active {
		return false
	}
	return len(tiers) == 0 || slices.Contains(tiers, ms.Tier)
}
