// Package echo provides Echo middleware gating routes on Community Wall membership
package echo

import (
	"context"
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/inkwell/pkg/community"
)

// MembershipKey is the Echo context key holding the checked membership
const MembershipKey = "inkwell.membership"

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

// MembershipChecker reports a user's Community Wall standing. *community.Manager implements it.
type MembershipChecker interface {
	Membership(ctx context.Context, userID string) (*community.Membership, error)
}

// Config holds middleware configuration
type Config struct {
	// Manager is the membership source
	Manager MembershipChecker

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// Tiers restricts access to members of the listed tiers (optional)
	Tiers []string

	// Bypass admits a request without a membership check (optional)
	Bypass func(c echo.Context) bool

	// OnNotMember is called when the user is not an entitled member
	// If nil, returns 403 JSON with the membership status
	OnNotMember func(c echo.Context, membership *community.Membership) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// RequireMembership creates an Echo middleware that admits Community Wall members only
func RequireMembership(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("inkwell/echo: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("inkwell/echo: Config.GetUserID is required")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return defaultUnauthorized(c)
			}

			if cfg.Bypass != nil && cfg.Bypass(c) {
				return next(c)
			}

			ms, err := cfg.Manager.Membership(c.Request().Context(), userID)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return defaultError(c, err)
			}

			if !ms.Active || (len(cfg.Tiers) > 0 && !slices.Contains(cfg.Tiers, ms.Tier)) {
				if cfg.OnNotMember != nil {
					return cfg.OnNotMember(c, ms)
				}
				return defaultNotMember(c, ms)
			}

			c.Set(MembershipKey, ms)
			c.Response().Header().Set("X-Membership-Tier", ms.Tier)
			return next(c)
		}
	}
}

// Membership returns the membership stored by RequireMembership
func Membership(c echo.Context) (*community.Membership, bool) {
	ms, ok := c.Get(MembershipKey).(*community.Membership)
	return ms, ok
}

// Default error handlers

func defaultUnauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}

func defaultNotMember(c echo.Context, ms *community.Membership) error {
	return c.JSON(http.StatusForbidden, map[string]interface{}{
		"error":  "Community Wall membership required",
		"tier":   ms.Tier,
		"status": ms.Status,
	})
}

func defaultError(c echo.Context, _ error) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Echo context values
// set by an auth middleware via c.Set("UserID", "...").
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if val := c.Get(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromRequest adapts a net/http extractor such as auth.UserID
func FromRequest(extract func(*http.Request) string) UserIDExtractor {
	return func(c echo.Context) string {
		return extract(c.Request())
	}
}
