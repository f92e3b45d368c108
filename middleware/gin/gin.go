// Package gin provides Gin middleware gating routes on Community Wall membership
package gin

import (
	"context"
	"net/http"
	"slices"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/inkwell/pkg/community"
)

// MembershipKey is the Gin context key holding the checked membership
const MembershipKey = "inkwell.membership"

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

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
	Bypass func(c *gongin.Context) bool

	// OnNotMember is called when the user is not an entitled member
	// If nil, returns 403 JSON with the membership status
	OnNotMember func(c *gongin.Context, membership *community.Membership)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// RequireMembership creates a Gin middleware that admits Community Wall members only
func RequireMembership(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("inkwell/gin: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("inkwell/gin: Config.GetUserID is required")
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				defaultUnauthorized(c)
			}
			c.Abort()
			return
		}

		if cfg.Bypass != nil && cfg.Bypass(c) {
			c.Next()
			return
		}

		ms, err := cfg.Manager.Membership(c.Request.Context(), userID)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				defaultError(c, err)
			}
			c.Abort()
			return
		}

		if !ms.Active || (len(cfg.Tiers) > 0 && !slices.Contains(cfg.Tiers, ms.Tier)) {
			if cfg.OnNotMember != nil {
				cfg.OnNotMember(c, ms)
			} else {
				defaultNotMember(c, ms)
			}
			c.Abort()
			return
		}

		c.Set(MembershipKey, ms)
		c.Header("X-Membership-Tier", ms.Tier)
		c.Next()
	}
}

// Membership returns the membership stored by RequireMembership
func Membership(c *gongin.Context) (*community.Membership, bool) {
	val, exists := c.Get(MembershipKey)
	if !exists {
		return nil, false
	}
	ms, ok := val.(*community.Membership)
	return ms, ok
}

// Default error handlers

func defaultUnauthorized(c *gongin.Context) {
	c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
}

func defaultNotMember(c *gongin.Context, ms *community.Membership) {
	c.JSON(http.StatusForbidden, gongin.H{
		"error":  "Community Wall membership required",
		"tier":   ms.Tier,
		"status": ms.Status,
	})
}

func defaultError(c *gongin.Context, _ error) {
	c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Gin context values
// This is the recommended approach for integrating with auth middleware that sets
// user information via c.Set("UserID", "...") or similar.
//
// Example:
//
//	// In your auth middleware:
//	c.Set("UserID", userID)
//
//	// In membership middleware config:
//	GetUserID: gin.FromContext("UserID")
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromRequest adapts a net/http extractor such as auth.UserID
func FromRequest(extract func(*http.Request) string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return extract(c.Request)
	}
}
