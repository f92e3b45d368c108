// Package fiber provides Fiber middleware gating routes on Community Wall membership
package fiber

import (
	"context"
	"slices"

	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/inkwell/pkg/community"
)

// MembershipKey is the Locals key holding the checked membership
const MembershipKey = "inkwell.membership"

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

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
	Bypass func(c *fiber.Ctx) bool

	// OnNotMember is called when the user is not an entitled member
	// If nil, returns 403 JSON with the membership status
	OnNotMember func(c *fiber.Ctx, membership *community.Membership) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// RequireMembership creates a Fiber middleware that admits Community Wall members only
func RequireMembership(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("inkwell/fiber: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("inkwell/fiber: Config.GetUserID is required")
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return defaultUnauthorized(c)
		}

		if cfg.Bypass != nil && cfg.Bypass(c) {
			return c.Next()
		}

		// Fiber's UserContext defaults to context.Background
		ms, err := cfg.Manager.Membership(c.UserContext(), userID)
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

		c.Locals(MembershipKey, ms)
		c.Set("X-Membership-Tier", ms.Tier)
		return c.Next()
	}
}

// Membership returns the membership stored by RequireMembership
func Membership(c *fiber.Ctx) (*community.Membership, bool) {
	ms, ok := c.Locals(MembershipKey).(*community.Membership)
	return ms, ok
}

// Default error handlers

func defaultUnauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func defaultNotMember(c *fiber.Ctx, ms *community.Membership) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"error":  "Community Wall membership required",
		"tier":   ms.Tier,
		"status": ms.Status,
	})
}

func defaultError(c *fiber.Ctx, _ error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Fiber context values (Locals)
// set by an auth middleware via c.Locals("UserID", "...").
func FromContext(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if val := c.Locals(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
// Fiber v2 uses c.Get() for headers (not c.GetHeader())
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}
