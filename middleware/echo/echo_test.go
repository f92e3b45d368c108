package echo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/inkwell/pkg/community"
	"github.com/mihaimyh/inkwell/storage/memory"
)

// Test helper to create a test manager with one active member
func setupTestManager(t *testing.T) *community.Manager {
	t.Helper()

	storage := memory.New()
	manager, err := community.NewManager(storage, storage, nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	now := time.Now().UTC()
	end := now.Add(30 * 24 * time.Hour)
	_, err = manager.ApplySubscription(context.Background(), &community.Subscription{
		ID:               "sub_member",
		UserID:           "member",
		Status:           community.StatusTrialing,
		CurrentPeriodEnd: &end,
		LastEventID:      "evt_1",
		LastEventAt:      now,
	})
	if err != nil {
		t.Fatalf("Failed to apply subscription: %v", err)
	}
	return manager
}

func newServer(mw echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.GET("/wall", func(c echo.Context) error {
		ms, ok := Membership(c)
		if !ok {
			return c.String(http.StatusOK, "bypassed")
		}
		return c.String(http.StatusOK, string(ms.Status))
	}, mw)
	return e
}

func serve(e *echo.Echo, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/wall", http.NoBody)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequireMembership(t *testing.T) {
	manager := setupTestManager(t)
	e := newServer(RequireMembership(Config{
		Manager:   manager,
		GetUserID: FromHeader("X-User-ID"),
	}))

	tests := []struct {
		name     string
		userID   string
		wantCode int
		wantBody string
	}{
		{"trialing member", "member", http.StatusOK, "trialing"},
		{"not a member", "reader", http.StatusForbidden, ""},
		{"anonymous", "", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, tt.userID)
			if rec.Code != tt.wantCode {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("Expected body %q, got %q", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestRequireMembership_Tiers(t *testing.T) {
	manager := setupTestManager(t)
	e := newServer(RequireMembership(Config{
		Manager:   manager,
		GetUserID: FromHeader("X-User-ID"),
		Tiers:     []string{"patron"},
	}))

	if rec := serve(e, "member"); rec.Code != http.StatusForbidden {
		t.Fatalf("Expected status 403 for wrong tier, got %d", rec.Code)
	}
}

func TestRequireMembership_CustomHandlers(t *testing.T) {
	manager := setupTestManager(t)
	e := newServer(RequireMembership(Config{
		Manager:   manager,
		GetUserID: FromHeader("X-User-ID"),
		OnNotMember: func(c echo.Context, ms *community.Membership) error {
			return c.JSON(http.StatusPaymentRequired, map[string]string{"tier": ms.Tier})
		},
		OnUnauthorized: func(c echo.Context) error {
			return c.NoContent(http.StatusTeapot)
		},
	}))

	if rec := serve(e, "reader"); rec.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected status 402, got %d", rec.Code)
	}
	if rec := serve(e, ""); rec.Code != http.StatusTeapot {
		t.Fatalf("Expected status 418, got %d", rec.Code)
	}
}

func TestRequireMembership_Bypass(t *testing.T) {
	manager := setupTestManager(t)
	e := newServer(RequireMembership(Config{
		Manager:   manager,
		GetUserID: FromHeader("X-User-ID"),
		Bypass:    func(c echo.Context) bool { return c.Request().Header.Get("X-User-ID") == "admin" },
	}))

	rec := serve(e, "admin")
	if rec.Code != http.StatusOK || rec.Body.String() != "bypassed" {
		t.Fatalf("Expected bypassed 200, got %d %q", rec.Code, rec.Body.String())
	}
}

type failingChecker struct{}

func (failingChecker) Membership(context.Context, string) (*community.Membership, error) {
	return nil, errors.New("connection refused")
}

func TestRequireMembership_Error(t *testing.T) {
	e := newServer(RequireMembership(Config{
		Manager:   failingChecker{},
		GetUserID: FromHeader("X-User-ID"),
	}))

	if rec := serve(e, "member"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", rec.Code)
	}
}

func TestFromContext(t *testing.T) {
	manager := setupTestManager(t)
	e := echo.New()
	setUser := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("UserID", "member")
			return next(c)
		}
	}
	e.GET("/wall", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, setUser, RequireMembership(Config{Manager: manager, GetUserID: FromContext("UserID")}))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wall", http.NoBody))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rec.Code)
	}
}
