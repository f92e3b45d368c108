package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mihaimyh/inkwell/pkg/community"
	"github.com/mihaimyh/inkwell/storage/memory"
)

// Test helper to create a test manager
func setupTestManager(t *testing.T) *community.Manager {
	t.Helper()

	storage := memory.New()
	manager, err := community.NewManager(storage, storage, nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	return manager
}

// Test helper to give a user an active Community Wall subscription
func setupMembership(t *testing.T, manager *community.Manager, userID string, status community.SubscriptionStatus) {
	t.Helper()

	now := time.Now().UTC()
	end := now.Add(30 * 24 * time.Hour)
	_, err := manager.ApplySubscription(context.Background(), &community.Subscription{
		ID:               "sub_" + userID,
		UserID:           userID,
		Status:           status,
		CurrentPeriodEnd: &end,
		LastEventID:      "evt_" + userID,
		LastEventAt:      now,
	})
	if err != nil {
		t.Fatalf("Failed to apply subscription: %v", err)
	}
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ms, ok := MembershipFromContext(r.Context())
		if ok && !ms.Active {
			t.Errorf("Expected an active membership in context")
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireMembership_Member(t *testing.T) {
	manager := setupTestManager(t)
	setupMembership(t, manager, "user1", community.StatusActive)

	var seen *community.Membership
	handler := RequireMembership(Config{
		Manager:   manager,
		GetUserID: FromHeader("X-User-ID"),
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = MembershipFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/wall", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if seen == nil || seen.SubscriptionID != "sub_user1" {
		t.Fatalf("Expected membership for sub_user1 in context, got %+v", seen)
	}
}

func TestRequireMembership_PastDueKeepsAccess(t *testing.T) {
	manager := setupTestManager(t)
	setupMembership(t, manager, "user1", community.StatusPastDue)

	handler := RequireMembership(Config{
		Manager:   manager,
		GetUserID: FromHeader("X-User-ID"),
	})(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/wall", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
}

func TestRequireMembership_NotMember(t *testing.T) {
	manager := setupTestManager(t)
	setupMembership(t, manager, "user2", community.StatusCanceled)

	tests := []struct {
		name   string
		userID string
	}{
		{"no subscription", "user1"},
		{"canceled subscription", "user2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireMembership(Config{
				Manager:   manager,
				GetUserID: FromHeader("X-User-ID"),
			})(okHandler(t))

			req := httptest.NewRequest(http.MethodGet, "/wall", http.NoBody)
			req.Header.Set("X-User-ID", tt.userID)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusForbidden {
				t.Fatalf("Expected status 403, got %d", w.Code)
			}
		})
	}
}

func TestRequireMembership_CustomNotMemberHandler(t *testing.T) {
	manager := setupTestManager(t)

	var reported *community.Membership
	handler := RequireMembership(Config{
		Manager:   manager,
		GetUserID: FromHeader("X-User-ID"),
		OnNotMember: func(w http.ResponseWriter, r *http.Request, ms *community.Membership) {
			reported = ms
			w.WriteHeader(http.StatusPaymentRequired)
		},
	})(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/wall", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected status 402, got %d", w.Code)
	}
	if reported == nil || reported.Tier != "reader" {
		t.Fatalf("Expected default-tier membership, got %+v", reported)
	}
}

func TestRequireMembership_Unauthorized(t *testing.T) {
	manager := setupTestManager(t)

	t.Run("default", func(t *testing.T) {
		handler := RequireMembership(Config{
			Manager:   manager,
			GetUserID: FromHeader("X-User-ID"),
		})(okHandler(t))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/wall", http.NoBody))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("Expected status 401, got %d", w.Code)
		}
	})

	t.Run("custom", func(t *testing.T) {
		called := false
		handler := RequireMembership(Config{
			Manager:   manager,
			GetUserID: FromHeader("X-User-ID"),
			OnUnauthorized: func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusTeapot)
			},
		})(okHandler(t))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/wall", http.NoBody))
		if !called || w.Code != http.StatusTeapot {
			t.Fatalf("Expected custom unauthorized handler, got %d", w.Code)
		}
	})
}

func TestRequireMembership_Bypass(t *testing.T) {
	manager := setupTestManager(t)

	handler := RequireMembership(Config{
		Manager:   manager,
		GetUserID: FromHeader("X-User-ID"),
		Bypass: func(r *http.Request) bool {
			return r.Header.Get("X-Role") == "admin"
		},
	})(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/wall", http.NoBody)
	req.Header.Set("X-User-ID", "admin1")
	req.Header.Set("X-Role", "admin")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for bypassed request, got %d", w.Code)
	}
}

type failingChecker struct{}

func (failingChecker) Membership(context.Context, string) (*community.Membership, error) {
	return nil, errors.New("storage down")
}

func TestRequireMembership_Error(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		handler := RequireMembership(Config{
			Manager:   failingChecker{},
			GetUserID: FromHeader("X-User-ID"),
		})(okHandler(t))

		req := httptest.NewRequest(http.MethodGet, "/wall", http.NoBody)
		req.Header.Set("X-User-ID", "user1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("Expected status 500, got %d", w.Code)
		}
	})

	t.Run("custom", func(t *testing.T) {
		var got error
		handler := RequireMembership(Config{
			Manager:   failingChecker{},
			GetUserID: FromHeader("X-User-ID"),
			OnError: func(w http.ResponseWriter, r *http.Request, err error) {
				got = err
				w.WriteHeader(http.StatusServiceUnavailable)
			},
		})(okHandler(t))

		req := httptest.NewRequest(http.MethodGet, "/wall", http.NoBody)
		req.Header.Set("X-User-ID", "user1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusServiceUnavailable || got == nil {
			t.Fatalf("Expected custom error handler, got %d", w.Code)
		}
	})
}

func TestHandlerFunc(t *testing.T) {
	manager := setupTestManager(t)
	setupMembership(t, manager, "user1", community.StatusTrialing)

	mw := HandlerFunc(Config{
		Manager:   manager,
		GetUserID: FromContext(UserIDKey),
	})
	handler := mw(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/wall", http.NoBody)
	req = req.WithContext(WithUserID(req.Context(), "user1"))
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
}

func TestRequireMembership_Tiers(t *testing.T) {
	manager := setupTestManager(t)
	setupMembership(t, manager, "user1", community.StatusActive)

	tests := []struct {
		name  string
		tiers []string
		want  int
	}{
		{"membership tier allowed", []string{"wall", "patron"}, http.StatusOK},
		{"other tier required", []string{"patron"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireMembership(Config{
				Manager:   manager,
				GetUserID: FromHeader("X-User-ID"),
				Tiers:     tt.tiers,
			})(okHandler(t))

			req := httptest.NewRequest(http.MethodGet, "/wall", http.NoBody)
			req.Header.Set("X-User-ID", "user1")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}
