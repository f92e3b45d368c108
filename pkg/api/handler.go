package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	httpmw "github.com/mihaimyh/inkwell/middleware/http"
	"github.com/mihaimyh/inkwell/pkg/billing"
	"github.com/mihaimyh/inkwell/pkg/community"
)

const readyTimeout = 2 * time.Second

// Handler serves the community JSON API
type Handler struct {
	config  Config
	manager *community.Manager
	logger  zerolog.Logger
	router  http.Handler
}

// Router returns the chi router with every route mounted
func (h *Handler) Router() http.Handler {
	return h.router
}

// ServeHTTP dispatches to the router
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(hlog.NewHandler(h.logger))
	r.Use(hlog.RequestIDHandler("request_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, req, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", h.Ready)
	if h.config.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", h.config.MetricsHandler)
	}

	// Stripe signs webhooks itself; they bypass bearer authentication
	if h.config.Billing != nil {
		r.Method(http.MethodPost, "/webhooks/"+h.config.Billing.Name(), h.config.Billing.WebhookHandler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.config.Authenticate)
		r.Use(h.ensureProfile)

		r.Get("/gallery", h.ListGallery)
		r.Get("/profiles/{handle}", h.GetProfile)
		r.Get("/profiles/{handle}/writings", h.ListProfileWritings)

		r.Route("/me", func(r chi.Router) {
			r.Get("/", h.GetMe)
			r.Patch("/", h.UpdateMe)
			r.Get("/membership", h.GetMembership)
			r.Get("/circles", h.ListMyCircles)
			r.Get("/tips", h.ListMyTips)
		})

		r.Route("/writings", func(r chi.Router) {
			r.Post("/", h.CreateWriting)
			r.Get("/{writingID}", h.GetWriting)
			r.Patch("/{writingID}", h.UpdateWriting)
			r.Delete("/{writingID}", h.DeleteWriting)
			r.Post("/{writingID}/submissions", h.SubmitToGallery)
		})

		r.Route("/circles", func(r chi.Router) {
			r.Post("/", h.CreateCircle)
			r.Get("/{circleID}", h.GetCircle)
			r.Delete("/{circleID}", h.DeleteCircle)
			r.Get("/{circleID}/members", h.ListCircleMembers)
			r.Delete("/{circleID}/members/{userID}", h.RemoveCircleMember)
			r.Post("/{circleID}/leave", h.LeaveCircle)
			r.Get("/{circleID}/writings", h.ListCircleWritings)
			r.Post("/{circleID}/invites", h.CreateInvite)
			r.Get("/{circleID}/invites", h.ListInvites)
		})
		r.Post("/invites/accept", h.AcceptInvite)
		r.Delete("/invites/{inviteID}", h.RevokeInvite)

		r.Route("/wall", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(h.requireMembership())
				r.Get("/", h.ListWall)
				r.Post("/", h.PostToWall)
			})
			// Authors may remove their posts after their membership lapsed
			r.Delete("/{postID}", h.RemoveWallPost)
		})

		r.Route("/billing", func(r chi.Router) {
			r.Post("/checkout", h.CreateCheckout)
			r.Post("/portal", h.CreatePortal)
			r.Post("/tips", h.CreateTipCheckout)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/overview", h.AdminOverview)
			r.Get("/submissions", h.ListSubmissions)
			r.Post("/submissions/{submissionID}/review", h.ReviewSubmission)
			r.Post("/writings/{writingID}/hidden", h.SetWritingHidden)
			r.Delete("/wall/{postID}", h.RemoveWallPost)
			r.Get("/users/{userID}/tips", h.ListWriterTips)
			r.Post("/users/{userID}/resync", h.ResyncSubscription)
		})
	})

	return r
}

// identity returns the caller, or nil for anonymous requests
func (h *Handler) identity(r *http.Request) *community.Identity {
	return h.config.GetIdentity(r)
}

// ensureProfile creates the caller's profile on their first authenticated request
func (h *Handler) ensureProfile(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := h.identity(r); id != nil {
			if _, err := h.manager.EnsureProfile(r.Context(), id); err != nil {
				h.handleError(w, r, err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := h.identity(r)
		if id == nil {
			h.handleError(w, r, community.ErrUnauthenticated)
			return
		}
		if id.Role != community.RoleAdmin {
			h.handleError(w, r, community.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireMembership gates the Community Wall; admins moderate it without a subscription
func (h *Handler) requireMembership() func(http.Handler) http.Handler {
	return httpmw.RequireMembership(httpmw.Config{
		Manager: h.manager,
		GetUserID: func(r *http.Request) string {
			if id := h.identity(r); id != nil {
				return id.UserID
			}
			return ""
		},
		Bypass: func(r *http.Request) bool {
			id := h.identity(r)
			return id != nil && id.Role == community.RoleAdmin
		},
		OnUnauthorized: func(w http.ResponseWriter, r *http.Request) {
			h.handleError(w, r, community.ErrUnauthenticated)
		},
		OnNotMember: func(w http.ResponseWriter, r *http.Request, _ *community.Membership) {
			h.handleError(w, r, community.ErrNotMember)
		},
		OnError: h.handleError,
	})
}

// Ready reports whether the storage backends answer
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.config.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := h.config.Ready(ctx); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// GetMe returns the caller's profile and membership
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	id := h.identity(r)
	if id == nil {
		h.handleError(w, r, community.ErrUnauthenticated)
		return
	}
	ctx := r.Context()
	profile, err := h.manager.GetProfile(ctx, id.UserID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	ms, err := h.manager.Membership(ctx, id.UserID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, MeResponse{Profile: toProfile(profile, true), Membership: toMembership(ms)})
}

// UpdateMe patches the caller's profile
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	profile, err := h.manager.UpdateProfile(r.Context(), h.identity(r), community.ProfilePatch{
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toProfile(profile, true))
}

// GetMembership returns the caller's Community Wall standing
func (h *Handler) GetMembership(w http.ResponseWriter, r *http.Request) {
	id := h.identity(r)
	if id == nil {
		h.handleError(w, r, community.ErrUnauthenticated)
		return
	}
	ms, err := h.manager.Membership(r.Context(), id.UserID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toMembership(ms))
}

// GetProfile returns a public profile by handle
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.manager.ProfileByHandle(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toProfile(profile, false))
}

// ListProfileWritings returns the writings of a profile the caller may see
func (h *Handler) ListProfileWritings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profile, err := h.manager.ProfileByHandle(ctx, chi.URLParam(r, "handle"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writings, err := h.manager.ListWritingsByAuthor(ctx, h.identity(r), profile.ID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toWritings(writings))
}

// CreateCheckout starts a Community Wall subscription checkout
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	id := h.identity(r)
	if id == nil {
		h.handleError(w, r, community.ErrUnauthenticated)
		return
	}
	if h.config.Checkout == nil {
		h.handleError(w, r, billing.ErrProviderNotConfigured)
		return
	}
	ms, err := h.manager.Membership(r.Context(), id.UserID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if ms.Active {
		h.handleError(w, r, community.ErrAlreadyMember)
		return
	}
	url, err := h.config.Checkout.CheckoutURL(r.Context(), id.UserID, id.Email,
		h.returnURL("/wall?checkout=success"), h.returnURL("/wall?checkout=canceled"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, URLResponse{URL: url})
}

// CreatePortal opens the subscription self-service page
func (h *Handler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	id := h.identity(r)
	if id == nil {
		h.handleError(w, r, community.ErrUnauthenticated)
		return
	}
	if h.config.Checkout == nil {
		h.handleError(w, r, billing.ErrProviderNotConfigured)
		return
	}
	url, err := h.config.Checkout.PortalURL(r.Context(), id.UserID, h.returnURL("/settings"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, URLResponse{URL: url})
}

func (h *Handler) returnURL(path string) string {
	return strings.TrimRight(h.config.PublicURL, "/") + path
}
