package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/mihaimyh/inkwell/pkg/billing"
	"github.com/mihaimyh/inkwell/pkg/community"
)

// AdminOverview returns the moderation console's landing data
func (h *Handler) AdminOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.manager.AdminOverview(r.Context(), h.identity(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, AdminOverviewResponse{
		PendingSubmissions: toSubmissions(overview.PendingSubmissions),
		RecentTips:         toTips(overview.RecentTips),
		RecentWallPosts:    toWallPosts(overview.RecentWallPosts),
	})
}

// ListSubmissions returns submissions filtered by ?status (default pending)
func (h *Handler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	status := community.SubmissionStatus(r.URL.Query().Get("status"))
	submissions, err := h.manager.ListSubmissions(r.Context(), h.identity(r), status, limit, offset)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toSubmissions(submissions))
}

func (h *Handler) ReviewSubmission(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	submission, err := h.manager.ReviewSubmission(r.Context(), h.identity(r),
		chi.URLParam(r, "submissionID"), req.Approve, req.Reason)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toSubmission(submission))
}

func (h *Handler) SetWritingHidden(w http.ResponseWriter, r *http.Request) {
	var req hideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	writing, err := h.manager.SetWritingHidden(r.Context(), h.identity(r), chi.URLParam(r, "writingID"), req.Hidden)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toWriting(writing))
}

// ResyncSubscription pulls a user's subscriptions from the billing provider,
// repairing state after missed or failed webhooks
func (h *Handler) ResyncSubscription(w http.ResponseWriter, r *http.Request) {
	if h.config.Billing == nil {
		h.handleError(w, r, billing.ErrProviderNotConfigured)
		return
	}
	userID := chi.URLParam(r, "userID")
	ms, err := h.config.Billing.SyncUser(r.Context(), userID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().
		Str("user_id", userID).
		Str("admin_id", h.identity(r).UserID).
		Bool("active", ms.Active).
		Msg("subscription resynced")
	writeJSON(w, r, http.StatusOK, toMembership(ms))
}
