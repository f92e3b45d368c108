package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mihaimyh/inkwell/pkg/billing"
	"github.com/mihaimyh/inkwell/pkg/community"
)

// ListWall returns Community Wall posts older than ?before, newest first
func (h *Handler) ListWall(w http.ResponseWriter, r *http.Request) {
	before, err := queryTime(r, "before")
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	posts, err := h.manager.ListWall(r.Context(), h.identity(r), before, limit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toWallPosts(posts))
}

func (h *Handler) PostToWall(w http.ResponseWriter, r *http.Request) {
	var req wallPostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	post, err := h.manager.PostToWall(r.Context(), h.identity(r), req.Body)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toWallPost(post))
}

// RemoveWallPost deletes a post; authors remove their own, admins any
func (h *Handler) RemoveWallPost(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.RemoveWallPost(r.Context(), h.identity(r), chi.URLParam(r, "postID")); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateTipCheckout validates a tip and starts its payment
func (h *Handler) CreateTipCheckout(w http.ResponseWriter, r *http.Request) {
	var req tipCheckoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	if h.config.Checkout == nil {
		h.handleError(w, r, billing.ErrProviderNotConfigured)
		return
	}
	id := h.identity(r)
	writer, err := h.manager.ValidateTip(r.Context(), id, req.WriterID, req.WritingID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	returnPath := "/writers/" + writer.Handle
	url, err := h.config.Checkout.TipCheckoutURL(r.Context(), billing.TipRequest{
		TipperID:    id.UserID,
		WriterID:    writer.ID,
		WriterName:  writer.DisplayName,
		WritingID:   req.WritingID,
		AmountCents: req.AmountCents,
		SuccessURL:  h.returnURL(returnPath + "?tip=success"),
		CancelURL:   h.returnURL(returnPath + "?tip=canceled"),
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, URLResponse{URL: url})
}

// ListMyTips returns the tips the caller received
func (h *Handler) ListMyTips(w http.ResponseWriter, r *http.Request) {
	id := h.identity(r)
	if id == nil {
		h.handleError(w, r, community.ErrUnauthenticated)
		return
	}
	h.writeTips(w, r, id.UserID)
}

// ListWriterTips returns any writer's tips to admins
func (h *Handler) ListWriterTips(w http.ResponseWriter, r *http.Request) {
	h.writeTips(w, r, chi.URLParam(r, "userID"))
}

func (h *Handler) writeTips(w http.ResponseWriter, r *http.Request, writerID string) {
	summary, err := h.manager.TipsForWriter(r.Context(), h.identity(r), writerID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, TipSummaryResponse{
		WriterID:   summary.WriterID,
		Tips:       toTips(summary.Tips),
		TotalCents: summary.TotalCents,
	})
}
