package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mihaimyh/inkwell/pkg/community"
)

// CreateWriting stores a new writing authored by the caller
func (h *Handler) CreateWriting(w http.ResponseWriter, r *http.Request) {
	var req createWritingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	writing, err := h.manager.CreateWriting(r.Context(), h.identity(r), community.WritingInput{
		Title:    req.Title,
		Body:     req.Body,
		Stage:    community.GrowthStage(req.Stage),
		CircleID: req.CircleID,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toWriting(writing))
}

// GetWriting returns a writing the caller may see. Invisible writings are reported as not found.
func (h *Handler) GetWriting(w http.ResponseWriter, r *http.Request) {
	writing, err := h.manager.GetWriting(r.Context(), h.identity(r), chi.URLParam(r, "writingID"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toWriting(writing))
}

// UpdateWriting patches one of the caller's writings
func (h *Handler) UpdateWriting(w http.ResponseWriter, r *http.Request) {
	var req updateWritingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	patch := community.WritingPatch{Title: req.Title, Body: req.Body}
	if req.Stage != nil {
		stage := community.GrowthStage(*req.Stage)
		patch.Stage = &stage
	}
	writing, err := h.manager.UpdateWriting(r.Context(), h.identity(r), chi.URLParam(r, "writingID"), patch)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toWriting(writing))
}

// DeleteWriting removes one of the caller's writings
func (h *Handler) DeleteWriting(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteWriting(r.Context(), h.identity(r), chi.URLParam(r, "writingID")); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitToGallery asks moderators to feature a bloom writing
func (h *Handler) SubmitToGallery(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			h.handleError(w, r, err)
			return
		}
	}
	submission, err := h.manager.SubmitToGallery(r.Context(), h.identity(r), chi.URLParam(r, "writingID"), req.Note)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toSubmission(submission))
}

// ListGallery returns approved public writings, newest first
func (h *Handler) ListGallery(w http.ResponseWriter, r *http.Request) {
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
	writings, err := h.manager.ListGallery(r.Context(), limit, offset)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toWritings(writings))
}
