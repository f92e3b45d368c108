package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// CreateCircle creates a circle owned by the caller
func (h *Handler) CreateCircle(w http.ResponseWriter, r *http.Request) {
	var req createCircleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	circle, err := h.manager.CreateCircle(r.Context(), h.identity(r), req.Name)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toCircle(circle))
}

// ListMyCircles returns the circles the caller belongs to
func (h *Handler) ListMyCircles(w http.ResponseWriter, r *http.Request) {
	circles, err := h.manager.ListMyCircles(r.Context(), h.identity(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toCircles(circles))
}

func (h *Handler) GetCircle(w http.ResponseWriter, r *http.Request) {
	circle, err := h.manager.GetCircle(r.Context(), h.identity(r), chi.URLParam(r, "circleID"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toCircle(circle))
}

func (h *Handler) DeleteCircle(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteCircle(r.Context(), h.identity(r), chi.URLParam(r, "circleID")); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListCircleMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.manager.CircleMembers(r.Context(), h.identity(r), chi.URLParam(r, "circleID"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toMembers(members))
}

func (h *Handler) RemoveCircleMember(w http.ResponseWriter, r *http.Request) {
	err := h.manager.RemoveMember(r.Context(), h.identity(r), chi.URLParam(r, "circleID"), chi.URLParam(r, "userID"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LeaveCircle(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.LeaveCircle(r.Context(), h.identity(r), chi.URLParam(r, "circleID")); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListCircleWritings(w http.ResponseWriter, r *http.Request) {
	writings, err := h.manager.ListCircleWritings(r.Context(), h.identity(r), chi.URLParam(r, "circleID"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toWritings(writings))
}

// CreateInvite issues a single-use invite code for a circle the caller owns
func (h *Handler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	var req createInviteRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			h.handleError(w, r, err)
			return
		}
	}
	invite, err := h.manager.CreateInvite(r.Context(), h.identity(r), chi.URLParam(r, "circleID"), req.Email)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toInvite(invite))
}

func (h *Handler) ListInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := h.manager.ListInvites(r.Context(), h.identity(r), chi.URLParam(r, "circleID"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toInvites(invites))
}

func (h *Handler) RevokeInvite(w http.ResponseWriter, r *http.Request) {
	invite, err := h.manager.RevokeInvite(r.Context(), h.identity(r), chi.URLParam(r, "inviteID"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toInvite(invite))
}

// AcceptInvite joins the caller to the invite's circle
func (h *Handler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	var req acceptInviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	member, err := h.manager.AcceptInvite(r.Context(), h.identity(r), req.Code)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, MemberResponse{UserID: member.UserID, Role: string(member.Role), JoinedAt: member.JoinedAt})
}
