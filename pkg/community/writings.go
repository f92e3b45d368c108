package community

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxTitleLen = 200
	maxBodyLen  = 100000
)

// CanView applies the growth-stage visibility rules.
// circleMember is only consulted for circle writings.
func CanView(viewer *Identity, w *Writing, circleMember bool) bool {
	if w == nil {
		return false
	}
	if viewer != nil && (viewer.Role == RoleAdmin || viewer.UserID == w.AuthorID) {
		return true
	}
	if w.Hidden || w.Stage == StageSeed {
		return false
	}
	if w.CircleID != "" {
		return circleMember
	}
	switch w.Stage {
	case StageSprout:
		return viewer != nil && viewer.UserID != ""
	case StageBloom:
		return true
	default:
		return false
	}
}

// CreateWriting stores a new writing for the caller
func (m *Manager) CreateWriting(ctx context.Context, viewer *Identity, in WritingInput) (*Writing, error) {
	if err := requireUser(viewer); err != nil {
		return nil, err
	}
	title, body, err := validateWriting(in.Title, in.Body)
	if err != nil {
		return nil, err
	}
	stage := in.Stage
	if stage == "" {
		stage = StageSeed
	}
	if !stage.Valid() {
		return nil, invalid("stage", "must be seed, sprout or bloom")
	}
	circleID := strings.TrimSpace(in.CircleID)
	if circleID != "" {
		if _, err := m.requireCircleMember(ctx, circleID, viewer.UserID); err != nil {
			return nil, err
		}
	}

	now := m.now()
	w := &Writing{
		ID:            m.config.NewID(),
		AuthorID:      viewer.UserID,
		CircleID:      circleID,
		Title:         title,
		Body:          body,
		Stage:         stage,
		GalleryStatus: GalleryNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.content.CreateWriting(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to create writing: %w", err)
	}
	return w, nil
}

// GetWriting returns a writing when the viewer may see it.
// Invisible writings report ErrNotFound so their existence is not disclosed.
func (m *Manager) GetWriting(ctx context.Context, viewer *Identity, writingID string) (*Writing, error) {
	w, err := m.content.GetWriting(ctx, writingID)
	if err != nil {
		return nil, err
	}
	ok, err := m.canView(ctx, viewer, w)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return w, nil
}

// UpdateWriting applies a patch to one of the caller's writings.
// Leaving the bloom stage withdraws the writing from the gallery.
func (m *Manager) UpdateWriting(
	ctx context.Context, viewer *Identity, writingID string, patch WritingPatch,
) (*Writing, error) {
	w, err := m.ownWriting(ctx, viewer, writingID)
	if err != nil {
		return nil, err
	}

	title, body := w.Title, w.Body
	if patch.Title != nil {
		title = *patch.Title
	}
	if patch.Body != nil {
		body = *patch.Body
	}
	if w.Title, w.Body, err = validateWriting(title, body); err != nil {
		return nil, err
	}
	if patch.Stage != nil {
		if !patch.Stage.Valid() {
			return nil, invalid("stage", "must be seed, sprout or bloom")
		}
		w.Stage = *patch.Stage
	}
	withdraw := w.Stage != StageBloom && w.GalleryStatus == GalleryPending
	if w.Stage != StageBloom && (w.GalleryStatus == GalleryApproved || w.GalleryStatus == GalleryPending) {
		w.GalleryStatus = GalleryNone
	}
	w.UpdatedAt = m.now()

	if err := m.content.UpdateWriting(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to update writing: %w", err)
	}
	if withdraw {
		if err := m.withdrawSubmissions(ctx, w.ID); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// DeleteWriting removes one of the caller's writings; admins may delete any
func (m *Manager) DeleteWriting(ctx context.Context, viewer *Identity, writingID string) error {
	if err := requireUser(viewer); err != nil {
		return err
	}
	w, err := m.content.GetWriting(ctx, writingID)
	if err != nil {
		return err
	}
	if w.AuthorID != viewer.UserID && viewer.Role != RoleAdmin {
		return ErrForbidden
	}
	return m.content.DeleteWriting(ctx, writingID)
}

// ListWritingsByAuthor returns the author's writings the viewer may see
func (m *Manager) ListWritingsByAuthor(ctx context.Context, viewer *Identity, authorID string) ([]*Writing, error) {
	all, err := m.content.ListWritingsByAuthor(ctx, authorID)
	if err != nil {
		return nil, err
	}
	visible := make([]*Writing, 0, len(all))
	memberOf := make(map[string]bool)
	for _, w := range all {
		member := false
		if w.CircleID != "" && viewer != nil {
			cached, seen := memberOf[w.CircleID]
			if !seen {
				cached, err = m.isCircleMember(ctx, w.CircleID, viewer.UserID)
				if err != nil {
					return nil, err
				}
				memberOf[w.CircleID] = cached
			}
			member = cached
		}
		if CanView(viewer, w, member) {
			visible = append(visible, w)
		}
	}
	return visible, nil
}

// ListCircleWritings returns a circle's shared writings to its members
func (m *Manager) ListCircleWritings(ctx context.Context, viewer *Identity, circleID string) ([]*Writing, error) {
	if err := requireUser(viewer); err != nil {
		return nil, err
	}
	if viewer.Role != RoleAdmin {
		if _, err := m.requireCircleMember(ctx, circleID, viewer.UserID); err != nil {
			return nil, err
		}
	}
	all, err := m.content.ListWritingsByCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	visible := make([]*Writing, 0, len(all))
	for _, w := range all {
		if CanView(viewer, w, true) {
			visible = append(visible, w)
		}
	}
	return visible, nil
}

func (m *Manager) canView(ctx context.Context, viewer *Identity, w *Writing) (bool, error) {
	member := false
	if w.CircleID != "" && viewer != nil && viewer.UserID != "" {
		var err error
		member, err = m.isCircleMember(ctx, w.CircleID, viewer.UserID)
		if err != nil {
			return false, err
		}
	}
	return CanView(viewer, w, member), nil
}

func (m *Manager) ownWriting(ctx context.Context, viewer *Identity, writingID string) (*Writing, error) {
	if err := requireUser(viewer); err != nil {
		return nil, err
	}
	w, err := m.content.GetWriting(ctx, writingID)
	if err != nil {
		return nil, err
	}
	if w.AuthorID != viewer.UserID {
		return nil, ErrForbidden
	}
	return w, nil
}

func validateWriting(title, body string) (string, string, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleLen {
		return "", "", invalid("title", fmt.Sprintf("must be 1-%d characters", maxTitleLen))
	}
	if utf8.RuneCountInString(body) > maxBodyLen {
		return "", "", invalid("body", fmt.Sprintf("must be at most %d characters", maxBodyLen))
	}
	return title, body, nil
}
