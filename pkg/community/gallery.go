package community

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

const (
	maxNoteLen        = 500
	maxReasonLen      = 500
	defaultPageSize   = 20
	maxPageSize       = 100
	overviewPageLimit = 10
)

// SubmitToGallery asks the moderators to feature one of the caller's blooms
func (m *Manager) SubmitToGallery(ctx context.Context, viewer *Identity, writingID, note string) (*Submission, error) {
	w, err := m.ownWriting(ctx, viewer, writingID)
	if err != nil {
		return nil, err
	}
	switch {
	case w.Stage != StageBloom:
		return nil, invalid("stage", "only bloom writings can be submitted")
	case w.CircleID != "":
		return nil, invalid("circle_id", "circle writings cannot be submitted")
	case w.Hidden:
		return nil, ErrForbidden
	case w.GalleryStatus == GalleryPending || w.GalleryStatus == GalleryApproved:
		return nil, fmt.Errorf("%w: writing is already %s", ErrConflict, w.GalleryStatus)
	}
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > maxNoteLen {
		return nil, invalid("note", fmt.Sprintf("must be at most %d characters", maxNoteLen))
	}

	// Clears requests left pending by an interrupted withdrawal
	if err := m.withdrawSubmissions(ctx, w.ID); err != nil {
		return nil, err
	}

	now := m.now()
	s := &Submission{
		ID:        m.config.NewID(),
		WritingID: w.ID,
		AuthorID:  w.AuthorID,
		Note:      note,
		Status:    SubmissionPending,
		CreatedAt: now,
	}
	if err := m.content.CreateSubmission(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create submission: %w", err)
	}
	w.GalleryStatus = GalleryPending
	w.UpdatedAt = now
	if err := m.content.UpdateWriting(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to update writing: %w", err)
	}
	return s, nil
}

// ListGallery returns approved public writings, newest first
func (m *Manager) ListGallery(ctx context.Context, limit, offset int) ([]*Writing, error) {
	return m.content.ListGallery(ctx, ListOptions{Limit: pageSize(limit), Offset: max(offset, 0)})
}

// ListSubmissions returns submissions in the given status to admins
func (m *Manager) ListSubmissions(
	ctx context.Context, viewer *Identity, status SubmissionStatus, limit, offset int,
) ([]*Submission, error) {
	if err := requireAdmin(viewer); err != nil {
		return nil, err
	}
	if status == "" {
		status = SubmissionPending
	}
	return m.content.ListSubmissions(ctx, status, ListOptions{Limit: pageSize(limit), Offset: max(offset, 0)})
}

// ReviewSubmission approves or rejects a pending submission
func (m *Manager) ReviewSubmission(
	ctx context.Context, viewer *Identity, submissionID string, approve bool, reason string,
) (*Submission, error) {
	if err := requireAdmin(viewer); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > maxReasonLen {
		return nil, invalid("reason", fmt.Sprintf("must be at most %d characters", maxReasonLen))
	}
	s, err := m.content.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if s.Status != SubmissionPending {
		return nil, fmt.Errorf("%w: submission is already %s", ErrConflict, s.Status)
	}
	w, err := m.content.GetWriting(ctx, s.WritingID)
	if err != nil {
		return nil, err
	}
	if w.GalleryStatus != GalleryPending {
		return nil, fmt.Errorf("%w: writing is no longer awaiting review", ErrConflict)
	}

	now := m.now()
	action := "reject"
	s.Status = SubmissionRejected
	w.GalleryStatus = GalleryRejected
	if approve {
		// The author may have moved the writing out of bloom since submitting
		if w.Stage != StageBloom || w.Hidden || w.CircleID != "" {
			return nil, invalid("writing", "is no longer eligible for the gallery")
		}
		action = "approve"
		s.Status = SubmissionApproved
		w.GalleryStatus = GalleryApproved
	}
	s.ReviewerID = viewer.UserID
	s.Reason = reason
	s.ReviewedAt = &now
	w.UpdatedAt = now

	if err := m.content.UpdateSubmission(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to update submission: %w", err)
	}
	if err := m.content.UpdateWriting(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to update writing: %w", err)
	}
	m.metrics.RecordModeration(action)
	m.logger.Info("submission reviewed",
		Field{"submission_id", s.ID},
		Field{"writing_id", w.ID},
		Field{"reviewer_id", viewer.UserID},
		Field{"status", string(s.Status)},
	)
	return s, nil
}

// withdrawSubmissions marks every pending submission of a writing withdrawn
func (m *Manager) withdrawSubmissions(ctx context.Context, writingID string) error {
	subs, err := m.content.ListSubmissionsForWriting(ctx, writingID)
	if err != nil {
		return fmt.Errorf("failed to list submissions: %w", err)
	}
	now := m.now()
	for _, s := range subs {
		if s.Status != SubmissionPending {
			continue
		}
		s.Status = SubmissionWithdrawn
		s.ReviewedAt = &now
		if err := m.content.UpdateSubmission(ctx, s); err != nil {
			return fmt.Errorf("failed to withdraw submission: %w", err)
		}
		m.metrics.RecordModeration("withdraw")
	}
	return nil
}

// SetWritingHidden hides or restores a writing; hidden writings leave the gallery
func (m *Manager) SetWritingHidden(ctx context.Context, viewer *Identity, writingID string, hidden bool) (*Writing, error) {
	if err := requireAdmin(viewer); err != nil {
		return nil, err
	}
	w, err := m.content.GetWriting(ctx, writingID)
	if err != nil {
		return nil, err
	}
	w.Hidden = hidden
	w.UpdatedAt = m.now()
	if err := m.content.UpdateWriting(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to update writing: %w", err)
	}
	if hidden {
		m.metrics.RecordModeration("hide")
	} else {
		m.metrics.RecordModeration("unhide")
	}
	m.logger.Info("writing visibility changed",
		Field{"writing_id", w.ID}, Field{"hidden", hidden}, Field{"admin_id", viewer.UserID})
	return w, nil
}

// AdminOverview loads the moderation console's landing data concurrently
func (m *Manager) AdminOverview(ctx context.Context, viewer *Identity) (*AdminOverview, error) {
	if err := requireAdmin(viewer); err != nil {
		return nil, err
	}

	overview := &AdminOverview{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		subs, err := m.content.ListSubmissions(gctx, SubmissionPending, ListOptions{Limit: maxPageSize})
		overview.PendingSubmissions = subs
		return err
	})
	g.Go(func() error {
		tips, err := m.content.ListRecentTips(gctx, overviewPageLimit)
		overview.RecentTips = tips
		return err
	})
	g.Go(func() error {
		posts, err := m.content.ListWallPosts(gctx, ListOptions{Limit: overviewPageLimit})
		overview.RecentWallPosts = posts
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load admin overview: %w", err)
	}
	return overview, nil
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	return min(limit, maxPageSize)
}
