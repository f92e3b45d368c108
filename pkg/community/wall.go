package community

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const maxWallPostLen = 1000

// PostToWall publishes a message on the Community Wall; members only
func (m *Manager) PostToWall(ctx context.Context, viewer *Identity, body string) (*WallPost, error) {
	if err := m.RequireMember(ctx, viewer); err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" || utf8.RuneCountInString(body) > maxWallPostLen {
		return nil, invalid("body", fmt.Sprintf("must be 1-%d characters", maxWallPostLen))
	}
	if err := m.throttle(ctx, viewer, ActionWallPost, m.config.WallPostLimit); err != nil {
		return nil, err
	}
	p := &WallPost{
		ID:        m.config.NewID(),
		AuthorID:  viewer.UserID,
		Body:      body,
		CreatedAt: m.now(),
	}
	if err := m.content.CreateWallPost(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create wall post: %w", err)
	}
	return p, nil
}

// ListWall returns wall posts older than before (newest first); members only
func (m *Manager) ListWall(ctx context.Context, viewer *Identity, before *time.Time, limit int) ([]*WallPost, error) {
	if err := m.RequireMember(ctx, viewer); err != nil {
		return nil, err
	}
	return m.content.ListWallPosts(ctx, ListOptions{Limit: pageSize(limit), Before: before})
}

// RemoveWallPost deletes a wall post. Authors may remove their own, admins any.
func (m *Manager) RemoveWallPost(ctx context.Context, viewer *Identity, postID string) error {
	if err := requireUser(viewer); err != nil {
		return err
	}
	p, err := m.content.GetWallPost(ctx, postID)
	if err != nil {
		return err
	}
	if p.AuthorID != viewer.UserID && viewer.Role != RoleAdmin {
		return ErrForbidden
	}
	if err := m.content.DeleteWallPost(ctx, postID); err != nil {
		return err
	}
	if p.AuthorID != viewer.UserID {
		m.metrics.RecordModeration("remove_wall_post")
		m.logger.Info("wall post removed", Field{"post_id", postID}, Field{"admin_id", viewer.UserID})
	}
	return nil
}
