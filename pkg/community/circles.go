package community

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxCircleNameLen = 60

// CreateCircle creates a circle owned by the caller, who becomes its first member
func (m *Manager) CreateCircle(ctx context.Context, viewer *Identity, name string) (*Circle, error) {
	if err := requireUser(viewer); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxCircleNameLen {
		return nil, invalid("name", fmt.Sprintf("must be 1-%d characters", maxCircleNameLen))
	}

	owned, err := m.content.CountOwnedCircles(ctx, viewer.UserID)
	if err != nil {
		return nil, err
	}
	if owned >= m.config.MaxOwnedCircles {
		return nil, fmt.Errorf("%w: at most %d circles per owner", ErrConflict, m.config.MaxOwnedCircles)
	}

	now := m.now()
	c := &Circle{
		ID:         m.config.NewID(),
		Name:       name,
		OwnerID:    viewer.UserID,
		MaxMembers: m.config.MaxCircleMembers,
		CreatedAt:  now,
	}
	owner := &Member{CircleID: c.ID, UserID: viewer.UserID, Role: CircleOwner, JoinedAt: now}
	if err := m.content.CreateCircle(ctx, c, owner); err != nil {
		return nil, fmt.Errorf("failed to create circle: %w", err)
	}
	return c, nil
}

// GetCircle returns a circle to its members
func (m *Manager) GetCircle(ctx context.Context, viewer *Identity, circleID string) (*Circle, error) {
	if err := requireUser(viewer); err != nil {
		return nil, err
	}
	c, err := m.content.GetCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if viewer.Role != RoleAdmin {
		if _, err := m.requireCircleMember(ctx, circleID, viewer.UserID); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ListMyCircles returns the circles the caller belongs to
func (m *Manager) ListMyCircles(ctx context.Context, viewer *Identity) ([]*Circle, error) {
	if err := requireUser(viewer); err != nil {
		return nil, err
	}
	return m.content.ListCirclesForUser(ctx, viewer.UserID)
}

// CircleMembers lists a circle's members to its members
func (m *Manager) CircleMembers(ctx context.Context, viewer *Identity, circleID string) ([]*Member, error) {
	if _, err := m.GetCircle(ctx, viewer, circleID); err != nil {
		return nil, err
	}
	return m.content.ListMembers(ctx, circleID)
}

// DeleteCircle removes a circle; only its owner may do so
func (m *Manager) DeleteCircle(ctx context.Context, viewer *Identity, circleID string) error {
	if _, err := m.ownCircle(ctx, viewer, circleID); err != nil {
		return err
	}
	return m.content.DeleteCircle(ctx, circleID)
}

// LeaveCircle removes the caller from a circle; owners delete instead
func (m *Manager) LeaveCircle(ctx context.Context, viewer *Identity, circleID string) error {
	if err := requireUser(viewer); err != nil {
		return err
	}
	member, err := m.requireCircleMember(ctx, circleID, viewer.UserID)
	if err != nil {
		return err
	}
	if member.Role == CircleOwner {
		return fmt.Errorf("%w: the owner cannot leave, delete the circle instead", ErrConflict)
	}
	return m.content.RemoveMember(ctx, circleID, viewer.UserID)
}

// RemoveMember lets the owner remove another member
func (m *Manager) RemoveMember(ctx context.Context, viewer *Identity, circleID, userID string) error {
	c, err := m.ownCircle(ctx, viewer, circleID)
	if err != nil {
		return err
	}
	if userID == c.OwnerID {
		return fmt.Errorf("%w: the owner cannot be removed", ErrConflict)
	}
	if _, err := m.content.GetMember(ctx, circleID, userID); err != nil {
		return err
	}
	return m.content.RemoveMember(ctx, circleID, userID)
}

// CreateInvite issues a single-use invite code for a circle the caller owns
func (m *Manager) CreateInvite(ctx context.Context, viewer *Identity, circleID, email string) (*Invite, error) {
	if _, err := m.ownCircle(ctx, viewer, circleID); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email != "" && !strings.Contains(email, "@") {
		return nil, invalid("email", "must be an e-mail address")
	}
	if err := m.throttle(ctx, viewer, ActionInvite, m.config.InviteLimit); err != nil {
		return nil, err
	}

	now := m.now()
	inv := &Invite{
		ID:        m.config.NewID(),
		CircleID:  circleID,
		Code:      newInviteCode(),
		CreatedBy: viewer.UserID,
		Email:     email,
		Status:    InvitePending,
		ExpiresAt: now.Add(m.config.InviteTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.content.CreateInvite(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to create invite: %w", err)
	}
	m.metrics.RecordInvite("created")
	return inv, nil
}

// ListInvites returns a circle's invites to its owner.
// Pending invites past their expiry are reported as expired.
func (m *Manager) ListInvites(ctx context.Context, viewer *Identity, circleID string) ([]*Invite, error) {
	if _, err := m.ownCircle(ctx, viewer, circleID); err != nil {
		return nil, err
	}
	invites, err := m.content.ListInvites(ctx, circleID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	for _, inv := range invites {
		if inv.Status == InvitePending && !now.Before(inv.ExpiresAt) {
			inv.Status = InviteExpired
		}
	}
	return invites, nil
}

// RevokeInvite withdraws a pending invite
func (m *Manager) RevokeInvite(ctx context.Context, viewer *Identity, inviteID string) (*Invite, error) {
	if err := requireUser(viewer); err != nil {
		return nil, err
	}
	inv, err := m.content.GetInvite(ctx, inviteID)
	if err != nil {
		return nil, err
	}
	if _, err := m.ownCircle(ctx, viewer, inv.CircleID); err != nil {
		return nil, err
	}
	if inv.Status != InvitePending {
		return nil, ErrInviteNotPending
	}
	inv.Status = InviteRevoked
	inv.UpdatedAt = m.now()
	if err := m.content.UpdateInvite(ctx, inv); err != nil {
		return nil, err
	}
	m.metrics.RecordInvite("revoked")
	return inv, nil
}

// AcceptInvite redeems an invite code for the caller
func (m *Manager) AcceptInvite(ctx context.Context, viewer *Identity, code string) (*Member, error) {
	if err := requireUser(viewer); err != nil {
		return nil, err
	}
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, invalid("code", "is required")
	}
	inv, err := m.content.GetInviteByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if inv.Email != "" && !strings.EqualFold(inv.Email, strings.TrimSpace(viewer.Email)) {
		return nil, ErrForbidden
	}
	member, err := m.content.AcceptInvite(ctx, code, viewer.UserID, m.now())
	if err != nil {
		return nil, err
	}
	m.metrics.RecordInvite("accepted")
	m.logger.Info("invite accepted", Field{"circle_id", member.CircleID}, Field{"user_id", viewer.UserID})
	return member, nil
}

func (m *Manager) ownCircle(ctx context.Context, viewer *Identity, circleID string) (*Circle, error) {
	if err := requireUser(viewer); err != nil {
		return nil, err
	}
	c, err := m.content.GetCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != viewer.UserID {
		return nil, ErrForbidden
	}
	return c, nil
}

func (m *Manager) requireCircleMember(ctx context.Context, circleID, userID string) (*Member, error) {
	member, err := m.content.GetMember(ctx, circleID, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	return member, nil
}

func (m *Manager) isCircleMember(ctx context.Context, circleID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	_, err := m.content.GetMember(ctx, circleID, userID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// CheckInviteAcceptable validates an invite against the member list at now.
// Storage backends call it inside their AcceptInvite transaction.
func CheckInviteAcceptable(inv *Invite, c *Circle, members []*Member, userID string, now time.Time) error {
	if inv.Status != InvitePending {
		return ErrInviteNotPending
	}
	if !now.Before(inv.ExpiresAt) {
		return ErrInviteExpired
	}
	for _, mem := range members {
		if mem.UserID == userID {
			return ErrAlreadyMember
		}
	}
	if c.MaxMembers > 0 && len(members) >= c.MaxMembers {
		return ErrCircleFull
	}
	return nil
}

func newInviteCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
