package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/mihaimyh/inkwell/pkg/community"
)

// GetProfile implements community.ContentStore
func (s *Storage) GetProfile(_ context.Context, userID string) (*community.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, community.ErrNotFound
	}
	c := *p
	return &c, nil
}

// GetProfileByHandle implements community.ContentStore
func (s *Storage) GetProfileByHandle(_ context.Context, handle string) (*community.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles {
		if strings.EqualFold(p.Handle, handle) {
			c := *p
			return &c, nil
		}
	}
	return nil, community.ErrNotFound
}

// GetProfileByEmail implements community.ContentStore
func (s *Storage) GetProfileByEmail(_ context.Context, email string) (*community.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles {
		if p.Email != "" && strings.EqualFold(p.Email, email) {
			c := *p
			return &c, nil
		}
	}
	return nil, community.ErrNotFound
}

// CreateProfile implements community.ContentStore
func (s *Storage) CreateProfile(_ context.Context, p *community.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[p.ID]; ok {
		return community.ErrConflict
	}
	if s.handleTaken(p.Handle, p.ID) {
		return community.ErrConflict
	}
	c := *p
	s.profiles[p.ID] = &c
	return nil
}

// UpdateProfile implements community.ContentStore
func (s *Storage) UpdateProfile(_ context.Context, p *community.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[p.ID]; !ok {
		return community.ErrNotFound
	}
	if s.handleTaken(p.Handle, p.ID) {
		return community.ErrConflict
	}
	c := *p
	s.profiles[p.ID] = &c
	return nil
}

func (s *Storage) handleTaken(handle, ownerID string) bool {
	for id, other := range s.profiles {
		if id != ownerID && strings.EqualFold(other.Handle, handle) {
			return true
		}
	}
	return false
}

// CreateWriting implements community.ContentStore
func (s *Storage) CreateWriting(_ context.Context, w *community.Writing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.writings[w.ID]; ok {
		return community.ErrConflict
	}
	c := *w
	s.writings[w.ID] = &c
	return nil
}

// GetWriting implements community.ContentStore
func (s *Storage) GetWriting(_ context.Context, writingID string) (*community.Writing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.writings[writingID]
	if !ok {
		return nil, community.ErrNotFound
	}
	c := *w
	return &c, nil
}

// UpdateWriting implements community.ContentStore
func (s *Storage) UpdateWriting(_ context.Context, w *community.Writing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.writings[w.ID]; !ok {
		return community.ErrNotFound
	}
	c := *w
	s.writings[w.ID] = &c
	return nil
}

// DeleteWriting implements community.ContentStore; its submissions go with it
func (s *Storage) DeleteWriting(_ context.Context, writingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.writings[writingID]; !ok {
		return community.ErrNotFound
	}
	delete(s.writings, writingID)
	for id, sub := range s.submissions {
		if sub.WritingID == writingID {
			delete(s.submissions, id)
		}
	}
	return nil
}

// ListWritingsByAuthor implements community.ContentStore
func (s *Storage) ListWritingsByAuthor(_ context.Context, authorID string) ([]*community.Writing, error) {
	return s.filterWritings(func(w *community.Writing) bool { return w.AuthorID == authorID }, community.ListOptions{}), nil
}

// ListWritingsByCircle implements community.ContentStore
func (s *Storage) ListWritingsByCircle(_ context.Context, circleID string) ([]*community.Writing, error) {
	return s.filterWritings(func(w *community.Writing) bool { return w.CircleID == circleID }, community.ListOptions{}), nil
}

// ListGallery implements community.ContentStore
func (s *Storage) ListGallery(_ context.Context, opts community.ListOptions) ([]*community.Writing, error) {
	return s.filterWritings(func(w *community.Writing) bool {
		return w.GalleryStatus == community.GalleryApproved &&
			w.Stage == community.StageBloom &&
			w.CircleID == "" &&
			!w.Hidden
	}, opts), nil
}

func (s *Storage) filterWritings(keep func(*community.Writing) bool, opts community.ListOptions) []*community.Writing {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*community.Writing{}
	for _, w := range s.writings {
		if keep(w) {
			c := *w
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *community.Writing) int {
		if n := b.UpdatedAt.Compare(a.UpdatedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return page(out, opts, func(w *community.Writing) time.Time { return w.UpdatedAt })
}

// CreateSubmission implements community.ContentStore
func (s *Storage) CreateSubmission(_ context.Context, sub *community.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.submissions[sub.ID]; ok {
		return community.ErrConflict
	}
	s.submissions[sub.ID] = copySubmission(sub)
	return nil
}

// GetSubmission implements community.ContentStore
func (s *Storage) GetSubmission(_ context.Context, submissionID string) (*community.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.submissions[submissionID]
	if !ok {
		return nil, community.ErrNotFound
	}
	return copySubmission(sub), nil
}

// UpdateSubmission implements community.ContentStore
func (s *Storage) UpdateSubmission(_ context.Context, sub *community.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.submissions[sub.ID]; !ok {
		return community.ErrNotFound
	}
	s.submissions[sub.ID] = copySubmission(sub)
	return nil
}

// ListSubmissions implements community.ContentStore
func (s *Storage) ListSubmissions(
	_ context.Context, status community.SubmissionStatus, opts community.ListOptions,
) ([]*community.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*community.Submission{}
	for _, sub := range s.submissions {
		if sub.Status == status {
			out = append(out, copySubmission(sub))
		}
	}
	slices.SortFunc(out, func(a, b *community.Submission) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return page(out, opts, func(sub *community.Submission) time.Time { return sub.CreatedAt }), nil
}

// ListSubmissionsForWriting implements community.ContentStore
func (s *Storage) ListSubmissionsForWriting(_ context.Context, writingID string) ([]*community.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*community.Submission{}
	for _, sub := range s.submissions {
		if sub.WritingID == writingID {
			out = append(out, copySubmission(sub))
		}
	}
	slices.SortFunc(out, func(a, b *community.Submission) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func copySubmission(sub *community.Submission) *community.Submission {
	c := *sub
	c.ReviewedAt = copyTime(sub.ReviewedAt)
	return &c
}

// CreateCircle implements community.ContentStore
func (s *Storage) CreateCircle(_ context.Context, c *community.Circle, owner *community.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.circles[c.ID]; ok {
		return community.ErrConflict
	}
	cc := *c
	s.circles[c.ID] = &cc
	s.members[c.ID] = make(map[string]*community.Member)
	if owner != nil {
		m := *owner
		s.members[c.ID][owner.UserID] = &m
	}
	return nil
}

// GetCircle implements community.ContentStore
func (s *Storage) GetCircle(_ context.Context, circleID string) (*community.Circle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.circles[circleID]
	if !ok {
		return nil, community.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

// DeleteCircle implements community.ContentStore; members, invites and circle writings go with it
func (s *Storage) DeleteCircle(_ context.Context, circleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.circles[circleID]; !ok {
		return community.ErrNotFound
	}
	delete(s.circles, circleID)
	delete(s.members, circleID)
	for id, inv := range s.invites {
		if inv.CircleID == circleID {
			delete(s.invites, id)
		}
	}
	for id, w := range s.writings {
		if w.CircleID == circleID {
			delete(s.writings, id)
		}
	}
	return nil
}

// ListCirclesForUser implements community.ContentStore
func (s *Storage) ListCirclesForUser(_ context.Context, userID string) ([]*community.Circle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*community.Circle{}
	for circleID, members := range s.members {
		if _, ok := members[userID]; ok {
			c := *s.circles[circleID]
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *community.Circle) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// CountOwnedCircles implements community.ContentStore
func (s *Storage) CountOwnedCircles(_ context.Context, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, c := range s.circles {
		if c.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

// GetMember implements community.ContentStore
func (s *Storage) GetMember(_ context.Context, circleID, userID string) (*community.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[circleID][userID]
	if !ok {
		return nil, community.ErrNotFound
	}
	c := *m
	return &c, nil
}

// ListMembers implements community.ContentStore
func (s *Storage) ListMembers(_ context.Context, circleID string) ([]*community.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listMembersLocked(circleID), nil
}

func (s *Storage) listMembersLocked(circleID string) []*community.Member {
	out := []*community.Member{}
	for _, m := range s.members[circleID] {
		c := *m
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *community.Member) int {
		return a.JoinedAt.Compare(b.JoinedAt)
	})
	return out
}

// RemoveMember implements community.ContentStore
func (s *Storage) RemoveMember(_ context.Context, circleID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[circleID][userID]; !ok {
		return community.ErrNotFound
	}
	delete(s.members[circleID], userID)
	return nil
}

// CreateInvite implements community.ContentStore
func (s *Storage) CreateInvite(_ context.Context, inv *community.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invites[inv.ID]; ok {
		return community.ErrConflict
	}
	for _, other := range s.invites {
		if other.Code == inv.Code {
			return community.ErrConflict
		}
	}
	c := *inv
	s.invites[inv.ID] = &c
	return nil
}

// GetInvite implements community.ContentStore
func (s *Storage) GetInvite(_ context.Context, inviteID string) (*community.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invites[inviteID]
	if !ok {
		return nil, community.ErrNotFound
	}
	c := *inv
	return &c, nil
}

// GetInviteByCode implements community.ContentStore
func (s *Storage) GetInviteByCode(_ context.Context, code string) (*community.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv := s.inviteByCodeLocked(code)
	if inv == nil {
		return nil, community.ErrNotFound
	}
	c := *inv
	return &c, nil
}

func (s *Storage) inviteByCodeLocked(code string) *community.Invite {
	for _, inv := range s.invites {
		if inv.Code == code {
			return inv
		}
	}
	return nil
}

// UpdateInvite implements community.ContentStore
func (s *Storage) UpdateInvite(_ context.Context, inv *community.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invites[inv.ID]; !ok {
		return community.ErrNotFound
	}
	c := *inv
	s.invites[inv.ID] = &c
	return nil
}

// ListInvites implements community.ContentStore
func (s *Storage) ListInvites(_ context.Context, circleID string) ([]*community.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*community.Invite{}
	for _, inv := range s.invites {
		if inv.CircleID == circleID {
			c := *inv
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *community.Invite) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// AcceptInvite implements community.ContentStore under the write lock
func (s *Storage) AcceptInvite(_ context.Context, code, userID string, now time.Time) (*community.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := s.inviteByCodeLocked(code)
	if inv == nil {
		return nil, community.ErrNotFound
	}
	circle, ok := s.circles[inv.CircleID]
	if !ok {
		return nil, community.ErrNotFound
	}
	members := s.listMembersLocked(inv.CircleID)
	if err := community.CheckInviteAcceptable(inv, circle, members, userID, now); err != nil {
		return nil, err
	}

	m := &community.Member{CircleID: inv.CircleID, UserID: userID, Role: community.CircleMember, JoinedAt: now}
	stored := *m
	s.members[inv.CircleID][userID] = &stored
	inv.Status = community.InviteAccepted
	inv.AcceptedBy = userID
	inv.UpdatedAt = now
	return m, nil
}

// CreateWallPost implements community.ContentStore
func (s *Storage) CreateWallPost(_ context.Context, p *community.WallPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wall[p.ID]; ok {
		return community.ErrConflict
	}
	c := *p
	s.wall[p.ID] = &c
	return nil
}

// GetWallPost implements community.ContentStore
func (s *Storage) GetWallPost(_ context.Context, postID string) (*community.WallPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.wall[postID]
	if !ok {
		return nil, community.ErrNotFound
	}
	c := *p
	return &c, nil
}

// DeleteWallPost implements community.ContentStore
func (s *Storage) DeleteWallPost(_ context.Context, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wall[postID]; !ok {
		return community.ErrNotFound
	}
	delete(s.wall, postID)
	return nil
}

// ListWallPosts implements community.ContentStore
func (s *Storage) ListWallPosts(_ context.Context, opts community.ListOptions) ([]*community.WallPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*community.WallPost{}
	for _, p := range s.wall {
		c := *p
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *community.WallPost) int {
		if n := b.CreatedAt.Compare(a.CreatedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return page(out, opts, func(p *community.WallPost) time.Time { return p.CreatedAt }), nil
}

// RecordTip implements community.ContentStore
func (s *Storage) RecordTip(_ context.Context, tip *community.Tip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tips[tip.ID]; ok {
		return community.ErrDuplicate
	}
	c := *tip
	s.tips[tip.ID] = &c
	return nil
}

// ListTipsForWriter implements community.ContentStore
func (s *Storage) ListTipsForWriter(_ context.Context, writerID string) ([]*community.Tip, error) {
	return s.listTips(func(t *community.Tip) bool { return t.WriterID == writerID }, 0), nil
}

// ListRecentTips implements community.ContentStore
func (s *Storage) ListRecentTips(_ context.Context, limit int) ([]*community.Tip, error) {
	return s.listTips(func(*community.Tip) bool { return true }, limit), nil
}

func (s *Storage) listTips(keep func(*community.Tip) bool, limit int) []*community.Tip {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*community.Tip{}
	for _, t := range s.tips {
		if keep(t) {
			c := *t
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *community.Tip) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return page(out, community.ListOptions{Limit: limit}, func(t *community.Tip) time.Time { return t.CreatedAt })
}

// page applies Before, Offset and Limit to a newest-first slice
func page[T any](items []T, opts community.ListOptions, at func(T) time.Time) []T {
	if opts.Before != nil {
		filtered := items[:0]
		for _, item := range items {
			if at(item).Before(*opts.Before) {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return items[:0]
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
