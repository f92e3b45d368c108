package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mihaimyh/inkwell/pkg/community"
)

// notFound maps pgx.ErrNoRows to community.ErrNotFound and wraps anything else
func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return community.ErrNotFound
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func conflict(err error, op string) error {
	if isUniqueViolation(err) {
		return community.ErrConflict
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// requireRow turns an update or delete that touched nothing into ErrNotFound
func requireRow(tag interface{ RowsAffected() int64 }, err error, op string) error {
	if err != nil {
		return conflict(err, op)
	}
	if tag.RowsAffected() == 0 {
		return community.ErrNotFound
	}
	return nil
}

func collect[T any](rows pgx.Rows, err error, scan func(pgx.Row) (*T, error), op string) ([]*T, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	out := []*T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to %s: %w", op, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return out, nil
}

const profileColumns = `id, handle, display_name, bio, email, role, created_at, updated_at`

func scanProfile(row pgx.Row) (*community.Profile, error) {
	var p community.Profile
	var role string
	if err := row.Scan(&p.ID, &p.Handle, &p.DisplayName, &p.Bio, &p.Email, &role, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Role = community.Role(role)
	return &p, nil
}

// GetProfile implements community.ContentStore
func (s *Storage) GetProfile(ctx context.Context, userID string) (*community.Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID))
	if err != nil {
		return nil, notFound(err, "get profile")
	}
	return p, nil
}

// GetProfileByHandle implements community.ContentStore
func (s *Storage) GetProfileByHandle(ctx context.Context, handle string) (*community.Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE lower(handle) = lower($1)`, handle))
	if err != nil {
		return nil, notFound(err, "get profile by handle")
	}
	return p, nil
}

// GetProfileByEmail implements community.ContentStore
func (s *Storage) GetProfileByEmail(ctx context.Context, email string) (*community.Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE email <> '' AND lower(email) = lower($1)
			ORDER BY created_at LIMIT 1`, email))
	if err != nil {
		return nil, notFound(err, "get profile by email")
	}
	return p, nil
}

// CreateProfile implements community.ContentStore
func (s *Storage) CreateProfile(ctx context.Context, p *community.Profile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (`+profileColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Handle, p.DisplayName, p.Bio, p.Email, string(p.Role), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return conflict(err, "create profile")
	}
	return nil
}

// UpdateProfile implements community.ContentStore
func (s *Storage) UpdateProfile(ctx context.Context, p *community.Profile) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE profiles SET handle = $2, display_name = $3, bio = $4, email = $5, role = $6, updated_at = $7
			WHERE id = $1`,
		p.ID, p.Handle, p.DisplayName, p.Bio, p.Email, string(p.Role), p.UpdatedAt)
	return requireRow(tag, err, "update profile")
}

const writingColumns = `id, author_id, COALESCE(circle_id, ''), title, body, stage, gallery_status, hidden,
	created_at, updated_at`

func scanWriting(row pgx.Row) (*community.Writing, error) {
	var w community.Writing
	var stage, gallery string
	err := row.Scan(&w.ID, &w.AuthorID, &w.CircleID, &w.Title, &w.Body, &stage, &gallery, &w.Hidden,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.Stage = community.GrowthStage(stage)
	w.GalleryStatus = community.GalleryStatus(gallery)
	return &w, nil
}

// CreateWriting implements community.ContentStore
func (s *Storage) CreateWriting(ctx context.Context, w *community.Writing) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO writings (id, author_id, circle_id, title, body, stage, gallery_status, hidden, created_at, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.AuthorID, w.CircleID, w.Title, w.Body, string(w.Stage), string(w.GalleryStatus), w.Hidden,
		w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return conflict(err, "create writing")
	}
	return nil
}

// GetWriting implements community.ContentStore
func (s *Storage) GetWriting(ctx context.Context, writingID string) (*community.Writing, error) {
	w, err := scanWriting(s.pool.QueryRow(ctx, `SELECT `+writingColumns+` FROM writings WHERE id = $1`, writingID))
	if err != nil {
		return nil, notFound(err, "get writing")
	}
	return w, nil
}

// UpdateWriting implements community.ContentStore
func (s *Storage) UpdateWriting(ctx context.Context, w *community.Writing) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE writings SET title = $2, body = $3, stage = $4, gallery_status = $5, hidden = $6, updated_at = $7
			WHERE id = $1`,
		w.ID, w.Title, w.Body, string(w.Stage), string(w.GalleryStatus), w.Hidden, w.UpdatedAt)
	return requireRow(tag, err, "update writing")
}

// DeleteWriting implements community.ContentStore
func (s *Storage) DeleteWriting(ctx context.Context, writingID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM writings WHERE id = $1`, writingID)
	return requireRow(tag, err, "delete writing")
}

// ListWritingsByAuthor implements community.ContentStore
func (s *Storage) ListWritingsByAuthor(ctx context.Context, authorID string) ([]*community.Writing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+writingColumns+` FROM writings WHERE author_id = $1 ORDER BY updated_at DESC, id`, authorID)
	return collect(rows, err, scanWriting, "list writings")
}

// ListWritingsByCircle implements community.ContentStore
func (s *Storage) ListWritingsByCircle(ctx context.Context, circleID string) ([]*community.Writing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+writingColumns+` FROM writings WHERE circle_id = $1 ORDER BY updated_at DESC, id`, circleID)
	return collect(rows, err, scanWriting, "list circle writings")
}

// ListGallery implements community.ContentStore
func (s *Storage) ListGallery(ctx context.Context, opts community.ListOptions) ([]*community.Writing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+writingColumns+` FROM writings
			WHERE gallery_status = 'approved' AND stage = 'bloom' AND NOT hidden AND circle_id IS NULL
				AND ($1::timestamptz IS NULL OR updated_at < $1)
			ORDER BY updated_at DESC, id
			LIMIT NULLIF($2::int, 0) OFFSET $3`,
		opts.Before, opts.Limit, opts.Offset)
	return collect(rows, err, scanWriting, "list gallery")
}

const submissionColumns = `id, writing_id, author_id, note, status, reviewer_id, reason, created_at, reviewed_at`

func scanSubmission(row pgx.Row) (*community.Submission, error) {
	var sub community.Submission
	var status string
	err := row.Scan(&sub.ID, &sub.WritingID, &sub.AuthorID, &sub.Note, &status, &sub.ReviewerID, &sub.Reason,
		&sub.CreatedAt, &sub.ReviewedAt)
	if err != nil {
		return nil, err
	}
	sub.Status = community.SubmissionStatus(status)
	return &sub, nil
}

// CreateSubmission implements community.ContentStore
func (s *Storage) CreateSubmission(ctx context.Context, sub *community.Submission) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO gallery_submissions (`+submissionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sub.ID, sub.WritingID, sub.AuthorID, sub.Note, string(sub.Status), sub.ReviewerID, sub.Reason,
		sub.CreatedAt, sub.ReviewedAt)
	if err != nil {
		return conflict(err, "create submission")
	}
	return nil
}

// GetSubmission implements community.ContentStore
func (s *Storage) GetSubmission(ctx context.Context, submissionID string) (*community.Submission, error) {
	sub, err := scanSubmission(s.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM gallery_submissions WHERE id = $1`, submissionID))
	if err != nil {
		return nil, notFound(err, "get submission")
	}
	return sub, nil
}

// UpdateSubmission implements community.ContentStore
func (s *Storage) UpdateSubmission(ctx context.Context, sub *community.Submission) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE gallery_submissions SET status = $2, reviewer_id = $3, reason = $4, reviewed_at = $5 WHERE id = $1`,
		sub.ID, string(sub.Status), sub.ReviewerID, sub.Reason, sub.ReviewedAt)
	return requireRow(tag, err, "update submission")
}

// ListSubmissions implements community.ContentStore
func (s *Storage) ListSubmissions(
	ctx context.Context, status community.SubmissionStatus, opts community.ListOptions,
) ([]*community.Submission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM gallery_submissions
			WHERE status = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
			ORDER BY created_at DESC
			LIMIT NULLIF($3::int, 0) OFFSET $4`,
		string(status), opts.Before, opts.Limit, opts.Offset)
	return collect(rows, err, scanSubmission, "list submissions")
}

// ListSubmissionsForWriting implements community.ContentStore
func (s *Storage) ListSubmissionsForWriting(ctx context.Context, writingID string) ([]*community.Submission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM gallery_submissions
			WHERE writing_id = $1
			ORDER BY created_at DESC`,
		writingID)
	return collect(rows, err, scanSubmission, "list writing submissions")
}

const circleColumns = `c.id, c.name, c.owner_id, c.max_members, c.created_at`

func scanCircle(row pgx.Row) (*community.Circle, error) {
	var c community.Circle
	if err := row.Scan(&c.ID, &c.Name, &c.OwnerID, &c.MaxMembers, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCircle implements community.ContentStore
func (s *Storage) CreateCircle(ctx context.Context, c *community.Circle, owner *community.Member) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO circles (id, name, owner_id, max_members, created_at) VALUES ($1, $2, $3, $4, $5)`,
			c.ID, c.Name, c.OwnerID, c.MaxMembers, c.CreatedAt)
		if err != nil {
			return conflict(err, "create circle")
		}
		if owner == nil {
			return nil
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO circle_members (circle_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
			owner.CircleID, owner.UserID, string(owner.Role), owner.JoinedAt)
		if err != nil {
			return conflict(err, "add circle owner")
		}
		return nil
	})
}

// GetCircle implements community.ContentStore
func (s *Storage) GetCircle(ctx context.Context, circleID string) (*community.Circle, error) {
	c, err := scanCircle(s.pool.QueryRow(ctx, `SELECT `+circleColumns+` FROM circles c WHERE c.id = $1`, circleID))
	if err != nil {
		return nil, notFound(err, "get circle")
	}
	return c, nil
}

// DeleteCircle implements community.ContentStore; members, invites and writings cascade
func (s *Storage) DeleteCircle(ctx context.Context, circleID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM circles WHERE id = $1`, circleID)
	return requireRow(tag, err, "delete circle")
}

// ListCirclesForUser implements community.ContentStore
func (s *Storage) ListCirclesForUser(ctx context.Context, userID string) ([]*community.Circle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+circleColumns+` FROM circles c
			JOIN circle_members m ON m.circle_id = c.id
			WHERE m.user_id = $1
			ORDER BY c.created_at`, userID)
	return collect(rows, err, scanCircle, "list circles")
}

// CountOwnedCircles implements community.ContentStore
func (s *Storage) CountOwnedCircles(ctx context.Context, ownerID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM circles WHERE owner_id = $1`, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count circles: %w", err)
	}
	return n, nil
}

const memberColumns = `circle_id, user_id, role, joined_at`

func scanMember(row pgx.Row) (*community.Member, error) {
	var m community.Member
	var role string
	if err := row.Scan(&m.CircleID, &m.UserID, &role, &m.JoinedAt); err != nil {
		return nil, err
	}
	m.Role = community.CircleRole(role)
	return &m, nil
}

// GetMember implements community.ContentStore
func (s *Storage) GetMember(ctx context.Context, circleID, userID string) (*community.Member, error) {
	m, err := scanMember(s.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM circle_members WHERE circle_id = $1 AND user_id = $2`, circleID, userID))
	if err != nil {
		return nil, notFound(err, "get member")
	}
	return m, nil
}

// ListMembers implements community.ContentStore
func (s *Storage) ListMembers(ctx context.Context, circleID string) ([]*community.Member, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+memberColumns+` FROM circle_members WHERE circle_id = $1 ORDER BY joined_at`, circleID)
	return collect(rows, err, scanMember, "list members")
}

// RemoveMember implements community.ContentStore
func (s *Storage) RemoveMember(ctx context.Context, circleID, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM circle_members WHERE circle_id = $1 AND user_id = $2`, circleID, userID)
	return requireRow(tag, err, "remove member")
}

const inviteColumns = `id, circle_id, code, created_by, email, status, accepted_by, expires_at, created_at, updated_at`

func scanInvite(row pgx.Row) (*community.Invite, error) {
	var inv community.Invite
	var status string
	err := row.Scan(&inv.ID, &inv.CircleID, &inv.Code, &inv.CreatedBy, &inv.Email, &status, &inv.AcceptedBy,
		&inv.ExpiresAt, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inv.Status = community.InviteStatus(status)
	return &inv, nil
}

// CreateInvite implements community.ContentStore
func (s *Storage) CreateInvite(ctx context.Context, inv *community.Invite) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO circle_invites (`+inviteColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inv.ID, inv.CircleID, inv.Code, inv.CreatedBy, inv.Email, string(inv.Status), inv.AcceptedBy,
		inv.ExpiresAt, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return conflict(err, "create invite")
	}
	return nil
}

// GetInvite implements community.ContentStore
func (s *Storage) GetInvite(ctx context.Context, inviteID string) (*community.Invite, error) {
	inv, err := scanInvite(s.pool.QueryRow(ctx, `SELECT `+inviteColumns+` FROM circle_invites WHERE id = $1`, inviteID))
	if err != nil {
		return nil, notFound(err, "get invite")
	}
	return inv, nil
}

// GetInviteByCode implements community.ContentStore
func (s *Storage) GetInviteByCode(ctx context.Context, code string) (*community.Invite, error) {
	inv, err := scanInvite(s.pool.QueryRow(ctx, `SELECT `+inviteColumns+` FROM circle_invites WHERE code = $1`, code))
	if err != nil {
		return nil, notFound(err, "get invite")
	}
	return inv, nil
}

// UpdateInvite implements community.ContentStore
func (s *Storage) UpdateInvite(ctx context.Context, inv *community.Invite) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE circle_invites SET status = $2, accepted_by = $3, updated_at = $4 WHERE id = $1`,
		inv.ID, string(inv.Status), inv.AcceptedBy, inv.UpdatedAt)
	return requireRow(tag, err, "update invite")
}

// ListInvites implements community.ContentStore
func (s *Storage) ListInvites(ctx context.Context, circleID string) ([]*community.Invite, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+inviteColumns+` FROM circle_invites WHERE circle_id = $1 ORDER BY created_at DESC`, circleID)
	return collect(rows, err, scanInvite, "list invites")
}

// AcceptInvite implements community.ContentStore.
// The invite row and its circle row are locked so capacity checks cannot race.
func (s *Storage) AcceptInvite(ctx context.Context, code, userID string, now time.Time) (*community.Member, error) {
	var member *community.Member
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		inv, err := scanInvite(tx.QueryRow(ctx,
			`SELECT `+inviteColumns+` FROM circle_invites WHERE code = $1 FOR UPDATE`, code))
		if err != nil {
			return notFound(err, "load invite")
		}
		circle, err := scanCircle(tx.QueryRow(ctx,
			`SELECT `+circleColumns+` FROM circles c WHERE c.id = $1 FOR UPDATE`, inv.CircleID))
		if err != nil {
			return notFound(err, "load circle")
		}
		rows, err := tx.Query(ctx,
			`SELECT `+memberColumns+` FROM circle_members WHERE circle_id = $1`, inv.CircleID)
		members, err := collect(rows, err, scanMember, "load members")
		if err != nil {
			return err
		}
		if err := community.CheckInviteAcceptable(inv, circle, members, userID, now); err != nil {
			return err
		}

		member = &community.Member{CircleID: inv.CircleID, UserID: userID, Role: community.CircleMember, JoinedAt: now}
		if _, err := tx.Exec(ctx,
			`INSERT INTO circle_members (circle_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
			member.CircleID, member.UserID, string(member.Role), member.JoinedAt); err != nil {
			if isUniqueViolation(err) {
				return community.ErrAlreadyMember
			}
			return fmt.Errorf("failed to add member: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE circle_invites SET status = $2, accepted_by = $3, updated_at = $4 WHERE id = $1`,
			inv.ID, string(community.InviteAccepted), userID, now); err != nil {
			return fmt.Errorf("failed to update invite: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// CreateWallPost implements community.ContentStore
func (s *Storage) CreateWallPost(ctx context.Context, p *community.WallPost) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wall_posts (id, author_id, body, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.AuthorID, p.Body, p.CreatedAt)
	if err != nil {
		return conflict(err, "create wall post")
	}
	return nil
}

func scanWallPost(row pgx.Row) (*community.WallPost, error) {
	var p community.WallPost
	if err := row.Scan(&p.ID, &p.AuthorID, &p.Body, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetWallPost implements community.ContentStore
func (s *Storage) GetWallPost(ctx context.Context, postID string) (*community.WallPost, error) {
	p, err := scanWallPost(s.pool.QueryRow(ctx,
		`SELECT id, author_id, body, created_at FROM wall_posts WHERE id = $1`, postID))
	if err != nil {
		return nil, notFound(err, "get wall post")
	}
	return p, nil
}

// DeleteWallPost implements community.ContentStore
func (s *Storage) DeleteWallPost(ctx context.Context, postID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM wall_posts WHERE id = $1`, postID)
	return requireRow(tag, err, "delete wall post")
}

// ListWallPosts implements community.ContentStore
func (s *Storage) ListWallPosts(ctx context.Context, opts community.ListOptions) ([]*community.WallPost, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, author_id, body, created_at FROM wall_posts
			WHERE ($1::timestamptz IS NULL OR created_at < $1)
			ORDER BY created_at DESC, id
			LIMIT NULLIF($2::int, 0) OFFSET $3`,
		opts.Before, opts.Limit, opts.Offset)
	return collect(rows, err, scanWallPost, "list wall posts")
}

const tipColumns = `id, tipper_id, writer_id, writing_id, amount_cents, currency, created_at`

func scanTip(row pgx.Row) (*community.Tip, error) {
	var t community.Tip
	if err := row.Scan(&t.ID, &t.TipperID, &t.WriterID, &t.WritingID, &t.AmountCents, &t.Currency, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// RecordTip implements community.ContentStore
func (s *Storage) RecordTip(ctx context.Context, tip *community.Tip) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO tips (`+tipColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
		tip.ID, tip.TipperID, tip.WriterID, tip.WritingID, tip.AmountCents, tip.Currency, tip.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record tip: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return community.ErrDuplicate
	}
	return nil
}

// ListTipsForWriter implements community.ContentStore
func (s *Storage) ListTipsForWriter(ctx context.Context, writerID string) ([]*community.Tip, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tipColumns+` FROM tips WHERE writer_id = $1 ORDER BY created_at DESC`, writerID)
	return collect(rows, err, scanTip, "list tips")
}

// ListRecentTips implements community.ContentStore
func (s *Storage) ListRecentTips(ctx context.Context, limit int) ([]*community.Tip, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tipColumns+` FROM tips ORDER BY created_at DESC LIMIT NULLIF($1::int, 0)`, limit)
	return collect(rows, err, scanTip, "list recent tips")
}
