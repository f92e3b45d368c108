package api

import (
	"time"

	"github.com/mihaimyh/inkwell/pkg/community"
)

// ErrorResponse is the envelope of every non-2xx response
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a failed request
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ProfileResponse is a writer profile. Email is only set on the caller's own profile.
type ProfileResponse struct {
	ID          string    `json:"id"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio"`
	Email       string    `json:"email,omitempty"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// MembershipResponse is the caller's Community Wall standing
type MembershipResponse struct {
	UserID            string     `json:"user_id"`
	Active            bool       `json:"active"`
	Tier              string     `json:"tier"`
	Status            string     `json:"status,omitempty"` // empty when the user never subscribed
	SubscriptionID    string     `json:"subscription_id,omitempty"`
	RenewsAt          *time.Time `json:"renews_at,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
}

// MeResponse combines the caller's profile and membership
type MeResponse struct {
	Profile    ProfileResponse    `json:"profile"`
	Membership MembershipResponse `json:"membership"`
}

// WritingResponse is a writing as visible to the caller
type WritingResponse struct {
	ID            string    `json:"id"`
	AuthorID      string    `json:"author_id"`
	CircleID      string    `json:"circle_id,omitempty"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	Stage         string    `json:"stage"`
	GalleryStatus string    `json:"gallery_status"`
	Hidden        bool      `json:"hidden,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SubmissionResponse is a gallery submission
type SubmissionResponse struct {
	ID         string     `json:"id"`
	WritingID  string     `json:"writing_id"`
	AuthorID   string     `json:"author_id"`
	Note       string     `json:"note,omitempty"`
	Status     string     `json:"status"`
	ReviewerID string     `json:"reviewer_id,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

// CircleResponse is a writing circle
type CircleResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	OwnerID    string    `json:"owner_id"`
	MaxMembers int       `json:"max_members"`
	CreatedAt  time.Time `json:"created_at"`
}

// MemberResponse is a circle membership
type MemberResponse struct {
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// InviteResponse is a circle invite. The code is only shown to the circle owner.
type InviteResponse struct {
	ID         string    `json:"id"`
	CircleID   string    `json:"circle_id"`
	Code       string    `json:"code,omitempty"`
	Email      string    `json:"email,omitempty"`
	Status     string    `json:"status"`
	AcceptedBy string    `json:"accepted_by,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// WallPostResponse is a Community Wall message
type WallPostResponse struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// TipResponse is a completed tip
type TipResponse struct {
	ID          string    `json:"id"`
	TipperID    string    `json:"tipper_id,omitempty"`
	WriterID    string    `json:"writer_id"`
	WritingID   string    `json:"writing_id,omitempty"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
}

// TipSummaryResponse lists a writer's tips with per-currency totals
type TipSummaryResponse struct {
	WriterID   string           `json:"writer_id"`
	Tips       []TipResponse    `json:"tips"`
	TotalCents map[string]int64 `json:"total_cents"`
}

// AdminOverviewResponse is the moderation console's landing data
type AdminOverviewResponse struct {
	PendingSubmissions []SubmissionResponse `json:"pending_submissions"`
	RecentTips         []TipResponse        `json:"recent_tips"`
	RecentWallPosts    []WallPostResponse   `json:"recent_wall_posts"`
}

// URLResponse carries a hosted payment page
type URLResponse struct {
	URL string `json:"url"`
}

// Request bodies

type updateProfileRequest struct {
	Handle      *string `json:"handle"`
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
}

type createWritingRequest struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Stage    string `json:"stage"`
	CircleID string `json:"circle_id"`
}

type updateWritingRequest struct {
	Title *string `json:"title"`
	Body  *string `json:"body"`
	Stage *string `json:"stage"`
}

type submitRequest struct {
	Note string `json:"note"`
}

type reviewRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

type hideRequest struct {
	Hidden bool `json:"hidden"`
}

type createCircleRequest struct {
	Name string `json:"name"`
}

type createInviteRequest struct {
	Email string `json:"email"`
}

type acceptInviteRequest struct {
	Code string `json:"code"`
}

type wallPostRequest struct {
	Body string `json:"body"`
}

type tipCheckoutRequest struct {
	WriterID    string `json:"writer_id"`
	WritingID   string `json:"writing_id"`
	AmountCents int64  `json:"amount_cents"`
}

// Converters

func toProfile(p *community.Profile, withEmail bool) ProfileResponse {
	resp := ProfileResponse{
		ID:          p.ID,
		Handle:      p.Handle,
		DisplayName: p.DisplayName,
		Bio:         p.Bio,
		Role:        string(p.Role),
		CreatedAt:   p.CreatedAt,
	}
	if withEmail {
		resp.Email = p.Email
	}
	return resp
}

func toMembership(ms *community.Membership) MembershipResponse {
	return MembershipResponse{
		UserID:            ms.UserID,
		Active:            ms.Active,
		Tier:              ms.Tier,
		Status:            string(ms.Status),
		SubscriptionID:    ms.SubscriptionID,
		RenewsAt:          ms.RenewsAt,
		CancelAtPeriodEnd: ms.CancelAtPeriodEnd,
	}
}

func toWriting(w *community.Writing) WritingResponse {
	return WritingResponse{
		ID:            w.ID,
		AuthorID:      w.AuthorID,
		CircleID:      w.CircleID,
		Title:         w.Title,
		Body:          w.Body,
		Stage:         string(w.Stage),
		GalleryStatus: string(w.GalleryStatus),
		Hidden:        w.Hidden,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
}

func toWritings(ws []*community.Writing) []WritingResponse {
	out := make([]WritingResponse, 0, len(ws))
	for _, w := range ws {
		out = append(out, toWriting(w))
	}
	return out
}

func toSubmission(s *community.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:         s.ID,
		WritingID:  s.WritingID,
		AuthorID:   s.AuthorID,
		Note:       s.Note,
		Status:     string(s.Status),
		ReviewerID: s.ReviewerID,
		Reason:     s.Reason,
		CreatedAt:  s.CreatedAt,
		ReviewedAt: s.ReviewedAt,
	}
}

func toSubmissions(ss []*community.Submission) []SubmissionResponse {
	out := make([]SubmissionResponse, 0, len(ss))
	for _, s := range ss {
		out = append(out, toSubmission(s))
	}
	return out
}

func toCircle(c *community.Circle) CircleResponse {
	return CircleResponse{ID: c.ID, Name: c.Name, OwnerID: c.OwnerID, MaxMembers: c.MaxMembers, CreatedAt: c.CreatedAt}
}

func toCircles(cs []*community.Circle) []CircleResponse {
	out := make([]CircleResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, toCircle(c))
	}
	return out
}

func toMembers(ms []*community.Member) []MemberResponse {
	out := make([]MemberResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, MemberResponse{UserID: m.UserID, Role: string(m.Role), JoinedAt: m.JoinedAt})
	}
	return out
}

func toInvite(i *community.Invite) InviteResponse {
	return InviteResponse{
		ID:         i.ID,
		CircleID:   i.CircleID,
		Code:       i.Code,
		Email:      i.Email,
		Status:     string(i.Status),
		AcceptedBy: i.AcceptedBy,
		ExpiresAt:  i.ExpiresAt,
		CreatedAt:  i.CreatedAt,
	}
}

func toInvites(is []*community.Invite) []InviteResponse {
	out := make([]InviteResponse, 0, len(is))
	for _, i := range is {
		out = append(out, toInvite(i))
	}
	return out
}

func toWallPost(p *community.WallPost) WallPostResponse {
	return WallPostResponse{ID: p.ID, AuthorID: p.AuthorID, Body: p.Body, CreatedAt: p.CreatedAt}
}

func toWallPosts(ps []*community.WallPost) []WallPostResponse {
	out := make([]WallPostResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, toWallPost(p))
	}
	return out
}

func toTips(ts []*community.Tip) []TipResponse {
	out := make([]TipResponse, 0, len(ts))
	for _, t := range ts {
		out = append(out, TipResponse{
			ID:          t.ID,
			TipperID:    t.TipperID,
			WriterID:    t.WriterID,
			WritingID:   t.WritingID,
			AmountCents: t.AmountCents,
			Currency:    t.Currency,
			CreatedAt:   t.CreatedAt,
		})
	}
	return out
}
