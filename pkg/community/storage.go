package community

import (
	"context"
	"time"
)

// SubscriptionStore persists subscription records and the webhook bookkeeping around them.
// All methods use concrete types from this package to avoid import cycles.
type SubscriptionStore interface {
	// GetSubscription retrieves a subscription by processor id
	// Returns ErrSubscriptionNotFound when absent
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// ListSubscriptionsByUser returns every subscription recorded for the user
	ListSubscriptionsByUser(ctx context.Context, userID string) ([]*Subscription, error)

	// ApplySubscription atomically loads the stored record, runs ApplyLocked and
	// persists the merged record when applied (idempotent upsert keyed by ID)
	ApplySubscription(ctx context.Context, sub *Subscription) (ApplyResult, error)

	// LinkCustomer records which local user owns a processor customer
	LinkCustomer(ctx context.Context, customerID, userID string) error

	// ResolveCustomer returns the user linked to a customer
	// Returns ErrUserNotResolved when no link exists
	ResolveCustomer(ctx context.Context, customerID string) (string, error)

	// CustomerForUser returns the customer linked to a user
	// Returns ErrNotFound when no link exists
	CustomerForUser(ctx context.Context, userID string) (string, error)

	// EventProcessed reports whether a webhook event id was already handled
	EventProcessed(ctx context.Context, eventID string) (bool, error)

	// MarkEventProcessed remembers a handled webhook event id for ttl
	MarkEventProcessed(ctx context.Context, eventID string, at time.Time, ttl time.Duration) error
}

// ListOptions pages through newest-first listings
type ListOptions struct {
	Limit  int
	Offset int
	Before *time.Time
}

// ContentStore persists profiles, writings, circles, the wall and tips
type ContentStore interface {
	// GetProfile retrieves a profile by id; ErrNotFound when absent
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// GetProfileByHandle retrieves a profile by handle (case-insensitive)
	GetProfileByHandle(ctx context.Context, handle string) (*Profile, error)

	// GetProfileByEmail retrieves a profile by e-mail (case-insensitive)
	GetProfileByEmail(ctx context.Context, email string) (*Profile, error)

	// CreateProfile inserts a profile; ErrConflict when id or handle is taken
	CreateProfile(ctx context.Context, p *Profile) error

	// UpdateProfile replaces a profile; ErrConflict when the handle is taken
	UpdateProfile(ctx context.Context, p *Profile) error

	CreateWriting(ctx context.Context, w *Writing) error
	GetWriting(ctx context.Context, writingID string) (*Writing, error)
	UpdateWriting(ctx context.Context, w *Writing) error
	DeleteWriting(ctx context.Context, writingID string) error
	ListWritingsByAuthor(ctx context.Context, authorID string) ([]*Writing, error)
	ListWritingsByCircle(ctx context.Context, circleID string) ([]*Writing, error)

	// ListGallery returns approved, bloomed, visible writings newest first
	ListGallery(ctx context.Context, opts ListOptions) ([]*Writing, error)

	CreateSubmission(ctx context.Context, s *Submission) error
	GetSubmission(ctx context.Context, submissionID string) (*Submission, error)
	UpdateSubmission(ctx context.Context, s *Submission) error
	ListSubmissions(ctx context.Context, status SubmissionStatus, opts ListOptions) ([]*Submission, error)
	// ListSubmissionsForWriting returns every submission of a writing, newest first
	ListSubmissionsForWriting(ctx context.Context, writingID string) ([]*Submission, error)

	// CreateCircle inserts the circle together with its owner membership
	CreateCircle(ctx context.Context, c *Circle, owner *Member) error
	GetCircle(ctx context.Context, circleID string) (*Circle, error)
	DeleteCircle(ctx context.Context, circleID string) error
	ListCirclesForUser(ctx context.Context, userID string) ([]*Circle, error)
	CountOwnedCircles(ctx context.Context, ownerID string) (int, error)
	GetMember(ctx context.Context, circleID, userID string) (*Member, error)
	ListMembers(ctx context.Context, circleID string) ([]*Member, error)
	RemoveMember(ctx context.Context, circleID, userID string) error

	CreateInvite(ctx context.Context, inv *Invite) error
	GetInvite(ctx context.Context, inviteID string) (*Invite, error)
	GetInviteByCode(ctx context.Context, code string) (*Invite, error)
	UpdateInvite(ctx context.Context, inv *Invite) error
	ListInvites(ctx context.Context, circleID string) ([]*Invite, error)

	// AcceptInvite atomically checks the invite is pending and unexpired at now,
	// that the user is not a member and the circle is below capacity, then adds
	// the member and marks the invite accepted
	AcceptInvite(ctx context.Context, code, userID string, now time.Time) (*Member, error)

	CreateWallPost(ctx context.Context, p *WallPost) error
	GetWallPost(ctx context.Context, postID string) (*WallPost, error)
	DeleteWallPost(ctx context.Context, postID string) error
	ListWallPosts(ctx context.Context, opts ListOptions) ([]*WallPost, error)

	// RecordTip inserts a tip; ErrDuplicate when the id was recorded already
	RecordTip(ctx context.Context, tip *Tip) error
	ListTipsForWriter(ctx context.Context, writerID string) ([]*Tip, error)
	ListRecentTips(ctx context.Context, limit int) ([]*Tip, error)
}

// Storage is a backend that holds both subscriptions and content
type Storage interface {
	SubscriptionStore
	ContentStore
}
