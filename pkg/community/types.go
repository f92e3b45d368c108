package community

import (
	"context"
	"time"
)

// SubscriptionStatus mirrors the payment processor's subscription lifecycle
type SubscriptionStatus string

const (
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusActive            SubscriptionStatus = "active"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusPaused            SubscriptionStatus = "paused"
)

// Entitled reports whether the status grants Community Wall access.
// past_due keeps access while the processor retries the payment.
func (s SubscriptionStatus) Entitled() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	default:
		return false
	}
}

// Subscription is the local record of a processor subscription
type Subscription struct {
	// ID is the processor subscription id and the upsert key
	ID                 string
	UserID             string
	CustomerID         string
	PriceID            string
	Tier               string
	Status             SubscriptionStatus
	CancelAtPeriodEnd  bool
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CanceledAt         *time.Time

	// LastEventID and LastEventAt identify the event the record was last written from
	LastEventID string
	LastEventAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Membership summarizes a user's Community Wall standing across subscriptions
type Membership struct {
	UserID            string
	Active            bool
	Tier              string
	Status            SubscriptionStatus
	SubscriptionID    string
	RenewsAt          *time.Time
	CancelAtPeriodEnd bool
}

// Role is a profile's permission level
type Role string

const (
	RoleWriter Role = "writer"
	RoleAdmin  Role = "admin"
)

// Profile is a writer's public identity
type Profile struct {
	// ID is the authentication subject
	ID          string
	Handle      string
	DisplayName string
	Bio         string
	Email       string
	Role        Role
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsAdmin reports whether the profile may use the moderation console.
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// GrowthStage is a writing's lifecycle tag controlling its visibility
type GrowthStage string

const (
	// StageSeed is visible to its author only
	StageSeed GrowthStage = "seed"
	// StageSprout is visible to signed-in users, or circle members for circle writings
	StageSprout GrowthStage = "sprout"
	// StageBloom is public, or visible to circle members for circle writings
	StageBloom GrowthStage = "bloom"
)

// Valid reports whether the stage is known.
func (g GrowthStage) Valid() bool {
	switch g {
	case StageSeed, StageSprout, StageBloom:
		return true
	default:
		return false
	}
}

// GalleryStatus tracks a writing's standing in the public gallery
type GalleryStatus string

const (
	GalleryNone     GalleryStatus = "none"
	GalleryPending  GalleryStatus = "pending"
	GalleryApproved GalleryStatus = "approved"
	GalleryRejected GalleryStatus = "rejected"
)

// Writing is a piece of work authored by a profile
type Writing struct {
	ID            string
	AuthorID      string
	CircleID      string
	Title         string
	Body          string
	Stage         GrowthStage
	GalleryStatus GalleryStatus
	Hidden        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SubmissionStatus is the review state of a gallery submission
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
	// SubmissionWithdrawn marks a request whose writing left bloom before review
	SubmissionWithdrawn SubmissionStatus = "withdrawn"
)

// Submission is a request to feature a writing in the gallery
type Submission struct {
	ID         string
	WritingID  string
	AuthorID   string
	Note       string
	Status     SubmissionStatus
	ReviewerID string
	Reason     string
	CreatedAt  time.Time
	ReviewedAt *time.Time
}

// Circle is a small private group sharing writings among its members
type Circle struct {
	ID         string
	Name       string
	OwnerID    string
	MaxMembers int
	CreatedAt  time.Time
}

// CircleRole is a member's role inside a circle
type CircleRole string

const (
	CircleOwner  CircleRole = "owner"
	CircleMember CircleRole = "member"
)

// Member is a user's membership in a circle
type Member struct {
	CircleID string
	UserID   string
	Role     CircleRole
	JoinedAt time.Time
}

// InviteStatus is the lifecycle state of a circle invite
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteRevoked  InviteStatus = "revoked"
	// InviteExpired is never stored; it is derived from ExpiresAt when listing
	InviteExpired InviteStatus = "expired"
)

// Invite grants a single user entry into a circle
type Invite struct {
	ID         string
	CircleID   string
	Code       string
	CreatedBy  string
	Email      string
	Status     InviteStatus
	AcceptedBy string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// WallPost is a message on the members-only Community Wall
type WallPost struct {
	ID        string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}

// Tip is a one-time payment from a reader to a writer
type Tip struct {
	// ID is the checkout session id, which keeps recording idempotent
	ID          string
	TipperID    string
	WriterID    string
	WritingID   string
	AmountCents int64
	Currency    string
	CreatedAt   time.Time
}

// Identity is the authenticated caller as established by the auth layer
type Identity struct {
	UserID string
	Email  string
	Role   Role
}

// ProfilePatch holds optional profile updates
type ProfilePatch struct {
	Handle      *string
	DisplayName *string
	Bio         *string
}

// WritingInput holds the fields of a new writing
type WritingInput struct {
	Title    string
	Body     string
	Stage    GrowthStage
	CircleID string
}

// WritingPatch holds optional writing updates
type WritingPatch struct {
	Title *string
	Body  *string
	Stage *GrowthStage
}

// TipSummary aggregates the tips a writer received
type TipSummary struct {
	WriterID   string
	Tips       []*Tip
	TotalCents map[string]int64
}

// AdminOverview is the moderation console's landing data
type AdminOverview struct {
	PendingSubmissions []*Submission
	RecentTips         []*Tip
	RecentWallPosts    []*WallPost
}

// SubscriptionCallback is invoked after a subscription record changed
type SubscriptionCallback func(ctx context.Context, result ApplyResult) error

// Config holds manager configuration
type Config struct {
	// MembershipTier is the tier name granted by the Community Wall subscription
	MembershipTier string

	// DefaultTier is reported for users without an entitled subscription (default: "reader")
	DefaultTier string

	// MaxCircleMembers caps circle size (default: 8)
	MaxCircleMembers int

	// MaxOwnedCircles caps how many circles one user may own (default: 5)
	MaxOwnedCircles int

	// InviteTTL is how long an invite stays acceptable (default: 7 days)
	InviteTTL time.Duration

	// ProcessedEventTTL is how long processed webhook ids are remembered (default: 72 hours)
	ProcessedEventTTL time.Duration

	// WallPostLimit caps wall posts per user (default: 10 per 10 minutes)
	WallPostLimit RateLimit

	// InviteLimit caps invites created per user (default: 20 per hour)
	InviteLimit RateLimit

	// RateLimiter enforces WallPostLimit and InviteLimit (default: MemoryRateLimiter)
	RateLimiter RateLimiter

	// Metrics is used for tracking operations (default: NoopMetrics)
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// OnSubscriptionChange is called after a subscription record was applied (optional)
	OnSubscriptionChange SubscriptionCallback

	// Now overrides the clock (default: time.Now)
	Now func() time.Time

	// NewID overrides id generation (default: uuid v4)
	NewID func() string
}
