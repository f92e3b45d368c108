package community

import "time"

// Metrics defines the interface for tracking community operations.
type Metrics interface {
	// RecordReconcile records the outcome of a subscription reconciliation.
	// decision: "applied", "stale", "duplicate" or "terminal"
	RecordReconcile(decision string)

	// RecordMembershipCheck records a membership lookup and whether the user is a member.
	RecordMembershipCheck(member bool, duration time.Duration)

	// RecordTip records a tip amount in minor currency units.
	RecordTip(currency string, amountCents int64)

	// RecordInvite records an invite lifecycle action ("created", "accepted", "revoked").
	RecordInvite(action string)

	// RecordModeration records an admin moderation action.
	RecordModeration(action string)

	// RecordRateLimited records a throttled action ("wall_post", "invite").
	RecordRateLimited(action string)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordReconcile(decision string)                                            {}
func (n *NoopMetrics) RecordMembershipCheck(member bool, duration time.Duration)                  {}
func (n *NoopMetrics) RecordTip(currency string, amountCents int64)                               {}
func (n *NoopMetrics) RecordInvite(action string)                                                 {}
func (n *NoopMetrics) RecordModeration(action string)                                             {}
func (n *NoopMetrics) RecordRateLimited(action string)                                            {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
