package community

// Decision is the outcome of comparing an incoming subscription state with the stored one
type Decision string

const (
	// DecisionApply means the incoming state replaces the stored one
	DecisionApply Decision = "applied"
	// DecisionStale means the incoming event is older than the stored state
	DecisionStale Decision = "stale"
	// DecisionDuplicate means the incoming event was already applied
	DecisionDuplicate Decision = "duplicate"
	// DecisionTerminal means the stored subscription is canceled and cannot be revived
	DecisionTerminal Decision = "terminal"
)

// ApplyResult reports what ApplySubscription did
type ApplyResult struct {
	// Subscription is the stored record after the call
	Subscription *Subscription

	// Previous is the stored record before the call (nil on insert)
	Previous *Subscription

	// Applied is true when the incoming state was written
	Applied bool

	// Decision explains Applied
	Decision Decision
}

// Reconcile decides whether incoming may overwrite existing.
// Every storage backend calls it inside its own atomic section so they agree on ordering.
func Reconcile(existing, incoming *Subscription) Decision {
	if existing == nil {
		return DecisionApply
	}
	if incoming.LastEventAt.Before(existing.LastEventAt) {
		return DecisionStale
	}
	if incoming.LastEventID != "" && incoming.LastEventID == existing.LastEventID {
		return DecisionDuplicate
	}
	if existing.Status == StatusCanceled && incoming.Status != StatusCanceled {
		return DecisionTerminal
	}
	return DecisionApply
}

// Merge returns the record to persist when incoming is applied over existing.
// Identity fields known on the stored record survive an incoming record that lacks them.
func Merge(existing, incoming *Subscription) *Subscription {
	merged := *incoming
	if existing == nil {
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = merged.UpdatedAt
		}
		return &merged
	}
	if merged.UserID == "" {
		merged.UserID = existing.UserID
	}
	if merged.CustomerID == "" {
		merged.CustomerID = existing.CustomerID
	}
	if merged.PriceID == "" {
		merged.PriceID = existing.PriceID
	}
	if merged.Tier == "" {
		merged.Tier = existing.Tier
	}
	if merged.CurrentPeriodEnd == nil {
		merged.CurrentPeriodStart = existing.CurrentPeriodStart
		merged.CurrentPeriodEnd = existing.CurrentPeriodEnd
	}
	// Stripe clears canceled_at when a scheduled cancellation is undone
	if merged.CanceledAt == nil && merged.Status == StatusCanceled {
		merged.CanceledAt = existing.CanceledAt
	}
	merged.CreatedAt = existing.CreatedAt
	return &merged
}

// ApplyLocked runs the reconciliation rule against an already-loaded record.
// Backends call it while holding their lock/transaction and persist result.Subscription when Applied.
func ApplyLocked(existing, incoming *Subscription) ApplyResult {
	decision := Reconcile(existing, incoming)
	if decision != DecisionApply {
		return ApplyResult{
			Subscription: existing,
			Previous:     existing,
			Applied:      false,
			Decision:     decision,
		}
	}
	return ApplyResult{
		Subscription: Merge(existing, incoming),
		Previous:     existing,
		Applied:      true,
		Decision:     DecisionApply,
	}
}
