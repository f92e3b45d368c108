package community

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller may not perform the operation
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthenticated is returned when an operation requires a signed-in user
	ErrUnauthenticated = errors.New("authentication required")

	// ErrNotMember is returned when a Community Wall membership is required
	ErrNotMember = errors.New("community wall membership required")

	// ErrInvalidInput is returned for malformed or out-of-range input
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a write collides with existing state
	ErrConflict = errors.New("conflict")

	// ErrCircleFull is returned when a circle has reached its member cap
	ErrCircleFull = errors.New("circle is full")

	// ErrAlreadyMember is returned when a user already belongs to a circle
	ErrAlreadyMember = errors.New("already a circle member")

	// ErrInviteNotPending is returned when an invite was accepted or revoked already
	ErrInviteNotPending = errors.New("invite is not pending")

	// ErrInviteExpired is returned when an invite is past its expiry
	ErrInviteExpired = errors.New("invite expired")

	// ErrSubscriptionNotFound is returned when no subscription record exists
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrUserNotResolved is returned when a billing event cannot be mapped to a local user
	ErrUserNotResolved = errors.New("user could not be resolved")

	// ErrDuplicate is returned when an idempotent insert hits an existing key
	ErrDuplicate = errors.New("duplicate record")

	// ErrRateLimited is returned when a user acts too often
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrStorageUnavailable is returned when storage is not configured
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationError describes a rejected field. It matches ErrInvalidInput with errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// RateLimitError reports a throttled action. It matches ErrRateLimited with errors.Is.
type RateLimitError struct {
	Action  string
	RetryAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry at %s", e.Action, e.RetryAt.Format(time.RFC3339))
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
