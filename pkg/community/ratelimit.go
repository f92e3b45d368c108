package community

import (
	"context"
	"sync"
	"time"
)

// Rate-limited actions
const (
	ActionWallPost = "wall_post"
	ActionInvite   = "invite"
)

// RateLimit caps how often one user may perform an action within a sliding window.
// A negative Limit disables the check.
type RateLimit struct {
	Limit  int
	Window time.Duration
}

// Disabled reports whether the limit admits every attempt
func (l RateLimit) Disabled() bool {
	return l.Limit < 0 || l.Window <= 0
}

// RateLimitInfo describes the caller's standing after a check
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetTime time.Time
}

// RateLimiter decides whether a user may perform an action now
type RateLimiter interface {
	// Allow records an attempt and reports whether it is within the limit
	Allow(ctx context.Context, userID, action string, limit RateLimit) (bool, *RateLimitInfo, error)
}

// MemoryRateLimiter keeps sliding windows in process memory.
// Suitable for single-instance deployments; use a shared limiter otherwise.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
	now     func() time.Time

	checks        int
	cleanupEvery  int
	cleanupAtSize int
}

type slidingWindow struct {
	timestamps []time.Time
	window     time.Duration
}

// prune drops attempts that left the window ending at now
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	kept := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.timestamps = kept
}

// NewMemoryRateLimiter creates a new in-memory rate limiter. now may be nil.
func NewMemoryRateLimiter(now func() time.Time) *MemoryRateLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryRateLimiter{
		windows:       make(map[string]*slidingWindow),
		now:           now,
		cleanupEvery:  100,
		cleanupAtSize: 1000,
	}
}

// Allow implements RateLimiter
func (r *MemoryRateLimiter) Allow(_ context.Context, userID, action string, limit RateLimit) (bool, *RateLimitInfo, error) {
	now := r.now()
	if limit.Disabled() {
		return true, &RateLimitInfo{Limit: limit.Limit, Remaining: -1, ResetTime: now}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.checks++
	if r.checks%r.cleanupEvery == 0 || len(r.windows) > r.cleanupAtSize {
		r.cleanupIdle(now)
	}

	key := userID + ":" + action
	w, ok := r.windows[key]
	if !ok {
		w = &slidingWindow{}
		r.windows[key] = w
	}
	w.window = limit.Window
	w.prune(now)

	if len(w.timestamps) >= limit.Limit {
		reset := now.Add(limit.Window)
		if len(w.timestamps) > 0 {
			reset = w.timestamps[0].Add(limit.Window)
		} else {
			delete(r.windows, key)
		}
		return false, &RateLimitInfo{Limit: limit.Limit, Remaining: 0, ResetTime: reset}, nil
	}

	w.timestamps = append(w.timestamps, now)
	return true, &RateLimitInfo{
		Limit:     limit.Limit,
		Remaining: limit.Limit - len(w.timestamps),
		ResetTime: w.timestamps[0].Add(limit.Window),
	}, nil
}

// cleanupIdle removes windows with no attempt left in them. Caller holds r.mu.
func (r *MemoryRateLimiter) cleanupIdle(now time.Time) {
	for key, w := range r.windows {
		w.prune(now)
		if len(w.timestamps) == 0 {
			delete(r.windows, key)
		}
	}
}

// throttle returns a *RateLimitError when the viewer exceeded the action's limit.
// Admins are never throttled.
func (m *Manager) throttle(ctx context.Context, viewer *Identity, action string, limit RateLimit) error {
	if viewer.Role == RoleAdmin {
		return nil
	}
	ok, info, err := m.config.RateLimiter.Allow(ctx, viewer.UserID, action, limit)
	if err != nil {
		// Fail open
		m.logger.Warn("rate limiter failed", Field{"action", action}, Field{"error", err.Error()})
		return nil
	}
	if !ok {
		m.metrics.RecordRateLimited(action)
		return &RateLimitError{Action: action, RetryAt: info.ResetTime}
	}
	return nil
}
