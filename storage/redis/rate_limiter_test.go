package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/inkwell/pkg/community"
	"github.com/mihaimyh/inkwell/storage/memory"
)

var _ community.RateLimiter = (*RateLimiter)(nil)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNewRateLimiter(t *testing.T) {
	_, err := NewRateLimiter(nil, RateLimiterConfig{})
	assert.Error(t, err)

	limiter, err := NewRateLimiter(redis.NewClient(&redis.Options{Addr: "localhost:6379"}), RateLimiterConfig{})
	require.NoError(t, err)
	assert.Equal(t, "inkwell:ratelimit:invite:u1", limiter.rateLimitKey("u1", community.ActionInvite))
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	client := setupTestRedis(t)
	clock := &fixedClock{now: time.Now().UTC().Truncate(time.Second)}
	limiter, err := NewRateLimiter(client, RateLimiterConfig{KeyPrefix: "test:", Now: clock.Now})
	require.NoError(t, err)
	ctx := context.Background()
	limit := community.RateLimit{Limit: 2, Window: time.Minute}

	// Two attempts in the same millisecond are both counted
	ok, info, err := limiter.Allow(ctx, "u1", community.ActionWallPost, limit)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, info.Remaining)
	ok, info, err = limiter.Allow(ctx, "u1", community.ActionWallPost, limit)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, info.Remaining)

	clock.Advance(20 * time.Second)
	ok, info, err = limiter.Allow(ctx, "u1", community.ActionWallPost, limit)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, info.Remaining)
	assert.Equal(t, clock.Now().Add(40*time.Second), info.ResetTime)

	ok, _, err = limiter.Allow(ctx, "u2", community.ActionWallPost, limit)
	require.NoError(t, err)
	assert.True(t, ok, "users have separate windows")

	clock.Advance(41 * time.Second)
	ok, _, err = limiter.Allow(ctx, "u1", community.ActionWallPost, limit)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiter_SharedAcrossInstances(t *testing.T) {
	client := setupTestRedis(t)
	clock := &fixedClock{now: time.Now().UTC()}
	first, err := NewRateLimiter(client, RateLimiterConfig{KeyPrefix: "test:", Now: clock.Now})
	require.NoError(t, err)
	second, err := NewRateLimiter(client, RateLimiterConfig{KeyPrefix: "test:", Now: clock.Now})
	require.NoError(t, err)
	ctx := context.Background()
	limit := community.RateLimit{Limit: 3, Window: time.Hour}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		limiter := first
		if i%2 == 1 {
			limiter = second
		}
		go func() {
			defer wg.Done()
			ok, _, err := limiter.Allow(ctx, "u1", community.ActionInvite, limit)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, allowed)
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter, err := NewRateLimiter(redis.NewClient(&redis.Options{Addr: "localhost:0"}), RateLimiterConfig{})
	require.NoError(t, err)

	// No round trip is made for a disabled limit
	ok, _, err := limiter.Allow(context.Background(), "u1", community.ActionWallPost, community.RateLimit{Limit: -1})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiter_ThrottlesInvites(t *testing.T) {
	client := setupTestRedis(t)
	limiter, err := NewRateLimiter(client, RateLimiterConfig{KeyPrefix: "test:"})
	require.NoError(t, err)
	content := memory.New()
	manager, err := community.NewManager(content, content, &community.Config{
		RateLimiter: limiter,
		InviteLimit: community.RateLimit{Limit: 1, Window: time.Hour},
	})
	require.NoError(t, err)
	ctx := context.Background()

	owner := &community.Identity{UserID: "owner", Email: "owner@example.com", Role: community.RoleWriter}
	c, err := manager.CreateCircle(ctx, owner, "Workshop")
	require.NoError(t, err)
	_, err = manager.CreateInvite(ctx, owner, c.ID, "")
	require.NoError(t, err)
	_, err = manager.CreateInvite(ctx, owner, c.ID, "")
	assert.ErrorIs(t, err, community.ErrRateLimited)
}
