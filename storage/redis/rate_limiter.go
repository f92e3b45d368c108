package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/inkwell/pkg/community"
)

// slidingWindowScript trims the window, admits the attempt when below the limit
// and reports {allowed, remaining, resetMillis}. Scores are unix milliseconds.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])
	local window = tonumber(ARGV[3])
	local member = ARGV[4]

	-- Remove attempts outside the window
	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

	local count = redis.call('ZCARD', key)
	local allowed = 0
	if count < limit then
		redis.call('ZADD', key, now, member)
		count = count + 1
		allowed = 1
	end

	local resetTime = now + window
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if oldest and #oldest >= 2 then
		local oldestTime = tonumber(oldest[2])
		if oldestTime then
			resetTime = oldestTime + window
		end
	end

	redis.call('PEXPIRE', key, window)

	local remaining = limit - count
	if remaining < 0 then
		remaining = 0
	end
	return {allowed, remaining, resetTime}
`)

// RateLimiter implements community.RateLimiter with one sorted set per user and
// action, so every instance behind a load balancer shares the same windows.
type RateLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// RateLimiterConfig holds RateLimiter configuration
type RateLimiterConfig struct {
	// KeyPrefix is prepended to all Redis keys (default: "inkwell:")
	KeyPrefix string

	// Now overrides the clock (default: time.Now)
	Now func() time.Time
}

// NewRateLimiter creates a Redis-backed sliding-window rate limiter
func NewRateLimiter(client redis.UniversalClient, config RateLimiterConfig) (*RateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "inkwell:"
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &RateLimiter{client: client, keyPrefix: config.KeyPrefix, now: config.Now}, nil
}

// Allow implements community.RateLimiter
func (r *RateLimiter) Allow(
	ctx context.Context, userID, action string, limit community.RateLimit,
) (bool, *community.RateLimitInfo, error) {
	now := r.now()
	if limit.Disabled() {
		return true, &community.RateLimitInfo{Limit: limit.Limit, Remaining: -1, ResetTime: now}, nil
	}

	result, err := slidingWindowScript.Run(ctx, r.client,
		[]string{r.rateLimitKey(userID, action)},
		now.UnixMilli(),
		limit.Limit,
		limit.Window.Milliseconds(),
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, nil, fmt.Errorf("failed to execute rate limit script: %w", err)
	}
	if len(result) != 3 {
		return false, nil, fmt.Errorf("unexpected result format from rate limit script: %v", result)
	}

	return result[0] == 1, &community.RateLimitInfo{
		Limit:     limit.Limit,
		Remaining: int(result[1]),
		ResetTime: time.UnixMilli(result[2]).UTC(),
	}, nil
}

func (r *RateLimiter) rateLimitKey(userID, action string) string {
	return fmt.Sprintf("%sratelimit:%s:%s", r.keyPrefix, action, userID)
}
