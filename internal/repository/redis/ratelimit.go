package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leasehub/tenantauth/internal/domain"
)

// recordScript increments the counter only while it is below the limit and
// starts the window on the first increment.
//
// KEYS[1] counter, ARGV[1] max, ARGV[2] window in ms.
// Returns {allowed, count, pttl}.
var recordScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n >= tonumber(ARGV[1]) then
  return {0, n, redis.call('PTTL', KEYS[1])}
end
n = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if n == 1 or ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {1, n, ttl}
`)

// RateLimiter implements repository.RateLimiter with a Redis counter whose
// TTL is the window.
type RateLimiter struct {
	client *redis.Client
	window time.Duration
	max    int
}

// NewRateLimiter creates a fixed-window limiter allowing limit requests per
// window.
func NewRateLimiter(client *redis.Client, window time.Duration, limit int) *RateLimiter {
	return &RateLimiter{client: client, window: window, max: limit}
}

// Check reads the current count without changing it.
func (l *RateLimiter) Check(ctx context.Context, phone string) (domain.RateLimitDecision, error) {
	key := rateLimitKey(phone)

	var get *redis.StringCmd
	var pttl *redis.DurationCmd
	_, err := l.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		get = p.Get(ctx, key)
		pttl = p.PTTL(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.RateLimitDecision{}, fmt.Errorf("redis check rate limit: %w", err)
	}

	count, err := get.Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.RateLimitDecision{}, fmt.Errorf("parse rate limit counter: %w", err)
	}

	return l.decide(count < l.max, count, pttl.Val()), nil
}

// Record counts one request when the window has room.
func (l *RateLimiter) Record(ctx context.Context, phone string) (domain.RateLimitDecision, error) {
	res, err := recordScript.Run(ctx, l.client, []string{rateLimitKey(phone)}, l.max, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return domain.RateLimitDecision{}, fmt.Errorf("redis record rate limit: %w", err)
	}
	if len(res) != 3 {
		return domain.RateLimitDecision{}, fmt.Errorf("redis record rate limit: unexpected reply %v", res)
	}

	return l.decide(res[0] == 1, int(res[1]), time.Duration(res[2])*time.Millisecond), nil
}

func (l *RateLimiter) decide(allowed bool, count int, ttl time.Duration) domain.RateLimitDecision {
	if ttl < 0 {
		ttl = 0
	}
	if !allowed {
		if ttl == 0 {
			ttl = l.window
		}
		return domain.Throttled(count, ttl)
	}
	return domain.RateLimitDecision{
		Allowed:   true,
		Count:     count,
		Remaining: max(l.max-count, 0),
	}
}
