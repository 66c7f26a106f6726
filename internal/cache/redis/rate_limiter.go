package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/depthsim/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const rateLimitPrefix = "depthsim:ratelimit:"

// RateLimiter implements domain.RateLimiter as a sliding window over a
// sorted set, evaluated atomically by a Lua script.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
	now    func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.Underlying(),
		script: redis.NewScript(slidingWindowLua),
		now:    time.Now,
	}
}

// Allow counts one request for key and reports whether it fits in limit
// requests per window. Denied requests are not counted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateDecision, error) {
	if limit <= 0 {
		return domain.RateDecision{Allowed: true}, nil
	}
	now := rl.now().UnixMicro()

	res, err := rl.script.Run(ctx, rl.rdb,
		[]string{rateLimitPrefix + key},
		now, window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) < 3 {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: unexpected reply length %d", key, len(res))
	}
	return decide(res[0] == 1, int(res[1]), res[2], now, limit, window), nil
}

// decide turns the script reply into a RateDecision. Times are unix
// microseconds.
func decide(allowed bool, count int, oldest, now int64, limit int, window time.Duration) domain.RateDecision {
	d := domain.RateDecision{Allowed: allowed, Remaining: max(limit-count, 0)}
	if !allowed {
		wait := time.Duration(oldest+window.Microseconds()-now) * time.Microsecond
		d.RetryAfter = max(wait, time.Microsecond)
	}
	return d
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
