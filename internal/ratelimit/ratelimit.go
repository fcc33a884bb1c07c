package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// Limiter enforces a fixed per-minute window per caller, counted in redis so
// several relay instances share the same counters.
type Limiter struct {
	redis *redis.Client
	limit int64
}

func New(rdb *redis.Client, limit int64) *Limiter {
	return &Limiter{redis: rdb, limit: limit}
}

func (l *Limiter) Allow(ctx context.Context, callerIP string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	windowStart := now.UTC().Truncate(time.Minute)
	windowEnd := windowStart.Add(time.Minute)
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("nicorelay:ratelimit:%s:%s", callerIP, windowStart.Format("200601021504"))
	res, err := incrWithTTLScript.Run(ctx, l.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit script: %w", err)
	}
	return res <= l.limit, res, windowEnd, nil
}
