package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/pkg/logger"
)

// RateLimiter enforces per-provider send ceilings shared by every worker
// process. Counters live in Redis and are checked and incremented by one
// Lua script so concurrent workers never overshoot.
type RateLimiter struct {
	redis  redis.UniversalClient
	prefix string
	limits map[domain.ProviderKind]RateLimit
	now    func() time.Time

	multiLimitScript *redis.Script
}

// RateLimit defines the ceilings for one provider. Zero disables a window.
type RateLimit struct {
	RequestsPerSecond int
	RequestsPerMinute int
	DailyLimit        int
}

// DefaultProviderLimits are conservative ceilings for bulk traffic.
var DefaultProviderLimits = map[domain.ProviderKind]RateLimit{
	domain.ProviderSMTP:    {RequestsPerSecond: 5, RequestsPerMinute: 60, DailyLimit: 10000},
	domain.ProviderSandbox: {RequestsPerSecond: 1, RequestsPerMinute: 50, DailyLimit: 1000},
	domain.ProviderGraph:   {RequestsPerSecond: 2, RequestsPerMinute: 30, DailyLimit: 10000},
	domain.ProviderResend:  {RequestsPerSecond: 2, RequestsPerMinute: 100, DailyLimit: 50000},
	domain.ProviderBrevo:   {RequestsPerSecond: 10, RequestsPerMinute: 400, DailyLimit: 100000},
	domain.ProviderSES:     {RequestsPerSecond: 14, RequestsPerMinute: 600, DailyLimit: 50000},
}

// Lua script for atomic multi-window rate limit check. All windows are
// checked before any counter is incremented. A limit of 0 is unlimited.
const multiLimitLuaScript = `
local secondKey = KEYS[1]
local minuteKey = KEYS[2]
local dailyKey = KEYS[3]
local increment = tonumber(ARGV[1])
local secondLimit = tonumber(ARGV[2])
local minuteLimit = tonumber(ARGV[3])
local dailyLimit = tonumber(ARGV[4])
local secondTTL = tonumber(ARGV[5])
local minuteTTL = tonumber(ARGV[6])
local dailyTTL = tonumber(ARGV[7])

local secCurrent = tonumber(redis.call("GET", secondKey) or "0")
local minCurrent = tonumber(redis.call("GET", minuteKey) or "0")
local dayCurrent = tonumber(redis.call("GET", dailyKey) or "0")

if secondLimit > 0 and secCurrent + increment > secondLimit then
    return {0, 1, secCurrent}
end
if minuteLimit > 0 and minCurrent + increment > minuteLimit then
    return {0, 2, minCurrent}
end
if dailyLimit > 0 and dayCurrent + increment > dailyLimit then
    return {0, 3, dayCurrent}
end

local newSec = redis.call("INCRBY", secondKey, increment)
if newSec == increment then
    redis.call("EXPIRE", secondKey, secondTTL)
end

local newMin = redis.call("INCRBY", minuteKey, increment)
if newMin == increment then
    redis.call("EXPIRE", minuteKey, minuteTTL)
end

local newDay = redis.call("INCRBY", dailyKey, increment)
if newDay == increment then
    redis.call("EXPIRE", dailyKey, dailyTTL)
end

return {1, 0, newDay}
`

// NewRateLimiter creates a rate limiter. limits overrides entries of
// DefaultProviderLimits.
func NewRateLimiter(client redis.UniversalClient, prefix string, limits map[domain.ProviderKind]RateLimit) *RateLimiter {
	if prefix == "" {
		prefix = "mailengine"
	}
	merged := make(map[domain.ProviderKind]RateLimit, len(DefaultProviderLimits))
	for k, v := range DefaultProviderLimits {
		merged[k] = v
	}
	for k, v := range limits {
		merged[k] = v
	}
	return &RateLimiter{
		redis:            client,
		prefix:           prefix + ":ratelimit",
		limits:           merged,
		now:              time.Now,
		multiLimitScript: redis.NewScript(multiLimitLuaScript),
	}
}

// WithPerMinute sets the per-minute ceiling for every provider.
func (r *RateLimiter) WithPerMinute(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return r
	}
	for k, v := range r.limits {
		v.RequestsPerMinute = perMinute
		r.limits[k] = v
	}
	return r
}

func (r *RateLimiter) keys(kind domain.ProviderKind, now time.Time) []string {
	return []string{
		fmt.Sprintf("%s:%s:sec:%d", r.prefix, kind, now.Unix()),
		fmt.Sprintf("%s:%s:min:%d", r.prefix, kind, now.Unix()/60),
		fmt.Sprintf("%s:%s:day:%s", r.prefix, kind, now.UTC().Format("2006-01-02")),
	}
}

// CheckAndIncrement reserves count sends for kind. When denied it returns
// how long to wait before the window that denied it rolls over.
func (r *RateLimiter) CheckAndIncrement(ctx context.Context, kind domain.ProviderKind, count int) (allowed bool, waitTime time.Duration, err error) {
	limits, ok := r.limits[kind]
	if !ok {
		return false, 0, fmt.Errorf("unknown provider kind: %s", kind)
	}

	now := r.now()
	result, err := r.multiLimitScript.Run(ctx, r.redis,
		r.keys(kind, now),
		count,
		limits.RequestsPerSecond,
		limits.RequestsPerMinute,
		limits.DailyLimit,
		2,     // second TTL
		120,   // minute TTL
		90000, // daily TTL (25 hours)
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	allowed = result[0].(int64) == 1
	if allowed {
		return true, 0, nil
	}

	switch result[1].(int64) {
	case 1:
		waitTime = time.Second - time.Duration(now.Nanosecond())
	case 2:
		waitTime = time.Duration(60-now.Second()) * time.Second
	case 3:
		utc := now.UTC()
		midnight := time.Date(utc.Year(), utc.Month(), utc.Day()+1, 0, 0, 0, 0, time.UTC)
		waitTime = midnight.Sub(utc)
		logger.Warn("[RateLimiter] daily limit reached", "provider", string(kind), "limit", limits.DailyLimit)
	}
	return false, waitTime, nil
}

// CurrentUsage returns the live counters for kind.
func (r *RateLimiter) CurrentUsage(ctx context.Context, kind domain.ProviderKind) (map[string]int64, error) {
	keys := r.keys(kind, r.now())

	pipe := r.redis.Pipeline()
	secCmd := pipe.Get(ctx, keys[0])
	minCmd := pipe.Get(ctx, keys[1])
	dayCmd := pipe.Get(ctx, keys[2])
	_, _ = pipe.Exec(ctx)

	sec, _ := secCmd.Int64()
	min, _ := minCmd.Int64()
	day, _ := dayCmd.Int64()

	limits := r.limits[kind]
	return map[string]int64{
		"second_current": sec,
		"second_limit":   int64(limits.RequestsPerSecond),
		"minute_current": min,
		"minute_limit":   int64(limits.RequestsPerMinute),
		"daily_current":  day,
		"daily_limit":    int64(limits.DailyLimit),
	}, nil
}
