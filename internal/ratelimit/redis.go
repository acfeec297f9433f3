package ratelimit

import (
    "context"
    "time"

    "github.com/redis/go-redis/v9"
)

// Same fixed-window rule as Memory: a full window denies without counting.
var windowScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])
local max = tonumber(ARGV[2])

local current = tonumber(redis.call('GET', key)) or 0
local ttl = redis.call('PTTL', key)
if current > 0 and ttl < 0 then
  redis.call('PEXPIRE', key, window)
  ttl = window
end

if current >= max then
  return {0, current, ttl}
end

current = redis.call('INCR', key)
if current == 1 then
  redis.call('PEXPIRE', key, window)
  ttl = window
end
return {1, current, ttl}
`)

// Redis shares window counters between gateway replicas. Keys expire with the
// window, so no sweep is needed. When redis fails the Fallback decides.
type Redis struct {
    Rdb      *redis.Client
    Window   time.Duration
    Max      int
    Prefix   string
    Fallback *Memory
    Logger   func(string, ...any)
}

func NewRedis(rdb *redis.Client, max int, window time.Duration) *Redis {
    if window <= 0 { window = time.Minute }
    if max <= 0 { max = 1 }
    return &Redis{
        Rdb:      rdb,
        Window:   window,
        Max:      max,
        Prefix:   "rl:",
        Fallback: NewMemory(max, window),
    }
}

func (l *Redis) Allow(ctx context.Context, identity string) Decision {
    if l.Rdb == nil { return l.fallback(ctx, identity, nil) }
    ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    res, err := windowScript.Run(ctx, l.Rdb, []string{l.Prefix + identity}, l.Window.Milliseconds(), l.Max).Result()
    if err != nil { return l.fallback(ctx, identity, err) }
    arr, ok := res.([]interface{})
    if !ok || len(arr) < 3 { return l.fallback(ctx, identity, nil) }
    allowed, _ := arr[0].(int64)
    count, _ := arr[1].(int64)
    ttl, _ := arr[2].(int64)
    if ttl < 0 { ttl = l.Window.Milliseconds() }
    remaining := l.Max - int(count)
    if remaining < 0 { remaining = 0 }
    return Decision{
        Allowed:   allowed == 1,
        Count:     int(count),
        Limit:     l.Max,
        Remaining: remaining,
        ResetAt:   time.Now().Add(time.Duration(ttl) * time.Millisecond),
    }
}

func (l *Redis) fallback(ctx context.Context, identity string, err error) Decision {
    if err != nil && l.Logger != nil {
        l.Logger("ratelimit_redis_error", "error", err)
    }
    if l.Fallback == nil {
        return Decision{Allowed: true, Limit: l.Max, Remaining: l.Max, ResetAt: time.Now().Add(l.Window)}
    }
    return l.Fallback.Allow(ctx, identity)
}
