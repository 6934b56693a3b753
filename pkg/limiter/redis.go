package limiter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims, counts and records atomically. Returns
// {allowed, retry_after_ms}.
const slidingWindowScript = `
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local max = tonumber(ARGV[3])

	redis.call("ZREMRANGEBYSCORE", key, 0, now - window)

	local count = redis.call("ZCARD", key)
	if count >= max then
		local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
		local retry = 0
		if oldest[2] then
			retry = (tonumber(oldest[2]) + window) - now
		end
		return {0, retry}
	end

	redis.call("ZADD", key, now, now .. "-" .. count)
	redis.call("PEXPIRE", key, window)
	return {1, 0}
`

// RedisSlidingWindow keeps the windows in Redis sorted sets so multiple
// gateway instances share one budget per identity.
type RedisSlidingWindow struct {
	rdb   *redis.Client
	rules map[Action]Rule
}

func NewRedisSlidingWindow(rdb *redis.Client, rules map[Action]Rule) *RedisSlidingWindow {
	return &RedisSlidingWindow{rdb: rdb, rules: rules}
}

func (l *RedisSlidingWindow) Allow(ctx context.Context, identityID string, action Action) (bool, time.Duration, error) {
	rule, ok := l.rules[action]
	if !ok || rule.Max <= 0 {
		return true, 0, nil
	}

	key := "ratelimit:" + identityID + ":" + string(action)
	now := time.Now().UnixMilli()

	res, err := l.rdb.Eval(ctx, slidingWindowScript, []string{key},
		now, rule.Window.Milliseconds(), rule.Max).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 {
		return false, 0, nil
	}
	if res[0] == 1 {
		return true, 0, nil
	}
	return false, time.Duration(res[1]) * time.Millisecond, nil
}
