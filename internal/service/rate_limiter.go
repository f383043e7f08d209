package service

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/p2deal/dealbot/internal/config"
	"github.com/p2deal/dealbot/internal/redis"
)

// rateLimitScript is a Lua script for sliding window rate limiting
var rateLimitScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

local resetAt = now + window
return {1, resetAt}
`)

// RateLimiter throttles draft creation per conversation with a redis
// sliding window, so one busy group cannot monopolize the generation
// budget.
type RateLimiter struct {
	client        *goredis.Client
	draftsPerHour int
}

func NewRateLimiter(client *goredis.Client, draftsPerHour int) *RateLimiter {
	return &RateLimiter{client: client, draftsPerHour: draftsPerHour}
}

// AllowDraft reports whether a new draft may start in the conversation
// right now, and when the window resets if not.
func (rl *RateLimiter) AllowDraft(ctx context.Context, conversationID string) (allowed bool, resetAt time.Time) {
	return rl.checkLimit(ctx, redis.DraftRateKey(conversationID), rl.draftsPerHour, config.DraftRateWindow)
}

// checkLimit checks if a request is allowed under the rate limit.
// Redis failures deny the request; draft creation is not worth running
// unthrottled during an outage.
func (rl *RateLimiter) checkLimit(
	ctx context.Context,
	key string,
	limit int,
	window time.Duration,
) (allowed bool, resetAt time.Time) {
	now := time.Now().Unix()
	fullKey := fmt.Sprintf("ratelimit:%s", key)

	result, err := rateLimitScript.Run(
		ctx,
		rl.client,
		[]string{fullKey},
		now,
		int64(window.Seconds()),
		limit,
	).Int64Slice()

	if err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("rate limit check failed, denying request for safety")
		return false, time.Now().Add(window)
	}

	if len(result) != 2 {
		log.Warn().Str("key", key).Msg("unexpected rate limit result, denying request for safety")
		return false, time.Now().Add(window)
	}

	return result[0] == 1, time.Unix(result[1], 0)
}
