package ratelimit

import "github.com/go-redis/redis/v8"

// Both scripts run server-side so the prune/count/record sequence is one
// atomic unit per key. Concurrent callers on the same key never observe a
// partial execution.

// KEYS[1] counter key, ARGV: now (seconds), window (seconds), limit,
// member suffix. Returns {allowed, count, remaining}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

local count = redis.call('ZCARD', key)

if count >= limit then
    return {0, count, 0}
end

redis.call('ZADD', key, now, now .. '-' .. member)
redis.call('EXPIRE', key, window)

return {1, count + 1, limit - (count + 1)}
`)

// KEYS[1] bucket key, ARGV: now (seconds), rate (tokens/second), capacity,
// requested. Returns {allowed, remaining, capacity}. A clock regression is
// floored to zero elapsed time; refill never exceeds capacity.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1]) or capacity
local last_refill = tonumber(bucket[2]) or 0

local delta = math.max(0, now - last_refill)
local new_tokens = math.min(capacity, tokens + (delta * rate))

if new_tokens < requested then
    return {0, math.floor(new_tokens), capacity}
end

redis.call('HMSET', key, 'tokens', new_tokens - requested, 'last_refill', now)
redis.call('EXPIRE', key, math.ceil(capacity / rate) * 2)

return {1, math.floor(new_tokens - requested), capacity}
`)
