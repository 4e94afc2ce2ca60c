package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces the per-actor buckets guarding decision mutations.
const KeyPrefix = "ratelimit:decisions:"

// TokenBucket is a token bucket kept in Redis so every API replica shares one budget per actor.
type TokenBucket struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

// Result is the outcome of one Allow call.
type Result struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// NewTokenBucket constructs a bucket with the provided capacity/refill.
func NewTokenBucket(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	return &TokenBucket{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow consumes a single token from actor's bucket if one is available.
func (b *TokenBucket) Allow(ctx context.Context, actor string) (Result, error) {
	if actor == "" {
		actor = "anonymous"
	}
	now := b.now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{KeyPrefix + actor}, b.capacity, b.refill, now, b.ttl.Milliseconds()).Result()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", actor, err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return Result{}, fmt.Errorf("rate limit %s: unexpected reply %v", actor, res)
	}
	allowed, _ := arr[0].(int64)
	raw, _ := arr[1].(string)
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %s: parse tokens %q: %w", actor, raw, err)
	}

	out := Result{Allowed: allowed == 1, Remaining: tokens}
	if !out.Allowed && b.refill > 0 {
		wait := (1 - tokens) / b.refill
		out.RetryAfter = time.Duration(math.Ceil(wait*1000)) * time.Millisecond
	}
	return out, nil
}

// Lua numbers are truncated to integers in replies, so tokens travel as a string.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local elapsed = math.max(0, now - last)
tokens = math.min(capacity, tokens + elapsed / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tostring(tokens)}
`)
