package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "facewarp:ratelimit"

// bucketScript refills and takes tokens atomically. It returns
// {allowed, remaining, retry_after_ms}.
const bucketScript = `
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now

tokens = math.min(capacity, tokens + math.max(0, now - ts) * rate)

local ok, wait = 0, 0
if tokens >= cost then
  tokens = tokens - cost
  ok = 1
else
  wait = math.ceil((cost - tokens) / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {ok, math.floor(tokens), wait}
`

// RedisTokenBucket refills capacity tokens per window and charges one token
// per request. Buckets expire after two idle windows.
type RedisTokenBucket struct {
	client    redis.UniversalClient
	script    *redis.Script
	capacity  int64
	perMS     float64
	ttl       time.Duration
	keyPrefix string
	now       func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	switch {
	case client == nil:
		return nil, errors.New("redis client is required")
	case capacity <= 0:
		return nil, errors.New("capacity must be positive")
	case window <= 0:
		return nil, errors.New("window must be positive")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}

	return &RedisTokenBucket{
		client:    client,
		script:    redis.NewScript(bucketScript),
		capacity:  int64(capacity),
		perMS:     float64(capacity) / float64(max(window.Milliseconds(), 1)),
		ttl:       2 * window,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}, nil
}

func (b *RedisTokenBucket) key(subject string) string {
	return b.keyPrefix + ":" + normalizeSubject(subject)
}

func (b *RedisTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	reply, err := b.script.Run(ctx, b.client, []string{b.key(subject)},
		b.capacity, b.perMS, b.now().UnixMilli(), 1, b.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket: %w", err)
	}
	return decisionFromReply(reply)
}

func decisionFromReply(reply []int64) (Decision, error) {
	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("token bucket: unexpected reply of %d values", len(reply))
	}
	d := Decision{Allowed: reply[0] == 1, Remaining: reply[1]}
	if !d.Allowed {
		d.RetryAfter = time.Duration(reply[2]) * time.Millisecond
	}
	return d, nil
}
