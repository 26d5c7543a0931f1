package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"keepsake/internal/ratelimit/models"
)

// slidingWindowScript keeps one sorted set per key scored by request time in
// milliseconds. It trims the expired head, admits cost entries when they fit,
// and returns {allowed, count, reset_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local member = ARGV[5]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
local allowed = 0
if count + cost <= limit then
  for i = 1, cost do
    redis.call("ZADD", key, now, member .. ":" .. i)
  end
  count = count + cost
  allowed = 1
  redis.call("PEXPIRE", key, window)
end

local reset = now + window
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`)

// RedisBucketStore shares sliding windows across replicas.
type RedisBucketStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisBucketStore(client redis.Cmdable, prefix string) *RedisBucketStore {
	if prefix == "" {
		prefix = "keepsake:ratelimit"
	}
	return &RedisBucketStore{client: client, prefix: prefix}
}

func (s *RedisBucketStore) AllowN(ctx context.Context, key string, cost int, limit models.Limit, now time.Time) (*models.Result, error) {
	nowMs := now.UnixMilli()
	raw, err := slidingWindowScript.Run(ctx, s.client, []string{s.prefix + ":" + key},
		nowMs,
		limit.Window.Milliseconds(),
		limit.Requests,
		cost,
		strconv.FormatInt(nowMs, 10)+"-"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("sliding window %s: %w", key, err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("sliding window %s: unexpected reply length %d", key, len(raw))
	}
	allowed := raw[0] == 1
	resetAt := time.UnixMilli(raw[2]).UTC()
	return models.NewResult(allowed, limit.Requests, limit.Requests-int(raw[1]), resetAt, now), nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+":"+key).Err()
}
