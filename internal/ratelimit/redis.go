package ratelimit

import (
	"context"
	"fmt"
	"time"

	pkgredis "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/redis"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow prunes hits older than the window, then adds the new hit only
// if the window has room. Scores are unix milliseconds.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  count = count + 1
  allowed = 1
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = now
if oldest[2] then
  oldestScore = tonumber(oldest[2])
end
return {allowed, count, oldestScore}
`)

// RedisBackend shares windows across every API instance.
type RedisBackend struct {
	client *pkgredis.Client
}

// NewRedisBackend creates a backend on client.
func NewRedisBackend(client *pkgredis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Hit(ctx context.Context, key string, rule Rule, now time.Time) (bool, int, time.Time, error) {
	res, err := b.client.RunScript(ctx, slidingWindow, []string{key},
		now.UnixMilli(), rule.Window.Milliseconds(), rule.Limit, fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()))
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("running sliding window script: %w", err)
	}
	vals, ok := res.([]any)
	if !ok || len(vals) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("unexpected sliding window reply %v", res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	oldestMs, _ := vals[2].(int64)
	return allowed == 1, int(count), time.UnixMilli(oldestMs), nil
}
