package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares windows across processes. The whole take is a Lua
// script, so the limit check, INCR and first-hit PEXPIRE are atomic.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
	now    func() time.Time
}

// NewRedisStore creates a RedisStore. A nil clock uses time.Now; it is only
// used to turn the key's remaining TTL into an absolute reset time.
func NewRedisStore(client *redis.Client, now func() time.Time) *RedisStore {
	if now == nil {
		now = time.Now
	}
	return &RedisStore{client: client, script: redis.NewScript(takeLua), now: now}
}

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, key string, limit int, window time.Duration) (Window, bool, error) {
	res, err := s.script.Run(ctx, s.client, []string{key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, false, fmt.Errorf("redis take: %w", err)
	}
	if len(res) != 3 {
		return Window{}, false, fmt.Errorf("redis take: unexpected reply %v", res)
	}

	win := Window{
		Count:   int(res[0]),
		ResetAt: s.now().Add(time.Duration(res[1]) * time.Millisecond),
	}
	return win, res[2] == 1, nil
}

// takeLua returns {count, pttl_ms, counted}. A key without a TTL (for
// example after a failed PEXPIRE) is given one so it cannot block a client
// forever.
const takeLua = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local current = tonumber(redis.call('GET', key) or '0')
local counted = 0
if current < limit then
    current = redis.call('INCR', key)
    counted = 1
    if current == 1 then
        redis.call('PEXPIRE', key, window)
    end
end

local ttl = redis.call('PTTL', key)
if ttl < 0 then
    redis.call('PEXPIRE', key, window)
    ttl = window
end

return {current, ttl, counted}
`
