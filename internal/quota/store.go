package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Take is the outcome of one check-and-increment on a counter.
type Take struct {
	Allowed    bool
	Count      int64         // counter value after the call
	ResetAfter time.Duration // time until the window closes; 0 if no window is open
}

// Store is a windowed counter with an atomic check-and-increment.
//
// Take increments key only when its current value is below limit. The first
// increment opens a window of the given length; the counter resets when it
// closes. Denied calls never increment.
type Store interface {
	Take(ctx context.Context, key string, limit int64, window time.Duration) (Take, error)
}

// takeScript runs GET, compare, INCR and PEXPIRE as one unit so two
// concurrent requests cannot both see the last free slot.
var takeScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
  return {0, current, redis.call('PTTL', KEYS[1])}
end
current = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {1, current, ttl}
`)

// RedisStore implements Store with a Lua script on Redis.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an already connected client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, key string, limit int64, window time.Duration) (Take, error) {
	res, err := takeScript.Run(ctx, s.client, []string{key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Take{}, fmt.Errorf("quota take %s: %w", key, err)
	}
	if len(res) != 3 {
		return Take{}, fmt.Errorf("quota take %s: unexpected reply %v", key, res)
	}
	t := Take{Allowed: res[0] == 1, Count: res[1]}
	if res[2] > 0 {
		t.ResetAfter = time.Duration(res[2]) * time.Millisecond
	}
	return t, nil
}

// MemoryStore implements Store in process memory for single-instance mode.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memCounter
	now      func() time.Time
	takes    int
}

type memCounter struct {
	count   int64
	resetAt time.Time
}

// sweepEvery bounds how often expired counters are purged.
const sweepEvery = 1024

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*memCounter), now: time.Now}
}

// Take implements Store.
func (s *MemoryStore) Take(_ context.Context, key string, limit int64, window time.Duration) (Take, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.takes++
	if s.takes%sweepEvery == 0 {
		for k, c := range s.counters {
			if !now.Before(c.resetAt) {
				delete(s.counters, k)
			}
		}
	}

	c, ok := s.counters[key]
	if ok && !now.Before(c.resetAt) {
		delete(s.counters, key)
		ok = false
	}

	if !ok {
		if limit <= 0 {
			return Take{Allowed: false}, nil
		}
		c = &memCounter{count: 1, resetAt: now.Add(window)}
		s.counters[key] = c
		return Take{Allowed: true, Count: 1, ResetAfter: window}, nil
	}

	if c.count >= limit {
		return Take{Allowed: false, Count: c.count, ResetAfter: c.resetAt.Sub(now)}, nil
	}
	c.count++
	return Take{Allowed: true, Count: c.count, ResetAfter: c.resetAt.Sub(now)}, nil
}
