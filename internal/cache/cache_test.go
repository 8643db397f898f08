package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type room struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// brokenCache fails every operation, like an unreachable Redis.
type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("down")
}
func (brokenCache) Set(context.Context, string, string, time.Duration) error { return errors.New("down") }
func (brokenCache) Del(context.Context, string) error                        { return errors.New("down") }

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, "test:"), mr
}

func TestChatroomsKey(t *testing.T) {
	assert.Equal(t, "chatrooms:42", ChatroomsKey(42))
}

func TestImplementations_Contract(t *testing.T) {
	rc, _ := newRedisCache(t)
	mc, err := NewMemoryCache(16)
	require.NoError(t, err)

	for name, c := range map[string]Cache{"redis": rc, "memory": mc} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := c.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
			v, ok, err := c.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v", v)

			require.NoError(t, c.Del(ctx, "k"))
			_, ok, _ = c.Get(ctx, "k")
			assert.False(t, ok)

			// deleting a missing key is fine
			require.NoError(t, c.Del(ctx, "missing"))
		})
	}
}

func TestRedisCache_PrefixAndTTL(t *testing.T) {
	rc, mr := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "chatrooms:1", "[]", 600*time.Second))
	assert.True(t, mr.Exists("test:chatrooms:1"))
	assert.Equal(t, 600*time.Second, mr.TTL("test:chatrooms:1"))

	mr.FastForward(601 * time.Second)
	_, ok, err := rc.Get(ctx, "chatrooms:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_BackendError(t *testing.T) {
	rc, mr := newRedisCache(t)
	mr.Close()
	_, ok, err := rc.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestMemoryCache_ExpiryAndEviction(t *testing.T) {
	mc, err := NewMemoryCache(2)
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	mc.now = func() time.Time { return now }

	require.NoError(t, mc.Set(ctx, "a", "1", 10*time.Second))
	now = now.Add(10 * time.Second)
	_, ok, _ := mc.Get(ctx, "a")
	assert.False(t, ok, "entry must expire at its deadline")
	assert.Equal(t, 0, mc.Len())

	require.NoError(t, mc.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, mc.Set(ctx, "b", "2", time.Minute))
	require.NoError(t, mc.Set(ctx, "c", "3", time.Minute))
	_, ok, _ = mc.Get(ctx, "a")
	assert.False(t, ok, "oldest entry should be evicted past capacity")

	require.NoError(t, mc.Set(ctx, "b", "x", 0))
	_, ok, _ = mc.Get(ctx, "b")
	assert.False(t, ok, "non-positive ttl deletes")

	_, err = NewMemoryCache(0)
	assert.Error(t, err)
}

func TestReadThrough_MissThenHit(t *testing.T) {
	mc, _ := NewMemoryCache(16)
	ctx := context.Background()
	calls := 0
	load := func(context.Context) ([]room, error) {
		calls++
		return []room{{ID: 1, Name: "general"}}, nil
	}

	missBefore := testutil.ToFloat64(cacheLookups.WithLabelValues("miss"))
	hitBefore := testutil.ToFloat64(cacheLookups.WithLabelValues("hit"))

	got, err := ReadThrough(ctx, mc, "chatrooms:1", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, []room{{ID: 1, Name: "general"}}, got)

	got, err = ReadThrough(ctx, mc, "chatrooms:1", time.Minute, load)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, calls, "second read must be served from cache")

	assert.Equal(t, missBefore+1, testutil.ToFloat64(cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, hitBefore+1, testutil.ToFloat64(cacheLookups.WithLabelValues("hit")))

	Invalidate(ctx, mc, "chatrooms:1")
	_, err = ReadThrough(ctx, mc, "chatrooms:1", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "invalidation forces a reload")
}

func TestReadThrough_CacheFailureFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	got, err := ReadThrough(ctx, brokenCache{}, "k", time.Minute, func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	// Invalidate swallows backend errors
	Invalidate(ctx, brokenCache{}, "k")
}

func TestReadThrough_UndecodableEntryReloads(t *testing.T) {
	mc, _ := NewMemoryCache(4)
	ctx := context.Background()
	require.NoError(t, mc.Set(ctx, "k", "{not json", time.Minute))

	got, err := ReadThrough(ctx, mc, "k", time.Minute, func(context.Context) ([]room, error) {
		return []room{{ID: 2}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint(2), got[0].ID)

	raw, ok, _ := mc.Get(ctx, "k")
	assert.True(t, ok)
	assert.JSONEq(t, `[{"id":2,"name":""}]`, raw)
}

func TestReadThrough_LoadErrorNotCached(t *testing.T) {
	mc, _ := NewMemoryCache(4)
	ctx := context.Background()
	boom := errors.New("db down")

	_, err := ReadThrough(ctx, mc, "k", time.Minute, func(context.Context) ([]room, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok, _ := mc.Get(ctx, "k")
	assert.False(t, ok)
}

func TestReadThrough_InvalidateDuringLoadSkipsWriteBack(t *testing.T) {
	rc, _ := newRedisCache(t)
	mc, err := NewMemoryCache(16)
	require.NoError(t, err)

	for name, c := range map[string]Cache{"redis": rc, "memory": mc} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			staleBefore := testutil.ToFloat64(cacheLookups.WithLabelValues("stale"))

			// a concurrent create lands after the listing was read
			got, err := ReadThrough(ctx, c, "chatrooms:9", time.Minute, func(ctx context.Context) ([]room, error) {
				Invalidate(ctx, c, "chatrooms:9")
				return []room{{ID: 1, Name: "old"}}, nil
			})
			require.NoError(t, err)
			assert.Len(t, got, 1)

			_, ok, err := c.Get(ctx, "chatrooms:9")
			require.NoError(t, err)
			assert.False(t, ok, "the pre-create listing must not be cached")
			assert.Equal(t, staleBefore+1, testutil.ToFloat64(cacheLookups.WithLabelValues("stale")))

			// the next read caches normally
			_, err = ReadThrough(ctx, c, "chatrooms:9", time.Minute, func(context.Context) ([]room, error) {
				return []room{{ID: 1, Name: "old"}, {ID: 2, Name: "new"}}, nil
			})
			require.NoError(t, err)
			raw, ok, _ := c.Get(ctx, "chatrooms:9")
			assert.True(t, ok)
			assert.Contains(t, raw, `"new"`)
		})
	}
}
