// Package cache provides the short-TTL key/value layer in front of the
// relational store. It is a pure performance layer: every entry may be lost
// at any time without affecting correctness.
//
// Two implementations share the Cache contract:
//   - RedisCache, backed by go-redis, for multi-instance deployments.
//   - MemoryCache, an LRU with per-entry expiry, for single-instance mode.
//
// ReadThrough wires a Cache in front of a loader using JSON serialization.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Cache is a string key/value store with TTL expiry.
//
// Get reports ok=false on a miss; err is reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// ChatroomsKey is the cache key for a user's chatroom listing.
func ChatroomsKey(userID uint) string { return fmt.Sprintf("chatrooms:%d", userID) }

// versionTTL must outlive any load; a version that expires mid-load only
// reopens the stale write-back window it guards.
const versionTTL = time.Hour

// versionKey holds a token that Invalidate replaces on every call.
func versionKey(key string) string { return key + ":v" }

var cacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Read-through cache lookups by result (hit, miss, error, stale).",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(cacheLookups)
}

// ReadThrough returns the cached value for key, or calls load, stores its
// JSON encoding for ttl, and returns it. The write-back is skipped when an
// Invalidate of key ran while load was in progress, so an older listing
// cannot overwrite the deletion.
//
// Cache failures (backend errors, undecodable entries, failed writes) are
// logged and never surface to the caller; load errors are returned as-is and
// nothing is cached.
func ReadThrough[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	raw, ok, err := c.Get(ctx, key)
	switch {
	case err != nil:
		cacheLookups.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("key", key).Msg("cache get failed; falling back to store")
	case ok:
		var v T
		uerr := json.Unmarshal([]byte(raw), &v)
		if uerr == nil {
			cacheLookups.WithLabelValues("hit").Inc()
			return v, nil
		}
		cacheLookups.WithLabelValues("error").Inc()
		log.Warn().Err(uerr).Str("key", key).Msg("discarding undecodable cache entry")
	default:
		cacheLookups.WithLabelValues("miss").Inc()
	}

	before, verr := version(ctx, c, key)
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	after, aerr := version(ctx, c, key)
	if verr != nil || aerr != nil {
		return v, nil
	}
	if before != after {
		cacheLookups.WithLabelValues("stale").Inc()
		log.Debug().Str("key", key).Msg("invalidated during load; not caching")
		return v, nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		return v, nil
	}
	if err := c.Set(ctx, key, string(b), ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
	return v, nil
}

// Invalidate deletes key and bumps its version so loads already in flight
// do not write back. Backend errors are logged, never returned.
func Invalidate(ctx context.Context, c Cache, key string) {
	if err := c.Set(ctx, versionKey(key), uuid.NewString(), versionTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache version bump failed")
	}
	if err := c.Del(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache invalidation failed")
	}
}

func version(ctx context.Context, c Cache, key string) (string, error) {
	v, _, err := c.Get(ctx, versionKey(key))
	return v, err
}
