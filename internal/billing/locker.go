package billing

import (
	"context"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Locker serializes work on a named resource across concurrent webhook
// deliveries.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func() error) error
}

// RedisLocker is a Locker shared by every process using the same Redis.
type RedisLocker struct {
	rs  *redsync.Redsync
	ttl time.Duration
	opt []redsync.Option
}

// NewRedisLocker builds a redsync-backed locker. ttl bounds how long a
// crashed holder can keep the lock.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, opts ...redsync.Option) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{rs: redsync.New(goredis.NewPool(client)), ttl: ttl, opt: opts}
}

// WithLock implements Locker.
func (l *RedisLocker) WithLock(ctx context.Context, name string, fn func() error) error {
	opts := append([]redsync.Option{redsync.WithExpiry(l.ttl)}, l.opt...)
	mutex := l.rs.NewMutex("lock:"+name, opts...)

	if err := mutex.LockContext(ctx); err != nil {
		return err
	}
	defer func() {
		if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			log.Error().Err(err).Str("lock", name).Msg("failed to unlock mutex")
		}
	}()

	return fn()
}

// LocalLocker is a Locker for single-process deployments.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker returns an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

// WithLock implements Locker.
func (l *LocalLocker) WithLock(ctx context.Context, name string, fn func() error) error {
	l.mu.Lock()
	lk, ok := l.locks[name]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[name] = lk
	}
	lk.refs++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, name)
		}
		l.mu.Unlock()
	}()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lk.ch }()

	return fn()
}
