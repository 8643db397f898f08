package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis layout, all under one hash-tagged prefix so they share a cluster slot:
//
//	<p>:ready     ZSET  job id -> due time (unix ms)
//	<p>:inflight  ZSET  job id -> lease deadline (unix ms)
//	<p>:jobs      HASH  job id -> JSON payload
//	<p>:lease     HASH  job id -> lease token
//	<p>:attempts  HASH  job id -> attempts started
//	<p>:result:<id>     STRING terminal state, expires after resultTTL
const resultTTL = 24 * time.Hour

// KEYS: ready, jobs, result. ARGV: id, dueMs, payload.
var enqueueScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[3]) == 0 then
  return 0
end
redis.call('DEL', KEYS[3])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
return 1
`)

// reapBody re-queues every lease whose deadline is at or before ARGV[1].
// KEYS: ready, inflight, lease.
const reapBody = `
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('HDEL', KEYS[3], id)
  redis.call('ZADD', KEYS[1], ARGV[1], id)
end
`

var reapScript = redis.NewScript(reapBody + `
return #expired
`)

// KEYS: ready, inflight, lease, jobs, attempts. ARGV: now, deadline, token.
var leaseScript = redis.NewScript(reapBody + `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[2], ARGV[2], id)
redis.call('HSET', KEYS[3], id, ARGV[3])
local attempt = redis.call('HINCRBY', KEYS[5], id, 1)
local payload = redis.call('HGET', KEYS[4], id)
if not payload then
  payload = ''
end
return {id, payload, attempt}
`)

// KEYS: inflight, lease, jobs, attempts, result. ARGV: id, token, ttlSec, state.
var finishScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], ARGV[1]) ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('SET', KEYS[5], ARGV[4], 'EX', ARGV[3])
return 1
`)

// KEYS: inflight, lease, jobs, ready. ARGV: id, token, dueMs, payload.
var retryScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], ARGV[1]) ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[4])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
return 1
`)

// RedisQueue implements Queue on Redis sorted sets and Lua scripts.
type RedisQueue struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisQueue wraps an already connected client. An empty prefix defaults
// to "{genq}".
func NewRedisQueue(client redis.UniversalClient, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "{genq}"
	}
	return &RedisQueue{client: client, prefix: prefix, now: time.Now}
}

func (q *RedisQueue) key(name string) string { return q.prefix + ":" + name }

func (q *RedisQueue) resultKey(jobID string) string { return q.prefix + ":result:" + jobID }

func unixMs(t time.Time) int64 { return t.UnixMilli() }

// Enqueue implements Queue.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if job.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidPayload)
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now().UTC()
	}
	job.Attempt = 0
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	keys := []string{q.key("ready"), q.key("jobs"), q.resultKey(job.ID)}
	if err := enqueueScript.Run(ctx, q.client, keys, job.ID, unixMs(q.now()), string(b)).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.ID, err)
	}
	enqueued.Inc()
	return nil
}

// Lease implements Queue.
func (q *RedisQueue) Lease(ctx context.Context, workerID string, leaseFor time.Duration) (*Lease, error) {
	now := q.now()
	token := uuid.NewString()
	keys := []string{q.key("ready"), q.key("inflight"), q.key("lease"), q.key("jobs"), q.key("attempts")}

	res, err := leaseScript.Run(ctx, q.client, keys, unixMs(now), unixMs(now.Add(leaseFor)), token).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("lease: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("lease: unexpected reply %v", res)
	}
	id, _ := res[0].(string)
	raw, _ := res[1].(string)
	attempt, _ := res[2].(int64)

	l := &Lease{
		Token:    token,
		WorkerID: workerID,
		Attempt:  int(attempt),
		Deadline: now.Add(leaseFor),
	}
	if err := json.Unmarshal([]byte(raw), &l.Job); err != nil {
		l.Job = Job{}
		l.Raw = raw
	}
	l.Job.ID = id
	l.Job.Attempt = l.Attempt
	leased.Inc()
	return l, nil
}

// Complete implements Queue.
func (q *RedisQueue) Complete(ctx context.Context, l *Lease) error {
	return q.finish(ctx, l, Completed{})
}

// Fail implements Queue.
func (q *RedisQueue) Fail(ctx context.Context, l *Lease, cause error) error {
	return q.finish(ctx, l, Failed{Reason: FailureReason(cause)})
}

func (q *RedisQueue) finish(ctx context.Context, l *Lease, s State) error {
	keys := []string{q.key("inflight"), q.key("lease"), q.key("jobs"), q.key("attempts"), q.resultKey(l.Job.ID)}
	n, err := finishScript.Run(ctx, q.client, keys, l.Job.ID, l.Token, int64(resultTTL.Seconds()), terminal(s)).Int64()
	if err != nil {
		return fmt.Errorf("finish %s: %w", l.Job.ID, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	observeFinish(s)
	return nil
}

// Retry implements Queue.
func (q *RedisQueue) Retry(ctx context.Context, l *Lease, delay time.Duration, cause error) error {
	job := l.Job
	if cause != nil {
		job.LastError = cause.Error()
	}
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	due := q.now().Add(delay)
	keys := []string{q.key("inflight"), q.key("lease"), q.key("jobs"), q.key("ready")}
	n, err := retryScript.Run(ctx, q.client, keys, job.ID, l.Token, unixMs(due), string(b)).Int64()
	if err != nil {
		return fmt.Errorf("retry %s: %w", job.ID, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	retried.Inc()
	return nil
}

// Reap implements Queue.
func (q *RedisQueue) Reap(ctx context.Context) (int, error) {
	keys := []string{q.key("ready"), q.key("inflight"), q.key("lease")}
	n, err := reapScript.Run(ctx, q.client, keys, unixMs(q.now())).Int64()
	if err != nil {
		return 0, fmt.Errorf("reap: %w", err)
	}
	if n > 0 {
		reaped.Add(float64(n))
	}
	return int(n), nil
}

// State implements Queue.
func (q *RedisQueue) State(ctx context.Context, jobID string) (State, error) {
	v, err := q.client.Get(ctx, q.resultKey(jobID)).Result()
	if err == nil {
		return parseTerminal(v), nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	attempts, err := q.client.HGet(ctx, q.key("attempts"), jobID).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if _, err := q.client.ZScore(ctx, q.key("inflight"), jobID).Result(); err == nil {
		return InFlight{Attempt: attempts}, nil
	} else if !errors.Is(err, redis.Nil) {
		return nil, err
	}
	due, err := q.client.ZScore(ctx, q.key("ready"), jobID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUnknownJob
	}
	if err != nil {
		return nil, err
	}
	if attempts == 0 {
		return Enqueued{}, nil
	}
	return RetryScheduled{Attempt: attempts, At: time.UnixMilli(int64(due))}, nil
}

// Depth implements Queue.
func (q *RedisQueue) Depth(ctx context.Context) (int64, int64, error) {
	pipe := q.client.Pipeline()
	ready := pipe.ZCard(ctx, q.key("ready"))
	inflight := pipe.ZCard(ctx, q.key("inflight"))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	return ready.Val(), inflight.Val(), nil
}
