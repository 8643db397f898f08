package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a manually advanced time source shared by a queue under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.UnixMilli(1_700_000_000_000)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	q     Queue
	clock *clock
	mr    *miniredis.Miniredis // nil for memory
}

func newRedisHarness(t *testing.T) harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := newClock()
	q := NewRedisQueue(client, "")
	q.now = c.Now
	return harness{q: q, clock: c, mr: mr}
}

func newMemoryHarness(t *testing.T) harness {
	t.Helper()
	c := newClock()
	q := NewMemoryQueue()
	q.now = c.Now
	return harness{q: q, clock: c}
}

// forEachQueue runs fn against both implementations.
func forEachQueue(t *testing.T, fn func(t *testing.T, h harness)) {
	t.Run("redis", func(t *testing.T) { fn(t, newRedisHarness(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryHarness(t)) })
}

func job(msgID uint) Job {
	return Job{ID: JobIDForMessage(msgID), MessageID: msgID, Text: "hello", ChatroomID: 1}
}

func TestQueue_EnqueueLeaseComplete(t *testing.T) {
	forEachQueue(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.q.Enqueue(ctx, job(1)))

		st, err := h.q.State(ctx, "message:1")
		require.NoError(t, err)
		assert.Equal(t, Enqueued{}, st)

		l, err := h.q.Lease(ctx, "w1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "message:1", l.Job.ID)
		assert.Equal(t, uint(1), l.Job.MessageID)
		assert.Equal(t, "hello", l.Job.Text)
		assert.Equal(t, 1, l.Attempt)
		assert.Equal(t, 1, l.Job.Attempt)
		assert.Equal(t, "w1", l.WorkerID)
		assert.NotEmpty(t, l.Token)
		assert.Equal(t, h.clock.Now().Add(time.Minute), l.Deadline)

		st, _ = h.q.State(ctx, "message:1")
		assert.Equal(t, InFlight{Attempt: 1}, st)

		ready, inflight, err := h.q.Depth(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), ready)
		assert.Equal(t, int64(1), inflight)

		require.NoError(t, h.q.Complete(ctx, l))
		st, _ = h.q.State(ctx, "message:1")
		assert.Equal(t, Completed{}, st)

		_, err = h.q.Lease(ctx, "w1", time.Minute)
		assert.ErrorIs(t, err, ErrEmpty)

		ready, inflight, _ = h.q.Depth(ctx)
		assert.Zero(t, ready+inflight, "no job may remain queued")

		// a completed lease cannot be used again
		assert.ErrorIs(t, h.q.Complete(ctx, l), ErrLeaseLost)
	})
}

func TestQueue_EnqueueIsIdempotentWhilePending(t *testing.T) {
	forEachQueue(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.q.Enqueue(ctx, job(2)))
		require.NoError(t, h.q.Enqueue(ctx, job(2)))

		ready, _, _ := h.q.Depth(ctx)
		assert.Equal(t, int64(1), ready)

		assert.ErrorIs(t, h.q.Enqueue(ctx, Job{}), ErrInvalidPayload)
		_, err := h.q.State(ctx, "nope")
		assert.ErrorIs(t, err, ErrUnknownJob)
	})
}

func TestQueue_RetryHonoursDelay(t *testing.T) {
	forEachQueue(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.q.Enqueue(ctx, job(3)))

		l, err := h.q.Lease(ctx, "w1", time.Minute)
		require.NoError(t, err)
		require.NoError(t, h.q.Retry(ctx, l, 2*time.Second, errors.New("backend 503")))

		st, _ := h.q.State(ctx, "message:3")
		require.IsType(t, RetryScheduled{}, st)
		rs := st.(RetryScheduled)
		assert.Equal(t, 1, rs.Attempt)
		assert.True(t, rs.At.Equal(h.clock.Now().Add(2*time.Second)), "retry due at %v", rs.At)

		// not due yet: a retry never runs concurrently with the backoff
		h.clock.Advance(1999 * time.Millisecond)
		_, err = h.q.Lease(ctx, "w2", time.Minute)
		assert.ErrorIs(t, err, ErrEmpty)

		h.clock.Advance(time.Millisecond)
		l2, err := h.q.Lease(ctx, "w2", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 2, l2.Attempt)
		assert.Equal(t, "backend 503", l2.Job.LastError)
		assert.Equal(t, "hello", l2.Job.Text, "retries carry the same payload")

		// the old lease is stale
		assert.ErrorIs(t, h.q.Retry(ctx, l, time.Second, nil), ErrLeaseLost)
	})
}

func TestQueue_ExpiredLeaseIsReleasedAndOldOwnerLocked(t *testing.T) {
	forEachQueue(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.q.Enqueue(ctx, job(4)))

		crashed, err := h.q.Lease(ctx, "w1", 10*time.Second)
		require.NoError(t, err)

		_, err = h.q.Lease(ctx, "w2", 10*time.Second)
		assert.ErrorIs(t, err, ErrEmpty, "a leased job is not available to others")

		h.clock.Advance(10 * time.Second)
		recovered, err := h.q.Lease(ctx, "w2", 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "message:4", recovered.Job.ID)
		assert.Equal(t, 2, recovered.Attempt)
		assert.NotEqual(t, crashed.Token, recovered.Token)

		assert.ErrorIs(t, h.q.Complete(ctx, crashed), ErrLeaseLost)
		assert.ErrorIs(t, h.q.Fail(ctx, crashed, errors.New("x")), ErrLeaseLost)
		require.NoError(t, h.q.Complete(ctx, recovered))
	})
}

func TestQueue_ReapExplicit(t *testing.T) {
	forEachQueue(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.q.Enqueue(ctx, job(5)))
		_, err := h.q.Lease(ctx, "w1", time.Second)
		require.NoError(t, err)

		n, err := h.q.Reap(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		h.clock.Advance(time.Second)
		n, err = h.q.Reap(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ready, inflight, _ := h.q.Depth(ctx)
		assert.Equal(t, int64(1), ready)
		assert.Equal(t, int64(0), inflight)
	})
}

func TestQueue_FailRecordsReason(t *testing.T) {
	forEachQueue(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.q.Enqueue(ctx, job(6)))
		require.NoError(t, h.q.Enqueue(ctx, job(7)))

		l, _ := h.q.Lease(ctx, "w", time.Minute)
		require.NoError(t, h.q.Fail(ctx, l, fmt.Errorf("%w: missing message", ErrInvalidPayload)))
		st, _ := h.q.State(ctx, l.Job.ID)
		assert.Equal(t, Failed{Reason: ReasonInvalidPayload}, st)

		l, _ = h.q.Lease(ctx, "w", time.Minute)
		require.NoError(t, h.q.Fail(ctx, l, errors.New("timeout")))
		st, _ = h.q.State(ctx, l.Job.ID)
		assert.Equal(t, Failed{Reason: ReasonExhausted}, st)

		require.NoError(t, h.q.Enqueue(ctx, job(8)))
		l, _ = h.q.Lease(ctx, "w", time.Minute)
		require.NoError(t, h.q.Fail(ctx, l, fmt.Errorf("%w: bad api key", ErrPermanent)))
		st, _ = h.q.State(ctx, l.Job.ID)
		assert.Equal(t, Failed{Reason: ReasonPermanent}, st)

		ready, inflight, _ := h.q.Depth(ctx)
		assert.Zero(t, ready+inflight)

		// the same message can be queued again later
		require.NoError(t, h.q.Enqueue(ctx, job(6)))
		st, _ = h.q.State(ctx, "message:6")
		assert.Equal(t, Enqueued{}, st)
	})
}

func TestQueue_ConcurrentLeaseIsExclusive(t *testing.T) {
	forEachQueue(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.q.Enqueue(ctx, job(8)))

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				l, err := h.q.Lease(ctx, fmt.Sprintf("w%d", i), time.Minute)
				if err == nil && l != nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}

func TestQueue_OldestDueFirst(t *testing.T) {
	forEachQueue(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.q.Enqueue(ctx, job(10)))
		h.clock.Advance(time.Millisecond)
		require.NoError(t, h.q.Enqueue(ctx, job(11)))

		l, err := h.q.Lease(ctx, "w", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "message:10", l.Job.ID)
	})
}

func TestRedisQueue_UndecodablePayload(t *testing.T) {
	h := newRedisHarness(t)
	ctx := context.Background()

	h.mr.HSet("{genq}:jobs", "bad", "{not json")
	_, err := h.mr.ZAdd("{genq}:ready", float64(h.clock.Now().UnixMilli()), "bad")
	require.NoError(t, err)

	l, err := h.q.Lease(ctx, "w", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "bad", l.Job.ID)
	assert.Equal(t, "{not json", l.Raw)
	assert.ErrorIs(t, l.Job.Validate(), ErrInvalidPayload)
}

func TestMemoryQueue_Pending(t *testing.T) {
	h := newMemoryHarness(t)
	mq := h.q.(*MemoryQueue)
	ctx := context.Background()
	require.NoError(t, mq.Enqueue(ctx, job(1)))
	h.clock.Advance(time.Millisecond)
	require.NoError(t, mq.Enqueue(ctx, job(2)))
	assert.Equal(t, []string{"message:1", "message:2"}, mq.Pending())
}

func TestBackoff(t *testing.T) {
	b := DefaultBackoff
	assert.Equal(t, time.Duration(0), b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 4*time.Second, b.Delay(2))
	assert.Equal(t, 8*time.Second, b.Delay(3))

	assert.False(t, b.Exhausted(1, 0))
	assert.False(t, b.Exhausted(2, 0))
	assert.True(t, b.Exhausted(3, 0))
	assert.False(t, b.Exhausted(3, 5), "per-job budget overrides the policy")
	assert.True(t, b.Exhausted(1, 1))
	assert.False(t, b.Exceeded(3, 0))
	assert.True(t, b.Exceeded(4, 0))
	assert.False(t, b.Exceeded(4, 5))

	flat := Backoff{Initial: time.Second, Factor: 0}
	assert.Equal(t, time.Second, flat.Delay(3))
}

func TestJob_Validate(t *testing.T) {
	assert.NoError(t, job(1).Validate())
	assert.ErrorIs(t, Job{MessageID: 1, Text: "x"}.Validate(), ErrInvalidPayload)
	assert.ErrorIs(t, Job{ID: "a", Text: "x"}.Validate(), ErrInvalidPayload)
	assert.ErrorIs(t, Job{ID: "a", MessageID: 1, Text: "  "}.Validate(), ErrInvalidPayload)
}

func TestState_StringsAndTerminalCodec(t *testing.T) {
	assert.Equal(t, "enqueued", Enqueued{}.String())
	assert.Equal(t, "in_flight(attempt=2)", InFlight{Attempt: 2}.String())
	assert.Equal(t, "retry_scheduled(attempt=1)", RetryScheduled{Attempt: 1}.String())
	assert.Equal(t, "completed", Completed{}.String())
	assert.Equal(t, "failed(exhausted)", Failed{Reason: "exhausted"}.String())

	assert.Equal(t, Completed{}, parseTerminal(terminal(Completed{})))
	assert.Equal(t, Failed{Reason: "invalid_payload"}, parseTerminal(terminal(Failed{Reason: "invalid_payload"})))
}
