package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue implements Queue in process memory. It provides the same
// leasing semantics as RedisQueue but does not survive a restart.
type MemoryQueue struct {
	mu       sync.Mutex
	jobs     map[string]*memJob
	results  map[string]memResult
	now      func() time.Time
	sequence uint64
}

type memJob struct {
	job      Job
	seq      uint64 // tie-break for equal due times (FIFO)
	due      time.Time
	attempts int
	token    string // non-empty while leased
	deadline time.Time
}

type memResult struct {
	state State
	at    time.Time
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		jobs:    make(map[string]*memJob),
		results: make(map[string]memResult),
		now:     time.Now,
	}
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	if job.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidPayload)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[job.ID]; ok {
		return nil
	}
	now := q.now()
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now.UTC()
	}
	job.Attempt = 0
	q.sequence++
	q.jobs[job.ID] = &memJob{job: job, seq: q.sequence, due: now}
	delete(q.results, job.ID)
	q.pruneResultsLocked(now)
	enqueued.Inc()
	return nil
}

// Lease implements Queue.
func (q *MemoryQueue) Lease(_ context.Context, workerID string, leaseFor time.Duration) (*Lease, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.reapLocked(now)

	var next *memJob
	for _, j := range q.jobs {
		if j.token != "" || j.due.After(now) {
			continue
		}
		if next == nil || j.due.Before(next.due) || (j.due.Equal(next.due) && j.seq < next.seq) {
			next = j
		}
	}
	if next == nil {
		return nil, ErrEmpty
	}

	next.attempts++
	next.token = uuid.NewString()
	next.deadline = now.Add(leaseFor)

	job := next.job
	job.Attempt = next.attempts
	leased.Inc()
	return &Lease{
		Job:      job,
		Token:    next.token,
		WorkerID: workerID,
		Attempt:  next.attempts,
		Deadline: next.deadline,
	}, nil
}

// owned returns the job only if l still holds its lease.
func (q *MemoryQueue) owned(l *Lease) (*memJob, error) {
	j, ok := q.jobs[l.Job.ID]
	if !ok || j.token == "" || j.token != l.Token {
		return nil, ErrLeaseLost
	}
	return j, nil
}

// Complete implements Queue.
func (q *MemoryQueue) Complete(_ context.Context, l *Lease) error {
	return q.finish(l, Completed{})
}

// Fail implements Queue.
func (q *MemoryQueue) Fail(_ context.Context, l *Lease, cause error) error {
	return q.finish(l, Failed{Reason: FailureReason(cause)})
}

func (q *MemoryQueue) finish(l *Lease, s State) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.owned(l); err != nil {
		return err
	}
	delete(q.jobs, l.Job.ID)
	q.results[l.Job.ID] = memResult{state: s, at: q.now()}
	observeFinish(s)
	return nil
}

// Retry implements Queue.
func (q *MemoryQueue) Retry(_ context.Context, l *Lease, delay time.Duration, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, err := q.owned(l)
	if err != nil {
		return err
	}
	if cause != nil {
		j.job.LastError = cause.Error()
	}
	j.token = ""
	j.deadline = time.Time{}
	j.due = q.now().Add(delay)
	retried.Inc()
	return nil
}

// Reap implements Queue.
func (q *MemoryQueue) Reap(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.reapLocked(q.now()), nil
}

func (q *MemoryQueue) reapLocked(now time.Time) int {
	n := 0
	for _, j := range q.jobs {
		if j.token != "" && !j.deadline.After(now) {
			j.token = ""
			j.deadline = time.Time{}
			j.due = now
			n++
		}
	}
	if n > 0 {
		reaped.Add(float64(n))
	}
	return n
}

func (q *MemoryQueue) pruneResultsLocked(now time.Time) {
	for id, r := range q.results {
		if now.Sub(r.at) > resultTTL {
			delete(q.results, id)
		}
	}
}

// State implements Queue.
func (q *MemoryQueue) State(_ context.Context, jobID string) (State, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if r, ok := q.results[jobID]; ok {
		return r.state, nil
	}
	j, ok := q.jobs[jobID]
	switch {
	case !ok:
		return nil, ErrUnknownJob
	case j.token != "":
		return InFlight{Attempt: j.attempts}, nil
	case j.attempts == 0:
		return Enqueued{}, nil
	default:
		return RetryScheduled{Attempt: j.attempts, At: j.due}, nil
	}
}

// Depth implements Queue.
func (q *MemoryQueue) Depth(_ context.Context) (int64, int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ready, inFlight int64
	for _, j := range q.jobs {
		if j.token != "" {
			inFlight++
		} else {
			ready++
		}
	}
	return ready, inFlight, nil
}

// Pending lists the ids of jobs not yet finished, in due order.
func (q *MemoryQueue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	js := make([]*memJob, 0, len(q.jobs))
	for _, j := range q.jobs {
		js = append(js, j)
	}
	sort.Slice(js, func(a, b int) bool {
		if js[a].due.Equal(js[b].due) {
			return js[a].seq < js[b].seq
		}
		return js[a].due.Before(js[b].due)
	})
	out := make([]string, len(js))
	for i, j := range js {
		out[i] = j.job.ID
	}
	return out
}
