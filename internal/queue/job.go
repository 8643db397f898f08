// Package queue holds generation jobs between the send-message request and
// the worker that produces the reply.
//
// Jobs are leased, not popped: a worker owns a job only until its lease
// deadline, and a job whose lease expires becomes due again. Every mutation
// after Lease (Complete, Retry, Fail) is conditional on the caller still
// holding the lease token, so at most one worker acts on a job at any time.
//
// Two implementations share the Queue contract: RedisQueue for multi-process
// deployments and MemoryQueue for single-instance mode and tests.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrEmpty is returned by Lease when no job is due.
	ErrEmpty = errors.New("queue: no job due")
	// ErrLeaseLost is returned when the lease expired or was taken over.
	ErrLeaseLost = errors.New("queue: lease lost")
	// ErrInvalidPayload marks a job that can never succeed.
	ErrInvalidPayload = errors.New("queue: invalid job payload")
	// ErrUnknownJob is returned by State for ids the queue has no record of.
	ErrUnknownJob = errors.New("queue: unknown job")
	// ErrPermanent marks a failure that no retry can fix.
	ErrPermanent = errors.New("queue: permanent failure")
)

// Job is the queue-resident descriptor of "generate a reply for this
// message". It is not persisted outside the queue.
type Job struct {
	ID          string    `json:"id"`
	MessageID   uint      `json:"messageId"`
	Text        string    `json:"message"`
	ChatroomID  uint      `json:"chatroomId"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"maxAttempts,omitempty"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
	LastError   string    `json:"lastError,omitempty"`
}

// JobIDForMessage derives the job id from the message id, so enqueueing the
// same message twice is a no-op while the first job is pending.
func JobIDForMessage(messageID uint) string { return fmt.Sprintf("message:%d", messageID) }

// Validate rejects payloads that can never be processed.
func (j Job) Validate() error {
	switch {
	case j.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidPayload)
	case j.MessageID == 0:
		return fmt.Errorf("%w: missing messageId", ErrInvalidPayload)
	case strings.TrimSpace(j.Text) == "":
		return fmt.Errorf("%w: missing message", ErrInvalidPayload)
	}
	return nil
}

// Lease is a worker's time-bounded exclusive claim on a job.
type Lease struct {
	Job      Job
	Token    string
	WorkerID string
	Attempt  int // 1-based attempt number this lease runs
	Deadline time.Time
	// Raw holds the stored payload when it could not be decoded.
	Raw string
}

// Queue is a durable at-least-once job queue with leasing and delayed retry.
type Queue interface {
	// Enqueue makes job due immediately. Re-enqueueing a pending job id is a
	// no-op.
	Enqueue(ctx context.Context, job Job) error
	// Lease claims the oldest due job for leaseFor, after re-queueing expired
	// leases. It returns ErrEmpty when nothing is due.
	Lease(ctx context.Context, workerID string, leaseFor time.Duration) (*Lease, error)
	// Complete removes a successfully processed job.
	Complete(ctx context.Context, l *Lease) error
	// Retry releases the lease and schedules the job to be due after delay.
	Retry(ctx context.Context, l *Lease, delay time.Duration, cause error) error
	// Fail removes the job permanently and records the reason.
	Fail(ctx context.Context, l *Lease, cause error) error
	// Reap re-queues jobs whose lease has expired and reports how many.
	Reap(ctx context.Context) (int, error)
	// State reports where a job currently is in its lifecycle.
	State(ctx context.Context, jobID string) (State, error)
	// Depth reports the number of waiting and leased jobs.
	Depth(ctx context.Context) (ready, inFlight int64, err error)
}

// Backoff is an exponential retry policy: the delay after failed attempt n
// is Initial * Factor^(n-1).
type Backoff struct {
	Initial     time.Duration
	Factor      float64
	MaxAttempts int
}

// DefaultBackoff waits 2s then 4s and gives up after the third attempt.
var DefaultBackoff = Backoff{Initial: 2 * time.Second, Factor: 2, MaxAttempts: 3}

// Delay returns the wait before the attempt following failed attempt n.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	f := b.Factor
	if f < 1 {
		f = 1
	}
	return time.Duration(float64(b.Initial) * math.Pow(f, float64(attempt-1)))
}

// Exhausted reports whether no attempt remains after attempt n failed.
func (b Backoff) Exhausted(attempt, jobMax int) bool {
	limit := b.MaxAttempts
	if jobMax > 0 {
		limit = jobMax
	}
	return attempt >= limit
}

// Exceeded reports whether attempt lies past the budget, which happens when
// earlier leases expired without the job being settled.
func (b Backoff) Exceeded(attempt, jobMax int) bool {
	return b.Exhausted(attempt-1, jobMax)
}
