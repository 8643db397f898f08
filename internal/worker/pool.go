// Package worker runs the generation pipeline: it leases jobs from the
// queue, asks the generation backend for a reply, stores it on the message
// row and settles the job.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-ai/internal/domain"
	"github.com/tbourn/go-chatroom-ai/internal/generation"
	"github.com/tbourn/go-chatroom-ai/internal/queue"
	"github.com/tbourn/go-chatroom-ai/internal/repo"
)

// Config tunes the pool.
type Config struct {
	Concurrency       int
	PollInterval      time.Duration
	LeaseTimeout      time.Duration
	GenerationTimeout time.Duration
	DepthInterval     time.Duration
	Backoff           queue.Backoff
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = time.Minute
	}
	if c.GenerationTimeout <= 0 || c.GenerationTimeout >= c.LeaseTimeout {
		c.GenerationTimeout = c.LeaseTimeout * 3 / 4
	}
	if c.DepthInterval <= 0 {
		c.DepthInterval = 5 * time.Second
	}
	if c.Backoff.MaxAttempts <= 0 {
		c.Backoff = queue.DefaultBackoff
	}
	return c
}

// settleTimeout bounds queue and DB bookkeeping after an attempt, which
// runs detached from the pool context so shutdown does not strand a lease.
const settleTimeout = 5 * time.Second

// Pool is a fixed set of goroutines draining a queue.Queue.
type Pool struct {
	queue queue.Queue
	gen   generation.Generator
	db    *gorm.DB
	cfg   Config
	log   zerolog.Logger
}

// NewPool wires a pool. Zero config fields take defaults.
func NewPool(q queue.Queue, gen generation.Generator, db *gorm.DB, cfg Config) *Pool {
	return &Pool{
		queue: q,
		gen:   gen,
		db:    db,
		cfg:   cfg.withDefaults(),
		log:   log.With().Str("component", "worker-pool").Logger(),
	}
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has finished its current job.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info().
		Int("concurrency", p.cfg.Concurrency).
		Dur("lease_timeout", p.cfg.LeaseTimeout).
		Int("max_attempts", p.cfg.Backoff.MaxAttempts).
		Msg("starting worker pool")

	var wg sync.WaitGroup
	for i := 1; i <= p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			p.loop(ctx, id)
		}(fmt.Sprintf("worker-%d", i))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.publishDepth(ctx)
	}()

	wg.Wait()
	p.log.Info().Msg("worker pool stopped")
	return nil
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	lg := p.log.With().Str("worker_id", workerID).Logger()
	for {
		if ctx.Err() != nil {
			return
		}
		l, err := p.queue.Lease(ctx, workerID, p.cfg.LeaseTimeout)
		switch {
		case err == nil:
			p.Process(ctx, l)
			continue
		case errors.Is(err, queue.ErrEmpty), ctx.Err() != nil:
		default:
			lg.Error().Err(err).Msg("lease failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

func (p *Pool) publishDepth(ctx context.Context) {
	t := time.NewTicker(p.cfg.DepthInterval)
	defer t.Stop()
	for {
		ready, inFlight, err := p.queue.Depth(ctx)
		if err == nil {
			queueDepth.WithLabelValues("ready").Set(float64(ready))
			queueDepth.WithLabelValues("in_flight").Set(float64(inFlight))
		} else if ctx.Err() == nil {
			p.log.Warn().Err(err).Msg("queue depth unavailable")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Process runs one attempt of a leased job and settles it: Complete on
// success, Retry while attempts remain, Fail on a permanent backend error or
// once the budget is spent. A lease past the budget fails without an attempt.
func (p *Pool) Process(ctx context.Context, l *queue.Lease) {
	lg := p.log.With().
		Str("worker_id", l.WorkerID).
		Str("job_id", l.Job.ID).
		Uint("message_id", l.Job.MessageID).
		Int("attempt", l.Attempt).
		Logger()

	settle, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err := l.Job.Validate(); err != nil {
		p.fail(settle, lg, l, err, domain.FailureInvalidPayload)
		return
	}
	// Leases that expired unsettled still count against the budget.
	if p.cfg.Backoff.Exceeded(l.Attempt, l.Job.MaxAttempts) {
		exhausted := &ExhaustedRetriesError{JobID: l.Job.ID, MessageID: l.Job.MessageID, Attempts: l.Attempt - 1, Last: abandonedCause(l.Job)}
		p.fail(settle, lg, l, exhausted, domain.FailureExhausted)
		return
	}

	err := p.attempt(ctx, l)
	switch {
	case err == nil:
		attempts.WithLabelValues("ok").Inc()
		p.settle(lg, "complete", p.queue.Complete(settle, l))
		lg.Info().Msg("reply stored")
	case errors.Is(err, repo.ErrNotFound):
		p.fail(settle, lg, l, fmt.Errorf("%w: message %d no longer exists", queue.ErrInvalidPayload, l.Job.MessageID), domain.FailureInvalidPayload)
	case generation.IsPermanent(err):
		p.fail(settle, lg, l, fmt.Errorf("%w: %w", queue.ErrPermanent, err), domain.FailurePermanent)
	case p.cfg.Backoff.Exhausted(l.Attempt, l.Job.MaxAttempts):
		exhausted := &ExhaustedRetriesError{JobID: l.Job.ID, MessageID: l.Job.MessageID, Attempts: l.Attempt, Last: err}
		p.fail(settle, lg, l, exhausted, domain.FailureExhausted)
	default:
		delay := p.cfg.Backoff.Delay(l.Attempt)
		attempts.WithLabelValues("retry").Inc()
		lg.Warn().Err(err).
			Bool("temporary", generation.IsTemporary(err)).
			Dur("retry_in", delay).
			Msg("generation attempt failed")
		p.settle(lg, "retry", p.queue.Retry(settle, l, delay, err))
	}
}

// attempt calls the backend under the generation timeout and stores the
// reply. A reply already present on the row counts as success.
func (p *Pool) attempt(ctx context.Context, l *queue.Lease) error {
	ctx, span := otel.Tracer("worker/Pool").Start(ctx, "attempt",
		trace.WithAttributes(
			attribute.String("job.id", l.Job.ID),
			attribute.Int("job.attempt", l.Attempt),
			attribute.Int64("message.id", int64(l.Job.MessageID)),
		),
	)
	defer span.End()

	gctx, cancel := context.WithTimeout(ctx, p.cfg.GenerationTimeout)
	defer cancel()

	start := time.Now()
	reply, err := p.gen.Generate(gctx, l.Job.Text)
	generationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate")
		return err
	}

	written, err := repo.SetMessageResponse(ctx, p.db, l.Job.MessageID, reply)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store reply")
		return err
	}
	if !written {
		p.log.Debug().Str("job_id", l.Job.ID).Msg("response already present, write skipped")
	}
	return nil
}

func (p *Pool) fail(ctx context.Context, lg zerolog.Logger, l *queue.Lease, cause error, reason string) {
	attempts.WithLabelValues("failed").Inc()
	lg.Error().Err(cause).Str("reason", reason).Msg("generation job failed")

	f := &domain.JobFailure{
		JobID:      l.Job.ID,
		MessageID:  l.Job.MessageID,
		ChatroomID: l.Job.ChatroomID,
		Attempts:   l.Attempt,
		LastError:  cause.Error(),
		Reason:     reason,
	}
	if err := repo.RecordJobFailure(ctx, p.db, f); err != nil {
		lg.Error().Err(err).Msg("record job failure")
	}
	if reason == domain.FailureInvalidPayload && !errors.Is(cause, queue.ErrInvalidPayload) {
		cause = fmt.Errorf("%w: %v", queue.ErrInvalidPayload, cause)
	}
	p.settle(lg, "fail", p.queue.Fail(ctx, l, cause))
}

func (p *Pool) settle(lg zerolog.Logger, op string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrLeaseLost):
		lg.Warn().Str("op", op).Msg("lease lost before settling; another worker owns the job")
	default:
		lg.Error().Err(err).Str("op", op).Msg("settle job")
	}
}
