package queue

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Failure reasons recorded on Failed.
const (
	ReasonInvalidPayload = "invalid_payload"
	ReasonExhausted      = "exhausted"
	ReasonPermanent      = "permanent"
)

// FailureReason classifies the cause passed to Fail.
func FailureReason(cause error) string {
	if errors.Is(cause, ErrInvalidPayload) {
		return ReasonInvalidPayload
	}
	if errors.Is(cause, ErrPermanent) {
		return ReasonPermanent
	}
	return ReasonExhausted
}

var (
	enqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_enqueued_total",
		Help: "Generation jobs accepted by the queue.",
	})
	leased = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_leased_total",
		Help: "Leases granted, one per attempt.",
	})
	retried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_retried_total",
		Help: "Attempts that failed and were rescheduled.",
	})
	reaped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_reaped_total",
		Help: "Expired leases returned to the ready set.",
	})
	completed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_completed_total",
		Help: "Jobs whose reply was stored.",
	})
	failed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_failed_total",
		Help: "Jobs removed without a reply, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(enqueued, leased, retried, reaped, completed, failed)
}

func observeFinish(s State) {
	if f, ok := s.(Failed); ok {
		failed.WithLabelValues(f.Reason).Inc()
		return
	}
	completed.Inc()
}
