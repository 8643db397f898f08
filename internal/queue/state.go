package queue

import (
	"fmt"
	"strings"
	"time"
)

// State is a job's position in its lifecycle. It is a closed set: Enqueued,
// InFlight, RetryScheduled, Completed, Failed.
type State interface {
	fmt.Stringer
	isState()
}

// Enqueued is a job waiting for its first attempt.
type Enqueued struct{}

// InFlight is a job leased by a worker that runs the given attempt.
type InFlight struct{ Attempt int }

// RetryScheduled is a job whose last attempt failed and that becomes due
// again at At.
type RetryScheduled struct {
	Attempt int // attempts already made
	At      time.Time
}

// Completed is a job whose reply was stored.
type Completed struct{}

// Failed is a job that will not run again.
type Failed struct{ Reason string }

func (Enqueued) isState()       {}
func (InFlight) isState()       {}
func (RetryScheduled) isState() {}
func (Completed) isState()      {}
func (Failed) isState()         {}

func (Enqueued) String() string         { return "enqueued" }
func (s InFlight) String() string       { return fmt.Sprintf("in_flight(attempt=%d)", s.Attempt) }
func (s RetryScheduled) String() string { return fmt.Sprintf("retry_scheduled(attempt=%d)", s.Attempt) }
func (Completed) String() string        { return "completed" }
func (s Failed) String() string         { return "failed(" + s.Reason + ")" }

// terminal encodes a terminal state for storage.
func terminal(s State) string {
	if f, ok := s.(Failed); ok {
		return "failed:" + f.Reason
	}
	return "completed"
}

// parseTerminal decodes the output of terminal.
func parseTerminal(v string) State {
	if reason, ok := strings.CutPrefix(v, "failed:"); ok {
		return Failed{Reason: reason}
	}
	return Completed{}
}
