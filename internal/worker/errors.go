package worker

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-chatroom-ai/internal/queue"
)

// ExhaustedRetriesError is logged when a job used its whole attempt budget
// without producing a reply.
type ExhaustedRetriesError struct {
	JobID     string
	MessageID uint
	Attempts  int
	Last      error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("job %s (message %d) failed after %d attempts: %v", e.JobID, e.MessageID, e.Attempts, e.Last)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Last }

// ErrLeaseExpired is the cause recorded for a job whose last lease ran out
// without the worker settling it, typically because the process died.
var ErrLeaseExpired = errors.New("worker: lease expired before the attempt was settled")

func abandonedCause(j queue.Job) error {
	if j.LastError != "" {
		return fmt.Errorf("%w (last error: %s)", ErrLeaseExpired, j.LastError)
	}
	return ErrLeaseExpired
}
