// Package generation produces AI replies for user messages.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Generator turns a user message into a reply. Implementations must honor
// ctx cancellation; the worker bounds every call with a timeout.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to Generator.
type Func func(ctx context.Context, prompt string) (string, error)

// Generate implements Generator.
func (f Func) Generate(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// Error is a failed backend call. Temporary marks failures that are expected
// to clear on their own (timeouts, throttling, 5xx).
type Error struct {
	Backend   string
	Temporary bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Temporary {
		kind = "temporary"
	}
	return fmt.Sprintf("%s: %s error: %v", e.Backend, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTemporary reports whether err is, or wraps, a temporary backend error.
func IsTemporary(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Temporary
}

// IsPermanent reports whether err is, or wraps, a backend error that was
// classified as not worth retrying. Unclassified errors are not permanent.
func IsPermanent(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && !ge.Temporary
}

// ErrEmptyReply is returned when the backend answered without any text.
var ErrEmptyReply = errors.New("generation: empty reply")

// Echo is the development fallback used when no API key is configured.
type Echo struct{}

// Generate implements Generator.
func (Echo) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &Error{Backend: "echo", Temporary: true, Err: err}
	}
	return "You said: " + strings.TrimSpace(prompt), nil
}
