package adapters

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackzampolin/qforge/internal/providers"
)

// Kind classifies an adapter failure.
type Kind string

const (
	// NotAvailable means the adapter cannot serve the request at all
	// (missing credentials, unsupported input, backend absent).
	NotAvailable Kind = "NotAvailable"
	// InvalidInput means the input was rejected and retrying will not help.
	InvalidInput Kind = "InvalidInput"
	// RemoteError means the backend failed; the call may succeed on retry.
	RemoteError Kind = "RemoteError"
	// Timeout means the call did not finish within its deadline.
	Timeout Kind = "Timeout"
)

// Retryable reports whether a failure of this kind is worth another attempt.
func (k Kind) Retryable() bool {
	return k == RemoteError || k == Timeout
}

// ErrUnsupported is returned when an adapter is asked to handle input it
// does not support.
var ErrUnsupported = errors.New("unsupported input")

// Error is a typed adapter failure.
type Error struct {
	Kind    Kind
	Adapter string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Adapter, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Adapter, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Unavailable builds a NotAvailable error.
func Unavailable(adapter, op string, err error) *Error {
	return &Error{Kind: NotAvailable, Adapter: adapter, Op: op, Err: err}
}

// Invalid builds an InvalidInput error.
func Invalid(adapter, op string, err error) *Error {
	return &Error{Kind: InvalidInput, Adapter: adapter, Op: op, Err: err}
}

// Remote builds a RemoteError.
func Remote(adapter, op string, err error) *Error {
	return &Error{Kind: RemoteError, Adapter: adapter, Op: op, Err: err}
}

// Classify wraps a raw provider error in an *Error. Errors that are
// already typed pass through unchanged.
func Classify(adapter, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, ErrUnsupported) {
		return Unavailable(adapter, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Timeout, Adapter: adapter, Op: op, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: Timeout, Adapter: adapter, Op: op, Err: err}
	}
	return Remote(adapter, op, err)
}

// ClassifyProvider is Classify with knowledge of provider errors. Statuses
// that reject the content (413, 422) are InvalidInput. Any other
// non-retryable status, such as a 404 for an unknown model or a 401, points
// at this provider's setup and is NotAvailable so the next candidate runs.
func ClassifyProvider(adapter, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, providers.ErrNotAvailable) {
		return Unavailable(adapter, op, err)
	}
	var se *providers.StatusError
	if errors.As(err, &se) && !se.Retryable() {
		if se.RejectsInput() {
			return Invalid(adapter, op, err)
		}
		return Unavailable(adapter, op, err)
	}
	return Classify(adapter, op, err)
}

// KindOf returns the Kind of err, or "" if err is not an adapter error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
