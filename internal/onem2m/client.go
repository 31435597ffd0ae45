package onem2m

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnreachable is returned when the CSE or broker cannot be reached.
	ErrUnreachable = errors.New("cse unreachable")
	// ErrRejected is wrapped by RejectedError for a non-success result code.
	ErrRejected = errors.New("request rejected")
	// ErrTimeout is returned when no response arrives in time.
	ErrTimeout = errors.New("no response within timeout")
	// ErrClosed is returned for requests on, or pending at, a closed client.
	ErrClosed = errors.New("client closed")
)

// ResourceClient is implemented by every transport binding.
type ResourceClient interface {
	// EnsureApplicationEntity succeeds if the AE exists or was just created.
	EnsureApplicationEntity(ctx context.Context, name string) error
	// EnsureContainer succeeds if the container exists under ae or was just created.
	EnsureContainer(ctx context.Context, ae, name string) error
	// SendDataPoint appends one content instance holding value.
	SendDataPoint(ctx context.Context, ae, container, value string) error
	// Close releases the underlying connection.
	Close() error
}

// RejectedError carries the status the CSE answered with. For HTTP Code is
// the HTTP status, for MQTT it is the oneM2M result code.
type RejectedError struct {
	Op   string
	Code int
	Body string
}

func (e *RejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s rejected: code=%d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s rejected: code=%d body=%s", e.Op, e.Code, e.Body)
}

// Unwrap lets callers match with errors.Is(err, ErrRejected).
func (e *RejectedError) Unwrap() error {
	return ErrRejected
}

// Reject builds a RejectedError for op.
func Reject(op string, code int, body string) error {
	return &RejectedError{Op: op, Code: code, Body: body}
}

// Kind names the error class for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
