package cardiffd

import (
	"context"
	"errors"
	"net"
)

// SendError classifies a destination delivery failure. Transient failures
// are worth one retry with backoff; permanent failures (auth, config) are
// dropped and logged immediately.
type SendError struct {
	Err       error
	Retryable bool
}

func (e *SendError) Error() string {
	return e.Err.Error()
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err as a transient delivery failure.
func NewRetryableError(err error) error {
	return &SendError{Err: err, Retryable: true}
}

// NewFatalError wraps err as a permanent delivery failure.
func NewFatalError(err error) error {
	return &SendError{Err: err, Retryable: false}
}

// IsRetryable reports whether err is worth a single retry. Unclassified
// network errors are treated as transient; an expired dispatch deadline is
// not, the send is abandoned for this window.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Retryable
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
