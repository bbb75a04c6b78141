package adapter

import (
	"context"
	"errors"
	"net"
)

// Sentinel errors returned by adapters. Engine packages wrap their driver
// errors with one of these so the comparison engine can classify failures
// without knowing engine error codes.
var (
	// ErrTableNotFound means the table does not exist on that side.
	ErrTableNotFound = errors.New("table not found")

	// ErrColumnMismatch means a requested column is absent in the engine.
	ErrColumnMismatch = errors.New("column not present")

	// ErrConnection is a transient connectivity failure; callers may retry.
	ErrConnection = errors.New("connection error")

	// ErrPermission is a fatal authorization failure; never retried.
	ErrPermission = errors.New("permission denied")
)

// IsRetryable reports whether the error is worth retrying at the
// adapter-call boundary. Permanent configuration errors and context
// cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrConnection) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// IsFatal reports whether the error should fail the table immediately.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTableNotFound) ||
		errors.Is(err, ErrColumnMismatch) ||
		errors.Is(err, ErrPermission)
}
