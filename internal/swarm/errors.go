package swarm

import "errors"

// Error taxonomy. NotFound, InvalidState and PermissionDenied go straight
// back to the caller and are never retried. Transient errors are retried by
// the queue layer with bounded backoff.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("operation not valid in current state")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrResourceExhausted = errors.New("resource allocation would exceed ceiling")
	ErrTimeout           = errors.New("operation timed out")
	ErrTransient         = errors.New("transient failure")
)

// Retryable reports whether the queue layer should retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout)
}
