package core

import (
	"errors"
	"fmt"
)

// ErrGatewayClosed is returned by Submit after the gateway has begun shutdown.
var ErrGatewayClosed = errors.New("gateway is shut down")

// BackpressureError signals that a session's admission queue is full. The
// submitting adapter decides whether to surface a rate-limit notice upstream
// or drop silently.
type BackpressureError struct {
	SessionKey string
	Depth      int
}

// Error implements the error interface.
func (e *BackpressureError) Error() string {
	return fmt.Sprintf("session %s queue full (depth %d)", e.SessionKey, e.Depth)
}

// IsBackpressure reports whether err is (or wraps) a BackpressureError.
func IsBackpressure(err error) bool {
	var bp *BackpressureError
	return errors.As(err, &bp)
}

// UpstreamUnavailableError signals that the model provider stayed unreachable
// or malformed across the configured retry budget. Fatal to the turn, never
// to the session.
type UpstreamUnavailableError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("model provider unavailable after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap exposes the underlying provider error.
func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// ReasoningLimitExceededError signals that a turn hit the configured maximum
// iteration count before producing a final answer.
type ReasoningLimitExceededError struct {
	SessionKey string
	Max        int
}

// Error implements the error interface.
func (e *ReasoningLimitExceededError) Error() string {
	return fmt.Sprintf("session %s exceeded %d reasoning iterations", e.SessionKey, e.Max)
}

// SchedulerFireError signals that a cron fire could not be admitted within
// the bounded retry window. The task stays enabled; the error is operational.
type SchedulerFireError struct {
	TaskID   string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *SchedulerFireError) Error() string {
	return fmt.Sprintf("cron task %s fire failed after %d attempts: %v", e.TaskID, e.Attempts, e.Err)
}

// Unwrap exposes the underlying submission error.
func (e *SchedulerFireError) Unwrap() error { return e.Err }

// ValidationError rejects malformed administrative or tool input before any
// side effect occurs.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error for %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}
