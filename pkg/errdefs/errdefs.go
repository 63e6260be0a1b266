package errdefs

import (
	"errors"
	"fmt"
)

// Sentinel errors for the control-plane error taxonomy. Callers match with
// errors.Is; components wrap them with context via the constructor helpers.
var (
	// Validation errors: synchronous, surfaced to the caller, never retried.
	ErrInvalidArgument          = errors.New("invalid argument")
	ErrAlreadyExists            = errors.New("already exists")
	ErrNotFound                 = errors.New("not found")
	ErrIllegalTransition        = errors.New("illegal transition")
	ErrInsufficientParticipants = errors.New("insufficient participants")

	// Transient errors: the caller decides whether to record a failure.
	ErrTimeout     = errors.New("timeout")
	ErrUnavailable = errors.New("service unavailable")

	// Integrity errors: the caller retries after refreshing state.
	ErrVersionConflict = errors.New("version conflict")
	ErrStaleWorker     = errors.New("stale worker")

	// Fatal errors: refuse to start or shut down cleanly.
	ErrCorruptState = errors.New("corrupt state")

	// ErrBackpressure is a flow-control signal, not a failure. The caller
	// backs off and resubmits.
	ErrBackpressure = errors.New("backpressure")
)

// InvalidArgument wraps ErrInvalidArgument with a formatted message.
func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)
}

// AlreadyExists wraps ErrAlreadyExists with a formatted message.
func AlreadyExists(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrAlreadyExists)...)
}

// NotFound wraps ErrNotFound with a formatted message.
func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// IllegalTransition wraps ErrIllegalTransition with a formatted message.
func IllegalTransition(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrIllegalTransition)...)
}

// VersionConflict wraps ErrVersionConflict with a formatted message.
func VersionConflict(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrVersionConflict)...)
}

// Backpressure wraps ErrBackpressure with a formatted message.
func Backpressure(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrBackpressure)...)
}

// IsInvalidArgument reports whether err is an ErrInvalidArgument.
func IsInvalidArgument(err error) bool { return errors.Is(err, ErrInvalidArgument) }

// IsAlreadyExists reports whether err is an ErrAlreadyExists.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsIllegalTransition reports whether err is an ErrIllegalTransition.
func IsIllegalTransition(err error) bool { return errors.Is(err, ErrIllegalTransition) }

// IsVersionConflict reports whether err is an ErrVersionConflict.
func IsVersionConflict(err error) bool { return errors.Is(err, ErrVersionConflict) }

// IsBackpressure reports whether err is the backpressure signal.
func IsBackpressure(err error) bool { return errors.Is(err, ErrBackpressure) }
