package es

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input rejected before any I/O.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrencyConflict is returned by Append when the stream has been
	// advanced past the expected version by another writer. The caller must
	// reload the aggregate and retry from a fresh version.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrDuplicateUniqueValue is returned by Append when a uniqueness claim
	// is already held by a different aggregate. The whole append rolls back.
	ErrDuplicateUniqueValue = errors.New("unique value already claimed")

	// ErrUnknownEventType is returned when an event type tag has no entry in
	// the aggregate type's dispatch table.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrNoEvents is returned by Append when there is nothing to append.
	ErrNoEvents = errors.New("no events to append")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// TransientError wraps a storage fault that is expected to succeed on retry,
// such as a network timeout from the storage driver. It is propagated as-is
// for caller-level retry and never swallowed by the core.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient storage error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. It returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether any error in err's chain is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
