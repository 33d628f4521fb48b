package jobs

import (
	"github.com/cockroachdb/errors"
)

// Error categories. Concrete errors are marked with one of these so callers can
// classify them with errors.Is while keeping the specific message.
var (
	// ErrValidation marks a request that is missing mandatory fields or carries malformed values.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a lookup that addressed no existing execution.
	ErrNotFound = errors.New("execution not found")
	// ErrInvalidTransition marks an attempt to move a terminal execution to another status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStorage marks a write or read the record store rejected. The message keeps the
	// underlying cause so duplicates can be told apart from infrastructure failures.
	ErrStorage = errors.New("storage failure")
)

func validationErrorf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

// NotFound returns an ErrNotFound-marked error describing ref.
func NotFound(ref Ref) error {
	return errors.Mark(errors.Newf("job execution with %s not found", ref), ErrNotFound)
}

// StorageError wraps cause as an ErrStorage-marked error.
func StorageError(cause error) error {
	if cause == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(cause, "possible duplicate or database error"), ErrStorage)
}

func transitionErrorf(from, to Status) error {
	return errors.Mark(errors.Newf("cannot move execution from terminal status %s to %s", from, to), ErrInvalidTransition)
}

// Invalidf returns an ErrValidation-marked error with the formatted message.
func Invalidf(format string, args ...any) error {
	return validationErrorf(format, args...)
}
