package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrInvalidState matches any *InvalidStateError via errors.Is.
	ErrInvalidState = errors.New("invalid state")
	// ErrTransient matches any *TransientError via errors.Is.
	ErrTransient          = errors.New("transient storage error")
	ErrValidation         = errors.New("validation failed")
	ErrNoSyntheticWorker  = errors.New("no synthetic worker registered for role")
	ErrUnknownRole        = errors.New("unknown role")
	ErrConcurrentModified = errors.New("concurrent modification")
)

// InvalidStateError reports an operation that is illegal for the entity's
// current state. It is a caller error and is never retried.
type InvalidStateError struct {
	Entity string
	ID     string
	From   string
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: cannot %s %s %s in state %s", e.Op, e.Entity, e.ID, e.From)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// TransientError wraps a storage failure that survived the retry policy.
// Callers may retry the whole operation.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// Validationf returns an error matching ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
