package lifecycle

import (
	"errors"
	"fmt"

	"cinemitr/internal/models"
)

// Sentinel errors for the mutator's failure taxonomy. Conflict and Timeout
// are safe to retry; IllegalTransition and NotFound are not; a wrapped
// PersistenceError is fatal to the immediate caller.
var (
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrNotFound          = errors.New("entity not found")
	ErrConflict          = errors.New("concurrent mutation conflict")
	ErrTimeout           = errors.New("mutation timed out")
)

// TransitionError reports a rejected transition with the edge that was
// requested. It unwraps to ErrIllegalTransition.
type TransitionError struct {
	Variant Variant
	From    models.Status
	To      models.Status
	Reason  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition for %s: %q -> %q (%s)", e.Variant, e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// PersistenceError wraps an underlying store failure that forced a rollback.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may safely retry the same request.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrTimeout)
}
