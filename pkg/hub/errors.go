package hub

import (
	"errors"
	"fmt"
)

var (
	ErrNotStarted        = errors.New("hub has not been started")
	ErrStillStarted      = errors.New("hub must be stopped before it is destroyed")
	ErrTerminated        = errors.New("hub has been destroyed")
	ErrAlreadyRegistered = errors.New("subscriber already registered")
)

// PreconditionError reports API misuse. The hub panics with it; it is never
// returned as a recoverable error.
type PreconditionError struct {
	Op  string
	Err error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("trackhub: %s: %v", e.Op, e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

func precondition(op string, err error) {
	panic(&PreconditionError{Op: op, Err: err})
}
