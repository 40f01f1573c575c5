package lua

import "errors"

var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutionTimeout is returned when a script runs past its time budget.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrArgsExpired is raised when a script touches an argument object after
	// the callback it was passed to has returned.
	ErrArgsExpired = errors.New("argument object used after its callback returned")
)
