package dispatch

import (
	"errors"
	"fmt"

	"github.com/dshills/addonhook/internal/lifecycle/event"
)

// ErrListenerPanic marks a failure caused by a panicking listener.
var ErrListenerPanic = errors.New("listener panicked")

// ListenerError describes one isolated listener failure.
type ListenerError struct {
	// ListenerID identifies the failing registration.
	ListenerID string

	// Kind is the event being dispatched.
	Kind event.Kind

	// Addon is the name of the addon the event targeted.
	Addon string

	// Tag identifies the call site that triggered dispatch.
	Tag string

	// Err is the error the listener returned, or ErrListenerPanic.
	Err error

	// PanicValue is the recovered value when the listener panicked.
	PanicValue any

	// Stack is the goroutine stack captured at the panic.
	Stack []byte
}

// Error implements error.
func (e *ListenerError) Error() string {
	if e.PanicValue != nil {
		return fmt.Sprintf("listener %s on %s(%s) [%s]: panic: %v", e.ListenerID, e.Kind, e.Addon, e.Tag, e.PanicValue)
	}
	return fmt.Sprintf("listener %s on %s(%s) [%s]: %v", e.ListenerID, e.Kind, e.Addon, e.Tag, e.Err)
}

// Unwrap returns the underlying error.
func (e *ListenerError) Unwrap() error {
	return e.Err
}

// Panicked reports whether the failure was a panic.
func (e *ListenerError) Panicked() bool {
	return errors.Is(e.Err, ErrListenerPanic)
}
