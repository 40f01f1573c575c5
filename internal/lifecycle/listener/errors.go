package listener

import "errors"

// Sentinel errors for the listener registry.
var (
	// ErrInvalidKind is returned when registering for an undefined event kind.
	ErrInvalidKind = errors.New("invalid event kind")

	// ErrNilCallback is returned when a nil callback is provided.
	ErrNilCallback = errors.New("callback cannot be nil")

	// ErrInvalidListener is returned when a nil listener is passed.
	ErrInvalidListener = errors.New("invalid listener")

	// ErrListenerNotFound is returned when removing an unknown or already removed listener.
	ErrListenerNotFound = errors.New("listener not found")
)
