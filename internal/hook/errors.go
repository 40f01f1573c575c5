package hook

import "errors"

// Sentinel errors for hook management.
var (
	// ErrDoubleHook is returned when a detour is already installed at an address.
	ErrDoubleHook = errors.New("address already hooked")

	// ErrNotInstalled is returned when operating on a disposed hook.
	ErrNotInstalled = errors.New("hook not installed")

	// ErrNilDetour is returned when installing a nil detour.
	ErrNilDetour = errors.New("detour cannot be nil")
)
