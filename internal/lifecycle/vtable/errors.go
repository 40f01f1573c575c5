package vtable

import "errors"

var (
	// ErrNoTable is returned when an object has a null table pointer.
	ErrNoTable = errors.New("object has no dispatch table")

	// ErrTableChanged is returned when the table pointer changed while a
	// replacement was being installed or restored.
	ErrTableChanged = errors.New("dispatch table pointer changed concurrently")

	// ErrNotAttached is returned by Restore for unknown objects.
	ErrNotAttached = errors.New("object is not attached")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("table manager is closed")
)
