package native

import "errors"

// Sentinel errors for native memory access.
var (
	// ErrOutOfMemory is returned when the process heap cannot satisfy an allocation.
	ErrOutOfMemory = errors.New("native allocation failed")

	// ErrInvalidFree is returned when freeing an address that was not allocated.
	ErrInvalidFree = errors.New("free of unallocated address")
)
