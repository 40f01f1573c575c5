package callsite

import "errors"

var (
	// ErrNullAddress is returned when tracking a null function address.
	ErrNullAddress = errors.New("null call-site address")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("call-site manager is closed")
)
