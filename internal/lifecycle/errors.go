package lifecycle

import "errors"

var (
	// ErrClosed is returned by operations on a closed service.
	ErrClosed = errors.New("lifecycle service is closed")

	// ErrNoBaseTable is returned by Track when call-site families are
	// configured but the base table could not be resolved.
	ErrNoBaseTable = errors.New("base dispatch table not resolved")
)
