package app

import (
	"errors"
	"fmt"
)

// Application errors.
var (
	// ErrAlreadyRunning indicates Run was called while a run is in progress.
	ErrAlreadyRunning = errors.New("application already running")

	// ErrClosed indicates the application has been closed.
	ErrClosed = errors.New("application closed")

	// ErrNoConfig indicates New was called without a configuration.
	ErrNoConfig = errors.New("no configuration")
)

// InitError represents a component that failed to start.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ScheduleError describes a scheduled host action that could not run.
type ScheduleError struct {
	Frame  int    // Frame the action was scheduled for
	Addon  string // Addon name
	Action string // "spawn", "show", "hide", "destroy", "event"
	Err    error
}

func (e *ScheduleError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("frame %d: %s %s: %v", e.Frame, e.Action, e.Addon, e.Err)
}

func (e *ScheduleError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
