package hook

import (
	"fmt"
	"sync"

	"github.com/dshills/addonhook/internal/native"
)

// Installer installs detours at native addresses.
type Installer interface {
	// Install places detour at target. The hook starts disabled.
	Install(target native.Addr, detour native.Thunk) (Handle, error)
}

// Handle controls one installed detour.
type Handle interface {
	// Enable routes calls at the target through the detour.
	Enable() error

	// Disable routes calls at the target straight to the original.
	Disable() error

	// Original returns an address that calls the unhooked function.
	Original() native.Addr

	// Dispose removes the detour entirely.
	Dispose() error
}

// State is the lifecycle state of a Hook.
type State int32

const (
	// StateUninstalled means no detour is present.
	StateUninstalled State = iota

	// StateDisabled means the detour is installed but calls pass through.
	StateDisabled

	// StateEnabled means calls are intercepted.
	StateEnabled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateDisabled:
		return "disabled"
	case StateEnabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// Hook is a named detour with an auditable three-state lifecycle.
type Hook struct {
	name   string
	target native.Addr

	mu     sync.Mutex
	handle Handle
	state  State
}

// Install installs detour at target through inst and returns a disabled Hook.
func Install(inst Installer, name string, target native.Addr, detour native.Thunk) (*Hook, error) {
	if detour == nil {
		return nil, ErrNilDetour
	}
	h, err := inst.Install(target, detour)
	if err != nil {
		return nil, fmt.Errorf("installing %s at %v: %w", name, target, err)
	}
	return &Hook{
		name:   name,
		target: target,
		handle: h,
		state:  StateDisabled,
	}, nil
}

// Name returns the hook name.
func (h *Hook) Name() string { return h.name }

// Target returns the hooked address.
func (h *Hook) Target() native.Addr { return h.target }

// State returns the current lifecycle state.
func (h *Hook) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// IsEnabled returns true if calls are currently intercepted.
func (h *Hook) IsEnabled() bool {
	return h.State() == StateEnabled
}

// Original returns the address of the unhooked function.
func (h *Hook) Original() native.Addr {
	return h.handle.Original()
}

// Enable starts intercepting calls. Enabling an enabled hook is a no-op.
func (h *Hook) Enable() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateEnabled:
		return nil
	case StateUninstalled:
		return ErrNotInstalled
	}
	if err := h.handle.Enable(); err != nil {
		return fmt.Errorf("enabling %s: %w", h.name, err)
	}
	h.state = StateEnabled
	return nil
}

// Disable stops intercepting calls. Disabling a disabled hook is a no-op.
func (h *Hook) Disable() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateDisabled:
		return nil
	case StateUninstalled:
		return ErrNotInstalled
	}
	if err := h.handle.Disable(); err != nil {
		return fmt.Errorf("disabling %s: %w", h.name, err)
	}
	h.state = StateDisabled
	return nil
}

// Set enables or disables the hook.
func (h *Hook) Set(enabled bool) error {
	if enabled {
		return h.Enable()
	}
	return h.Disable()
}

// Dispose removes the detour. Disposing twice is a no-op.
func (h *Hook) Dispose() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateUninstalled {
		return nil
	}
	if err := h.handle.Dispose(); err != nil {
		return fmt.Errorf("disposing %s: %w", h.name, err)
	}
	h.state = StateUninstalled
	return nil
}
