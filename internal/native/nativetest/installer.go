package nativetest

import (
	"reflect"
	"sync"

	"github.com/dshills/addonhook/internal/hook"
	"github.com/dshills/addonhook/internal/native"
)

// Installer simulates inline hooking on a Space. Installing moves the original
// function to a fresh address; enabling points the target address at the
// detour, disabling points it back at the original.
type Installer struct {
	space *Space

	mu       sync.Mutex
	hooks    map[native.Addr]*handle
	installs int
}

// NewInstaller creates an installer operating on space.
func NewInstaller(space *Space) *Installer {
	return &Installer{
		space: space,
		hooks: make(map[native.Addr]*handle),
	}
}

// Install implements hook.Installer.
func (i *Installer) Install(target native.Addr, detour native.Thunk) (hook.Handle, error) {
	if detour == nil {
		return nil, hook.ErrNilDetour
	}
	orig, ok := i.space.funcAt(target)
	if !ok {
		return nil, &Fault{Addr: target, Reason: "hook target is not a function"}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if _, exists := i.hooks[target]; exists {
		return nil, hook.ErrDoubleHook
	}

	h := &handle{
		inst:     i,
		target:   target,
		orig:     orig,
		detour:   reflect.ValueOf(detour),
		original: i.space.Func(orig.Interface()),
	}
	i.hooks[target] = h
	i.installs++
	return h, nil
}

// Installs returns the number of successful Install calls.
func (i *Installer) Installs() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.installs
}

// Active returns the number of installed, undisposed hooks.
func (i *Installer) Active() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.hooks)
}

// Hooked reports whether a detour is installed at target.
func (i *Installer) Hooked(target native.Addr) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.hooks[target]
	return ok
}

// Enabled reports whether the detour at target currently intercepts calls.
func (i *Installer) Enabled(target native.Addr) bool {
	i.mu.Lock()
	h, ok := i.hooks[target]
	i.mu.Unlock()
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

type handle struct {
	inst     *Installer
	target   native.Addr
	orig     reflect.Value
	detour   reflect.Value
	original native.Addr

	mu       sync.Mutex
	enabled  bool
	disposed bool
}

func (h *handle) Enable() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return hook.ErrNotInstalled
	}
	h.inst.space.setFunc(h.target, h.detour)
	h.enabled = true
	return nil
}

func (h *handle) Disable() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return hook.ErrNotInstalled
	}
	h.inst.space.setFunc(h.target, h.orig)
	h.enabled = false
	return nil
}

func (h *handle) Original() native.Addr {
	return h.original
}

func (h *handle) Dispose() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return nil
	}
	h.inst.space.setFunc(h.target, h.orig)
	h.enabled = false
	h.disposed = true

	h.inst.mu.Lock()
	delete(h.inst.hooks, h.target)
	h.inst.mu.Unlock()
	return nil
}

var _ hook.Installer = (*Installer)(nil)
