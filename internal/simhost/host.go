// Package simhost is a simulated host engine running on a nativetest.Space.
//
// It builds a base addon type with a dispatch table laid out per an
// addon.Layout, lets callers derive addon types that override some lifecycle
// functions, and drives addons the way the real engine does: through each
// object's current table pointer, with a global initializer after
// construction and a global finalizer before destruction. Every original
// implementation records its invocation so tests can assert on what the
// host actually received.
package simhost

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/addonhook/internal/addon"
	"github.com/dshills/addonhook/internal/lifecycle/args"
	"github.com/dshills/addonhook/internal/lifecycle/event"
	"github.com/dshills/addonhook/internal/native"
	"github.com/dshills/addonhook/internal/native/nativetest"
	"github.com/dshills/addonhook/internal/resolver"
)

// BaseType is the name of the type every addon type derives from.
const BaseType = "AtkUnitBase"

const objectSize = 0x200

var (
	// ErrUnknownType is returned when creating an addon of an undefined type.
	ErrUnknownType = errors.New("unknown addon type")

	// ErrTypeExists is returned when defining a type twice.
	ErrTypeExists = errors.New("addon type already defined")

	// ErrUnknownAddon is returned for addresses that are not live addons.
	ErrUnknownAddon = errors.New("unknown addon")
)

// Call records one invocation of an original implementation.
type Call struct {
	// Fn is the lifecycle family name, or "Destructor", "Initialize",
	// "Finalize".
	Fn string

	// Type is the addon type whose implementation ran.
	Type string

	// Object is the receiver.
	Object native.Addr

	// Words are the parameters after the receiver.
	Words [5]uintptr
}

// Type is an addon type with its own dispatch table.
type Type struct {
	Name  string
	Table native.Addr
}

// Host is the simulated engine.
type Host struct {
	Space     *nativetest.Space
	Installer *nativetest.Installer
	Layout    addon.Layout

	manager    native.Addr
	initialize native.Addr
	finalize   native.Addr

	mu      sync.Mutex
	types   map[string]*Type
	objects map[native.Addr]string
	order   []native.Addr
	calls   []Call
	fail    map[string]bool
}

// New builds a host with the base addon type.
func New(layout addon.Layout) (*Host, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	space := nativetest.NewSpace(0)
	h := &Host{
		Space:     space,
		Installer: nativetest.NewInstaller(space),
		Layout:    layout,
		types:     make(map[string]*Type),
		objects:   make(map[native.Addr]string),
		fail:      make(map[string]bool),
	}

	mgr, err := space.Alloc(native.WordSize)
	if err != nil {
		return nil, err
	}
	h.manager = mgr

	base, err := space.Alloc(layout.TableBytes())
	if err != nil {
		return nil, err
	}
	for _, f := range layout.Families() {
		slot, _ := layout.Slot(f)
		space.WriteWord(base.Word(slot), uintptr(h.lifecycleFunc(BaseType, f)))
	}
	space.WriteWord(base.Word(layout.Destructor), uintptr(h.destructorFunc(BaseType)))
	h.types[BaseType] = &Type{Name: BaseType, Table: base}

	h.initialize = space.Func(func(this uintptr) {
		h.record(Call{Fn: "Initialize", Object: native.Addr(this)})
	})
	h.finalize = space.Func(h.finalizeImpl)
	return h, nil
}

// Resolver returns the addresses of the host's global symbols.
func (h *Host) Resolver() *resolver.Table {
	return resolver.NewTable(map[string]native.Addr{
		resolver.Initialize: h.initialize,
		resolver.Finalize:   h.finalize,
		resolver.BaseTable:  h.Base().Table,
	})
}

// Base returns the base type.
func (h *Host) Base() *Type {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.types[BaseType]
}

// Type returns a defined type.
func (h *Host) Type(name string) (*Type, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.types[name]
	return t, ok
}

// DefineType derives a type from the base that overrides the given
// families with its own implementations.
func (h *Host) DefineType(name string, overrides ...event.Family) (*Type, error) {
	return h.derive(name, BaseType, overrides)
}

// DefineTypeLike derives a type that shares every implementation of an
// existing type but has its own table.
func (h *Host) DefineTypeLike(name, like string) (*Type, error) {
	return h.derive(name, like, nil)
}

func (h *Host) derive(name, parent string, overrides []event.Family) (*Type, error) {
	h.mu.Lock()
	if _, ok := h.types[name]; ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", name, ErrTypeExists)
	}
	p, ok := h.types[parent]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", parent, ErrUnknownType)
	}

	table, err := h.Space.Alloc(h.Layout.TableBytes())
	if err != nil {
		return nil, err
	}
	h.Space.Copy(table, p.Table, h.Layout.TableBytes())
	for _, f := range overrides {
		slot, ok := h.Layout.Slot(f)
		if !ok {
			return nil, fmt.Errorf("%s overrides %s which has no slot", name, f)
		}
		h.Space.WriteWord(table.Word(slot), uintptr(h.lifecycleFunc(name, f)))
	}
	if len(overrides) > 0 {
		h.Space.WriteWord(table.Word(h.Layout.Destructor), uintptr(h.destructorFunc(name)))
	}

	t := &Type{Name: name, Table: table}
	h.mu.Lock()
	h.types[name] = t
	h.mu.Unlock()
	return t, nil
}

// Create constructs an addon of type typ named name and runs the global
// initializer on it.
func (h *Host) Create(typ, name string) (native.Addr, error) {
	t, ok := h.Type(typ)
	if !ok {
		return native.Null, fmt.Errorf("%s: %w", typ, ErrUnknownType)
	}
	if len(name) >= h.Layout.NameLength {
		return native.Null, fmt.Errorf("addon name %q longer than %d bytes", name, h.Layout.NameLength-1)
	}

	obj, err := h.Space.Alloc(objectSize)
	if err != nil {
		return native.Null, err
	}
	h.Space.WriteWord(obj, uintptr(t.Table))
	h.Space.WriteBytes(obj.Offset(h.Layout.NameOffset), append([]byte(name), 0))

	h.mu.Lock()
	h.objects[obj] = name
	h.order = append(h.order, obj)
	h.mu.Unlock()

	h.Space.Call(h.initialize, native.CallArgs{uintptr(obj)})
	return obj, nil
}

// Destroy runs the global finalizer, which finalizes and deletes the addon.
func (h *Host) Destroy(obj native.Addr) error {
	if !h.Live(obj) {
		return fmt.Errorf("%v: %w", obj, ErrUnknownAddon)
	}
	slot, err := h.Space.Alloc(native.WordSize)
	if err != nil {
		return err
	}
	defer func() { _ = h.Space.Free(slot) }()

	h.Space.WriteWord(slot, uintptr(obj))
	h.Space.Call(h.finalize, native.CallArgs{uintptr(h.manager), uintptr(slot)})
	return nil
}

// Invoke calls family f on obj through its current table.
func (h *Host) Invoke(obj native.Addr, f event.Family, words ...uintptr) uintptr {
	slot, ok := h.Layout.Slot(f)
	if !ok {
		panic(fmt.Sprintf("simhost: %s has no table slot", f))
	}
	return h.virtual(obj, slot, words...)
}

// Destruct calls the virtual destructor on obj with flags.
func (h *Host) Destruct(obj native.Addr, flags uint32) uintptr {
	return h.virtual(obj, h.Layout.Destructor, uintptr(flags))
}

func (h *Host) virtual(obj native.Addr, slot int, words ...uintptr) uintptr {
	raw := native.CallArgs{uintptr(obj)}
	copy(raw[1:], words)
	fn := addon.Entry(h.Space, addon.TablePtr(h.Space, obj), slot)
	return h.Space.Call(fn, raw)
}

// Setup calls Setup with a value array.
func (h *Host) Setup(obj native.Addr, count uint32, values native.Addr) {
	h.Invoke(obj, event.Setup, uintptr(count), uintptr(values))
}

// Update calls Update with a frame delta.
func (h *Host) Update(obj native.Addr, delta float32) {
	h.Invoke(obj, event.Update, args.DeltaWord(delta))
}

// Draw calls Draw.
func (h *Host) Draw(obj native.Addr) {
	h.Invoke(obj, event.Draw)
}

// Show calls Show.
func (h *Host) Show(obj native.Addr, silently bool, flags uint32) {
	h.Invoke(obj, event.Show, native.FromBool(silently), uintptr(flags))
}

// Hide calls Hide.
func (h *Host) Hide(obj native.Addr, callback bool, flags uint32) {
	h.Invoke(obj, event.Hide, native.FromBool(callback), uintptr(flags))
}

// ReceiveEvent delivers an input event.
func (h *Host) ReceiveEvent(obj native.Addr, typ uint16, param int32, ev, data native.Addr) {
	h.Invoke(obj, event.ReceiveEvent, uintptr(typ), uintptr(uint32(param)), uintptr(ev), uintptr(data))
}

// Refresh calls Refresh with a value array.
func (h *Host) Refresh(obj native.Addr, count uint32, values native.Addr) {
	h.Invoke(obj, event.Refresh, uintptr(count), uintptr(values))
}

// Frame runs Update then Draw on every live addon in creation order.
func (h *Host) Frame(delta float32) {
	for _, obj := range h.Objects() {
		h.Update(obj, delta)
		h.Draw(obj)
	}
}

// Objects returns the live addons in creation order.
func (h *Host) Objects() []native.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]native.Addr(nil), h.order...)
}

// Live reports whether obj is a live addon.
func (h *Host) Live(obj native.Addr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.objects[obj]
	return ok
}

// Find returns the live addon named name.
func (h *Host) Find(name string) (native.Addr, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, obj := range h.order {
		if h.objects[obj] == name {
			return obj, true
		}
	}
	return native.Null, false
}

// Names returns the names of live addons, sorted.
func (h *Host) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.objects))
	for _, n := range h.objects {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Fail makes the original implementation of f on typ panic while set.
func (h *Host) Fail(typ string, f event.Family, fail bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fail[typ+"."+f.String()] = fail
}

// Calls returns the recorded original invocations.
func (h *Host) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Call(nil), h.calls...)
}

// CallsTo returns the recorded invocations of fn.
func (h *Host) CallsTo(fn string) []Call {
	var out []Call
	for _, c := range h.Calls() {
		if c.Fn == fn {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call record.
func (h *Host) ResetCalls() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = nil
}

func (h *Host) record(c Call) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, c)
}

func (h *Host) failing(typ string, f event.Family) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fail[typ+"."+f.String()]
}

func (h *Host) lifecycleFunc(typ string, f event.Family) native.Addr {
	fn := f.String()
	return h.Space.Func(func(this, a1, a2, a3, a4, a5 uintptr) uintptr {
		h.record(Call{Fn: fn, Type: typ, Object: native.Addr(this), Words: [5]uintptr{a1, a2, a3, a4, a5}})
		if h.failing(typ, f) {
			panic(fmt.Sprintf("%s.%s failed", typ, fn))
		}
		return 0
	})
}

func (h *Host) destructorFunc(typ string) native.Addr {
	return h.Space.Func(func(this, flags uintptr) uintptr {
		obj := native.Addr(this)
		h.record(Call{Fn: "Destructor", Type: typ, Object: obj, Words: [5]uintptr{flags}})
		if h.Layout.FreesMemory(uint32(flags)) {
			h.forget(obj)
			_ = h.Space.Free(obj)
		}
		return this
	})
}

// finalizeImpl mirrors the engine's addon teardown: the object's Finalize
// is not part of the dispatch table here, so the finalizer records itself,
// runs the deleting destructor and clears the caller's slot.
func (h *Host) finalizeImpl(manager, slot uintptr) {
	obj := native.Addr(h.Space.ReadWord(native.Addr(slot)))
	h.record(Call{Fn: "Finalize", Object: obj, Words: [5]uintptr{manager}})
	if obj == native.Null {
		return
	}
	h.virtual(obj, h.Layout.Destructor, uintptr(h.Layout.FreeMask))
	h.Space.WriteWord(native.Addr(slot), 0)
}

func (h *Host) forget(obj native.Addr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.objects, obj)
	for i, o := range h.order {
		if o == obj {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}
