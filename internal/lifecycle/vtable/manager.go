// Package vtable redirects an addon's virtual calls through lifecycle
// trampolines.
//
// Attaching an object clones its dispatch table into a buffer owned by the
// manager, points the lifecycle slots of the clone at trampolines and swaps
// the object's table pointer to the clone with a single compare-and-swap.
// Every other slot keeps the object's own function, so overridden behavior
// is untouched. The clone lives until the object's destructor reports that
// its memory is being released, or until the manager is closed, in which
// case the original pointer is put back before the clone is freed.
package vtable

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/dshills/addonhook/internal/addon"
	"github.com/dshills/addonhook/internal/lifecycle/event"
	"github.com/dshills/addonhook/internal/lifecycle/invoke"
	"github.com/dshills/addonhook/internal/native"
)

// Entry is one attached object.
type Entry struct {
	// Object is the addon address.
	Object native.Addr

	// Name is the addon name read at attach time.
	Name string

	// Original is the table pointer observed before attaching.
	Original native.Addr

	// Replacement is the manager-owned clone.
	Replacement native.Addr

	fns  [event.FamilyCount]native.Addr
	dtor native.Addr
}

// Function returns the original implementation of family f for this object.
func (e *Entry) Function(f event.Family) native.Addr {
	return e.fns[f]
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithoutFamilies leaves the slots of fams unpatched. Those calls still reach
// the object's own implementation and can be intercepted elsewhere.
func WithoutFamilies(fams ...event.Family) Option {
	return func(m *Manager) {
		m.skip = append(m.skip, fams...)
	}
}

// WithReleaseHook registers fn to run after an entry is dropped because its
// object was destroyed.
func WithReleaseHook(fn func(*Entry)) Option {
	return func(m *Manager) {
		m.onRelease = fn
	}
}

// Manager owns the replacement tables of every attached object.
type Manager struct {
	proc      native.Process
	layout    addon.Layout
	inv       *invoke.Invoker
	log       zerolog.Logger
	skip      []event.Family
	onRelease func(*Entry)

	families []event.Family
	thunks   [event.FamilyCount]native.Addr
	dtor     native.Addr

	mu      sync.RWMutex
	entries map[native.Addr]*Entry
	retired map[native.Addr]*Entry
	closed  bool

	attaches atomic.Uint64
	releases atomic.Uint64
	orphans  atomic.Uint64
}

// New creates a manager. One trampoline per patched family, plus one for
// the destructor, is created here and reused for every object.
func New(proc native.Process, layout addon.Layout, inv *invoke.Invoker, opts ...Option) (*Manager, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		proc:    proc,
		layout:  layout,
		inv:     inv,
		log:     zerolog.Nop(),
		entries: make(map[native.Addr]*Entry),
		retired: make(map[native.Addr]*Entry),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.families = lo.Filter(layout.Families(), func(f event.Family, _ int) bool {
		return !lo.Contains(m.skip, f)
	})
	for _, f := range m.families {
		m.thunks[f] = proc.NewCallback(m.trampoline(f))
	}
	m.dtor = proc.NewCallback(m.destructor)

	m.log.Debug().
		Str("layout", layout.Version).
		Strs("families", lo.Map(m.families, func(f event.Family, _ int) string { return f.String() })).
		Msg("table manager ready")
	return m, nil
}

// Families returns the families patched into replacement tables.
func (m *Manager) Families() []event.Family {
	return append([]event.Family(nil), m.families...)
}

// Attach installs a replacement table on the object at obj. Attaching an
// object twice returns the existing entry.
func (m *Manager) Attach(obj native.Addr) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if e, ok := m.entries[obj]; ok {
		return e, nil
	}

	original := addon.TablePtr(m.proc, obj)
	if original == native.Null {
		return nil, fmt.Errorf("attach %v: %w", obj, ErrNoTable)
	}

	buf, err := m.proc.Alloc(m.layout.TableBytes())
	if err != nil {
		return nil, fmt.Errorf("attach %v: allocate table: %w", obj, err)
	}
	m.proc.Copy(buf, original, m.layout.TableBytes())

	e := &Entry{
		Object:      obj,
		Name:        m.layout.Name(m.proc, obj),
		Original:    original,
		Replacement: buf,
		dtor:        addon.Entry(m.proc, original, m.layout.Destructor),
	}
	for _, f := range m.layout.Families() {
		slot, _ := m.layout.Slot(f)
		e.fns[f] = addon.Entry(m.proc, original, slot)
	}
	for _, f := range m.families {
		slot, _ := m.layout.Slot(f)
		m.proc.WriteWord(buf.Word(slot), uintptr(m.thunks[f]))
	}
	m.proc.WriteWord(buf.Word(m.layout.Destructor), uintptr(m.dtor))

	if !m.proc.CompareAndSwapWord(obj, uintptr(original), uintptr(buf)) {
		_ = m.proc.Free(buf)
		return nil, fmt.Errorf("attach %v: %w", obj, ErrTableChanged)
	}

	m.entries[obj] = e
	delete(m.retired, obj)
	m.attaches.Add(1)
	m.log.Debug().
		Str("addon", e.Name).
		Stringer("object", obj).
		Stringer("table", original).
		Stringer("replacement", buf).
		Msg("attached replacement table")
	return e, nil
}

// Lookup returns the entry for obj.
func (m *Manager) Lookup(obj native.Addr) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[obj]
	return e, ok
}

// Entries returns every attached entry ordered by object address.
func (m *Manager) Entries() []*Entry {
	m.mu.RLock()
	out := lo.Values(m.entries)
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Object < out[j].Object })
	return out
}

// Len returns the number of attached objects.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Restore puts the original table pointer back on obj and frees the clone.
func (m *Manager) Restore(obj native.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[obj]
	if !ok {
		return ErrNotAttached
	}
	return m.restore(e)
}

// restore swaps the original pointer back, then frees the clone.
// The caller holds m.mu.
func (m *Manager) restore(e *Entry) error {
	delete(m.entries, e.Object)
	m.retired[e.Object] = e

	if !m.proc.CompareAndSwapWord(e.Object, uintptr(e.Replacement), uintptr(e.Original)) {
		// Someone else owns the pointer now; they may still reference the
		// clone, so it is leaked rather than freed.
		m.log.Warn().
			Str("addon", e.Name).
			Stringer("object", e.Object).
			Msg("table pointer changed, leaving replacement in place")
		return fmt.Errorf("restore %s at %v: %w", e.Name, e.Object, ErrTableChanged)
	}
	if err := m.proc.Free(e.Replacement); err != nil {
		return fmt.Errorf("restore %s at %v: %w", e.Name, e.Object, err)
	}
	m.log.Debug().Str("addon", e.Name).Stringer("object", e.Object).Msg("restored original table")
	return nil
}

// Forget drops what the manager still holds for obj after a restore. Call it
// once the object is gone; a restored object is destroyed through its own
// table, so the manager never sees that happen. It reports whether an entry
// was dropped.
func (m *Manager) Forget(obj native.Addr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.retired[obj]; !ok {
		return false
	}
	delete(m.retired, obj)
	return true
}

// Retired returns the number of restored objects still routed for calls
// that entered before their restore.
func (m *Manager) Retired() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.retired)
}

// Close restores every attached object. The manager rejects further
// attaches; trampolines already handed out keep forwarding to originals of
// objects that are still attached.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for _, e := range m.sortedLocked() {
		if err := m.restore(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) sortedLocked() []*Entry {
	out := lo.Values(m.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Object < out[j].Object })
	return out
}

func (m *Manager) trampoline(f event.Family) native.Thunk {
	tag := "vtable." + f.String()
	return func(a0, a1, a2, a3, a4, a5 uintptr) uintptr {
		this := native.Addr(a0)
		e, ok := m.route(this)
		if !ok {
			m.orphan(this, tag)
			return 0
		}
		return m.inv.Call(f, this, e.Name, e.fns[f], native.CallArgs{a0, a1, a2, a3, a4, a5}, tag)
	}
}

func (m *Manager) destructor(a0, a1, a2, a3, a4, a5 uintptr) uintptr {
	const tag = "vtable.Destructor"
	this := native.Addr(a0)
	e, ok := m.route(this)
	if !ok {
		m.orphan(this, tag)
		return 0
	}

	ret := m.inv.Forward(e.dtor, native.CallArgs{a0, a1, a2, a3, a4, a5}, e.Name, tag)
	if m.layout.FreesMemory(uint32(a1)) {
		m.release(e)
	}
	return ret
}

// release drops the entry of a destroyed object. The object memory is gone,
// so only the clone is freed.
func (m *Manager) release(e *Entry) {
	m.mu.Lock()
	if cur, ok := m.retired[e.Object]; ok && cur == e {
		// Already restored and freed; the object was destroyed through a
		// call that entered before the restore.
		delete(m.retired, e.Object)
		m.mu.Unlock()
		return
	}
	if cur, ok := m.entries[e.Object]; !ok || cur != e {
		m.mu.Unlock()
		return
	}
	delete(m.entries, e.Object)
	err := m.proc.Free(e.Replacement)
	m.mu.Unlock()

	m.releases.Add(1)
	if err != nil {
		m.log.Error().Err(err).Str("addon", e.Name).Msg("free replacement table")
	}
	m.log.Debug().Str("addon", e.Name).Stringer("object", e.Object).Msg("released replacement table")
	if m.onRelease != nil {
		m.onRelease(e)
	}
}

// route finds the entry a trampoline call belongs to. Restored entries are
// still routed so a call that read the clone just before the restore reaches
// the original.
func (m *Manager) route(this native.Addr) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[this]; ok {
		return e, true
	}
	e, ok := m.retired[this]
	return e, ok
}

// orphan handles a trampoline call for an object the manager never knew,
// such as one whose table was cloned from an attached object by a third party.
func (m *Manager) orphan(this native.Addr, tag string) {
	m.orphans.Add(1)
	m.log.Error().Stringer("object", this).Str("tag", tag).Msg("trampoline called for unknown object")
}

// Stats reports table manager counters.
type Stats struct {
	Attached int
	Retired  int
	Attaches uint64
	Releases uint64
	Orphans  uint64
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Attached: m.Len(),
		Retired:  m.Retired(),
		Attaches: m.attaches.Load(),
		Releases: m.releases.Load(),
		Orphans:  m.orphans.Load(),
	}
}
