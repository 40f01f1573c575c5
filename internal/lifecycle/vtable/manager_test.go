package vtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/addonhook/internal/addon"
	"github.com/dshills/addonhook/internal/lifecycle/args"
	"github.com/dshills/addonhook/internal/lifecycle/dispatch"
	"github.com/dshills/addonhook/internal/lifecycle/event"
	"github.com/dshills/addonhook/internal/lifecycle/invoke"
	"github.com/dshills/addonhook/internal/lifecycle/listener"
	"github.com/dshills/addonhook/internal/native"
	"github.com/dshills/addonhook/internal/native/nativetest"
)

const customSlot = 10

type call struct {
	fn   string
	this native.Addr
	args [4]uintptr
}

type host struct {
	space  *nativetest.Space
	layout addon.Layout
	reg    *listener.Registry
	mgr    *Manager
	table  native.Addr
	calls  []call
}

func newHost(t *testing.T, opts ...Option) *host {
	t.Helper()
	h := &host{
		space:  nativetest.NewSpace(0),
		layout: addon.Default(),
		reg:    listener.NewRegistry(),
	}

	table, err := h.space.Alloc(h.layout.TableBytes())
	require.NoError(t, err)
	h.table = table
	for _, f := range h.layout.Families() {
		slot, _ := h.layout.Slot(f)
		name := f.String()
		h.space.WriteWord(table.Word(slot), uintptr(h.space.Func(func(this, a1, a2, a3, a4 uintptr) uintptr {
			h.calls = append(h.calls, call{name, native.Addr(this), [4]uintptr{a1, a2, a3, a4}})
			return 0
		})))
	}
	h.space.WriteWord(table.Word(h.layout.Destructor), uintptr(h.space.Func(func(this, flags uintptr) uintptr {
		h.calls = append(h.calls, call{fn: "Destructor", this: native.Addr(this), args: [4]uintptr{flags}})
		if flags&1 != 0 {
			_ = h.space.Free(native.Addr(this))
		}
		return this
	})))
	h.space.WriteWord(table.Word(customSlot), uintptr(h.space.Func(func(this uintptr) uintptr { return 7 })))

	inv := invoke.New(args.NewPool(), dispatch.New(h.reg), h.space)
	h.mgr, err = New(h.space, h.layout, inv, opts...)
	require.NoError(t, err)
	return h
}

func (h *host) newAddon(t *testing.T, name string) native.Addr {
	t.Helper()
	obj, err := h.space.Alloc(0x100)
	require.NoError(t, err)
	h.space.WriteWord(obj, uintptr(h.table))
	h.space.WriteBytes(obj.Offset(h.layout.NameOffset), append([]byte(name), 0))
	return obj
}

// virtual calls slot through the object's current table, as the engine does.
func (h *host) virtual(obj native.Addr, slot int, words ...uintptr) uintptr {
	raw := native.CallArgs{uintptr(obj)}
	copy(raw[1:], words)
	fn := addon.Entry(h.space, addon.TablePtr(h.space, obj), slot)
	return h.space.Call(fn, raw)
}

func (h *host) lifecycle(obj native.Addr, f event.Family, words ...uintptr) uintptr {
	slot, _ := h.layout.Slot(f)
	return h.virtual(obj, slot, words...)
}

func TestAttach_ClonesAndPatches(t *testing.T) {
	h := newHost(t)
	obj := h.newAddon(t, "Inventory")
	before := h.space.ReadBytes(h.table, h.layout.TableBytes())

	e, err := h.mgr.Attach(obj)
	require.NoError(t, err)
	assert.Equal(t, "Inventory", e.Name)
	assert.Equal(t, h.table, e.Original)
	assert.Equal(t, e.Replacement, addon.TablePtr(h.space, obj))
	assert.True(t, h.space.Allocated(e.Replacement))

	for _, f := range h.layout.Families() {
		slot, _ := h.layout.Slot(f)
		assert.NotEqual(t, addon.Entry(h.space, h.table, slot), addon.Entry(h.space, e.Replacement, slot), f.String())
		assert.Equal(t, addon.Entry(h.space, h.table, slot), e.Function(f), f.String())
	}
	assert.Equal(t, addon.Entry(h.space, h.table, customSlot), addon.Entry(h.space, e.Replacement, customSlot),
		"unintercepted slots keep the object's own function")
	assert.Equal(t, uintptr(7), h.virtual(obj, customSlot))
	assert.Equal(t, before, h.space.ReadBytes(h.table, h.layout.TableBytes()), "the original table is never written")
}

func TestAttach_Twice(t *testing.T) {
	h := newHost(t)
	obj := h.newAddon(t, "Inventory")
	live := h.space.Live()

	first, err := h.mgr.Attach(obj)
	require.NoError(t, err)
	second, err := h.mgr.Attach(obj)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, live+1, h.space.Live())
	assert.Equal(t, 1, h.mgr.Len())
}

func TestAttach_NoTable(t *testing.T) {
	h := newHost(t)
	obj, err := h.space.Alloc(0x100)
	require.NoError(t, err)

	_, err = h.mgr.Attach(obj)
	assert.ErrorIs(t, err, ErrNoTable)
}

func TestTrampoline_ShowMutation(t *testing.T) {
	h := newHost(t)
	obj := h.newAddon(t, "A")
	_, err := h.mgr.Attach(obj)
	require.NoError(t, err)

	var pre, post args.Args
	h.reg.Add(event.PreShow, "A", func(_ event.Kind, a args.Args) error {
		pre = a
		a.(*args.ShowArgs).OpenSilently = true
		return nil
	})
	var postSilently bool
	h.reg.Add(event.PostShow, "A", func(_ event.Kind, a args.Args) error {
		post = a
		postSilently = a.(*args.ShowArgs).OpenSilently
		return nil
	})
	h.reg.Apply()

	h.lifecycle(obj, event.Show, 0, 0x10)

	require.Len(t, h.calls, 1)
	assert.Equal(t, "Show", h.calls[0].fn)
	assert.Equal(t, obj, h.calls[0].this)
	assert.Equal(t, uintptr(1), h.calls[0].args[0], "original receives openSilently == true")
	assert.Equal(t, uintptr(0x10), h.calls[0].args[1])
	assert.True(t, postSilently)
	assert.Same(t, pre, post)
}

func TestTrampoline_PairsPreAndPostForEveryFamily(t *testing.T) {
	h := newHost(t)
	obj := h.newAddon(t, "A")
	_, err := h.mgr.Attach(obj)
	require.NoError(t, err)

	var kinds []event.Kind
	for _, k := range event.Kinds() {
		h.reg.Add(k, "", func(k event.Kind, _ args.Args) error {
			kinds = append(kinds, k)
			return nil
		})
	}
	h.reg.Apply()

	for _, f := range h.mgr.Families() {
		kinds = nil
		h.lifecycle(obj, f)
		post, _ := f.Post()
		assert.Equal(t, []event.Kind{f.Pre(), post}, kinds, f.String())
	}
}

func TestTrampoline_OtherAddonNotDelivered(t *testing.T) {
	h := newHost(t)
	x := h.newAddon(t, "X")
	y := h.newAddon(t, "Y")
	for _, obj := range []native.Addr{x, y} {
		_, err := h.mgr.Attach(obj)
		require.NoError(t, err)
	}

	var seen []string
	h.reg.Add(event.PreRefresh, "X", func(_ event.Kind, a args.Args) error {
		seen = append(seen, a.AddonName())
		return nil
	})
	h.reg.Apply()

	h.lifecycle(y, event.Refresh, 2, 0x5000)
	h.lifecycle(x, event.Refresh, 2, 0x5000)

	assert.Equal(t, []string{"X"}, seen)
	require.Len(t, h.calls, 2)
	assert.Equal(t, y, h.calls[0].this)
}

func TestWithoutFamilies(t *testing.T) {
	h := newHost(t, WithoutFamilies(event.ReceiveEvent))
	obj := h.newAddon(t, "A")
	e, err := h.mgr.Attach(obj)
	require.NoError(t, err)

	slot, _ := h.layout.Slot(event.ReceiveEvent)
	assert.Equal(t, addon.Entry(h.space, h.table, slot), addon.Entry(h.space, e.Replacement, slot))
	assert.NotContains(t, h.mgr.Families(), event.ReceiveEvent)
}

func TestDestructor_KeepsTableWithoutFreeFlag(t *testing.T) {
	h := newHost(t)
	obj := h.newAddon(t, "A")
	e, err := h.mgr.Attach(obj)
	require.NoError(t, err)

	ret := h.virtual(obj, h.layout.Destructor, 0)
	assert.Equal(t, uintptr(obj), ret)
	require.Len(t, h.calls, 1)
	assert.Equal(t, "Destructor", h.calls[0].fn)

	_, ok := h.mgr.Lookup(obj)
	assert.True(t, ok)
	assert.True(t, h.space.Allocated(e.Replacement))
	assert.Equal(t, e.Replacement, addon.TablePtr(h.space, obj))
}

func TestDestructor_ReleasesWithFreeFlag(t *testing.T) {
	var released []*Entry
	h := newHost(t, WithReleaseHook(func(e *Entry) { released = append(released, e) }))
	obj := h.newAddon(t, "A")
	e, err := h.mgr.Attach(obj)
	require.NoError(t, err)

	h.virtual(obj, h.layout.Destructor, 1)

	_, ok := h.mgr.Lookup(obj)
	assert.False(t, ok)
	assert.False(t, h.space.Allocated(e.Replacement))
	assert.False(t, h.space.Allocated(obj))
	assert.Equal(t, []*Entry{e}, released)
	assert.Equal(t, uint64(1), h.mgr.Stats().Releases)
}

func TestRestore(t *testing.T) {
	h := newHost(t)
	obj := h.newAddon(t, "A")
	e, err := h.mgr.Attach(obj)
	require.NoError(t, err)

	require.NoError(t, h.mgr.Restore(obj))
	assert.Equal(t, h.table, addon.TablePtr(h.space, obj))
	assert.False(t, h.space.Allocated(e.Replacement))
	assert.ErrorIs(t, h.mgr.Restore(obj), ErrNotAttached)

	// A call that fetched the trampoline before the restore still reaches
	// the original.
	h.space.Call(h.mgr.thunks[event.Hide], native.CallArgs{uintptr(obj), 1, 2})
	require.Len(t, h.calls, 1)
	assert.Equal(t, "Hide", h.calls[0].fn)
	assert.Zero(t, h.mgr.Stats().Orphans)
}

func TestForget_DropsRetiredEntry(t *testing.T) {
	h := newHost(t)
	obj := h.newAddon(t, "A")
	_, err := h.mgr.Attach(obj)
	require.NoError(t, err)
	require.NoError(t, h.mgr.Restore(obj))
	assert.Equal(t, 1, h.mgr.Stats().Retired)

	// The restored object is destroyed through its own table.
	h.virtual(obj, h.layout.Destructor, 1)
	assert.Equal(t, 1, h.mgr.Retired(), "the manager cannot see that destruction")

	assert.True(t, h.mgr.Forget(obj))
	assert.Zero(t, h.mgr.Retired())
	assert.False(t, h.mgr.Forget(obj))

	h.space.Call(h.mgr.thunks[event.Hide], native.CallArgs{uintptr(obj)})
	assert.Equal(t, uint64(1), h.mgr.Stats().Orphans)
}

func TestAttach_AfterRestoreClearsRetired(t *testing.T) {
	h := newHost(t)
	obj := h.newAddon(t, "A")
	_, err := h.mgr.Attach(obj)
	require.NoError(t, err)
	require.NoError(t, h.mgr.Restore(obj))

	_, err = h.mgr.Attach(obj)
	require.NoError(t, err)
	assert.Zero(t, h.mgr.Retired())
	assert.Equal(t, 1, h.mgr.Len())
}

func TestClose_RestoresBeforeFree(t *testing.T) {
	h := newHost(t)
	objs := []native.Addr{h.newAddon(t, "A"), h.newAddon(t, "B"), h.newAddon(t, "C")}
	live := h.space.Live()
	for _, obj := range objs {
		_, err := h.mgr.Attach(obj)
		require.NoError(t, err)
	}
	assert.Equal(t, live+3, h.space.Live())

	require.NoError(t, h.mgr.Close())
	for _, obj := range objs {
		assert.Equal(t, h.table, addon.TablePtr(h.space, obj))
		// The original table is reachable and intact after teardown.
		assert.Equal(t, uintptr(7), h.virtual(obj, customSlot))
	}
	assert.Equal(t, live, h.space.Live())
	assert.Zero(t, h.mgr.Len())

	_, err := h.mgr.Attach(objs[0])
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, h.mgr.Close())
}

func TestClose_TableChangedElsewhere(t *testing.T) {
	h := newHost(t)
	obj := h.newAddon(t, "A")
	e, err := h.mgr.Attach(obj)
	require.NoError(t, err)

	other, err := h.space.Alloc(h.layout.TableBytes())
	require.NoError(t, err)
	h.space.WriteWord(obj, uintptr(other))

	assert.ErrorIs(t, h.mgr.Close(), ErrTableChanged)
	assert.Equal(t, other, addon.TablePtr(h.space, obj), "a foreign table pointer is left alone")
	assert.True(t, h.space.Allocated(e.Replacement), "the clone may still be referenced")
}

func TestOrphanCall(t *testing.T) {
	h := newHost(t)
	assert.Zero(t, h.space.Call(h.mgr.thunks[event.Show], native.CallArgs{0x1234}))
	assert.Equal(t, uint64(1), h.mgr.Stats().Orphans)
}
