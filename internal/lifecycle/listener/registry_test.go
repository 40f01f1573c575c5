package listener

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/addonhook/internal/lifecycle/args"
	"github.com/dshills/addonhook/internal/lifecycle/event"
)

func nop(event.Kind, args.Args) error { return nil }

func TestRegistry_AddIsDeferredUntilApply(t *testing.T) {
	r := NewRegistry()

	l, err := r.Add(event.PreShow, "Inventory", nop)
	require.NoError(t, err)
	assert.NotEmpty(t, l.ID())
	assert.Empty(t, r.Snapshot())
	assert.Equal(t, 1, r.Pending())
	assert.False(t, r.Wants(event.PreShow, "Inventory"))

	changes := r.Apply()
	require.Len(t, changes.Added, 1)
	assert.Same(t, l, changes.Added[0])
	assert.Equal(t, []event.Family{event.Show}, changes.Families())
	assert.Equal(t, []*Listener{l}, r.Snapshot())
	assert.Zero(t, r.Pending())
	assert.True(t, r.Wants(event.PreShow, "Inventory"))
	assert.False(t, r.Wants(event.PreShow, "Character"))
}

func TestRegistry_AddValidation(t *testing.T) {
	r := NewRegistry()

	_, err := r.Add(event.Kind(200), "", nop)
	assert.ErrorIs(t, err, ErrInvalidKind)

	_, err = r.Add(event.PreFinalize|1, "", nop)
	assert.ErrorIs(t, err, ErrInvalidKind, "Finalize has no post kind")

	_, err = r.Add(event.PreShow, "", nil)
	assert.ErrorIs(t, err, ErrNilCallback)
}

func TestRegistry_RegistrationOrder(t *testing.T) {
	r := NewRegistry()
	a, _ := r.Add(event.PreDraw, "", nop)
	b, _ := r.Add(event.PreDraw, "Inventory", nop)
	r.Apply()
	c, _ := r.Add(event.PreDraw, "", nop)
	r.Apply()

	assert.Equal(t, []*Listener{a, b, c}, r.Snapshot())
}

func TestRegistry_RemoveIsImmediateForMatching(t *testing.T) {
	r := NewRegistry()
	l, _ := r.Add(event.PreShow, "", nop)
	r.Apply()

	before := r.Snapshot()
	require.NoError(t, r.Remove(l))

	assert.True(t, l.Removed())
	assert.False(t, l.Matches(event.PreShow, "Inventory"))
	assert.False(t, r.Wants(event.PreShow, "Inventory"))
	assert.Len(t, r.Snapshot(), 1, "compaction waits for Apply")
	assert.Zero(t, r.Count())

	changes := r.Apply()
	assert.Equal(t, []*Listener{l}, changes.Removed)
	assert.Empty(t, r.Snapshot())
	assert.Len(t, before, 1, "a published snapshot is never mutated")

	assert.ErrorIs(t, r.Remove(l), ErrListenerNotFound)
	assert.ErrorIs(t, r.Remove(nil), ErrInvalidListener)
}

func TestRegistry_RemoveBeforeApply(t *testing.T) {
	r := NewRegistry()
	l, _ := r.Add(event.PreShow, "", nop)
	require.NoError(t, r.Remove(l))

	changes := r.Apply()
	assert.True(t, changes.Empty(), "a listener that never went live is not reported")
	assert.Empty(t, r.Snapshot())
	_, ok := r.Get(l.ID())
	assert.False(t, ok)
}

func TestRegistry_RemoveByID(t *testing.T) {
	r := NewRegistry()
	l, _ := r.Add(event.PostHide, "", nop)
	r.Apply()

	require.NoError(t, r.RemoveByID(l.ID()))
	assert.ErrorIs(t, r.RemoveByID(l.ID()), ErrListenerNotFound)
	assert.ErrorIs(t, r.RemoveByID("missing"), ErrListenerNotFound)
}

func TestRegistry_RemoveMatching(t *testing.T) {
	r := NewRegistry()
	other := func(event.Kind, args.Args) error { return nil }

	a, _ := r.Add(event.PreShow, "Inventory", nop)
	b, _ := r.Add(event.PreShow, "Inventory", other)
	c, _ := r.Add(event.PreShow, "", nop)
	d, _ := r.Add(event.PostShow, "Inventory", nop)
	r.Apply()

	removed := r.RemoveMatching(event.PreShow, "Inventory", nop)
	assert.Equal(t, []*Listener{a}, removed)
	assert.False(t, b.Removed())
	assert.False(t, c.Removed(), "an empty target is its own filter")
	assert.False(t, d.Removed())

	removed = r.RemoveMatching(event.PreShow, "Inventory", nil)
	assert.Equal(t, []*Listener{b}, removed)

	assert.Empty(t, r.RemoveMatching(event.PreShow, "Inventory", nil))
}

func TestRegistry_TargetFilter(t *testing.T) {
	r := NewRegistry()
	r.Add(event.PreRefresh, "", nop)
	r.Add(event.PreOpen, "Inventory", nop)
	r.Apply()

	assert.True(t, r.Wants(event.PreRefresh, "Anything"))
	assert.True(t, r.Wants(event.PreOpen, "Inventory"))
	assert.False(t, r.Wants(event.PreOpen, "inventory"), "names match exactly")
	assert.True(t, r.WantsFamily(event.Open, "Inventory"))
	assert.False(t, r.WantsFamily(event.Close, "Inventory"))
}

func TestRegistry_WantsFamilyPostOnly(t *testing.T) {
	r := NewRegistry()
	r.Add(event.PostReceiveEvent, "Z", nop)
	r.Apply()

	assert.True(t, r.WantsFamily(event.ReceiveEvent, "Z"))
	assert.False(t, r.WantsFamily(event.Finalize, "Z"))
}

func TestRegistry_Clear(t *testing.T) {
	r := NewRegistry()
	a, _ := r.Add(event.PreShow, "", nop)
	r.Apply()
	b, _ := r.Add(event.PreHide, "", nop)

	r.Clear()
	assert.True(t, a.Removed())
	assert.True(t, b.Removed())

	changes := r.Apply()
	assert.Equal(t, []*Listener{a}, changes.Removed)
	assert.Empty(t, changes.Added)
	assert.Empty(t, r.Snapshot())
}

func TestRegistry_ApplyWithoutChanges(t *testing.T) {
	r := NewRegistry()
	r.Add(event.PreShow, "", nop)
	r.Apply()
	snap := r.Snapshot()

	assert.True(t, r.Apply().Empty())
	assert.Equal(t, snap, r.Snapshot())
}

func TestListener_ReportFailureThrottles(t *testing.T) {
	r := NewRegistry()
	l, _ := r.Add(event.PreShow, "", nop)

	reports := 0
	for i := 0; i < 50; i++ {
		l.ReportFailure(func() { reports++ })
	}
	assert.Equal(t, 3, reports)
}
