package dispatch

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/addonhook/internal/lifecycle/args"
	"github.com/dshills/addonhook/internal/lifecycle/event"
	"github.com/dshills/addonhook/internal/lifecycle/listener"
)

func showArgs(t *testing.T, name string) *args.ShowArgs {
	t.Helper()
	a, lease := args.NewPool().RentShow()
	t.Cleanup(lease.Release)
	a.Bind(name, 0x1000)
	return a
}

func TestDispatch_RegistrationOrder(t *testing.T) {
	reg := listener.NewRegistry()
	d := New(reg)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		_, err := reg.Add(event.PreShow, "", func(event.Kind, args.Args) error {
			order = append(order, i)
			return nil
		})
		require.NoError(t, err)
	}
	// Noise on other kinds and targets.
	reg.Add(event.PostShow, "", func(event.Kind, args.Args) error {
		t.Error("PostShow listener invoked for PreShow")
		return nil
	})
	reg.Add(event.PreShow, "Other", func(event.Kind, args.Args) error {
		t.Error("listener for Other invoked for Inventory")
		return nil
	})
	reg.Apply()

	n := d.Dispatch(event.PreShow, showArgs(t, "Inventory"), "test")
	assert.Equal(t, 5, n)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestDispatch_TargetFilter(t *testing.T) {
	reg := listener.NewRegistry()
	d := New(reg)

	var all, named []string
	reg.Add(event.PreShow, "", func(_ event.Kind, a args.Args) error {
		all = append(all, a.AddonName())
		return nil
	})
	reg.Add(event.PreShow, "X", func(_ event.Kind, a args.Args) error {
		named = append(named, a.AddonName())
		return nil
	})
	reg.Apply()

	for _, name := range []string{"X", "Y", "Z"} {
		d.Dispatch(event.PreShow, showArgs(t, name), "test")
	}
	assert.Equal(t, []string{"X", "Y", "Z"}, all)
	assert.Equal(t, []string{"X"}, named)
}

func TestDispatch_FailureIsolation(t *testing.T) {
	reg := listener.NewRegistry()
	var failures []*ListenerError
	d := New(reg, WithFailureHandler(func(err *ListenerError) {
		failures = append(failures, err)
	}))

	boom := errors.New("boom")
	ran := 0
	reg.Add(event.PreShow, "", func(event.Kind, args.Args) error { panic("bad listener") })
	reg.Add(event.PreShow, "", func(event.Kind, args.Args) error { return boom })
	reg.Add(event.PreShow, "", func(event.Kind, args.Args) error { ran++; return nil })
	reg.Apply()

	assert.NotPanics(t, func() {
		d.Dispatch(event.PreShow, showArgs(t, "Inventory"), "vtable.Show")
	})
	assert.Equal(t, 1, ran)

	require.Len(t, failures, 2)
	assert.True(t, failures[0].Panicked())
	assert.ErrorIs(t, failures[0], ErrListenerPanic)
	assert.Equal(t, "bad listener", failures[0].PanicValue)
	assert.NotEmpty(t, failures[0].Stack)
	assert.Equal(t, "vtable.Show", failures[0].Tag)
	assert.False(t, failures[1].Panicked())
	assert.ErrorIs(t, failures[1], boom)
	assert.Equal(t, "Inventory", failures[1].Addon)

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Failures)
	assert.Equal(t, uint64(1), stats.Panics)
	assert.Equal(t, uint64(3), stats.Delivered)
}

func TestDispatch_PanickingFailureHandler(t *testing.T) {
	reg := listener.NewRegistry()
	d := New(reg, WithFailureHandler(func(*ListenerError) { panic("handler") }))
	reg.Add(event.PreShow, "", func(event.Kind, args.Args) error { return errors.New("x") })
	reg.Apply()

	assert.NotPanics(t, func() {
		d.Dispatch(event.PreShow, showArgs(t, "A"), "test")
	})
}

func TestDispatch_RemovedListenerSkippedBeforeCompaction(t *testing.T) {
	reg := listener.NewRegistry()
	d := New(reg)

	calls := 0
	l, _ := reg.Add(event.PreShow, "", func(event.Kind, args.Args) error { calls++; return nil })
	reg.Apply()

	require.NoError(t, reg.Remove(l))
	assert.Zero(t, d.Dispatch(event.PreShow, showArgs(t, "A"), "test"))
	assert.Zero(t, calls)
}

func TestDispatch_RemovalDuringDispatch(t *testing.T) {
	reg := listener.NewRegistry()
	d := New(reg)

	var second *listener.Listener
	var seen []string
	reg.Add(event.PreShow, "", func(event.Kind, args.Args) error {
		seen = append(seen, "first")
		return reg.Remove(second)
	})
	second, _ = reg.Add(event.PreShow, "", func(event.Kind, args.Args) error {
		seen = append(seen, "second")
		return nil
	})
	reg.Add(event.PreShow, "", func(event.Kind, args.Args) error {
		seen = append(seen, "third")
		// Registering mid-dispatch is not visible to this dispatch.
		_, err := reg.Add(event.PreShow, "", func(event.Kind, args.Args) error {
			seen = append(seen, "late")
			return nil
		})
		return err
	})
	reg.Apply()

	d.Dispatch(event.PreShow, showArgs(t, "A"), "test")
	assert.Equal(t, []string{"first", "third"}, seen)

	reg.Apply()
	seen = nil
	d.Dispatch(event.PreShow, showArgs(t, "A"), "test")
	assert.Equal(t, []string{"first", "third", "late"}, seen)
}

func TestDispatch_LogsAndThrottles(t *testing.T) {
	var buf bytes.Buffer
	reg := listener.NewRegistry()
	d := New(reg, WithLogger(zerolog.New(&buf)))
	reg.Add(event.PreDraw, "", func(event.Kind, args.Args) error { return errors.New("frame failure") })
	reg.Apply()

	a, lease := args.NewPool().Rent(event.Draw)
	defer lease.Release()
	a.Bind("HUD", 0x2000)

	for i := 0; i < 100; i++ {
		d.Dispatch(event.PreDraw, a, "vtable.Draw")
	}
	assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("lifecycle listener failed")))
	assert.Contains(t, buf.String(), `"tag":"vtable.Draw"`)
	assert.Contains(t, buf.String(), `"event":"PreDraw"`)
	assert.Equal(t, uint64(100), d.Stats().Failures)
}

func TestDispatch_Empty(t *testing.T) {
	d := New(listener.NewRegistry())
	assert.Zero(t, d.Dispatch(event.PreUpdate, showArgs(t, "A"), "test"))
	assert.Equal(t, uint64(1), d.Stats().Dispatched)
}
