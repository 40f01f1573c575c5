package nativetest

import (
	"errors"
	"testing"

	"github.com/dshills/addonhook/internal/hook"
	"github.com/dshills/addonhook/internal/native"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpace_AllocAndWords(t *testing.T) {
	s := NewSpace(4096)

	a, err := s.Alloc(8 * native.WordSize)
	require.NoError(t, err)
	assert.True(t, s.Allocated(a))
	assert.Equal(t, 1, s.Live())

	s.WriteWord(a.Word(1), 0xdead)
	assert.Equal(t, uintptr(0xdead), s.ReadWord(a.Word(1)))
	assert.Equal(t, uintptr(0xdead), s.SwapWord(a.Word(1), 0xbeef))
	assert.True(t, s.CompareAndSwapWord(a.Word(1), 0xbeef, 1))
	assert.False(t, s.CompareAndSwapWord(a.Word(1), 0xbeef, 2))

	b, err := s.Alloc(8 * native.WordSize)
	require.NoError(t, err)
	s.Copy(b, a, 8*native.WordSize)
	assert.Equal(t, uintptr(1), s.ReadWord(b.Word(1)))
}

func TestSpace_UseAfterFreeFaults(t *testing.T) {
	s := NewSpace(4096)
	a, err := s.Alloc(64)
	require.NoError(t, err)
	require.NoError(t, s.Free(a))
	assert.Zero(t, s.Live())

	assert.PanicsWithError(t, (&Fault{Addr: a, Reason: "use after free"}).Error(), func() {
		s.ReadWord(a)
	})

	err = s.Free(a)
	assert.True(t, errors.Is(err, native.ErrInvalidFree))
}

func TestSpace_OutOfMemory(t *testing.T) {
	s := NewSpace(64)
	_, err := s.Alloc(128)
	assert.ErrorIs(t, err, native.ErrOutOfMemory)
}

func TestSpace_Call(t *testing.T) {
	s := NewSpace(0)
	add := s.Func(func(a, b uintptr) uintptr { return a + b })
	flag := s.Func(func(_ uintptr, on bool) bool { return !on })
	noop := s.Func(func() {})

	assert.Equal(t, uintptr(5), s.Call(add, native.CallArgs{2, 3}))
	assert.Equal(t, uintptr(1), s.Call(flag, native.CallArgs{0, 0}))
	assert.Equal(t, uintptr(0), s.Call(noop, native.CallArgs{}))
	assert.Equal(t, uint64(3), s.Calls())

	assert.Panics(t, func() { s.Call(0x1234, native.CallArgs{}) })
}

func TestInstaller_Lifecycle(t *testing.T) {
	s := NewSpace(0)
	var hits []string
	target := s.Func(func(x uintptr) uintptr { hits = append(hits, "orig"); return x })
	inst := NewInstaller(s)

	h, err := inst.Install(target, func(a0, _, _, _, _, _ uintptr) uintptr {
		hits = append(hits, "detour")
		return a0 * 2
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inst.Installs())

	assert.Equal(t, uintptr(3), s.Call(target, native.CallArgs{3}), "installed hooks start disabled")

	require.NoError(t, h.Enable())
	assert.True(t, inst.Enabled(target))
	assert.Equal(t, uintptr(6), s.Call(target, native.CallArgs{3}))
	assert.Equal(t, uintptr(3), s.Call(h.Original(), native.CallArgs{3}))

	_, err = inst.Install(target, func(_, _, _, _, _, _ uintptr) uintptr { return 0 })
	assert.ErrorIs(t, err, hook.ErrDoubleHook)

	require.NoError(t, h.Dispose())
	assert.False(t, inst.Hooked(target))
	assert.Equal(t, uintptr(3), s.Call(target, native.CallArgs{3}))
	assert.Equal(t, []string{"orig", "detour", "orig", "orig"}, hits)
}
