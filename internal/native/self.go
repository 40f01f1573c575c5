//go:build (linux || darwin) && (amd64 || arm64)

package native

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Self is the current process. Words are accessed in place, heap memory comes
// from libc, and calls and callbacks go through purego so no cgo is required.
type Self struct {
	malloc func(size uintptr) uintptr
	free   func(ptr uintptr)
}

// OpenSelf loads libc and returns the current process.
func OpenSelf() (*Self, error) {
	lib, err := purego.Dlopen(libcPath(), purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("opening libc: %w", err)
	}
	s := &Self{}
	purego.RegisterLibFunc(&s.malloc, lib, "malloc")
	purego.RegisterLibFunc(&s.free, lib, "free")
	return s, nil
}

func libcPath() string {
	if runtime.GOOS == "darwin" {
		return "/usr/lib/libSystem.B.dylib"
	}
	return "libc.so.6"
}

//go:nocheckptr
func wordPtr(a Addr) *uintptr {
	return (*uintptr)(unsafe.Pointer(uintptr(a)))
}

//go:nocheckptr
func bytesAt(a Addr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(a))), n)
}

// ReadWord implements Memory.
func (s *Self) ReadWord(addr Addr) uintptr {
	return atomic.LoadUintptr(wordPtr(addr))
}

// WriteWord implements Memory.
func (s *Self) WriteWord(addr Addr, v uintptr) {
	atomic.StoreUintptr(wordPtr(addr), v)
}

// SwapWord implements Memory.
func (s *Self) SwapWord(addr Addr, v uintptr) uintptr {
	return atomic.SwapUintptr(wordPtr(addr), v)
}

// CompareAndSwapWord implements Memory.
func (s *Self) CompareAndSwapWord(addr Addr, old, new uintptr) bool {
	return atomic.CompareAndSwapUintptr(wordPtr(addr), old, new)
}

// ReadBytes implements Memory.
func (s *Self) ReadBytes(addr Addr, n int) []byte {
	out := make([]byte, n)
	copy(out, bytesAt(addr, n))
	return out
}

// Copy implements Memory.
func (s *Self) Copy(dst, src Addr, n int) {
	copy(bytesAt(dst, n), bytesAt(src, n))
}

// Alloc implements Memory.
func (s *Self) Alloc(n int) (Addr, error) {
	p := s.malloc(uintptr(n))
	if p == 0 {
		return Null, ErrOutOfMemory
	}
	return Addr(p), nil
}

// Free implements Memory.
func (s *Self) Free(addr Addr) error {
	if addr == Null {
		return ErrInvalidFree
	}
	s.free(uintptr(addr))
	return nil
}

// Call implements Caller.
func (s *Self) Call(fn Addr, args CallArgs) uintptr {
	r1, _, _ := purego.SyscallN(uintptr(fn), args[:]...)
	return r1
}

// NewCallback implements Callbacks. purego never releases callbacks, so the
// returned address stays valid for the life of the process.
func (s *Self) NewCallback(fn Thunk) Addr {
	return Addr(purego.NewCallback(fn))
}

var _ Process = (*Self)(nil)
