// Package native describes the foreign process the lifecycle engine operates on.
//
// The engine never dereferences foreign memory directly. Every word read, every
// table pointer swap and every call into native code goes through the small
// interfaces in this package, which lets the same engine run against the real
// process (see Self) or a simulated address space (see nativetest).
package native

import (
	"fmt"
	"unsafe"
)

// Addr is an address in the target process.
type Addr uintptr

// Null is the zero address.
const Null Addr = 0

// WordSize is the size in bytes of a pointer-sized word.
const WordSize = int(unsafe.Sizeof(uintptr(0)))

// MaxArgs is the number of argument words carried by a native call,
// including the receiver in slot 0.
const MaxArgs = 6

// CallArgs is the register image of a native call. Slot 0 holds the receiver
// for member functions. Callees that take fewer arguments ignore the rest.
type CallArgs [MaxArgs]uintptr

// Thunk is the Go shape of every trampoline handed to native code.
type Thunk = func(a0, a1, a2, a3, a4, a5 uintptr) uintptr

// Offset returns a advanced by n bytes.
func (a Addr) Offset(n int) Addr {
	return a + Addr(n)
}

// Word returns the address of the i-th pointer-sized slot starting at a.
func (a Addr) Word(i int) Addr {
	return a + Addr(i*WordSize)
}

// String formats the address as hex.
func (a Addr) String() string {
	return fmt.Sprintf("0x%x", uintptr(a))
}

// Memory is word-granular access to the target address space.
type Memory interface {
	// ReadWord reads the pointer-sized word at addr.
	ReadWord(addr Addr) uintptr

	// WriteWord writes the pointer-sized word at addr.
	WriteWord(addr Addr, v uintptr)

	// SwapWord atomically stores v at addr and returns the previous word.
	SwapWord(addr Addr, v uintptr) uintptr

	// CompareAndSwapWord atomically replaces old with new at addr.
	CompareAndSwapWord(addr Addr, old, new uintptr) bool

	// ReadBytes copies n bytes starting at addr.
	ReadBytes(addr Addr, n int) []byte

	// Copy copies n bytes from src to dst.
	Copy(dst, src Addr, n int)

	// Alloc reserves n bytes on the process heap.
	Alloc(n int) (Addr, error)

	// Free releases memory obtained from Alloc.
	Free(addr Addr) error
}

// Caller invokes native functions.
type Caller interface {
	// Call invokes fn with the given register image and returns its result word.
	// A faulting callee surfaces as a panic.
	Call(fn Addr, args CallArgs) uintptr
}

// Callbacks turns Go functions into native-callable addresses.
// Addresses returned by NewCallback stay valid for the life of the process.
type Callbacks interface {
	NewCallback(fn Thunk) Addr
}

// Process bundles everything the engine needs from the target process.
type Process interface {
	Memory
	Caller
	Callbacks
}

// ReadCString reads a NUL-terminated string of at most max bytes at addr.
func ReadCString(mem Memory, addr Addr, max int) string {
	if addr == Null || max <= 0 {
		return ""
	}
	b := mem.ReadBytes(addr, max)
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Bool converts a native boolean word.
func Bool(w uintptr) bool {
	return w&0xff != 0
}

// FromBool converts a Go boolean into a native boolean word.
func FromBool(b bool) uintptr {
	if b {
		return 1
	}
	return 0
}
