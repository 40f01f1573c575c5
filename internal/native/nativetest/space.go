// Package nativetest provides a simulated target process for tests and for the
// simulator binary.
//
// Space is a flat little-endian arena with a bump allocator. Go functions can
// be registered at synthetic addresses and invoked through Call, which is how
// both "native" originals and trampolines are exercised without touching real
// process memory. Accessing freed or unmapped memory panics with a *Fault,
// mirroring a segmentation fault in the real process.
package nativetest

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/dshills/addonhook/internal/native"
)

const (
	heapBase   native.Addr = 0x10000000
	funcBase   native.Addr = 0x60000000
	funcStride             = 0x10
	allocAlign             = 16

	// DefaultSize is the arena size used by NewSpace when size <= 0.
	DefaultSize = 1 << 20
)

// Fault is raised (as a panic) on invalid memory access or calls to unknown
// function addresses.
type Fault struct {
	Addr   native.Addr
	Reason string
}

// Error implements error.
func (f *Fault) Error() string {
	return fmt.Sprintf("fault at %v: %s", f.Addr, f.Reason)
}

type span struct {
	start native.Addr
	size  int
}

// Space is a simulated address space implementing native.Process.
type Space struct {
	mu     sync.Mutex
	mem    []byte
	next   int
	allocs map[native.Addr]int
	freed  []span
	funcs  map[native.Addr]reflect.Value
	nextFn native.Addr

	calls atomic.Uint64
}

// NewSpace creates an arena of size bytes.
func NewSpace(size int) *Space {
	if size <= 0 {
		size = DefaultSize
	}
	return &Space{
		mem:    make([]byte, size),
		allocs: make(map[native.Addr]int),
		funcs:  make(map[native.Addr]reflect.Value),
		nextFn: funcBase,
	}
}

// offset translates addr into an arena index. The caller holds s.mu.
func (s *Space) offset(addr native.Addr, n int) int {
	if addr < heapBase || int(addr-heapBase)+n > len(s.mem) {
		panic(&Fault{Addr: addr, Reason: "unmapped"})
	}
	for _, f := range s.freed {
		if addr < f.start.Offset(f.size) && f.start < addr.Offset(n) {
			panic(&Fault{Addr: addr, Reason: "use after free"})
		}
	}
	return int(addr - heapBase)
}

func (s *Space) load(off int) uintptr {
	if native.WordSize == 8 {
		return uintptr(binary.LittleEndian.Uint64(s.mem[off:]))
	}
	return uintptr(binary.LittleEndian.Uint32(s.mem[off:]))
}

func (s *Space) store(off int, v uintptr) {
	if native.WordSize == 8 {
		binary.LittleEndian.PutUint64(s.mem[off:], uint64(v))
		return
	}
	binary.LittleEndian.PutUint32(s.mem[off:], uint32(v))
}

// ReadWord implements native.Memory.
func (s *Space) ReadWord(addr native.Addr) uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(s.offset(addr, native.WordSize))
}

// WriteWord implements native.Memory.
func (s *Space) WriteWord(addr native.Addr, v uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(s.offset(addr, native.WordSize), v)
}

// SwapWord implements native.Memory.
func (s *Space) SwapWord(addr native.Addr, v uintptr) uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	off := s.offset(addr, native.WordSize)
	old := s.load(off)
	s.store(off, v)
	return old
}

// CompareAndSwapWord implements native.Memory.
func (s *Space) CompareAndSwapWord(addr native.Addr, old, new uintptr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	off := s.offset(addr, native.WordSize)
	if s.load(off) != old {
		return false
	}
	s.store(off, new)
	return true
}

// ReadBytes implements native.Memory.
func (s *Space) ReadBytes(addr native.Addr, n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	off := s.offset(addr, n)
	out := make([]byte, n)
	copy(out, s.mem[off:off+n])
	return out
}

// WriteBytes stores b at addr.
func (s *Space) WriteBytes(addr native.Addr, b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	off := s.offset(addr, len(b))
	copy(s.mem[off:], b)
}

// Copy implements native.Memory.
func (s *Space) Copy(dst, src native.Addr, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	so := s.offset(src, n)
	do := s.offset(dst, n)
	copy(s.mem[do:do+n], s.mem[so:so+n])
}

// Alloc implements native.Memory. Memory is never reused, so a stale pointer
// into a freed block always faults.
func (s *Space) Alloc(n int) (native.Addr, error) {
	if n <= 0 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := (s.next + allocAlign - 1) &^ (allocAlign - 1)
	if start+n > len(s.mem) {
		return native.Null, native.ErrOutOfMemory
	}
	s.next = start + n
	addr := heapBase.Offset(start)
	s.allocs[addr] = n
	return addr, nil
}

// Free implements native.Memory.
func (s *Space) Free(addr native.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.allocs[addr]
	if !ok {
		return fmt.Errorf("%w: %v", native.ErrInvalidFree, addr)
	}
	delete(s.allocs, addr)
	s.freed = append(s.freed, span{start: addr, size: n})
	return nil
}

// Live returns the number of outstanding allocations.
func (s *Space) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.allocs)
}

// Allocated reports whether addr is the start of a live allocation.
func (s *Space) Allocated(addr native.Addr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.allocs[addr]
	return ok
}

// Func registers a Go function and returns its synthetic address.
// Parameters must be integer or bool kinds; at most one result is used.
func (s *Space) Func(fn any) native.Addr {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		panic(fmt.Sprintf("nativetest: Func requires a non-nil function, got %T", fn))
	}
	if v.Type().IsVariadic() || v.Type().NumIn() > native.MaxArgs {
		panic(fmt.Sprintf("nativetest: unsupported function signature %s", v.Type()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	addr := s.nextFn
	s.nextFn += funcStride
	s.funcs[addr] = v
	return addr
}

// NewCallback implements native.Callbacks.
func (s *Space) NewCallback(fn native.Thunk) native.Addr {
	return s.Func(fn)
}

// IsFunc reports whether addr is a registered function.
func (s *Space) IsFunc(addr native.Addr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.funcs[addr]
	return ok
}

func (s *Space) funcAt(addr native.Addr) (reflect.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.funcs[addr]
	return v, ok
}

func (s *Space) setFunc(addr native.Addr, v reflect.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs[addr] = v
}

// Call implements native.Caller. The lock is not held while fn runs.
func (s *Space) Call(fn native.Addr, args native.CallArgs) uintptr {
	v, ok := s.funcAt(fn)
	if !ok {
		panic(&Fault{Addr: fn, Reason: "call to non-function"})
	}
	s.calls.Add(1)

	t := v.Type()
	in := make([]reflect.Value, t.NumIn())
	for i := range in {
		in[i] = fromWord(args[i], t.In(i))
	}
	out := v.Call(in)
	if len(out) == 0 {
		return 0
	}
	return toWord(out[0])
}

// Calls returns the number of calls made through Call.
func (s *Space) Calls() uint64 {
	return s.calls.Load()
}

func fromWord(w uintptr, t reflect.Type) reflect.Value {
	switch t.Kind() {
	case reflect.Bool:
		return reflect.ValueOf(native.Bool(w)).Convert(t)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return reflect.ValueOf(w).Convert(t)
	default:
		panic(fmt.Sprintf("nativetest: unsupported parameter kind %s", t.Kind()))
	}
}

func toWord(v reflect.Value) uintptr {
	switch v.Kind() {
	case reflect.Bool:
		return native.FromBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uintptr(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return uintptr(v.Uint())
	default:
		panic(fmt.Sprintf("nativetest: unsupported result kind %s", v.Kind()))
	}
}

var _ native.Process = (*Space)(nil)
