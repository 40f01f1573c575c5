// Package resolver maps symbolic hook names to addresses in the target
// process. Discovery happens elsewhere; this package only holds and serves
// the results.
package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dshills/addonhook/internal/native"
)

// Well-known symbols.
const (
	// Initialize is the global addon initializer, called once per object
	// after construction.
	Initialize = "addon.initialize"

	// Finalize is the global addon finalizer, called with the owning
	// manager and a pointer to the object pointer.
	Finalize = "addon.finalize"

	// BaseTable is the dispatch table of the base addon type.
	BaseTable = "addon.vtable.base"
)

var (
	// ErrUnresolved is returned for names with no known address.
	ErrUnresolved = errors.New("symbol not resolved")

	// ErrInvalidAddress is returned for malformed or null addresses.
	ErrInvalidAddress = errors.New("invalid address")
)

// ResolveError reports a failed resolution.
type ResolveError struct {
	Name string
	Err  error
}

// Error implements error.
func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *ResolveError) Unwrap() error {
	return e.Err
}

// Resolver supplies validated addresses for known names.
type Resolver interface {
	Resolve(name string) (native.Addr, error)
}

// Table is a static Resolver.
type Table struct {
	mu    sync.RWMutex
	addrs map[string]native.Addr
}

// NewTable creates a table from addrs. The map is copied.
func NewTable(addrs map[string]native.Addr) *Table {
	t := &Table{addrs: make(map[string]native.Addr, len(addrs))}
	for k, v := range addrs {
		t.addrs[k] = v
	}
	return t
}

// Set records the address of name.
func (t *Table) Set(name string, addr native.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addrs[name] = addr
}

// Delete forgets name.
func (t *Table) Delete(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.addrs, name)
}

// Resolve implements Resolver.
func (t *Table) Resolve(name string) (native.Addr, error) {
	t.mu.RLock()
	addr, ok := t.addrs[name]
	t.mu.RUnlock()
	if !ok {
		return native.Null, &ResolveError{Name: name, Err: ErrUnresolved}
	}
	if addr == native.Null {
		return native.Null, &ResolveError{Name: name, Err: ErrInvalidAddress}
	}
	return addr, nil
}

// Names returns the known names, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.addrs))
	for k := range t.addrs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Merge copies every entry of other into t, overwriting duplicates.
func (t *Table) Merge(other *Table) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range other.addrs {
		t.addrs[k] = v
	}
}

// ParseAddr parses a hexadecimal ("0x1400") or decimal address.
func ParseAddr(s string) (native.Addr, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseUint(strings.ReplaceAll(s, "_", ""), 0, 64)
	if err != nil {
		return native.Null, fmt.Errorf("%w %q: %v", ErrInvalidAddress, s, err)
	}
	if v == 0 {
		return native.Null, fmt.Errorf("%w %q: null", ErrInvalidAddress, s)
	}
	return native.Addr(v), nil
}
