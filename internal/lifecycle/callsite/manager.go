// Package callsite intercepts lifecycle functions that are shared between
// addons by hooking the function itself rather than a table slot.
//
// One physical hook exists per (family, address). Every addon name whose
// implementation lives at that address is recorded on the site; the hook
// stays installed but disabled until some listener wants one of those
// names, and is removed once the last name is forgotten.
package callsite

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/dshills/addonhook/internal/hook"
	"github.com/dshills/addonhook/internal/lifecycle/event"
	"github.com/dshills/addonhook/internal/lifecycle/invoke"
	"github.com/dshills/addonhook/internal/native"
)

// Namer reads the name of the addon at obj.
type Namer func(obj native.Addr) string

// Key identifies a physical hook.
type Key struct {
	Family event.Family
	Addr   native.Addr
}

// String returns e.g. "ReceiveEvent@0x1400".
func (k Key) String() string {
	return fmt.Sprintf("%s@%v", k.Family, k.Addr)
}

// Site is one shared hook and the addon names routed through it.
type Site struct {
	key   Key
	hook  *hook.Hook
	names atomic.Pointer[[]string]
}

// Key returns the site key.
func (s *Site) Key() Key { return s.key }

// Hook returns the underlying hook.
func (s *Site) Hook() *hook.Hook { return s.hook }

// Names returns the addon names routed through the site, sorted.
func (s *Site) Names() []string {
	return *s.names.Load()
}

// Has reports whether name is routed through the site.
func (s *Site) Has(name string) bool {
	_, found := slices.BinarySearch(*s.names.Load(), name)
	return found
}

// add and remove are serialized by Manager.mu.
func (s *Site) add(name string) bool {
	cur := *s.names.Load()
	i, found := slices.BinarySearch(cur, name)
	if found {
		return false
	}
	next := slices.Insert(slices.Clone(cur), i, name)
	s.names.Store(&next)
	return true
}

func (s *Site) remove(name string) bool {
	cur := *s.names.Load()
	i, found := slices.BinarySearch(cur, name)
	if !found {
		return false
	}
	next := slices.Delete(slices.Clone(cur), i, i+1)
	s.names.Store(&next)
	return true
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// Manager owns every shared call-site hook.
type Manager struct {
	inst  hook.Installer
	inv   *invoke.Invoker
	namer Namer
	log   zerolog.Logger

	mu     sync.Mutex
	sites  map[Key]*Site
	closed bool

	installs  atomic.Uint64
	disposals atomic.Uint64
	forwarded atomic.Uint64
}

// New creates a call-site manager.
func New(inst hook.Installer, inv *invoke.Invoker, namer Namer, opts ...Option) *Manager {
	m := &Manager{
		inst:  inst,
		inv:   inv,
		namer: namer,
		log:   zerolog.Nop(),
		sites: make(map[Key]*Site),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Observe records that the addon name implements family f at fn. Addons
// that inherit the base implementation are ignored, so only overriding
// addons get a site. It reports the site, or nil when fn equals base.
func (m *Manager) Observe(f event.Family, name string, fn, base native.Addr) (*Site, error) {
	if fn == base {
		return nil, nil
	}
	return m.Track(f, name, fn)
}

// Track routes calls to fn for addon name through a shared hook, installing
// the hook on first use. New hooks start disabled.
func (m *Manager) Track(f event.Family, name string, fn native.Addr) (*Site, error) {
	if fn == native.Null {
		return nil, ErrNullAddress
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	key := Key{Family: f, Addr: fn}
	s, ok := m.sites[key]
	if !ok {
		s = &Site{key: key}
		empty := []string{}
		s.names.Store(&empty)

		h, err := hook.Install(m.inst, "callsite."+key.String(), fn, m.detour(s))
		if err != nil {
			return nil, err
		}
		s.hook = h
		m.sites[key] = s
		m.installs.Add(1)
		m.log.Debug().Stringer("site", key).Msg("installed call-site hook")
	}
	if s.add(name) {
		m.log.Debug().Stringer("site", key).Str("addon", name).Msg("routed addon through call-site hook")
	}
	return s, nil
}

// Forget removes name from every site. Sites left without names are
// disposed. It returns the keys of the disposed sites.
func (m *Manager) Forget(name string) ([]Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var disposed []Key
	var errs []error
	for key, s := range m.sites {
		if !s.remove(name) || len(s.Names()) > 0 {
			continue
		}
		if err := s.hook.Dispose(); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(m.sites, key)
		m.disposals.Add(1)
		disposed = append(disposed, key)
		m.log.Debug().Stringer("site", key).Msg("disposed call-site hook")
	}
	sortKeys(disposed)
	return disposed, errors.Join(errs...)
}

// Sync enables every site of family f that routes at least one wanted name
// and disables the rest.
func (m *Manager) Sync(f event.Family, wants func(name string) bool) error {
	var errs []error
	for _, s := range m.Sites() {
		if s.key.Family != f {
			continue
		}
		enable := lo.ContainsBy(s.Names(), wants)
		// A site disposed by a concurrent Forget is simply gone.
		if err := s.hook.Set(enable); err != nil && !errors.Is(err, hook.ErrNotInstalled) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the site for (f, fn).
func (m *Manager) Lookup(f event.Family, fn native.Addr) (*Site, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sites[Key{Family: f, Addr: fn}]
	return s, ok
}

// Sites returns every site ordered by key.
func (m *Manager) Sites() []*Site {
	m.mu.Lock()
	out := lo.Values(m.sites)
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i].key, out[j].key) })
	return out
}

// Close disposes every hook.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for key, s := range m.sites {
		if err := s.hook.Dispose(); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(m.sites, key)
		m.disposals.Add(1)
	}
	return errors.Join(errs...)
}

func (m *Manager) detour(s *Site) native.Thunk {
	tag := "callsite." + s.key.String()
	return func(a0, a1, a2, a3, a4, a5 uintptr) uintptr {
		raw := native.CallArgs{a0, a1, a2, a3, a4, a5}
		this := native.Addr(a0)
		name := m.namer(this)
		if !s.Has(name) {
			m.forwarded.Add(1)
			return m.inv.Forward(s.hook.Original(), raw, name, tag)
		}
		return m.inv.Call(s.key.Family, this, name, s.hook.Original(), raw, tag)
	}
}

// Stats reports call-site counters.
type Stats struct {
	Sites     int
	Enabled   int
	Installs  uint64
	Disposals uint64
	Forwarded uint64
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	sites := m.Sites()
	return Stats{
		Sites:     len(sites),
		Enabled:   lo.CountBy(sites, func(s *Site) bool { return s.hook.IsEnabled() }),
		Installs:  m.installs.Load(),
		Disposals: m.disposals.Load(),
		Forwarded: m.forwarded.Load(),
	}
}

func keyLess(a, b Key) bool {
	if a.Family != b.Family {
		return a.Family < b.Family
	}
	return a.Addr < b.Addr
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
}
