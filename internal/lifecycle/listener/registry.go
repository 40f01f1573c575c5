package listener

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/dshills/addonhook/internal/lifecycle/event"
)

// Changes describes what an Apply published.
type Changes struct {
	// Added are listeners that became live, in registration order.
	Added []*Listener

	// Removed are live listeners that were compacted out.
	Removed []*Listener
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// Families returns the distinct families touched by the change set.
func (c Changes) Families() []event.Family {
	all := append(append([]*Listener{}, c.Added...), c.Removed...)
	return lo.Uniq(lo.Map(all, func(l *Listener, _ int) event.Family {
		return l.kind.Family()
	}))
}

// Registry holds listeners in registration order.
// Add, Remove and the query methods are safe for concurrent use; Apply must
// be called from a single coordinating goroutine.
type Registry struct {
	live atomic.Pointer[[]*Listener]

	mu         sync.Mutex
	byID       map[string]*Listener
	pendingAdd []*Listener
	dirty      bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{
		byID: make(map[string]*Listener),
	}
	empty := []*Listener{}
	r.live.Store(&empty)
	return r
}

// Add registers fn for kind on addons named target (empty for all addons).
// The listener becomes visible to dispatch at the next Apply.
func (r *Registry) Add(kind event.Kind, target string, fn Func) (*Listener, error) {
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	if fn == nil {
		return nil, ErrNilCallback
	}

	l := newListener(uuid.NewString(), kind, target, fn)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[l.id] = l
	r.pendingAdd = append(r.pendingAdd, l)
	return l, nil
}

// Remove unregisters l. Dispatch stops delivering to it immediately; the
// snapshot is compacted at the next Apply.
func (r *Registry) Remove(l *Listener) error {
	if l == nil {
		return ErrInvalidListener
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[l.id]; !ok || !l.removed.CompareAndSwap(false, true) {
		return ErrListenerNotFound
	}
	r.dirty = true
	return nil
}

// RemoveByID unregisters the listener with the given ID.
func (r *Registry) RemoveByID(id string) error {
	r.mu.Lock()
	l, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return ErrListenerNotFound
	}
	return r.Remove(l)
}

// RemoveMatching unregisters every listener registered for exactly kind and
// target. If fn is non-nil only listeners whose callback is the same function
// are removed; closures created from one function literal compare equal.
// Returns the removed listeners.
func (r *Registry) RemoveMatching(kind event.Kind, target string, fn Func) []*Listener {
	var want uintptr
	if fn != nil {
		want = reflect.ValueOf(fn).Pointer()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*Listener
	for _, l := range r.byID {
		if l.kind != kind || l.target != target {
			continue
		}
		if fn != nil && reflect.ValueOf(l.fn).Pointer() != want {
			continue
		}
		if l.removed.CompareAndSwap(false, true) {
			removed = append(removed, l)
		}
	}
	if len(removed) > 0 {
		r.dirty = true
	}
	return removed
}

// Clear unregisters every listener.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.byID {
		l.removed.Store(true)
	}
	r.dirty = true
}

// Apply publishes pending registrations and drops removed listeners.
// This is the tick boundary: it is the only place the live list changes.
func (r *Registry) Apply() Changes {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pendingAdd) == 0 && !r.dirty {
		return Changes{}
	}

	var changes Changes
	old := *r.live.Load()
	next := make([]*Listener, 0, len(old)+len(r.pendingAdd))

	for _, l := range old {
		if l.removed.Load() {
			delete(r.byID, l.id)
			changes.Removed = append(changes.Removed, l)
			continue
		}
		next = append(next, l)
	}
	for _, l := range r.pendingAdd {
		if l.removed.Load() {
			// Registered and removed within one tick; never went live.
			delete(r.byID, l.id)
			continue
		}
		next = append(next, l)
		changes.Added = append(changes.Added, l)
	}

	r.live.Store(&next)
	r.pendingAdd = nil
	r.dirty = false
	return changes
}

// Snapshot returns the live listeners in registration order. The slice is
// never mutated after publication and must not be modified by the caller.
func (r *Registry) Snapshot() []*Listener {
	return *r.live.Load()
}

// Wants reports whether any live listener would receive kind for addon name.
func (r *Registry) Wants(kind event.Kind, name string) bool {
	for _, l := range r.Snapshot() {
		if l.Matches(kind, name) {
			return true
		}
	}
	return false
}

// WantsFamily reports whether any live listener would receive the Pre or
// Post kind of f for addon name.
func (r *Registry) WantsFamily(f event.Family, name string) bool {
	if r.Wants(f.Pre(), name) {
		return true
	}
	post, ok := f.Post()
	return ok && r.Wants(post, name)
}

// Get returns a registered listener by ID, including pending ones.
func (r *Registry) Get(id string) (*Listener, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byID[id]
	return l, ok
}

// Count returns the number of live, non-removed listeners.
func (r *Registry) Count() int {
	return lo.CountBy(r.Snapshot(), func(l *Listener) bool { return !l.Removed() })
}

// Pending returns the number of registrations waiting for Apply.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pendingAdd)
}
