// Package lifecycle intercepts addon lifecycle calls in a host process and
// re-dispatches them to registered listeners.
//
// A Service hooks the host's global addon initializer and finalizer. Every
// initialized addon gets a replacement dispatch table (package vtable);
// families configured for call-site routing are intercepted at the addon's
// own implementation instead (package callsite). Listener changes are
// applied by Tick, which the host's frame loop calls once per frame.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/dshills/addonhook/internal/addon"
	"github.com/dshills/addonhook/internal/hook"
	"github.com/dshills/addonhook/internal/lifecycle/args"
	"github.com/dshills/addonhook/internal/lifecycle/callsite"
	"github.com/dshills/addonhook/internal/lifecycle/dispatch"
	"github.com/dshills/addonhook/internal/lifecycle/event"
	"github.com/dshills/addonhook/internal/lifecycle/invoke"
	"github.com/dshills/addonhook/internal/lifecycle/listener"
	"github.com/dshills/addonhook/internal/lifecycle/vtable"
	"github.com/dshills/addonhook/internal/native"
	"github.com/dshills/addonhook/internal/resolver"
)

// DefaultCallSiteFamilies are routed through shared call-site hooks unless
// overridden with WithCallSiteFamilies.
var DefaultCallSiteFamilies = []event.Family{event.ReceiveEvent}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger shared by every component.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

// WithLayout sets the addon layout. The default is addon.Default().
func WithLayout(l addon.Layout) Option {
	return func(s *Service) {
		s.layout = l
	}
}

// WithCallSiteFamilies selects the families intercepted at the addon's
// implementation address instead of its table slot.
func WithCallSiteFamilies(fams ...event.Family) Option {
	return func(s *Service) {
		s.callSite = append([]event.Family(nil), fams...)
	}
}

// WithFailureHandler observes listener failures.
func WithFailureHandler(h dispatch.FailureHandler) Option {
	return func(s *Service) {
		s.onFailure = h
	}
}

// Service is the lifecycle façade.
type Service struct {
	proc      native.Process
	inst      hook.Installer
	res       resolver.Resolver
	layout    addon.Layout
	callSite  []event.Family
	onFailure dispatch.FailureHandler
	log       zerolog.Logger

	registry   *listener.Registry
	pool       *args.Pool
	dispatcher *dispatch.Dispatcher
	invoker    *invoke.Invoker
	tables     *vtable.Manager
	sites      *callsite.Manager

	baseTable  native.Addr
	initHook   *hook.Hook
	finalHook  *hook.Hook
	unresolved []string

	dirtyMu sync.Mutex
	dirty   []event.Family

	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a service and installs its global hooks. A symbol that cannot
// be resolved disables only the feature that depends on it; the failure is
// logged once and listed by Unresolved.
func New(proc native.Process, inst hook.Installer, res resolver.Resolver, opts ...Option) (*Service, error) {
	s := &Service{
		proc:     proc,
		inst:     inst,
		res:      res,
		layout:   addon.Default(),
		callSite: DefaultCallSiteFamilies,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, f := range s.callSite {
		if _, ok := s.layout.Slot(f); !ok {
			return nil, fmt.Errorf("call-site family %s has no table slot", f)
		}
	}

	dispatchOpts := []dispatch.Option{dispatch.WithLogger(s.log)}
	if s.onFailure != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithFailureHandler(s.onFailure))
	}
	s.registry = listener.NewRegistry()
	s.pool = args.NewPool()
	s.dispatcher = dispatch.New(s.registry, dispatchOpts...)
	s.invoker = invoke.New(s.pool, s.dispatcher, proc, invoke.WithLogger(s.log))

	tables, err := vtable.New(proc, s.layout, s.invoker,
		vtable.WithLogger(s.log),
		vtable.WithoutFamilies(s.callSite...),
	)
	if err != nil {
		return nil, err
	}
	s.tables = tables
	s.sites = callsite.New(inst, s.invoker, s.addonName, callsite.WithLogger(s.log))

	if len(s.callSite) > 0 {
		if base, err := res.Resolve(resolver.BaseTable); err != nil {
			s.unresolvedSymbol(resolver.BaseTable, err, "call-site interception disabled")
		} else {
			s.baseTable = base
		}
	}

	if err := s.installGlobal(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) installGlobal() error {
	if addr, err := s.res.Resolve(resolver.Initialize); err != nil {
		s.unresolvedSymbol(resolver.Initialize, err, "addons will not be tracked automatically")
	} else {
		h, err := hook.Install(s.inst, resolver.Initialize, addr, s.initializeDetour)
		if err != nil {
			return err
		}
		s.initHook = h
		if err := h.Enable(); err != nil {
			return err
		}
	}

	if addr, err := s.res.Resolve(resolver.Finalize); err != nil {
		s.unresolvedSymbol(resolver.Finalize, err, "finalize events will not fire")
	} else {
		h, err := hook.Install(s.inst, resolver.Finalize, addr, s.finalizeDetour)
		if err != nil {
			return err
		}
		s.finalHook = h
		if err := h.Enable(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) unresolvedSymbol(name string, err error, effect string) {
	s.unresolved = append(s.unresolved, name)
	s.log.Warn().Err(err).Str("symbol", name).Msg(effect)
}

// Unresolved lists the symbols that could not be resolved at startup.
func (s *Service) Unresolved() []string {
	return append([]string(nil), s.unresolved...)
}

// Register adds a listener for kind on addons named target (empty for all).
// It takes effect at the next Tick.
func (s *Service) Register(kind event.Kind, target string, fn listener.Func) (*listener.Listener, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.registry.Add(kind, target, fn)
}

// Unregister removes l. Dispatch skips it immediately.
func (s *Service) Unregister(l *listener.Listener) error {
	return s.registry.Remove(l)
}

// UnregisterID removes the listener with the given ID.
func (s *Service) UnregisterID(id string) error {
	return s.registry.RemoveByID(id)
}

// UnregisterMatching removes every listener for exactly kind and target,
// restricted to fn when it is non-nil. It returns how many were removed.
func (s *Service) UnregisterMatching(kind event.Kind, target string, fn listener.Func) int {
	return len(s.registry.RemoveMatching(kind, target, fn))
}

// Tick applies pending listener changes and enables or disables the
// call-site hooks whose audience changed, including sites that gained or
// lost an addon since the previous tick. Call it once per frame from the
// coordinating goroutine.
func (s *Service) Tick() listener.Changes {
	changes := s.registry.Apply()
	fams := s.takeDirty()
	for _, f := range changes.Families() {
		if lo.Contains(s.callSite, f) {
			fams = append(fams, f)
		}
	}
	for _, f := range lo.Uniq(fams) {
		s.syncSites(f)
	}
	return changes
}

// markDirty queues f for a hook sync at the next Tick.
func (s *Service) markDirty(f event.Family) {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()
	if !lo.Contains(s.dirty, f) {
		s.dirty = append(s.dirty, f)
	}
}

func (s *Service) takeDirty() []event.Family {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()
	out := s.dirty
	s.dirty = nil
	return out
}

func (s *Service) syncSites(f event.Family) {
	err := s.sites.Sync(f, func(name string) bool {
		return s.registry.WantsFamily(f, name)
	})
	if err != nil {
		s.log.Error().Err(err).Stringer("family", f).Msg("sync call-site hooks")
	}
}

// Track attaches a replacement table to the addon at obj and routes its
// call-site families. The initializer hook calls this for every new addon.
// A new call-site hook starts disabled; the next Tick enables it if a
// listener wants one of its addons.
func (s *Service) Track(obj native.Addr) (*vtable.Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	e, err := s.tables.Attach(obj)
	if err != nil {
		return nil, err
	}
	if len(s.callSite) == 0 {
		return e, nil
	}
	if s.baseTable == native.Null {
		return e, ErrNoBaseTable
	}

	var errs []error
	for _, f := range s.callSite {
		slot, _ := s.layout.Slot(f)
		base := addon.Entry(s.proc, s.baseTable, slot)
		site, err := s.sites.Observe(f, e.Name, e.Function(f), base)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", e.Name, f, err))
			continue
		}
		if site != nil {
			s.markDirty(f)
		}
	}
	return e, errors.Join(errs...)
}

// Untrack forgets the call-site routing of the addon named name and
// restores the table of the addon at obj, if any. The addon keeps running
// without table or call-site events; its finalize event still fires. Track
// attaches it again.
func (s *Service) Untrack(obj native.Addr, name string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	var errs []error
	if _, err := s.sites.Forget(name); err != nil {
		errs = append(errs, err)
	}
	for _, f := range s.callSite {
		s.markDirty(f)
	}
	if obj != native.Null {
		if err := s.tables.Restore(obj); err != nil && !errors.Is(err, vtable.ErrNotAttached) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) initializeDetour(a0, a1, a2, a3, a4, a5 uintptr) uintptr {
	const tag = resolver.Initialize
	obj := native.Addr(a0)
	ret := s.invoker.Forward(s.initHook.Original(), native.CallArgs{a0, a1, a2, a3, a4, a5}, "", tag)

	// A missing base table was reported once by New.
	e, err := s.Track(obj)
	if err != nil && !errors.Is(err, ErrNoBaseTable) {
		ev := s.log.Error().Err(err).Stringer("object", obj)
		if e != nil {
			ev = ev.Str("addon", e.Name)
		}
		ev.Msg("track addon")
	}
	return ret
}

func (s *Service) finalizeDetour(a0, a1, a2, a3, a4, a5 uintptr) uintptr {
	const tag = resolver.Finalize
	raw := native.CallArgs{a0, a1, a2, a3, a4, a5}
	original := s.finalHook.Original()

	slot := native.Addr(a1)
	if slot == native.Null {
		return s.invoker.Forward(original, raw, "", tag)
	}
	obj := native.Addr(s.proc.ReadWord(slot))
	if obj == native.Null {
		return s.invoker.Forward(original, raw, "", tag)
	}

	name := s.addonName(obj)
	if e, ok := s.tables.Lookup(obj); ok {
		name = e.Name
	}

	ret := s.invoker.Call(event.Finalize, obj, name, original, raw, tag)
	if _, err := s.sites.Forget(name); err != nil {
		s.log.Error().Err(err).Str("addon", name).Msg("forget call-site routing")
	}
	s.tables.Forget(obj)
	return ret
}

func (s *Service) addonName(obj native.Addr) string {
	return s.layout.Name(s.proc, obj)
}

// Registry returns the listener registry.
func (s *Service) Registry() *listener.Registry { return s.registry }

// Dispatcher returns the dispatch core.
func (s *Service) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Tables returns the table manager.
func (s *Service) Tables() *vtable.Manager { return s.tables }

// Sites returns the call-site manager.
func (s *Service) Sites() *callsite.Manager { return s.sites }

// Layout returns the addon layout in use.
func (s *Service) Layout() addon.Layout { return s.layout }

// CallSiteFamilies returns the families routed through call-site hooks.
func (s *Service) CallSiteFamilies() []event.Family {
	return append([]event.Family(nil), s.callSite...)
}

// Close removes every hook and restores every table. Listeners are
// discarded.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		var errs []error
		for _, h := range []*hook.Hook{s.initHook, s.finalHook} {
			if h == nil {
				continue
			}
			if e := h.Dispose(); e != nil {
				errs = append(errs, e)
			}
		}
		if s.sites != nil {
			errs = append(errs, s.sites.Close())
		}
		if s.tables != nil {
			errs = append(errs, s.tables.Close())
		}
		if s.registry != nil {
			s.registry.Clear()
			s.registry.Apply()
		}
		err = errors.Join(errs...)
		if err != nil {
			s.log.Error().Err(err).Msg("lifecycle shutdown")
		} else {
			s.log.Debug().Msg("lifecycle shutdown complete")
		}
	})
	return err
}

// Stats aggregates the counters of every component.
type Stats struct {
	Listeners int
	Pending   int
	Dispatch  dispatch.Stats
	Invoke    invoke.Stats
	Tables    vtable.Stats
	Sites     callsite.Stats
	Pool      args.PoolStats
}

// Stats returns a snapshot of the service counters.
func (s *Service) Stats() Stats {
	return Stats{
		Listeners: s.registry.Count(),
		Pending:   s.registry.Pending(),
		Dispatch:  s.dispatcher.Stats(),
		Invoke:    s.invoker.Stats(),
		Tables:    s.tables.Stats(),
		Sites:     s.sites.Stats(),
		Pool:      s.pool.Stats(),
	}
}
