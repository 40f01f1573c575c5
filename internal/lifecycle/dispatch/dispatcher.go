// Package dispatch delivers lifecycle events to registered listeners.
//
// Delivery is synchronous on the caller's goroutine. Each listener runs
// behind its own recover, so a failing listener is logged and skipped while
// the remaining listeners and the intercepted native call carry on.
package dispatch

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dshills/addonhook/internal/lifecycle/args"
	"github.com/dshills/addonhook/internal/lifecycle/event"
	"github.com/dshills/addonhook/internal/lifecycle/listener"
)

// FailureHandler observes isolated listener failures. It runs on the
// dispatching goroutine after the failure is logged; a panic inside it is
// swallowed.
type FailureHandler func(err *ListenerError)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for failure reports.
func WithLogger(log zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// WithFailureHandler installs a hook that sees every listener failure,
// including those whose log line was throttled.
func WithFailureHandler(h FailureHandler) Option {
	return func(d *Dispatcher) {
		d.onFailure = h
	}
}

// Dispatcher fans events out to the listeners of a registry.
type Dispatcher struct {
	registry  *listener.Registry
	log       zerolog.Logger
	onFailure FailureHandler

	dispatched atomic.Uint64
	delivered  atomic.Uint64
	failures   atomic.Uint64
	panics     atomic.Uint64
}

// New creates a dispatcher over registry.
func New(registry *listener.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the registry the dispatcher reads.
func (d *Dispatcher) Registry() *listener.Registry {
	return d.registry
}

// Dispatch invokes every live listener matching kind and the addon named by
// a, in registration order. tag names the call site for diagnostics.
// It returns the number of listeners that were invoked.
//
// The snapshot is read once; listeners added during dispatch are not seen,
// and a listener removed during dispatch is skipped if it has not run yet.
func (d *Dispatcher) Dispatch(kind event.Kind, a args.Args, tag string) int {
	d.dispatched.Add(1)

	snapshot := d.registry.Snapshot()
	if len(snapshot) == 0 {
		return 0
	}

	name := a.AddonName()
	invoked := 0
	for i := 0; i < len(snapshot); i++ {
		l := snapshot[i]
		if !l.Matches(kind, name) {
			continue
		}
		invoked++
		if err := d.invoke(l, kind, a, tag); err != nil {
			d.fail(l, err)
		}
	}
	d.delivered.Add(uint64(invoked))
	return invoked
}

// invoke calls one listener, converting a panic into a ListenerError.
func (d *Dispatcher) invoke(l *listener.Listener, kind event.Kind, a args.Args, tag string) (lerr *ListenerError) {
	defer func() {
		if r := recover(); r != nil {
			lerr = &ListenerError{
				ListenerID: l.ID(),
				Kind:       kind,
				Addon:      a.AddonName(),
				Tag:        tag,
				Err:        fmt.Errorf("%w: %v", ErrListenerPanic, r),
				PanicValue: r,
				Stack:      debug.Stack(),
			}
		}
	}()

	if err := l.Call(kind, a); err != nil {
		return &ListenerError{
			ListenerID: l.ID(),
			Kind:       kind,
			Addon:      a.AddonName(),
			Tag:        tag,
			Err:        err,
		}
	}
	return nil
}

func (d *Dispatcher) fail(l *listener.Listener, err *ListenerError) {
	d.failures.Add(1)
	if err.PanicValue != nil {
		d.panics.Add(1)
	}

	l.ReportFailure(func() {
		ev := d.log.Error().
			Str("event", err.Kind.String()).
			Str("addon", err.Addon).
			Str("listener", err.ListenerID).
			Str("tag", err.Tag)
		if err.PanicValue != nil {
			ev = ev.Interface("panic", err.PanicValue).Bytes("stack", err.Stack)
		} else {
			ev = ev.Err(err.Err)
		}
		ev.Msg("lifecycle listener failed")
	})

	if d.onFailure != nil {
		func() {
			defer func() { _ = recover() }()
			d.onFailure(err)
		}()
	}
}

// Stats reports dispatch counters.
type Stats struct {
	Dispatched uint64
	Delivered  uint64
	Failures   uint64
	Panics     uint64
}

// Stats returns a snapshot of the dispatch counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched: d.dispatched.Load(),
		Delivered:  d.delivered.Load(),
		Failures:   d.failures.Load(),
		Panics:     d.panics.Load(),
	}
}
