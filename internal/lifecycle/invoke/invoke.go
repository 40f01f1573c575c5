// Package invoke runs an intercepted native call between its Pre and Post
// dispatches.
package invoke

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dshills/addonhook/internal/lifecycle/args"
	"github.com/dshills/addonhook/internal/lifecycle/dispatch"
	"github.com/dshills/addonhook/internal/lifecycle/event"
	"github.com/dshills/addonhook/internal/native"
)

// Option configures an Invoker.
type Option func(*Invoker)

// WithLogger sets the logger for original-call failures.
func WithLogger(log zerolog.Logger) Option {
	return func(i *Invoker) {
		i.log = log
	}
}

// Invoker performs the three-phase call shared by every trampoline.
type Invoker struct {
	pool       *args.Pool
	dispatcher *dispatch.Dispatcher
	caller     native.Caller
	log        zerolog.Logger

	calls       atomic.Uint64
	passthrough atomic.Uint64
	faults      atomic.Uint64
}

// New creates an invoker.
func New(pool *args.Pool, d *dispatch.Dispatcher, caller native.Caller, opts ...Option) *Invoker {
	i := &Invoker{
		pool:       pool,
		dispatcher: d,
		caller:     caller,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Call intercepts one native call of family f on the addon at this, named
// name, whose original implementation is fn. raw holds the call's register
// image as received by the trampoline.
//
// With no interested listener the original is called directly. Otherwise
// the argument object is populated from raw, PreX is dispatched, the
// possibly mutated fields are written back, the original runs, and PostX is
// dispatched on the same object. A panic from the original is logged and
// the call returns 0; PostX still fires.
func (i *Invoker) Call(f event.Family, this native.Addr, name string, fn native.Addr, raw native.CallArgs, tag string) uintptr {
	i.calls.Add(1)

	if !i.dispatcher.Registry().WantsFamily(f, name) {
		i.passthrough.Add(1)
		return i.callOriginal(fn, raw, name, tag)
	}

	a, lease := i.pool.Rent(f)
	defer lease.Release()

	a.Bind(name, this)
	a.Decode(raw)

	i.dispatcher.Dispatch(f.Pre(), a, tag)
	a.Encode(&raw)

	ret := i.callOriginal(fn, raw, name, tag)

	if post, ok := f.Post(); ok {
		i.dispatcher.Dispatch(post, a, tag)
	}
	return ret
}

// Forward calls fn unmodified, isolating a panic the same way Call does.
func (i *Invoker) Forward(fn native.Addr, raw native.CallArgs, name, tag string) uintptr {
	return i.callOriginal(fn, raw, name, tag)
}

func (i *Invoker) callOriginal(fn native.Addr, raw native.CallArgs, name, tag string) (ret uintptr) {
	defer func() {
		if r := recover(); r != nil {
			i.faults.Add(1)
			i.log.Error().
				Str("tag", tag).
				Str("addon", name).
				Stringer("fn", fn).
				Interface("panic", r).
				Msg("original lifecycle call failed")
			ret = 0
		}
	}()
	return i.caller.Call(fn, raw)
}

// Stats reports invoker counters.
type Stats struct {
	// Calls is the number of intercepted calls.
	Calls uint64

	// Passthrough counts calls forwarded without dispatch.
	Passthrough uint64

	// OriginalFailures counts panics raised by original implementations.
	OriginalFailures uint64
}

// Stats returns a snapshot of the counters.
func (i *Invoker) Stats() Stats {
	return Stats{
		Calls:            i.calls.Load(),
		Passthrough:      i.passthrough.Load(),
		OriginalFailures: i.faults.Load(),
	}
}
