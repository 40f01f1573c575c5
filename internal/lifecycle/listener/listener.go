// Package listener keeps the ordered set of lifecycle listeners.
//
// Registration and removal never touch the list dispatch is reading. New
// listeners wait in a pending set and removed ones are only flagged; Apply,
// called once per tick by the coordinating goroutine, publishes a fresh
// snapshot. Dispatch reads the snapshot without locking and skips flagged
// listeners, so a removal is visible immediately even before compaction.
package listener

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/addonhook/internal/lifecycle/args"
	"github.com/dshills/addonhook/internal/lifecycle/event"
)

// Func is a listener callback. Returning an error or panicking is reported
// and isolated; neither stops other listeners or the intercepted call.
type Func func(kind event.Kind, a args.Args) error

// Listener is one registration. The pointer doubles as the caller's token.
type Listener struct {
	id     string
	kind   event.Kind
	target string
	fn     Func

	removed atomic.Bool

	// failures throttles failure reports for this listener.
	failures rate.Sometimes
}

func newListener(id string, kind event.Kind, target string, fn Func) *Listener {
	return &Listener{
		id:       id,
		kind:     kind,
		target:   target,
		fn:       fn,
		failures: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// ID returns the unique listener identifier.
func (l *Listener) ID() string { return l.id }

// Kind returns the event kind the listener is registered for.
func (l *Listener) Kind() event.Kind { return l.kind }

// Target returns the addon name filter. Empty matches every addon.
func (l *Listener) Target() string { return l.target }

// Removed reports whether the listener has been unregistered.
func (l *Listener) Removed() bool { return l.removed.Load() }

// Matches reports whether the listener should receive kind for addon name.
func (l *Listener) Matches(kind event.Kind, name string) bool {
	if l.kind != kind || l.removed.Load() {
		return false
	}
	return l.target == "" || l.target == name
}

// Call invokes the callback.
func (l *Listener) Call(kind event.Kind, a args.Args) error {
	return l.fn(kind, a)
}

// ReportFailure runs report subject to the listener's failure throttle.
func (l *Listener) ReportFailure(report func()) {
	l.failures.Do(report)
}
