package lua

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/addonhook/internal/lifecycle/args"
	"github.com/dshills/addonhook/internal/lifecycle/event"
	"github.com/dshills/addonhook/internal/lifecycle/listener"
)

// Registrar is the part of the lifecycle service a script may use.
type Registrar interface {
	Register(kind event.Kind, target string, fn listener.Func) (*listener.Listener, error)
	Unregister(l *listener.Listener) error
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger for print, the log module and host messages.
func WithLogger(log zerolog.Logger) Option {
	return func(h *Host) {
		h.log = log
	}
}

// WithTimeout bounds each script execution and callback.
func WithTimeout(d time.Duration) Option {
	return func(h *Host) {
		h.stateOpts = append(h.stateOpts, WithExecutionTimeout(d))
	}
}

// Host runs one script and owns the listeners it registers.
type Host struct {
	name      string
	reg       Registrar
	log       zerolog.Logger
	stateOpts []StateOption
	state     *State

	mu        sync.Mutex
	listeners map[string]*listener.Listener
	closed    bool
}

// NewHost creates a host named name whose script registers with reg.
func NewHost(name string, reg Registrar, opts ...Option) (*Host, error) {
	h := &Host{
		name:      name,
		reg:       reg,
		log:       zerolog.Nop(),
		listeners: make(map[string]*listener.Listener),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With().Str("script", name).Logger()

	h.state = NewState(append(h.stateOpts, WithStateLogger(h.log))...)
	err := h.state.Do(func(L *lua.LState) error {
		registerArgsType(L)
		L.SetGlobal("lifecycle", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
			"on":    h.luaOn,
			"off":   h.luaOff,
			"kinds": luaKinds,
		}))
		L.SetGlobal("log", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
			"debug": h.luaLog(zerolog.DebugLevel),
			"info":  h.luaLog(zerolog.InfoLevel),
			"warn":  h.luaLog(zerolog.WarnLevel),
			"error": h.luaLog(zerolog.ErrorLevel),
		}))
		return nil
	})
	if err != nil {
		_ = h.state.Close()
		return nil, err
	}
	return h, nil
}

// Name returns the host name, normally the script path.
func (h *Host) Name() string {
	return h.name
}

// DoFile runs the script at path. Listeners it registers stay registered
// even if the script fails part way.
func (h *Host) DoFile(path string) error {
	if err := h.state.DoFile(path); err != nil {
		return &ScriptError{Script: h.name, Err: err}
	}
	return nil
}

// DoString runs Lua source.
func (h *Host) DoString(code string) error {
	if err := h.state.DoString(code); err != nil {
		return &ScriptError{Script: h.name, Err: err}
	}
	return nil
}

// Listeners returns the listeners currently registered by the script, in
// no particular order.
func (h *Host) Listeners() []*listener.Listener {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*listener.Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Close unregisters the script's listeners and releases the Lua state.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	ls := h.listeners
	h.listeners = nil
	h.mu.Unlock()

	var errs []error
	for _, l := range ls {
		if err := h.reg.Unregister(l); err != nil && !errors.Is(err, listener.ErrListenerNotFound) {
			errs = append(errs, err)
		}
	}
	errs = append(errs, h.state.Close())
	return errors.Join(errs...)
}

// lifecycle.on(kind, [target], fn) -> token
func (h *Host) luaOn(L *lua.LState) int {
	kind, err := event.Parse(L.CheckString(1))
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}

	var target string
	fnIdx := 2
	if L.GetTop() >= 3 {
		target = L.OptString(2, "")
		fnIdx = 3
	}
	fn := L.CheckFunction(fnIdx)

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		L.RaiseError("%s", ErrStateClosed.Error())
		return 0
	}

	l, err := h.reg.Register(kind, target, h.callback(fn))
	if err != nil {
		L.RaiseError("lifecycle.on: %v", err)
		return 0
	}

	h.mu.Lock()
	h.listeners[l.ID()] = l
	h.mu.Unlock()

	h.log.Debug().Str("listener", l.ID()).Stringer("event", kind).Str("target", target).Msg("Lua listener registered")
	L.Push(lua.LString(l.ID()))
	return 1
}

// lifecycle.off(token) -> bool
func (h *Host) luaOff(L *lua.LState) int {
	id := L.CheckString(1)

	h.mu.Lock()
	l, ok := h.listeners[id]
	delete(h.listeners, id)
	h.mu.Unlock()

	if ok {
		ok = h.reg.Unregister(l) == nil
	}
	L.Push(lua.LBool(ok))
	return 1
}

// lifecycle.kinds() -> { "PreSetup", ... }
func luaKinds(L *lua.LState) int {
	t := L.NewTable()
	for _, k := range event.Kinds() {
		t.Append(lua.LString(k.String()))
	}
	L.Push(t)
	return 1
}

// log.<level>(msg, [fields])
func (h *Host) luaLog(level zerolog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		ev := h.log.WithLevel(level).Str("source", "log")
		if t, ok := L.Get(2).(*lua.LTable); ok {
			if fields, ok := ToGoValue(t).(map[string]any); ok {
				ev = ev.Fields(fields)
			}
		}
		ev.Msg(msg)
		return 0
	}
}

// callback adapts a Lua function to a listener. The argument userdata is
// expired when the function returns, so a script that keeps it gets an
// error instead of a recycled object.
func (h *Host) callback(fn *lua.LFunction) listener.Func {
	return func(kind event.Kind, a args.Args) error {
		return h.state.Do(func(L *lua.LState) error {
			ud := newArgs(L, a)
			defer expireArgs(ud)
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, lua.LString(kind.String()), ud); err != nil {
				return &ScriptError{Script: h.name, Err: err}
			}
			return nil
		})
	}
}

// ScriptError is an error raised while running a script or one of its
// callbacks.
type ScriptError struct {
	Script string
	Err    error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s: %v", e.Script, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}
