// Package app wires the addonhook components into a runnable simulation:
// configuration, logging, the simulated host, the lifecycle service, Lua
// listener scripts and the script watcher. It owns the frame loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/addonhook/internal/config"
	"github.com/dshills/addonhook/internal/lifecycle"
	"github.com/dshills/addonhook/internal/lifecycle/dispatch"
	"github.com/dshills/addonhook/internal/plugin/lua"
	"github.com/dshills/addonhook/internal/plugin/watcher"
	"github.com/dshills/addonhook/internal/resolver"
	"github.com/dshills/addonhook/internal/simhost"
)

// Options configures the application.
type Options struct {
	// Config is the validated configuration. Required.
	Config *config.Config

	// Logger receives all output. Nil discards it.
	Logger *zerolog.Logger
}

// App is the central coordinator for one simulation.
type App struct {
	cfg     *config.Config
	log     zerolog.Logger
	metrics *Metrics

	host    *simhost.Host
	svc     *lifecycle.Service
	scripts *lua.Scripts
	watch   *watcher.Watcher
	sched   *schedule

	frame     int
	running   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New creates an App and starts every component in dependency order. A
// script that fails to load is logged and skipped; anything else that
// fails to start is returned as an *InitError.
func New(opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, ErrNoConfig
	}
	a := &App{
		cfg:     opts.Config,
		log:     zerolog.Nop(),
		metrics: NewMetrics(),
	}
	if opts.Logger != nil {
		a.log = *opts.Logger
	}

	if err := a.cfg.Validate(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}
	if err := a.bootstrap(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) bootstrap() error {
	layout, err := a.cfg.Layout.Layout()
	if err != nil {
		return &InitError{Component: "layout", Err: err}
	}
	families, err := a.cfg.Routing.Families()
	if err != nil {
		return &InitError{Component: "routing", Err: err}
	}

	// 1. Simulated host and its addon types
	a.host, err = simhost.New(layout)
	if err != nil {
		return &InitError{Component: "host", Err: err}
	}
	for _, t := range a.cfg.Sim.Types {
		if err := a.defineType(t); err != nil {
			return &InitError{Component: "host", Err: err}
		}
	}

	// 2. Symbols: the host's own, overlaid by the resolver file
	res := a.host.Resolver()
	if path := a.cfg.Resolver.File; path != "" {
		table, version, err := resolver.LoadFile(path)
		if err != nil {
			return &InitError{Component: "resolver", Err: err}
		}
		res.Merge(table)
		a.log.Info().Str("file", path).Str("version", version).Strs("symbols", table.Names()).Msg("symbol table loaded")
	}

	// 3. Lifecycle service
	a.svc, err = lifecycle.New(a.host.Space, a.host.Installer, res,
		lifecycle.WithLogger(a.component("lifecycle")),
		lifecycle.WithLayout(layout),
		lifecycle.WithCallSiteFamilies(families...),
		lifecycle.WithFailureHandler(func(*dispatch.ListenerError) { a.metrics.RecordFailure() }),
	)
	if err != nil {
		return &InitError{Component: "lifecycle", Err: err}
	}

	// 4. Lua listener scripts
	if dir := a.cfg.Plugins.Dir; dir != "" {
		if err := a.startScripts(dir); err != nil {
			return err
		}
	}

	a.sched = newSchedule(a.host, a.svc, a.cfg.Sim.Addons, a.component("sim"), a.metrics)
	return nil
}

func (a *App) defineType(t config.TypeConfig) error {
	if t.Like != "" {
		_, err := a.host.DefineTypeLike(t.Name, t.Like)
		return err
	}
	families, err := t.OverrideFamilies()
	if err != nil {
		return err
	}
	_, err = a.host.DefineType(t.Name, families...)
	return err
}

func (a *App) startScripts(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return &InitError{Component: "plugins", Err: err}
	}
	if !info.IsDir() {
		return &InitError{Component: "plugins", Err: fmt.Errorf("%s is not a directory", dir)}
	}

	a.scripts = lua.NewScripts(a.svc, lua.WithLogger(a.component("lua")))
	if err := a.scripts.LoadDir(dir); err != nil {
		// Non-fatal: the remaining scripts are loaded.
		a.log.Warn().Err(err).Str("dir", dir).Msg("some scripts failed to load")
	}
	a.log.Info().Str("dir", dir).Strs("scripts", a.scripts.Paths()).Msg("scripts loaded")

	if !a.cfg.Plugins.Watch {
		return nil
	}
	a.watch, err = watcher.New(dir,
		watcher.WithDebounce(a.cfg.Plugins.Debounce.Duration),
		watcher.WithFilter(lua.IsScript),
	)
	if err != nil {
		return &InitError{Component: "watcher", Err: err}
	}
	return nil
}

func (a *App) component(name string) zerolog.Logger {
	return a.log.With().Str("component", name).Logger()
}

// Step runs one frame: publish listener changes, play the schedule, then
// update and draw every live addon. Schedule failures are returned joined;
// the frame still completes.
func (a *App) Step(delta float32) error {
	if a.closed.Load() {
		return ErrClosed
	}
	start := time.Now()
	a.frame++

	if changes := a.svc.Tick(); !changes.Empty() {
		a.log.Debug().
			Int("frame", a.frame).
			Int("added", len(changes.Added)).
			Int("removed", len(changes.Removed)).
			Msg("listeners published")
	}

	errs := a.sched.run(a.frame)
	a.host.Frame(delta)

	elapsed := time.Since(start)
	a.metrics.RecordFrame(elapsed)
	if elapsed > a.cfg.Sim.FrameInterval.Duration {
		a.metrics.RecordLateFrame()
	}
	return errors.Join(errs...)
}

// Run drives frames at the configured interval until the configured frame
// count is reached or ctx is cancelled. Script changes seen by the watcher
// are reloaded between frames.
func (a *App) Run(ctx context.Context) error {
	if a.closed.Load() {
		return ErrClosed
	}
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer a.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if a.watch != nil {
		g.Go(func() error {
			a.drainWatchErrors(ctx)
			return nil
		})
	}
	g.Go(func() error {
		defer cancel()
		return a.loop(ctx)
	})
	err := g.Wait()

	snap := a.metrics.Snapshot()
	stats := a.svc.Stats()
	a.log.Info().
		Int("frames", a.frame).
		Dur("avg_frame", time.Duration(snap.AvgFrameTimeNs)).
		Uint64("late", snap.LateFrames).
		Uint64("dispatched", stats.Dispatch.Dispatched).
		Uint64("delivered", stats.Dispatch.Delivered).
		Uint64("failures", stats.Dispatch.Failures).
		Int("listeners", stats.Listeners).
		Msg("simulation finished")
	return err
}

func (a *App) loop(ctx context.Context) error {
	interval := a.cfg.Sim.FrameInterval.Duration
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var events <-chan watcher.Event
	if a.watch != nil {
		events = a.watch.Events()
	}

	last := time.Now()
	for {
		if limit := a.cfg.Sim.Frames; limit > 0 && a.frame >= limit {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			a.reload(ev)

		case now := <-ticker.C:
			delta := now.Sub(last)
			last = now
			if err := a.Step(float32(delta.Seconds())); err != nil {
				if errors.Is(err, ErrClosed) {
					return err
				}
				a.log.Warn().Err(err).Int("frame", a.frame).Msg("schedule action failed")
			}
		}
	}
}

func (a *App) drainWatchErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-a.watch.Errors():
			if !ok {
				return
			}
			a.log.Warn().Err(err).Msg("script watcher error")
		}
	}
}

// reload re-runs or removes the script behind ev. Listener changes it
// makes are published at the next frame's Tick.
func (a *App) reload(ev watcher.Event) {
	a.metrics.RecordReload()
	if err := a.scripts.Reload(ev.Path); err != nil {
		a.log.Error().Err(err).Str("script", ev.Path).Stringer("op", ev.Op).Msg("script reload failed")
		return
	}
	if _, ok := a.scripts.Host(ev.Path); ok {
		a.log.Info().Str("script", ev.Path).Stringer("op", ev.Op).Msg("script reloaded")
	} else {
		a.log.Info().Str("script", ev.Path).Stringer("op", ev.Op).Msg("script removed")
	}
}

// Close stops the watcher, unloads every script and restores the host.
// It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		var errs []error
		if a.watch != nil {
			errs = append(errs, a.watch.Close())
		}
		if a.scripts != nil {
			errs = append(errs, a.scripts.Close())
		}
		if a.svc != nil {
			errs = append(errs, a.svc.Close())
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Host returns the simulated host.
func (a *App) Host() *simhost.Host { return a.host }

// Service returns the lifecycle service.
func (a *App) Service() *lifecycle.Service { return a.svc }

// Scripts returns the loaded scripts, or nil when scripting is disabled.
func (a *App) Scripts() *lua.Scripts { return a.scripts }

// Metrics returns the frame metrics.
func (a *App) Metrics() *Metrics { return a.metrics }

// Frame returns the number of frames run so far.
func (a *App) Frame() int { return a.frame }

// Live returns the names of the scheduled addons currently alive.
func (a *App) Live() []string { return a.sched.names() }

// IsRunning reports whether Run is in progress.
func (a *App) IsRunning() bool { return a.running.Load() }
