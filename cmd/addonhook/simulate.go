package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dshills/addonhook/internal/app"
	"github.com/dshills/addonhook/internal/config"
	"github.com/dshills/addonhook/internal/logger"
)

type simulateFlags struct {
	scripts  string
	symbols  string
	frames   int
	interval time.Duration
	watch    bool
	quiet    bool
}

func newSimulateCmd(root *rootFlags) *cobra.Command {
	flags := &simulateFlags{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the simulated host with the lifecycle engine attached",
		Long: `Runs the configured addon timeline against a simulated host. Addons are
created, shown, hidden, sent input events and destroyed on schedule while
every frame updates and draws the live ones. Lua scripts in --scripts
register listeners through lifecycle.on; with --watch they are reloaded
when they change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(cmd.Flags(), flags.apply)
			if err != nil {
				return err
			}
			return runSimulate(cmd, cfg, flags.quiet)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.scripts, "scripts", "s", "", "Directory of Lua listener scripts")
	f.StringVar(&flags.symbols, "symbols", "", "YAML symbol table overlaid on the host's symbols")
	f.IntVarP(&flags.frames, "frames", "n", 0, "Frames to run (0 runs until interrupted)")
	f.DurationVar(&flags.interval, "interval", 0, "Frame interval")
	f.BoolVarP(&flags.watch, "watch", "w", false, "Reload scripts when they change")
	f.BoolVarP(&flags.quiet, "quiet", "q", false, "No console logging")
	return cmd
}

func (f *simulateFlags) apply(cfg *config.Config, fs *pflag.FlagSet) {
	if fs.Changed("scripts") {
		cfg.Plugins.Dir = f.scripts
	}
	if fs.Changed("symbols") {
		cfg.Resolver.File = f.symbols
	}
	if fs.Changed("frames") {
		cfg.Sim.Frames = f.frames
	}
	if fs.Changed("interval") {
		cfg.Sim.FrameInterval = config.Duration{Duration: f.interval}
	}
	if fs.Changed("watch") {
		cfg.Plugins.Watch = f.watch
	}
}

func runSimulate(cmd *cobra.Command, cfg *config.Config, quiet bool) error {
	log, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Console:    cmd.ErrOrStderr(),
		NoColor:    cfg.Log.NoColor,
		Quiet:      quiet,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return err
	}
	defer log.Close()

	a, err := app.New(app.Options{Config: cfg, Logger: &log.Logger})
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info().
		Str("version", version).
		Int("frames", cfg.Sim.Frames).
		Dur("interval", cfg.Sim.FrameInterval.Duration).
		Strs("callsite", cfg.Routing.CallSite).
		Msg("simulation starting")

	if err := a.Run(cmd.Context()); err != nil {
		return err
	}
	return printSummary(cmd.OutOrStdout(), a)
}

func printSummary(w io.Writer, a *app.App) error {
	snap := a.Metrics().Snapshot()
	stats := a.Service().Stats()

	rows := []struct {
		name  string
		value any
	}{
		{"frames", snap.FrameCount},
		{"avg frame", time.Duration(snap.AvgFrameTimeNs)},
		{"late frames", snap.LateFrames},
		{"addons created", snap.Spawned},
		{"addons detached", snap.Detached},
		{"addons destroyed", snap.Destroyed},
		{"listeners", stats.Listeners},
		{"events dispatched", stats.Dispatch.Dispatched},
		{"deliveries", stats.Dispatch.Delivered},
		{"listener failures", stats.Dispatch.Failures},
		{"script reloads", snap.Reloads},
		{"tables attached", stats.Tables.Attached},
		{"call sites", stats.Sites.Sites},
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%-18s %v\n", r.name, r.value); err != nil {
			return err
		}
	}
	if unresolved := a.Service().Unresolved(); len(unresolved) > 0 {
		if _, err := fmt.Fprintf(w, "%-18s %v\n", "unresolved", unresolved); err != nil {
			return err
		}
	}
	return nil
}
