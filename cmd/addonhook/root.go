package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dshills/addonhook/internal/config"
)

// rootFlags are shared by every command.
type rootFlags struct {
	configPath string
	logLevel   string
	logFile    string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "addonhook",
		Short: "Addon lifecycle interception engine",
		Long: `addonhook intercepts the lifecycle functions of UI addons, dispatches
Pre/Post events to registered listeners and lets listeners rewrite the
arguments before the original runs.

Quick start:
  addonhook simulate                       # run the built-in scenario
  addonhook simulate --scripts ./scripts   # with Lua listeners
  addonhook layout                         # print the effective layout`,
		SilenceUsage: true,
		Version:      version,
	}
	cmd.SetVersionTemplate(fmt.Sprintf("addonhook %s (commit: %s)\n", version, commit))

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Path to a TOML configuration file")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	pf.StringVar(&flags.logFile, "log-file", "", "Also write JSON logs to this rotated file")

	cmd.AddCommand(
		newSimulateCmd(flags),
		newLayoutCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

// load builds the effective configuration: defaults, the config file, the
// environment, then any flag the user actually set.
func (f *rootFlags) load(fs *pflag.FlagSet, apply func(*config.Config, *pflag.FlagSet)) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fs.Changed("log-file") {
		cfg.Log.File = f.logFile
	}
	if apply != nil {
		apply(cfg, fs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
