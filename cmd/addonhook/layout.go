package main

import (
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/dshills/addonhook/internal/config"
)

func newLayoutCmd(root *rootFlags) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Print the effective addon layout and routing as TOML",
		Long: `Prints the dispatch-table layout and the call-site routing that would be
used after applying the config file and ADDONHOOK_* environment variables.
With --all the whole effective configuration is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(cmd.Flags(), nil)
			if err != nil {
				return err
			}
			if all {
				return cfg.Encode(cmd.OutOrStdout())
			}

			enc := toml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndentTables(true)
			return enc.Encode(struct {
				Layout  config.LayoutConfig  `toml:"layout"`
				Routing config.RoutingConfig `toml:"routing"`
			}{cfg.Layout, cfg.Routing})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Print the whole configuration")
	return cmd
}
