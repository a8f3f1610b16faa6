package commands

import (
	"github.com/spf13/cobra"

	"github.com/vinayprograms/tasktracker/config"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the merged configuration",
		Long: `Print the configuration tasktracker would start with, after environment
variables and --set overrides are applied, as TOML.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath, config.WithOverrides(opts.overrides...))
			if err != nil {
				return err
			}
			return cfg.WriteTOML(cmd.OutOrStdout())
		},
	}
}
