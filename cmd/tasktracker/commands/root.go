// Package commands implements the tasktracker command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/vinayprograms/tasktracker/boot"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

type rootOptions struct {
	configPath string
	overrides  []string
}

// NewRootCommand builds the tasktracker command tree. Running it without a
// subcommand boots the server and blocks until it shuts down.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tasktracker",
		Short: "TaskTracker API server",
		Long: `TaskTracker serves the task tracker API.

Configuration is read from the defaults file (built in unless --config is
given), then TASKTRACKER_* environment variables, then --set overrides.

Examples:
  # Start with the built-in defaults
  tasktracker

  # Start on another port in production
  tasktracker --set server.port=8080 --set env=production

  # Override through the environment
  TASKTRACKER_LOG_LEVEL=debug tasktracker`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "defaults file (TOML); built-in defaults when empty")
	cmd.PersistentFlags().StringArrayVar(&opts.overrides, "set", nil, "override a setting, e.g. --set server.port=8080 (repeatable)")

	cmd.AddCommand(newConfigCommand(opts))
	cmd.AddCommand(newVersionCommand())
	cmd.CompletionOptions.DisableDefaultCmd = true
	return cmd
}

func runServer(cmd *cobra.Command, opts *rootOptions) error {
	ctrl, err := boot.Run(cmd.Context(), boot.Options{
		ConfigPath: opts.configPath,
		Overrides:  opts.overrides,
		Stdout:     cmd.OutOrStdout(),
		Stderr:     cmd.ErrOrStderr(),
	})
	if err != nil {
		// Run has already reported the failure and exited.
		return nil
	}
	<-ctrl.Done()
	return nil
}
