// Package commands implements the ccbot CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ccbot",
		Short: "ccbot - Discord chat assistant",
		Long: `ccbot is a Discord chat assistant with two interchangeable
completion providers selected by trigger prefix, rolling per-user chat
history and confirmation-gated admin commands.

Examples:
  ccbot serve
  ccbot serve --config ./config.yaml
  ccbot config show`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
