// Package commands implements the rittyon CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rittyon",
		Short: "rittyon - a Discord chat bot with switchable personalities",
		Long: `rittyon is a Discord bot that chats through Gemini in one of several
personalities and posts a daily attendance poll to a chosen channel.

Examples:
  rittyon serve
  rittyon serve --config ./config.yaml
  rittyon config validate
  rittyon keyring set discord_token`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(version),
		newConfigCmd(),
		newModesCmd(),
		newKeyringCmd(),
	)

	// Global flags.
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
