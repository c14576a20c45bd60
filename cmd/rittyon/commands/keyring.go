package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rittyon/rittyonbot/pkg/rittyon/copilot"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// newKeyringCmd creates `rittyon keyring`, which stores secrets in the OS
// keyring so they never sit in config.yaml.
func newKeyringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Store or remove secrets in the OS keyring",
		Long: `Store the Discord token or the Gemini API key in the operating system's
keyring. Environment variables and config values take precedence.

Keys: ` + strings.Join(copilot.KeyringKeys, ", ") + `

Examples:
  rittyon keyring set discord_token
  echo "$KEY" | rittyon keyring set api_key
  rittyon keyring delete api_key`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:       "set <key>",
			Short:     "Store a secret (read from the terminal or stdin)",
			Args:      cobra.ExactArgs(1),
			ValidArgs: copilot.KeyringKeys,
			RunE: func(cmd *cobra.Command, args []string) error {
				value, err := readSecret(cmd, args[0])
				if err != nil {
					return err
				}
				if err := copilot.StoreKeyring(args[0], value); err != nil {
					return fmt.Errorf("storing %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s stored in keyring.\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:       "delete <key>",
			Short:     "Remove a stored secret",
			Args:      cobra.ExactArgs(1),
			ValidArgs: copilot.KeyringKeys,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := copilot.DeleteKeyring(args[0]); err != nil {
					return fmt.Errorf("deleting %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s removed from keyring.\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

// readSecret reads a secret without echo when stdin is a terminal, or the
// first line of stdin otherwise.
func readSecret(cmd *cobra.Command, key string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: ", key)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", key, err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading %s from stdin: %w", key, err)
	}
	return strings.TrimSpace(line), nil
}
