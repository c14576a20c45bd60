package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newModesCmd creates `rittyon modes`, which lists the personality catalog.
func newModesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modes",
		Short: "List the personality modes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			catalog, err := cfg.Catalog()
			if err != nil {
				return err
			}
			verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

			out := cmd.OutOrStdout()
			for _, name := range catalog.Modes() {
				marker := ""
				if name == catalog.Default() {
					marker = " (default)"
				}
				fmt.Fprintf(out, "%s%s\n", name, marker)
				if verbose {
					ctx, _ := catalog.ContextFor(name)
					for _, line := range strings.Split(strings.TrimSpace(ctx), "\n") {
						fmt.Fprintf(out, "    %s\n", line)
					}
				}
			}
			return nil
		},
	}
}
