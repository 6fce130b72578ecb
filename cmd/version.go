package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/jartic-cli/internal/repair"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// No config or logger needed.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "jartic %s (GEOS %s)\n", version, repair.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
