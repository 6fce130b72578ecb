package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/jartic-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "jartic",
	Short: "JARTIC regulation geometry pipeline",
	Long:  "Converts JARTIC traffic regulation exports into GeoJSON and validates and repairs regulation geometries in bulk.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := c.Validate(""); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// applyVerbose rebuilds the global logger at debug level when verbose
// processing is on.
func applyVerbose(c *config.Config) error {
	if !c.Pipeline.Verbose || c.Log.Level == "debug" {
		return nil
	}
	c.Log.Level = "debug"
	if err := config.InitLogger(c.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
