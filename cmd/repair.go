package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/jartic-cli/internal/batch"
	"github.com/sells-group/jartic-cli/internal/config"
)

var (
	repairInput     string
	repairOutput    string
	repairLogDir    string
	repairPattern   string
	repairRecursive bool
	repairWorkers   int
	repairChunkSize int
	repairVerbose   bool
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Validate and repair geometries in a directory of GeoJSON or shapefiles",
	Long: `Checks every feature of every matching file, repairs invalid geometries
through a chain of strategies and writes <name>_fixed.geojson next to the
mirrored input path. Per-file logs and a summary report go to the log directory.

Examples:
  # Every GeoJSON under data/, eight workers
  jartic repair --input data --output fixed --recursive --workers 8

  # Shapefiles in a single directory, sequentially
  jartic repair --input shp --output fixed --pattern '*.shp' --workers 1`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyRepairFlags(cmd, cfg)
		if err := cfg.Validate("repair"); err != nil {
			return err
		}
		if err := applyVerbose(cfg); err != nil {
			return err
		}

		o := batch.New(repairOptions(cfg, repairInput, repairOutput),
			batch.RepairFile(cfg.PipelineOptions()), zap.L())
		report, runErr := o.Run(ctx)
		if report == nil {
			return runErr
		}

		jsonPath, textPath, err := report.Write(cfg.Batch.LogDir)
		if err != nil {
			return err
		}
		printRepairSummary(cmd.OutOrStdout(), report, jsonPath, textPath)
		return runErr
	},
}

func init() {
	f := repairCmd.Flags()
	f.StringVar(&repairInput, "input", "", "input directory (required)")
	f.StringVar(&repairOutput, "output", "", "output directory (required)")
	f.StringVar(&repairLogDir, "log-dir", "", "per-file logs and summary reports (default from config)")
	f.StringVar(&repairPattern, "pattern", "", "file glob, e.g. *.geojson or *.shp (default from config)")
	f.BoolVar(&repairRecursive, "recursive", false, "match files in subdirectories")
	f.IntVar(&repairWorkers, "workers", 0, "parallel files; 0 uses every CPU, 1 runs sequentially")
	f.IntVar(&repairChunkSize, "chunk-size", 0, "features per write (default from config)")
	f.BoolVar(&repairVerbose, "verbose", false, "log per-feature detail")
	_ = repairCmd.MarkFlagRequired("input")
	_ = repairCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(repairCmd)
}

// applyRepairFlags copies explicitly set flags over the loaded config.
func applyRepairFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-dir") {
		c.Batch.LogDir = repairLogDir
	}
	if flags.Changed("pattern") {
		c.Batch.Pattern = repairPattern
	}
	if flags.Changed("recursive") {
		c.Batch.Recursive = repairRecursive
	}
	if flags.Changed("workers") {
		c.Batch.Workers = repairWorkers
	}
	if flags.Changed("chunk-size") {
		c.Pipeline.ChunkSize = repairChunkSize
	}
	if flags.Changed("verbose") {
		c.Pipeline.Verbose = repairVerbose
	}
}

func repairOptions(c *config.Config, input, output string) batch.Options {
	return batch.Options{
		InputDir:           input,
		OutputDir:          output,
		LogDir:             c.Batch.LogDir,
		Pattern:            c.Batch.Pattern,
		Recursive:          c.Batch.Recursive,
		Workers:            c.Batch.Workers,
		MemoryLimitPercent: c.Pipeline.MemoryLimitPercent,
		Verbose:            c.Pipeline.Verbose,
	}
}

func printRepairSummary(w io.Writer, r *batch.Report, jsonPath, textPath string) {
	fmt.Fprintf(w, "Files: %d processed, %d with errors\n", r.TotalFiles, r.ErrorFiles)
	fmt.Fprintf(w, "Features: %d total, %d invalid, %d fixed, %d unfixable, %d skipped\n",
		r.Totals.Total, r.Totals.Invalid, r.Totals.Fixed, r.Totals.Unfixable, r.Totals.Skipped)
	fmt.Fprintf(w, "Success rate: %.2f%%\n", r.SuccessRate)
	fmt.Fprintf(w, "Report: %s\n", jsonPath)
	fmt.Fprintf(w, "Summary: %s\n", textPath)
}
