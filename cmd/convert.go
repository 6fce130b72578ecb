package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/jartic-cli/internal/config"
	"github.com/sells-group/jartic-cli/internal/convert"
	"github.com/sells-group/jartic-cli/internal/feature"
	"github.com/sells-group/jartic-cli/internal/geometry"
	"github.com/sells-group/jartic-cli/internal/pipeline"
	"github.com/sells-group/jartic-cli/internal/repair"
	"github.com/sells-group/jartic-cli/internal/sink"
	"github.com/sells-group/jartic-cli/internal/source"
)

// combinedFile is the single collection written when output is not split.
const combinedFile = "all_regulations.geojson"

var (
	convertInput         string
	convertOutput        string
	convertSplit         bool
	convertCharset       string
	convertStrategy      string
	convertPreserveOrder bool
	convertOverridesFile string
	convertChunkSize     int
	convertVerbose       bool
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a regulation CSV export into GeoJSON",
	Long: `Reads a JARTIC regulation CSV, builds a point, line or polygon for every
row from its coordinate cell, repairs invalid geometries and writes GeoJSON.

Examples:
  # One collection with every regulation
  jartic convert --input regulations.csv --output out

  # One collection per regulation code, shift_jis input
  jartic convert --input regulations.csv --output out --split --charset shift_jis`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyConvertFlags(cmd, cfg)
		if err := cfg.Validate("convert"); err != nil {
			return err
		}
		if err := applyVerbose(cfg); err != nil {
			return err
		}

		stats, counts, err := runConvert(ctx, cfg, convertInput, convertOutput, zap.L())
		if err != nil {
			return err
		}
		printConvertSummary(cmd.OutOrStdout(), stats, counts)
		return nil
	},
}

func init() {
	f := convertCmd.Flags()
	f.StringVar(&convertInput, "input", "", "regulation CSV file (required)")
	f.StringVar(&convertOutput, "output", "output", "output directory")
	f.BoolVar(&convertSplit, "split", false, "write one collection per regulation code")
	f.StringVar(&convertCharset, "charset", "", "input charset, e.g. shift_jis (default from config)")
	f.StringVar(&convertStrategy, "strategy", "", "polygon repair strategy: convex_hull or fix_intersections")
	f.BoolVar(&convertPreserveOrder, "preserve-oneway-order", true, "keep vertex order of one-way regulations")
	f.StringVar(&convertOverridesFile, "overrides-file", "", "YAML file of record IDs that always get the repair strategy")
	f.IntVar(&convertChunkSize, "chunk-size", 0, "features per write (default from config)")
	f.BoolVar(&convertVerbose, "verbose", false, "log per-feature detail")
	_ = convertCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(convertCmd)
}

// applyConvertFlags copies explicitly set flags over the loaded config.
func applyConvertFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("split") {
		c.Convert.Split = convertSplit
	}
	if flags.Changed("charset") {
		c.Convert.Charset = convertCharset
	}
	if flags.Changed("strategy") {
		c.Geometry.RepairStrategy = convertStrategy
	}
	if flags.Changed("preserve-oneway-order") {
		c.Geometry.PreserveOnewayOrder = convertPreserveOrder
	}
	if flags.Changed("overrides-file") {
		c.Geometry.OverridesFile = convertOverridesFile
	}
	if flags.Changed("chunk-size") {
		c.Pipeline.ChunkSize = convertChunkSize
	}
	if flags.Changed("verbose") {
		c.Pipeline.Verbose = convertVerbose
	}
}

// runConvert streams input through the resolver into outDir. It returns the
// per-file feature counts of the written collections.
func runConvert(ctx context.Context, c *config.Config, input, outDir string, log *zap.Logger) (pipeline.Stats, map[string]int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	strategy, err := geometry.ParseStrategy(c.Geometry.RepairStrategy)
	if err != nil {
		return pipeline.Stats{}, nil, err
	}
	overrides, err := c.LoadOverrides()
	if err != nil {
		return pipeline.Stats{}, nil, err
	}

	src, err := source.OpenCSV(input, c.CSVOptions(), log)
	if err != nil {
		return pipeline.Stats{}, nil, err
	}
	defer func() { _ = src.Close() }()

	resolver := convert.NewResolver(
		geometry.NewBuilder(strategy, overrides, log),
		repair.New(log),
		c.Geometry.PreserveOnewayOrder,
		log,
	)
	proc, err := pipeline.NewProcessor(c.PipelineOptions(), resolver, log)
	if err != nil {
		return pipeline.Stats{}, nil, err
	}

	var counts func() map[string]int
	stats, err := proc.Run(ctx, src, func(h feature.Header) (pipeline.Sink, error) {
		if c.Convert.Split {
			s := sink.NewSplit(outDir, h, log)
			counts = s.Counts
			return s, nil
		}
		path := filepath.Join(outDir, combinedFile)
		s, err := sink.CreateGeoJSON(path, h)
		if err != nil {
			return nil, err
		}
		counts = func() map[string]int { return map[string]int{path: s.Count()} }
		return s, nil
	})
	if err != nil {
		return stats, nil, eris.Wrapf(err, "convert: %s", input)
	}

	log.Info("convert: complete",
		zap.String("input", input),
		zap.String("output", outDir),
		zap.Int("total", stats.Total),
		zap.Int("written", stats.Written()),
		zap.Int("skipped", stats.Skipped),
		zap.Int("invalid", stats.Invalid),
		zap.Int("fixed", stats.Fixed),
	)
	return stats, counts(), nil
}

func printConvertSummary(w io.Writer, stats pipeline.Stats, counts map[string]int) {
	fmt.Fprintf(w, "Features: %d written, %d skipped of %d\n", stats.Written(), stats.Skipped, stats.Total)
	fmt.Fprintf(w, "Invalid: %d (fixed %d, unfixable %d)\n", stats.Invalid, stats.Fixed, stats.Unfixable)

	paths := make([]string, 0, len(counts))
	for p := range counts {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(w, "  %s: %d\n", p, counts[p])
	}
}
