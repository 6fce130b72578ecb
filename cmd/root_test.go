package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/jartic-cli/internal/batch"
	"github.com/sells-group/jartic-cli/internal/config"
	"github.com/sells-group/jartic-cli/internal/pipeline"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"convert", "repair", "version"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "jartic", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestConvertCommand_Flags(t *testing.T) {
	for _, name := range []string{"input", "output", "split", "charset", "strategy", "preserve-oneway-order", "overrides-file", "chunk-size", "verbose"} {
		assert.NotNil(t, convertCmd.Flags().Lookup(name), "convert should have --%s flag", name)
	}
	assert.Equal(t, "output", convertCmd.Flags().Lookup("output").DefValue)
	assert.Equal(t, "true", convertCmd.Flags().Lookup("preserve-oneway-order").DefValue)
}

func TestRepairCommand_Flags(t *testing.T) {
	for _, name := range []string{"input", "output", "log-dir", "pattern", "recursive", "workers", "chunk-size", "verbose"} {
		assert.NotNil(t, repairCmd.Flags().Lookup(name), "repair should have --%s flag", name)
	}
	assert.Equal(t, "0", repairCmd.Flags().Lookup("workers").DefValue)
}

// loadConfig returns the defaults Load produces with no config file present.
func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	origDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(origDir) })

	c, err := config.Load()
	require.NoError(t, err)
	return c
}

func TestApplyFlags_OnlyChangedFlagsOverride(t *testing.T) {
	c := loadConfig(t)

	require.NoError(t, convertCmd.Flags().Set("charset", "shift_jis"))
	require.NoError(t, convertCmd.Flags().Set("preserve-oneway-order", "false"))
	applyConvertFlags(convertCmd, c)

	assert.Equal(t, "shift_jis", c.Convert.Charset)
	assert.False(t, c.Geometry.PreserveOnewayOrder)
	assert.Equal(t, "convex_hull", c.Geometry.RepairStrategy)
	assert.Equal(t, 1000, c.Pipeline.ChunkSize)

	require.NoError(t, repairCmd.Flags().Set("workers", "1"))
	require.NoError(t, repairCmd.Flags().Set("pattern", "*.shp"))
	applyRepairFlags(repairCmd, c)

	opts := repairOptions(c, "in", "out")
	assert.Equal(t, 1, opts.Workers)
	assert.Equal(t, "*.shp", opts.Pattern)
	assert.Equal(t, "logs", opts.LogDir)
	assert.False(t, opts.Recursive)
	assert.InDelta(t, 80.0, opts.MemoryLimitPercent, 0.001)
}

const regulationsCSV = "ユニークキー,共通規制種別コード,点・線・面コード,指定・禁止方向の別コード,座標\n" +
	"k1,11,2,2,\"139.0 35.0;139.1 35.1;139.2 35.2\"\n" +
	"k2,01,1,,139.5 35.5\n" +
	"k3,11,,,\n"

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regs.csv")
	require.NoError(t, os.WriteFile(path, []byte(regulationsCSV), 0o600))
	return path
}

func TestRunConvert_Combined(t *testing.T) {
	c := loadConfig(t)
	out := t.TempDir()

	stats, counts, err := runConvert(context.Background(), c, writeCSV(t), out, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, map[string]int{filepath.Join(out, combinedFile): 2}, counts)

	data, err := os.ReadFile(filepath.Join(out, combinedFile))
	require.NoError(t, err)

	var fc struct {
		Features []struct {
			ID         string         `json:"id"`
			Properties map[string]any `json:"properties"`
			Geometry   struct {
				Type string `json:"type"`
			} `json:"geometry"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &fc))
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "k1", fc.Features[0].ID)
	assert.Equal(t, "LineString", fc.Features[0].Geometry.Type)
	assert.Equal(t, true, fc.Features[0].Properties["is_oneway"])
	assert.Equal(t, "Point", fc.Features[1].Geometry.Type)
}

func TestRunConvert_Split(t *testing.T) {
	c := loadConfig(t)
	c.Convert.Split = true
	out := t.TempDir()

	_, counts, err := runConvert(context.Background(), c, writeCSV(t), out, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		filepath.Join(out, "regulation_11.geojson"): 1,
		filepath.Join(out, "regulation_01.geojson"): 1,
	}, counts)

	var buf bytes.Buffer
	printConvertSummary(&buf, pipeline.Stats{Total: 3, Skipped: 1}, counts)
	assert.Contains(t, buf.String(), "Features: 2 written, 1 skipped of 3")
	assert.Contains(t, buf.String(), "regulation_01.geojson: 1")
}

func TestRunConvert_Errors(t *testing.T) {
	c := loadConfig(t)

	_, _, err := runConvert(context.Background(), c, filepath.Join(t.TempDir(), "missing.csv"), t.TempDir(), nil)
	assert.Error(t, err)

	c.Geometry.RepairStrategy = "buffer"
	_, _, err = runConvert(context.Background(), c, writeCSV(t), t.TempDir(), nil)
	assert.Error(t, err)
}

func TestPrintRepairSummary(t *testing.T) {
	r := &batch.Report{TotalFiles: 4, ErrorFiles: 1, SuccessRate: 50}
	r.Totals = pipeline.Stats{Total: 10, Invalid: 2, Fixed: 1, Unfixable: 1}

	var buf bytes.Buffer
	printRepairSummary(&buf, r, "logs/summary.json", "logs/summary.txt")
	assert.Contains(t, buf.String(), "Files: 4 processed, 1 with errors")
	assert.Contains(t, buf.String(), "Success rate: 50.00%")
	assert.Contains(t, buf.String(), "Summary: logs/summary.txt")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, buf.String(), "jartic dev (GEOS ")
}

func TestApplyVerbose_RaisesGlobalLevel(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	c := loadConfig(t)
	require.NoError(t, config.InitLogger(c.Log))
	require.False(t, zap.L().Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, applyVerbose(c))
	assert.False(t, zap.L().Core().Enabled(zapcore.DebugLevel), "quiet runs keep the configured level")

	c.Pipeline.Verbose = true
	require.NoError(t, applyVerbose(c))
	assert.Equal(t, "debug", c.Log.Level)
	assert.True(t, zap.L().Core().Enabled(zapcore.DebugLevel))
}

func TestRunConvert_VerboseLogsFeatures(t *testing.T) {
	c := loadConfig(t)
	c.Pipeline.Verbose = true

	core, logs := observer.New(zapcore.DebugLevel)
	_, _, err := runConvert(context.Background(), c, writeCSV(t), t.TempDir(), zap.New(core))
	require.NoError(t, err)

	resolved := logs.FilterMessage("pipeline: feature resolved")
	assert.Equal(t, 2, resolved.Len())
	assert.Equal(t, "k1", resolved.All()[0].ContextMap()["id"])

	c.Pipeline.Verbose = false
	core, logs = observer.New(zapcore.DebugLevel)
	_, _, err = runConvert(context.Background(), c, writeCSV(t), t.TempDir(), zap.New(core))
	require.NoError(t, err)
	assert.Zero(t, logs.FilterMessage("pipeline: feature resolved").Len())
}
