package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/jartic-cli/internal/geometry"
)

// chdir moves into dir for the rest of the test so Load sees only the files
// written there.
func chdir(t *testing.T, dir string) {
	t.Helper()
	origDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 1000, cfg.Pipeline.ChunkSize)
	assert.InDelta(t, 80.0, cfg.Pipeline.MemoryLimitPercent, 0.001)
	assert.Equal(t, []string{"除外車両コード", "対象車両コード"}, cfg.Pipeline.LargeIntFields)
	assert.True(t, cfg.Geometry.PreserveOnewayOrder)
	assert.Equal(t, "convex_hull", cfg.Geometry.RepairStrategy)
	assert.Equal(t, []string{geometry.DefaultOverrideID}, cfg.Geometry.Overrides)
	assert.Equal(t, 0, cfg.Batch.Workers)
	assert.Equal(t, "*.geojson", cfg.Batch.Pattern)
	assert.False(t, cfg.Batch.Recursive)
	assert.Equal(t, "utf-8", cfg.Convert.Charset)
	assert.Equal(t, "座標", cfg.Convert.Columns.Coordinates)
	assert.Equal(t, "ユニークキー", cfg.Convert.Columns.ID)
	assert.Equal(t, "点・線・面コード", cfg.Convert.Columns.Kind)
	assert.Equal(t, "共通規制種別コード", cfg.Convert.Columns.Regulation)
	assert.Equal(t, "指定・禁止方向の別コード", cfg.Convert.Columns.Direction)

	require.NoError(t, cfg.Validate("convert"))
	require.NoError(t, cfg.Validate("repair"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	yaml := `
log:
  level: debug
  format: console
pipeline:
  chunk_size: 250
geometry:
  repair_strategy: fix_intersections
batch:
  workers: 4
  recursive: true
convert:
  charset: shift_jis
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 250, cfg.Pipeline.ChunkSize)
	assert.Equal(t, "fix_intersections", cfg.Geometry.RepairStrategy)
	assert.Equal(t, 4, cfg.Batch.Workers)
	assert.True(t, cfg.Batch.Recursive)
	assert.Equal(t, "shift_jis", cfg.Convert.Charset)
	// Defaults still apply for unset values
	assert.Equal(t, "*.geojson", cfg.Batch.Pattern)
	assert.True(t, cfg.Geometry.PreserveOnewayOrder)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	yaml := `
log:
  level: debug
pipeline:
  chunk_size: 250
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("JARTIC_LOG_LEVEL", "warn")
	t.Setenv("JARTIC_PIPELINE_CHUNK_SIZE", "50")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 50, cfg.Pipeline.ChunkSize)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	t.Setenv("JARTIC_GEOMETRY_PRESERVE_ONEWAY_ORDER", "false")
	t.Setenv("JARTIC_BATCH_WORKERS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Geometry.PreserveOnewayOrder)
	assert.Equal(t, 3, cfg.Batch.Workers)
}

func TestLoadBadYAML(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the defaults Load would produce.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Log = LogConfig{Level: "info", Format: "json"}
	cfg.Pipeline.ChunkSize = 1000
	cfg.Pipeline.MemoryLimitPercent = 80
	cfg.Geometry.RepairStrategy = "convex_hull"
	cfg.Batch.Pattern = "*.geojson"
	cfg.Convert.Columns.Coordinates = "座標"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "shared ok", mode: ""},
		{name: "convert ok", mode: "convert"},
		{name: "repair ok", mode: "repair"},
		{name: "bad level", mode: "", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "log.level"},
		{name: "bad format", mode: "", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log.format"},
		{name: "zero chunk", mode: "repair", mutate: func(c *Config) { c.Pipeline.ChunkSize = 0 }, wantErr: "pipeline.chunk_size must be > 0"},
		{name: "memory over 100", mode: "convert", mutate: func(c *Config) { c.Pipeline.MemoryLimitPercent = 120 }, wantErr: "memory_limit_percent"},
		{name: "bad strategy", mode: "convert", mutate: func(c *Config) { c.Geometry.RepairStrategy = "buffer" }, wantErr: "repair_strategy"},
		{name: "strategy ignored for repair", mode: "repair", mutate: func(c *Config) { c.Geometry.RepairStrategy = "buffer" }},
		{name: "no coordinates column", mode: "convert", mutate: func(c *Config) { c.Convert.Columns.Coordinates = "" }, wantErr: "convert.columns.coordinates"},
		{name: "negative workers", mode: "repair", mutate: func(c *Config) { c.Batch.Workers = -1 }, wantErr: "batch.workers"},
		{name: "empty pattern", mode: "repair", mutate: func(c *Config) { c.Batch.Pattern = "" }, wantErr: "batch.pattern"},
		{name: "unknown mode", mode: "serve", wantErr: "unknown mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate(tt.mode)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Pipeline.ChunkSize = 0
	cfg.Batch.Workers = -2

	err := cfg.Validate("repair")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_size")
	assert.Contains(t, err.Error(), "batch.workers")
}

func TestPipelineAndCSVOptions(t *testing.T) {
	cfg := validDefaults()
	cfg.Pipeline.LargeIntFields = []string{"code"}
	cfg.Convert.Charset = "shift_jis"
	cfg.Convert.Columns.Direction = "dir"

	opts := cfg.PipelineOptions()
	assert.Equal(t, 1000, opts.ChunkSize)
	assert.Equal(t, []string{"code"}, opts.LargeIntFields)
	require.NoError(t, opts.Validate())

	csvOpts := cfg.CSVOptions()
	assert.Equal(t, "shift_jis", csvOpts.Charset)
	assert.Equal(t, "座標", csvOpts.Columns.Coordinates)
	assert.Equal(t, "dir", csvOpts.Columns.Direction)
}

func TestLoadOverridesMergesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("overrides:\n  - \"42\"\n"), 0o644))

	cfg := validDefaults()
	cfg.Geometry.Overrides = []string{geometry.DefaultOverrideID}
	cfg.Geometry.OverridesFile = path

	o, err := cfg.LoadOverrides()
	require.NoError(t, err)
	assert.True(t, o.Contains("42"))
	assert.True(t, o.Contains(geometry.DefaultOverrideID))

	cfg.Geometry.OverridesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.LoadOverrides()
	assert.Error(t, err)
}
