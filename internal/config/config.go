package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/jartic-cli/internal/feature"
	"github.com/sells-group/jartic-cli/internal/geometry"
	"github.com/sells-group/jartic-cli/internal/pipeline"
	"github.com/sells-group/jartic-cli/internal/source"
)

// Config holds the full application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Geometry GeometryConfig `yaml:"geometry" mapstructure:"geometry"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Convert  ConvertConfig  `yaml:"convert" mapstructure:"convert"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// PipelineConfig configures chunked streaming.
type PipelineConfig struct {
	ChunkSize          int      `yaml:"chunk_size" mapstructure:"chunk_size"`
	MemoryLimitPercent float64  `yaml:"memory_limit_percent" mapstructure:"memory_limit_percent"`
	LargeIntFields     []string `yaml:"large_int_fields" mapstructure:"large_int_fields"`
	Verbose            bool     `yaml:"verbose" mapstructure:"verbose"`
}

// GeometryConfig configures shape construction from coordinate rows.
type GeometryConfig struct {
	PreserveOnewayOrder bool     `yaml:"preserve_oneway_order" mapstructure:"preserve_oneway_order"`
	RepairStrategy      string   `yaml:"repair_strategy" mapstructure:"repair_strategy"`
	Overrides           []string `yaml:"overrides" mapstructure:"overrides"`
	OverridesFile       string   `yaml:"overrides_file" mapstructure:"overrides_file"`
}

// BatchConfig configures directory repair runs.
type BatchConfig struct {
	Workers   int    `yaml:"workers" mapstructure:"workers"`
	Pattern   string `yaml:"pattern" mapstructure:"pattern"`
	Recursive bool   `yaml:"recursive" mapstructure:"recursive"`
	LogDir    string `yaml:"log_dir" mapstructure:"log_dir"`
}

// ConvertConfig configures CSV conversion.
type ConvertConfig struct {
	Charset string        `yaml:"charset" mapstructure:"charset"`
	Split   bool          `yaml:"split" mapstructure:"split"`
	Columns ColumnsConfig `yaml:"columns" mapstructure:"columns"`
}

// ColumnsConfig names the CSV columns that carry regulation fields.
type ColumnsConfig struct {
	Coordinates string `yaml:"coordinates" mapstructure:"coordinates"`
	ID          string `yaml:"id" mapstructure:"id"`
	Kind        string `yaml:"kind" mapstructure:"kind"`
	Regulation  string `yaml:"regulation" mapstructure:"regulation"`
	Direction   string `yaml:"direction" mapstructure:"direction"`
}

// Load reads configuration from config.yaml and JARTIC_* environment
// variables on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("JARTIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("pipeline.chunk_size", 1000)
	v.SetDefault("pipeline.memory_limit_percent", 80.0)
	v.SetDefault("pipeline.large_int_fields", feature.DefaultLargeIntFields)
	v.SetDefault("pipeline.verbose", false)
	v.SetDefault("geometry.preserve_oneway_order", true)
	v.SetDefault("geometry.repair_strategy", string(geometry.StrategyConvexHull))
	v.SetDefault("geometry.overrides", geometry.DefaultOverrides().IDs())
	v.SetDefault("geometry.overrides_file", "")
	v.SetDefault("batch.workers", 0)
	v.SetDefault("batch.pattern", "*.geojson")
	v.SetDefault("batch.recursive", false)
	v.SetDefault("batch.log_dir", "logs")
	v.SetDefault("convert.charset", "utf-8")
	v.SetDefault("convert.split", false)
	v.SetDefault("convert.columns.coordinates", "座標")
	v.SetDefault("convert.columns.id", "ユニークキー")
	v.SetDefault("convert.columns.kind", "点・線・面コード")
	v.SetDefault("convert.columns.regulation", "共通規制種別コード")
	v.SetDefault("convert.columns.direction", "指定・禁止方向の別コード")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command depends on. mode is "convert",
// "repair" or "" for the shared settings only.
func (c *Config) Validate(mode string) error {
	var errs []string

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Sprintf("log.level %q is not a valid level", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Sprintf("log.format must be json or console, got %q", c.Log.Format))
	}
	if c.Pipeline.ChunkSize < 1 {
		errs = append(errs, "pipeline.chunk_size must be > 0")
	}
	if c.Pipeline.MemoryLimitPercent <= 0 || c.Pipeline.MemoryLimitPercent > 100 {
		errs = append(errs, "pipeline.memory_limit_percent must be in (0, 100]")
	}

	switch mode {
	case "":
	case "convert":
		if _, err := geometry.ParseStrategy(c.Geometry.RepairStrategy); err != nil {
			errs = append(errs, fmt.Sprintf("geometry.repair_strategy %q is not supported", c.Geometry.RepairStrategy))
		}
		if c.Convert.Columns.Coordinates == "" {
			errs = append(errs, "convert.columns.coordinates is required")
		}
	case "repair":
		if c.Batch.Workers < 0 {
			errs = append(errs, "batch.workers must be >= 0")
		}
		if c.Batch.Pattern == "" {
			errs = append(errs, "batch.pattern is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// PipelineOptions maps the pipeline section onto processor options.
func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		ChunkSize:          c.Pipeline.ChunkSize,
		MemoryLimitPercent: c.Pipeline.MemoryLimitPercent,
		Verbose:            c.Pipeline.Verbose,
		LargeIntFields:     c.Pipeline.LargeIntFields,
	}
}

// CSVOptions maps the convert section onto CSV source options.
func (c *Config) CSVOptions() source.CSVOptions {
	cols := c.Convert.Columns
	return source.CSVOptions{
		Columns: source.Columns{
			Coordinates: cols.Coordinates,
			ID:          cols.ID,
			Kind:        cols.Kind,
			Regulation:  cols.Regulation,
			Direction:   cols.Direction,
		},
		Charset: c.Convert.Charset,
	}
}

// LoadOverrides returns the configured override IDs, merged with the
// overrides file when one is set.
func (c *Config) LoadOverrides() (geometry.Overrides, error) {
	ids := c.Geometry.Overrides
	if c.Geometry.OverridesFile != "" {
		fromFile, err := geometry.LoadOverrides(c.Geometry.OverridesFile)
		if err != nil {
			return nil, err
		}
		ids = append(append([]string{}, ids...), fromFile.IDs()...)
	}
	return geometry.NewOverrides(ids...), nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
