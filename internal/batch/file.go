package batch

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/jartic-cli/internal/convert"
	"github.com/sells-group/jartic-cli/internal/feature"
	"github.com/sells-group/jartic-cli/internal/pipeline"
	"github.com/sells-group/jartic-cli/internal/repair"
	"github.com/sells-group/jartic-cli/internal/sink"
	"github.com/sells-group/jartic-cli/internal/source"
)

// Job is one input file and where its output and log go.
type Job struct {
	Path   string
	Rel    string
	Output string
	Log    string
}

// newJob derives output and log paths from the path relative to the input
// directory: <out>/<dir>/<stem>_fixed<ext> and <logs>/<dir>/<stem>.log.
// Shapefile inputs are written as GeoJSON.
func newJob(opts Options, path, rel string) Job {
	ext := filepath.Ext(rel)
	stem := strings.TrimSuffix(rel, ext)
	if strings.EqualFold(ext, ".shp") {
		ext = ".geojson"
	}
	return Job{
		Path:   path,
		Rel:    rel,
		Output: filepath.Join(opts.OutputDir, stem+"_fixed"+ext),
		Log:    filepath.Join(opts.LogDir, stem+".log"),
	}
}

// ProcessFunc runs one file end to end and returns its stats. It owns every
// resource it touches so files can run in parallel.
type ProcessFunc func(ctx context.Context, job Job, log *zap.Logger) (pipeline.Stats, error)

// RepairFile returns a ProcessFunc that validates and repairs each feature
// of a GeoJSON or shapefile input and writes a GeoJSON collection.
func RepairFile(opts pipeline.Options) ProcessFunc {
	return func(ctx context.Context, job Job, log *zap.Logger) (pipeline.Stats, error) {
		src, err := source.Open(job.Path, log)
		if err != nil {
			return pipeline.Stats{}, err
		}
		defer func() { _ = src.Close() }()

		resolver := convert.NewRepairResolver(repair.New(log), log)
		proc, err := pipeline.NewProcessor(opts, resolver, log)
		if err != nil {
			return pipeline.Stats{}, err
		}

		return proc.Run(ctx, src, func(h feature.Header) (pipeline.Sink, error) {
			out, err := sink.CreateGeoJSON(job.Output, h)
			if err != nil {
				return nil, err
			}
			return out, nil
		})
	}
}

// fileLogger opens a console-encoded logger writing to path.
func fileLogger(path string, verbose bool) (*zap.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, eris.Wrapf(err, "batch: create log dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "batch: create log %s", path)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	log := zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), level))
	return log, func() {
		_ = log.Sync()
		_ = f.Close()
	}, nil
}
