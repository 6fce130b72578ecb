// Package batch runs the repair pipeline over a directory of files,
// sequentially or on a bounded worker pool, and reports the aggregate.
package batch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/jartic-cli/internal/pipeline"
)

// maxBatchSize caps the number of files dispatched between merge points.
const maxBatchSize = 100

// Options configures a batch run.
type Options struct {
	InputDir           string
	OutputDir          string
	LogDir             string
	Pattern            string
	Recursive          bool
	Workers            int // 0 uses every CPU
	MemoryLimitPercent float64
	Verbose            bool
}

// Orchestrator discovers input files and runs a ProcessFunc on each.
type Orchestrator struct {
	opts    Options
	process ProcessFunc
	log     *zap.Logger

	sample  func() pipeline.Memory
	collect func()
	now     func() time.Time
}

// New returns an Orchestrator.
func New(opts Options, process ProcessFunc, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Pattern == "" {
		opts.Pattern = "*.geojson"
	}
	if opts.MemoryLimitPercent <= 0 {
		opts.MemoryLimitPercent = 80
	}
	return &Orchestrator{
		opts:    opts,
		process: process,
		log:     log,
		sample:  pipeline.SampleMemory,
		collect: runtime.GC,
		now:     time.Now,
	}
}

// Run processes every matching file. Only a missing or unreadable input
// directory fails the run; file failures are recorded in the report.
// Cancelling ctx stops dispatching new files and returns the partial report
// with ctx's error.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	start := o.now()

	info, err := os.Stat(o.opts.InputDir)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: input directory %s", o.opts.InputDir)
	}
	if !info.IsDir() {
		return nil, eris.Errorf("batch: input %s is not a directory", o.opts.InputDir)
	}

	jobs, err := o.discover()
	if err != nil {
		return nil, err
	}

	report := newReport(o.opts, start)
	if len(jobs) == 0 {
		o.log.Warn("batch: no files match pattern",
			zap.String("dir", o.opts.InputDir),
			zap.String("pattern", o.opts.Pattern),
			zap.Bool("recursive", o.opts.Recursive),
		)
		report.finish(nil, o.sample(), o.now())
		return report, nil
	}

	for _, dir := range []string{o.opts.OutputDir, o.opts.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "batch: create %s", dir)
		}
	}

	workers := o.workers()
	o.log.Info("batch: starting",
		zap.Int("files", len(jobs)),
		zap.Int("workers", workers),
		zap.String("input", o.opts.InputDir),
	)

	var results []FileResult
	if workers <= 1 {
		results, err = o.runSequential(ctx, jobs, start)
	} else {
		results, err = o.runParallel(ctx, jobs, workers, start)
	}

	report.finish(results, o.sample(), o.now())
	o.log.Info("batch: complete",
		zap.Int("files", report.TotalFiles),
		zap.Int("error_files", report.ErrorFiles),
		zap.Int("features", report.Totals.Total),
		zap.Int("fixed", report.Totals.Fixed),
		zap.Duration("elapsed", o.now().Sub(start).Round(time.Millisecond)),
	)
	return report, err
}

func (o *Orchestrator) workers() int {
	if o.opts.Workers == 0 {
		return runtime.NumCPU()
	}
	return o.opts.Workers
}

// batchSize balances worker count against the number of files.
func batchSize(files, workers int) int {
	return max(1, min(maxBatchSize, files/workers))
}

func (o *Orchestrator) runSequential(ctx context.Context, jobs []Job, start time.Time) ([]FileResult, error) {
	results := make([]FileResult, 0, len(jobs))
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			return results, eris.Wrap(err, "batch: cancelled")
		}
		o.log.Info("batch: processing file", zap.Int("n", i+1), zap.Int("of", len(jobs)), zap.String("file", job.Rel))
		results = append(results, o.processFile(ctx, job))
		o.progress(i+1, len(jobs), start)
		o.checkMemory()
	}
	return results, nil
}

// runParallel dispatches jobs in batches. Within a batch files run on a
// pool of workers and post results to a channel; stats are merged after the
// batch barrier.
func (o *Orchestrator) runParallel(ctx context.Context, jobs []Job, workers int, start time.Time) ([]FileResult, error) {
	size := batchSize(len(jobs), workers)
	results := make([]FileResult, 0, len(jobs))

	for lo := 0; lo < len(jobs); lo += size {
		if err := ctx.Err(); err != nil {
			return results, eris.Wrap(err, "batch: cancelled")
		}
		hi := min(lo+size, len(jobs))
		batch := jobs[lo:hi]

		type indexed struct {
			i   int
			res FileResult
		}
		resCh := make(chan indexed, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i, job := range batch {
			g.Go(func() error {
				resCh <- indexed{i: i, res: o.processFile(gctx, job)}
				return nil // file errors are reported, not propagated
			})
		}
		_ = g.Wait()
		close(resCh)

		merged := make([]FileResult, len(batch))
		for r := range resCh {
			merged[r.i] = r.res
		}
		results = append(results, merged...)

		o.progress(hi, len(jobs), start)
		o.checkMemory()
	}
	return results, nil
}

// processFile runs one job with its own logger. Errors and panics become a
// FileResult with zeroed counters.
func (o *Orchestrator) processFile(ctx context.Context, job Job) (res FileResult) {
	started := o.now()
	res = FileResult{File: job.Rel, Output: job.Output, Log: job.Log, Stats: pipeline.NewStats()}

	defer func() {
		if r := recover(); r != nil {
			res.Stats = pipeline.NewStats()
			res.Error = fmt.Sprintf("panic: %v", r)
			o.log.Error("batch: file panicked", zap.String("file", job.Rel), zap.Any("panic", r))
		}
		res.Seconds = o.now().Sub(started).Seconds()
	}()

	log, closeLog, err := fileLogger(job.Log, o.opts.Verbose)
	if err != nil {
		res.Error = err.Error()
		o.log.Error("batch: open file log", zap.String("file", job.Rel), zap.Error(err))
		return res
	}
	defer closeLog()

	log.Info("processing file", zap.String("input", job.Path), zap.String("output", job.Output))
	stats, err := o.process(ctx, job, log)
	if err != nil {
		log.Error("file failed", zap.Error(err))
		o.log.Error("batch: file failed", zap.String("file", job.Rel), zap.Error(err))
		res.Error = err.Error()
		return res
	}

	res.Stats = stats
	log.Info("file complete",
		zap.Int("total", stats.Total),
		zap.Int("invalid", stats.Invalid),
		zap.Int("fixed", stats.Fixed),
		zap.Int("unfixable", stats.Unfixable),
		zap.Int("skipped", stats.Skipped),
	)
	return res
}

func (o *Orchestrator) progress(done, total int, start time.Time) {
	elapsed := o.now().Sub(start)
	eta := time.Duration(float64(elapsed) / float64(done) * float64(total-done))
	o.log.Info("batch: progress",
		zap.Int("done", done),
		zap.Int("total", total),
		zap.Float64("percent", float64(done)/float64(total)*100),
		zap.Duration("elapsed", elapsed.Round(time.Second)),
		zap.Duration("eta", eta.Round(time.Second)),
	)
}

// checkMemory logs memory use and forces a GC pass.
func (o *Orchestrator) checkMemory() {
	mem := o.sample()
	fields := []zap.Field{
		zap.Float64("rss_mb", mem.RSSMB()),
		zap.Float64("memory_percent", mem.Percent),
	}
	if mem.Percent > o.opts.MemoryLimitPercent {
		o.log.Warn("batch: memory above limit", append(fields, zap.Float64("limit_percent", o.opts.MemoryLimitPercent))...)
	} else {
		o.log.Debug("batch: memory", fields...)
	}
	o.collect()
}

// discover lists matching files in lexical order. Recursive runs match the
// pattern at any depth.
func (o *Orchestrator) discover() ([]Job, error) {
	pattern := filepath.ToSlash(o.opts.Pattern)
	if o.opts.Recursive && !strings.HasPrefix(pattern, "**/") {
		pattern = "**/" + pattern
	}
	if _, err := doublestar.Match(pattern, ""); err != nil {
		return nil, eris.Wrapf(err, "batch: bad pattern %q", o.opts.Pattern)
	}
	nested := o.opts.Recursive || strings.Contains(pattern, "/")

	var jobs []Job
	err := filepath.WalkDir(o.opts.InputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != o.opts.InputDir && !nested {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(o.opts.InputDir, path)
		if err != nil {
			return err
		}
		ok, err := doublestar.Match(pattern, filepath.ToSlash(rel))
		if err != nil || !ok {
			return err
		}
		jobs = append(jobs, newJob(o.opts, path, rel))
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "batch: scan %s", o.opts.InputDir)
	}
	return jobs, nil
}
