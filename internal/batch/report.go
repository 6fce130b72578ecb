package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/jartic-cli/internal/pipeline"
	"github.com/sells-group/jartic-cli/internal/repair"
)

const timestampLayout = "20060102_150405"

// FileResult is the outcome of one file. Error is set, and the counters
// zeroed, when the file could not be processed.
type FileResult struct {
	File    string  `json:"file"`
	Output  string  `json:"output,omitempty"`
	Log     string  `json:"log,omitempty"`
	Error   string  `json:"error,omitempty"`
	Seconds float64 `json:"seconds"`
	pipeline.Stats
}

// RegionStats aggregates the files of one region.
type RegionStats struct {
	Files      int `json:"files"`
	ErrorFiles int `json:"error_files"`
	pipeline.Stats
}

// Report summarizes a batch run.
type Report struct {
	RunID       string                  `json:"run_id"`
	Timestamp   string                  `json:"timestamp"`
	StartedAt   time.Time               `json:"started_at"`
	FinishedAt  time.Time               `json:"finished_at"`
	GEOSVersion string                  `json:"geos_version"`
	InputDir    string                  `json:"input_directory"`
	OutputDir   string                  `json:"output_directory"`
	LogDir      string                  `json:"log_directory"`
	TotalFiles  int                     `json:"total_files"`
	ErrorFiles  int                     `json:"error_files"`
	Totals      pipeline.Stats          `json:"totals"`
	SuccessRate float64                 `json:"fix_success_rate"`
	Memory      pipeline.Memory         `json:"memory_info"`
	Regions     map[string]*RegionStats `json:"region_statistics"`
	Files       []FileResult            `json:"file_results"`
}

func newReport(opts Options, start time.Time) *Report {
	return &Report{
		RunID:       uuid.New().String(),
		Timestamp:   start.Format(timestampLayout),
		StartedAt:   start,
		GEOSVersion: repair.Version(),
		InputDir:    opts.InputDir,
		OutputDir:   opts.OutputDir,
		LogDir:      opts.LogDir,
		Totals:      pipeline.NewStats(),
		Regions:     map[string]*RegionStats{},
		Files:       []FileResult{},
	}
}

// finish aggregates per-file results.
func (r *Report) finish(results []FileResult, mem pipeline.Memory, now time.Time) {
	r.FinishedAt = now
	r.Memory = mem
	if results != nil {
		r.Files = results
	}
	r.TotalFiles = len(r.Files)

	for _, f := range r.Files {
		r.Totals.Merge(f.Stats)

		name := Region(f.File)
		region, ok := r.Regions[name]
		if !ok {
			region = &RegionStats{Stats: pipeline.NewStats()}
			r.Regions[name] = region
		}
		region.Files++
		region.Merge(f.Stats)

		if f.Error != "" {
			r.ErrorFiles++
			region.ErrorFiles++
		}
	}
	r.SuccessRate = r.Totals.SuccessRate()
}

// Region is the first segment of a relative file path.
func Region(rel string) string {
	rel = filepath.ToSlash(rel)
	if rel == "" {
		return "unknown"
	}
	first, _, _ := strings.Cut(rel, "/")
	return first
}

// Unfixable returns the files with unfixable features, most first.
func (r *Report) Unfixable() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Unfixable > 0 {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Unfixable > out[j].Unfixable })
	return out
}

// Write stores the report as summary_<timestamp>.json and .txt in dir and
// returns both paths.
func (r *Report) Write(dir string) (jsonPath, textPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", eris.Wrapf(err, "batch: create report dir %s", dir)
	}

	jsonPath = filepath.Join(dir, "summary_"+r.Timestamp+".json")
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", "", eris.Wrap(err, "batch: marshal report")
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", "", eris.Wrapf(err, "batch: write %s", jsonPath)
	}

	textPath = filepath.Join(dir, "summary_"+r.Timestamp+".txt")
	f, err := os.Create(textPath)
	if err != nil {
		return "", "", eris.Wrapf(err, "batch: create %s", textPath)
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	r.WriteText(w)
	if err := w.Flush(); err != nil {
		return "", "", eris.Wrapf(err, "batch: write %s", textPath)
	}
	return jsonPath, textPath, nil
}

// WriteText renders the human-readable summary.
func (r *Report) WriteText(w io.Writer) {
	fmt.Fprintln(w, "GeoJSON Geometry Repair Summary")
	fmt.Fprintln(w, "===============================")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run ID: %s\n", r.RunID)
	fmt.Fprintf(w, "Timestamp: %s\n", r.Timestamp)
	fmt.Fprintf(w, "GEOS Version: %s\n\n", r.GEOSVersion)

	t := r.Totals
	fmt.Fprintln(w, "Overall Statistics:")
	fmt.Fprintf(w, "  Input Directory: %s\n", r.InputDir)
	fmt.Fprintf(w, "  Output Directory: %s\n", r.OutputDir)
	fmt.Fprintf(w, "  Total Files Processed: %d\n", r.TotalFiles)
	fmt.Fprintf(w, "  Files with Errors: %d\n", r.ErrorFiles)
	fmt.Fprintf(w, "  Total Features: %d\n", t.Total)
	fmt.Fprintf(w, "  Invalid Features: %d\n", t.Invalid)
	fmt.Fprintf(w, "  Successfully Fixed: %d\n", t.Fixed)
	fmt.Fprintf(w, "  Unfixable Features: %d\n", t.Unfixable)
	fmt.Fprintf(w, "  Skipped Features: %d\n", t.Skipped)
	if t.Invalid > 0 {
		fmt.Fprintf(w, "  Success Rate: %.2f%%\n\n", r.SuccessRate)
	} else {
		fmt.Fprint(w, "  Success Rate: 100% (no invalid features)\n\n")
	}

	fmt.Fprintln(w, "Fix Methods Used:")
	for _, m := range sortedCounts(t.FixMethods) {
		if t.Invalid > 0 {
			fmt.Fprintf(w, "  %s: %d (%.2f%%)\n", m.name, m.count, float64(m.count)/float64(t.Invalid)*100)
		} else {
			fmt.Fprintf(w, "  %s: %d\n", m.name, m.count)
		}
	}

	fmt.Fprintln(w, "\nRegion Statistics:")
	names := make([]string, 0, len(r.Regions))
	for name := range r.Regions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := r.Regions[name]
		fmt.Fprintf(w, "  %s:\n", name)
		fmt.Fprintf(w, "    Files: %d\n", s.Files)
		fmt.Fprintf(w, "    Features: %d\n", s.Total)
		fmt.Fprintf(w, "    Invalid: %d\n", s.Invalid)
		fmt.Fprintf(w, "    Fixed: %d\n", s.Fixed)
		fmt.Fprintf(w, "    Unfixable: %d\n", s.Unfixable)
		fmt.Fprintf(w, "    Skipped: %d\n", s.Skipped)
		fmt.Fprintf(w, "    Error Files: %d\n", s.ErrorFiles)
		fmt.Fprintf(w, "    Success Rate: %.2f%%\n\n", s.SuccessRate())
	}

	fmt.Fprintln(w, "Files with Unfixable Geometries:")
	for _, f := range r.Unfixable() {
		fmt.Fprintf(w, "  %s: %d unfixable out of %d invalid\n", f.File, f.Unfixable, f.Invalid)
	}

	fmt.Fprintln(w, "\nFiles with Errors:")
	for _, f := range r.Files {
		if f.Error != "" {
			fmt.Fprintf(w, "  %s: %s\n", f.File, f.Error)
		}
	}
}

type namedCount struct {
	name  string
	count int
}

// sortedCounts orders a histogram by count, descending, then by name.
func sortedCounts(m map[string]int) []namedCount {
	out := make([]namedCount, 0, len(m))
	for k, v := range m {
		out = append(out, namedCount{k, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	return out
}
