package sink

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jartic-cli/internal/feature"
)

// UnknownRegulation names the file for features without a regulation code.
const UnknownRegulation = "unknown"

// Split routes features into one collection per regulation code, created
// lazily as codes appear: <dir>/regulation_<code>.geojson.
type Split struct {
	dir    string
	header feature.Header
	sinks  map[string]*GeoJSON
	log    *zap.Logger
}

// NewSplit returns a Split writing into dir.
func NewSplit(dir string, header feature.Header, log *zap.Logger) *Split {
	if log == nil {
		log = zap.NewNop()
	}
	return &Split{dir: dir, header: header, sinks: make(map[string]*GeoJSON), log: log}
}

// RegulationFile returns the file name used for code.
func RegulationFile(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		code = UnknownRegulation
	}
	code = strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(code)
	return "regulation_" + code + ".geojson"
}

// Write routes each feature by its raw regulation code. Relative order is
// kept within every output file.
func (s *Split) Write(fs []*feature.Feature) error {
	for _, f := range fs {
		code := ""
		if f.Raw != nil {
			code = f.Raw.Regulation
		}
		name := RegulationFile(code)

		out, ok := s.sinks[name]
		if !ok {
			var err error
			out, err = CreateGeoJSON(filepath.Join(s.dir, name), s.header)
			if err != nil {
				return err
			}
			s.sinks[name] = out
			s.log.Debug("sink: opened regulation file", zap.String("file", out.Path()))
		}
		if err := out.Write([]*feature.Feature{f}); err != nil {
			return err
		}
	}
	return nil
}

// Counts returns the number of features written per output path.
func (s *Split) Counts() map[string]int {
	out := make(map[string]int, len(s.sinks))
	for _, g := range s.sinks {
		out[g.Path()] = g.Count()
	}
	return out
}

// Close closes every output, returning the first error.
func (s *Split) Close() error {
	names := make([]string, 0, len(s.sinks))
	for name := range s.sinks {
		names = append(names, name)
	}
	sort.Strings(names)

	var first error
	for _, name := range names {
		if err := s.sinks[name].Close(); err != nil && first == nil {
			first = eris.Wrapf(err, "sink: close %s", name)
		}
	}
	for _, name := range names {
		s.log.Info("sink: wrote regulation file",
			zap.String("file", s.sinks[name].Path()),
			zap.Int("features", s.sinks[name].Count()),
		)
	}
	return first
}
