package pipeline

import (
	"github.com/sells-group/jartic-cli/internal/feature"
	"github.com/sells-group/jartic-cli/internal/geometry"
)

// Stats counts per-feature outcomes for one file or an aggregate of files.
type Stats struct {
	Total      int            `json:"total_features"`
	Invalid    int            `json:"invalid_features"`
	Fixed      int            `json:"fixed_features"`
	Unfixable  int            `json:"unfixable_features"`
	Skipped    int            `json:"skipped_features"`
	FixMethods map[string]int `json:"fix_methods"`
	Kinds      map[string]int `json:"geometry_kinds"`
}

// NewStats returns zeroed stats with initialized histograms.
func NewStats() Stats {
	return Stats{FixMethods: map[string]int{}, Kinds: map[string]int{}}
}

// Written is the number of features handed to the sink.
func (s Stats) Written() int {
	return s.Total - s.Skipped
}

// Record accounts for a processed feature. Fix methods are only counted for
// features whose input geometry was invalid.
func (s *Stats) Record(f *feature.Feature) {
	s.Total++
	if f.Meta.Skipped {
		s.Skipped++
		return
	}
	if s.Kinds == nil {
		s.Kinds = map[string]int{}
	}
	s.Kinds[geometry.KindOf(f.Geometry).String()]++

	if f.Meta.IsValid {
		return
	}
	s.Invalid++
	if s.FixMethods == nil {
		s.FixMethods = map[string]int{}
	}
	s.FixMethods[f.Meta.FixMethod]++
	if f.Meta.Fixed {
		s.Fixed++
	} else {
		s.Unfixable++
	}
}

// Merge adds o into s.
func (s *Stats) Merge(o Stats) {
	s.Total += o.Total
	s.Invalid += o.Invalid
	s.Fixed += o.Fixed
	s.Unfixable += o.Unfixable
	s.Skipped += o.Skipped

	if s.FixMethods == nil {
		s.FixMethods = map[string]int{}
	}
	for k, v := range o.FixMethods {
		s.FixMethods[k] += v
	}
	if s.Kinds == nil {
		s.Kinds = map[string]int{}
	}
	for k, v := range o.Kinds {
		s.Kinds[k] += v
	}
}

// SuccessRate is the percentage of invalid features that were fixed, or 100
// when nothing was invalid.
func (s Stats) SuccessRate() float64 {
	if s.Invalid == 0 {
		return 100
	}
	return float64(s.Fixed) / float64(s.Invalid) * 100
}
