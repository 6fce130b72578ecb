package geometry

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DefaultOverrideID is the record known to produce a self-intersecting
// ring from its raw vertex order.
const DefaultOverrideID = "14202503000000600000050500200001"

// Overrides is the set of record IDs that always get the configured repair
// strategy during polygon construction, regardless of vertex count.
type Overrides map[string]struct{}

// NewOverrides builds an override table from ids. Blank ids are ignored.
func NewOverrides(ids ...string) Overrides {
	o := make(Overrides, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		o[id] = struct{}{}
	}
	return o
}

// DefaultOverrides returns a table holding only DefaultOverrideID.
func DefaultOverrides() Overrides {
	return NewOverrides(DefaultOverrideID)
}

// Contains reports whether id is in the table. A nil table contains nothing.
func (o Overrides) Contains(id string) bool {
	_, ok := o[id]
	return ok
}

// IDs returns the table contents sorted.
func (o Overrides) IDs() []string {
	ids := make([]string, 0, len(o))
	for id := range o {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type overrideFile struct {
	Overrides []string `yaml:"overrides"`
}

// LoadOverrides reads an override table from a YAML file of the form:
//
//	overrides:
//	  - "14202503000000600000050500200001"
func LoadOverrides(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geometry: read overrides %s", path)
	}

	var f overrideFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "geometry: parse overrides %s", path)
	}
	return NewOverrides(f.Overrides...), nil
}
