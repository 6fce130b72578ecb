// Package feature defines the record that flows through the pipeline, its
// ordered property map and the schema/CRS header shared by sources and sinks.
package feature

import (
	"encoding/json"

	"github.com/twpayne/go-geom"
)

// Raw holds the unresolved regulation fields of a CSV row. It is nil for
// features whose geometry was resolved upstream.
type Raw struct {
	Coordinates string
	Kind        any
	Regulation  string
	Direction   any
}

// Meta records what the pipeline did to a feature.
type Meta struct {
	IsValid   bool
	Fixed     bool
	FixMethod string
	Skipped   bool
}

// Feature is one record. It is created by a source, mutated in place by the
// resolver and handed to a sink in input order.
type Feature struct {
	ID         string
	Raw        *Raw
	Geometry   geom.T
	Properties *Properties
	Meta       Meta
}

// Resolved reports whether the feature already carries a geometry.
func (f *Feature) Resolved() bool {
	return f.Geometry != nil
}

// Header is the immutable description of a feature stream.
type Header struct {
	Schema Schema
	// CRS is the GeoJSON "crs" member, passed through verbatim. Nil when the
	// source did not declare one.
	CRS json.RawMessage
}
