// Package convert resolves regulation records into validated geometries:
// coordinate parsing, one-way direction normalization, geometry
// construction and repair.
package convert

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jartic-cli/internal/coords"
	"github.com/sells-group/jartic-cli/internal/feature"
	"github.com/sells-group/jartic-cli/internal/geometry"
	"github.com/sells-group/jartic-cli/internal/repair"
)

var (
	// ErrNoCoordinates is returned for rows whose coordinate cell yields no
	// vertices.
	ErrNoCoordinates = eris.New("convert: no coordinates")
	// ErrNoGeometry is returned for resolved features without a geometry.
	ErrNoGeometry = eris.New("convert: no geometry")
)

// Resolver builds and repairs geometries. It holds a GEOS context and must
// not be shared between goroutines.
type Resolver struct {
	parser        *coords.Parser
	builder       *geometry.Builder
	repairer      *repair.Repairer
	preserveOrder bool
	log           *zap.Logger
}

// NewResolver wires the resolution stages together. preserveOrder keeps the
// vertex order of one-way regulations (normalized to the prohibited
// direction) and forces them to lines.
func NewResolver(builder *geometry.Builder, repairer *repair.Repairer, preserveOrder bool, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		parser:        coords.NewParser(log),
		builder:       builder,
		repairer:      repairer,
		preserveOrder: preserveOrder,
		log:           log,
	}
}

// NewRepairResolver returns a Resolver for features whose geometry was
// resolved upstream. Raw rows are rejected.
func NewRepairResolver(repairer *repair.Repairer, log *zap.Logger) *Resolver {
	return NewResolver(nil, repairer, false, log)
}

// Resolve sets f.Geometry and f.Meta. Raw rows are parsed and built first;
// features that already carry a geometry are only repaired.
func (r *Resolver) Resolve(f *feature.Feature) error {
	if f.Raw == nil {
		return r.repair(f)
	}

	if r.builder == nil {
		return eris.Errorf("convert: raw record %s needs a geometry builder", f.ID)
	}

	raw := f.Raw
	oneway := IsOneway(raw.Regulation)
	ordered := oneway && r.preserveOrder

	seq := r.parser.Parse(raw.Coordinates, ordered)
	if len(seq) == 0 {
		return ErrNoCoordinates
	}

	if ordered {
		norm := coords.Normalize(seq, coords.ParseDirection(raw.Direction), f.ID, r.log)
		seq = norm.Coords
	}

	shape, ok := r.builder.Build(geometry.Input{
		Coords:        seq,
		Kind:          geometry.ParseKind(raw.Kind),
		Oneway:        oneway,
		PreserveOrder: r.preserveOrder,
		ID:            f.ID,
	})
	if !ok {
		return ErrNoCoordinates
	}

	g, err := shape.Geom()
	if err != nil {
		return eris.Wrapf(err, "convert: render %s", shape.Kind)
	}
	f.Geometry = g

	if err := r.repair(f); err != nil {
		return err
	}
	if ordered {
		if f.Properties == nil {
			f.Properties = feature.NewProperties(0)
		}
		SetOnewayProperties(f.Properties, raw.Direction)
	}
	return nil
}

func (r *Resolver) repair(f *feature.Feature) error {
	if !f.Resolved() {
		return ErrNoGeometry
	}

	out, err := r.repairer.Repair(f.Geometry)
	if err != nil {
		return eris.Wrap(err, "convert: repair")
	}

	valid := out.Method == repair.MethodAlreadyValid
	f.Geometry = out.Geometry
	f.Meta = feature.Meta{
		IsValid:   valid,
		Fixed:     !valid && out.Succeeded,
		FixMethod: out.Method,
	}

	switch {
	case valid:
	case out.Succeeded:
		r.log.Info("convert: repaired geometry", zap.String("id", f.ID), zap.String("method", out.Method))
	default:
		r.log.Warn("convert: geometry could not be repaired", zap.String("id", f.ID))
	}
	return nil
}
