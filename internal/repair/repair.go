// Package repair validates geometries with GEOS and repairs invalid ones
// through an ordered fallback chain.
package repair

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"
)

// Method names recorded in feature metadata and the fix-method histogram.
const (
	MethodAlreadyValid = "Already valid"
	MethodMakeValid    = "Fixed with make_valid"
	MethodBuffer       = "Fixed with buffer(0)"
	MethodDoubleBuffer = "Fixed with double buffer"
	MethodSimplify     = "Fixed with simplify"
	MethodEnvelope     = "Fixed with envelope (fallback)"
	MethodUnableToFix  = "Unable to fix"
)

const (
	// epsilon is the distance used by the double buffer and the
	// simplification tolerance, in CRS units.
	epsilon  = 1e-7
	quadSegs = 16
)

// Outcome is the result of a repair attempt.
type Outcome struct {
	Geometry  geom.T
	Method    string
	Succeeded bool
}

type step struct {
	method string
	apply  func(*geos.Geom) *geos.Geom
}

var chain = []step{
	{MethodMakeValid, func(g *geos.Geom) *geos.Geom { return g.MakeValid() }},
	{MethodBuffer, func(g *geos.Geom) *geos.Geom { return g.Buffer(0, quadSegs) }},
	{MethodDoubleBuffer, func(g *geos.Geom) *geos.Geom {
		out := g.Buffer(epsilon, quadSegs)
		defer out.Destroy()
		return out.Buffer(-epsilon, quadSegs)
	}},
	{MethodSimplify, func(g *geos.Geom) *geos.Geom { return g.TopologyPreserveSimplify(epsilon) }},
	{MethodEnvelope, func(g *geos.Geom) *geos.Geom { return g.Envelope() }},
}

// Repairer runs the repair chain. It owns a GEOS context and must not be
// shared between goroutines.
type Repairer struct {
	ctx *geos.Context
	log *zap.Logger
}

// New creates a Repairer with a private GEOS context.
func New(log *zap.Logger) *Repairer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Repairer{ctx: geos.NewContext(), log: log}
}

// Version returns the GEOS library version as major.minor.patch.
func Version() string {
	return fmt.Sprintf("%d.%d.%d", geos.VersionMajor, geos.VersionMinor, geos.VersionPatch)
}

// valid reports whether g is topologically valid.
func (r *Repairer) valid(g geom.T) (bool, error) {
	gg, err := r.toGEOS(g)
	if err != nil {
		return false, err
	}
	defer gg.Destroy()
	return r.isValid(gg), nil
}

// Repair returns g unchanged with MethodAlreadyValid when it is valid.
// Otherwise it tries make_valid, buffer(0), a double buffer, topology
// preserving simplification and finally the envelope, returning the first
// valid result. When every step fails the input comes back tagged
// MethodUnableToFix.
//
// An error means g could not be handed to GEOS at all.
func (r *Repairer) Repair(g geom.T) (Outcome, error) {
	gg, err := r.toGEOS(g)
	if err != nil {
		return Outcome{}, err
	}
	defer gg.Destroy()

	if r.isValid(gg) {
		return Outcome{Geometry: g, Method: MethodAlreadyValid, Succeeded: true}, nil
	}

	for _, s := range chain {
		fixed, err := r.attempt(gg, s)
		if err != nil {
			r.log.Debug("repair: step failed", zap.String("method", s.method), zap.Error(err))
			continue
		}
		return Outcome{Geometry: fixed, Method: s.method, Succeeded: true}, nil
	}

	return Outcome{Geometry: g, Method: MethodUnableToFix, Succeeded: false}, nil
}

// attempt runs one step. go-geos reports GEOS failures by panicking, so
// each step is isolated with recover.
func (r *Repairer) attempt(gg *geos.Geom, s step) (out geom.T, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = eris.Errorf("repair: %s panicked: %v", s.method, p)
		}
	}()

	candidate := s.apply(gg)
	if candidate == nil {
		return nil, eris.Errorf("repair: %s returned nothing", s.method)
	}
	defer candidate.Destroy()

	if !candidate.IsValid() {
		return nil, eris.Errorf("repair: %s result still invalid", s.method)
	}
	return fromGEOS(candidate)
}

func (r *Repairer) isValid(gg *geos.Geom) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Debug("repair: validity check panicked", zap.Any("panic", p))
			ok = false
		}
	}()
	return gg.IsValid()
}

func (r *Repairer) toGEOS(g geom.T) (gg *geos.Geom, err error) {
	if g == nil {
		return nil, eris.New("repair: nil geometry")
	}
	data, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "repair: encode wkb")
	}

	defer func() {
		if p := recover(); p != nil {
			gg = nil
			err = eris.Errorf("repair: geos rejected geometry: %v", p)
		}
	}()
	gg, err = r.ctx.NewGeomFromWKB(data)
	if err != nil {
		return nil, eris.Wrap(err, "repair: decode wkb in geos")
	}
	return gg, nil
}

func fromGEOS(gg *geos.Geom) (geom.T, error) {
	g, err := wkb.Unmarshal(gg.ToWKB())
	if err != nil {
		return nil, eris.Wrap(err, "repair: decode geos result")
	}
	return g, nil
}
