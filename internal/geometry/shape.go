// Package geometry resolves the geometry kind of a regulation record and
// constructs its point, line or polygon shape.
package geometry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/jartic-cli/internal/coords"
)

// Kind is the closed set of shapes a record can resolve to.
type Kind int

const (
	// KindNone means no explicit kind code was supplied.
	KindNone Kind = iota
	KindPoint
	KindLine
	KindPolygon
)

// String returns the kind name used in stats and logs.
func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindLine:
		return "line"
	case KindPolygon:
		return "polygon"
	default:
		return "none"
	}
}

// ParseKind reads the point/line/polygon code ("1", "2", "3", numeric forms
// included). Anything else is KindNone.
func ParseKind(v any) Kind {
	var s string
	switch t := v.(type) {
	case nil:
		return KindNone
	case string:
		s = t
	default:
		s = fmt.Sprint(t)
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return KindNone
	}
	switch f {
	case 1:
		return KindPoint
	case 2:
		return KindLine
	case 3:
		return KindPolygon
	default:
		return KindNone
	}
}

// KindOf maps a go-geom geometry to its Kind. Multi geometries map to their
// single counterpart; collections and unknown types return KindNone.
func KindOf(g geom.T) Kind {
	switch g.(type) {
	case *geom.Point, *geom.MultiPoint:
		return KindPoint
	case *geom.LineString, *geom.MultiLineString:
		return KindLine
	case *geom.Polygon, *geom.MultiPolygon:
		return KindPolygon
	default:
		return KindNone
	}
}

// Shape is a resolved geometry. For KindPolygon, Coords is a closed ring.
type Shape struct {
	Kind   Kind
	Coords coords.Sequence
}

// Geom renders the shape as a go-geom geometry.
func (s Shape) Geom() (geom.T, error) {
	switch s.Kind {
	case KindPoint:
		if len(s.Coords) == 0 {
			return nil, eris.New("geometry: point without vertices")
		}
		v := s.Coords[0]
		return geom.NewPointFlat(geom.XY, []float64{v.Lon, v.Lat}), nil
	case KindLine:
		if len(s.Coords) < 2 {
			return nil, eris.Errorf("geometry: line needs 2 vertices, got %d", len(s.Coords))
		}
		return geom.NewLineStringFlat(geom.XY, s.Coords.Flat()), nil
	case KindPolygon:
		if len(s.Coords) < 4 || !s.Coords.Closed() {
			return nil, eris.Errorf("geometry: polygon ring must be closed with 4+ vertices, got %d", len(s.Coords))
		}
		flat := s.Coords.Flat()
		return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}), nil
	default:
		return nil, eris.Errorf("geometry: cannot render kind %s", s.Kind)
	}
}

// closeRing returns seq with its first vertex appended when it is not
// already closed. The input is never modified.
func closeRing(seq coords.Sequence) coords.Sequence {
	out := make(coords.Sequence, len(seq), len(seq)+1)
	copy(out, seq)
	if !out.Closed() {
		out = append(out, out[0])
	}
	return out
}
