package geometry

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/sells-group/jartic-cli/internal/coords"
)

// convexHull returns the closed, counter-clockwise hull ring of seq.
// Degenerate sets (collinear or fewer than three distinct vertices) are
// reported as errors so the caller can fall back to plain ring closure.
func convexHull(seq coords.Sequence) (ring coords.Sequence, err error) {
	defer func() {
		if r := recover(); r != nil {
			ring = nil
			err = eris.Errorf("geometry: convex hull panicked: %v", r)
		}
	}()

	hull := xy.ConvexHullFlat(geom.XY, seq.Flat())
	poly, ok := hull.(*geom.Polygon)
	if !ok || poly.NumLinearRings() == 0 {
		return nil, eris.Errorf("geometry: degenerate hull (%T) for %d vertices", hull, len(seq))
	}

	flat := poly.LinearRing(0).FlatCoords()
	if !xy.IsRingCounterClockwise(geom.XY, flat) {
		flat = reverseFlat(flat)
	}

	ring = make(coords.Sequence, 0, len(flat)/2+1)
	for i := 0; i+1 < len(flat); i += 2 {
		ring = append(ring, coords.Vertex{Lon: flat[i], Lat: flat[i+1]})
	}
	return closeRing(ring), nil
}

// sortByAngle orders vertices by ascending angle around their centroid,
// which walks them counter-clockwise. Sequences shorter than three are
// returned as a copy.
func sortByAngle(seq coords.Sequence) coords.Sequence {
	out := make(coords.Sequence, len(seq))
	copy(out, seq)
	if len(out) < 3 {
		return out
	}

	var cx, cy float64
	for _, v := range out {
		cx += v.Lon
		cy += v.Lat
	}
	cx /= float64(len(out))
	cy /= float64(len(out))

	sort.SliceStable(out, func(i, j int) bool {
		return math.Atan2(out[i].Lat-cy, out[i].Lon-cx) < math.Atan2(out[j].Lat-cy, out[j].Lon-cx)
	})
	return out
}

func reverseFlat(flat []float64) []float64 {
	out := make([]float64, len(flat))
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		out[2*(n-1-i)] = flat[2*i]
		out[2*(n-1-i)+1] = flat[2*i+1]
	}
	return out
}
