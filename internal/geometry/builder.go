package geometry

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jartic-cli/internal/coords"
)

// Strategy selects how rings that are likely to self-intersect are rebuilt.
type Strategy string

const (
	// StrategyConvexHull replaces the ring with the convex hull of its
	// vertices. Applied to override IDs and rings of more than hullThreshold
	// vertices.
	StrategyConvexHull Strategy = "convex_hull"
	// StrategyFixIntersections reorders vertices by angle around their
	// centroid. Applied to override IDs only.
	StrategyFixIntersections Strategy = "fix_intersections"
)

// hullThreshold is the vertex count above which convex_hull is applied to
// every polygon.
const hullThreshold = 10

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyConvexHull, StrategyFixIntersections:
		return Strategy(s), nil
	default:
		return "", eris.Errorf("geometry: unknown repair strategy %q (want convex_hull or fix_intersections)", s)
	}
}

// Input is everything the builder needs to resolve one record.
type Input struct {
	Coords        coords.Sequence
	Kind          Kind
	Oneway        bool
	PreserveOrder bool
	ID            string
}

// Builder resolves geometry kinds and constructs shapes.
type Builder struct {
	strategy  Strategy
	overrides Overrides
	log       *zap.Logger
}

// NewBuilder creates a Builder. The strategy must come from ParseStrategy.
func NewBuilder(strategy Strategy, overrides Overrides, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{strategy: strategy, overrides: overrides, log: log}
}

// Build resolves the kind of in and constructs the shape. It returns false
// when there are no vertices.
//
// Precedence is an explicit point code, then an explicit line code or the
// one-way override (which beats an explicit polygon code), then an explicit
// polygon code, then inference from the vertex count.
func (b *Builder) Build(in Input) (Shape, bool) {
	n := len(in.Coords)
	if n == 0 {
		b.log.Debug("geometry: no vertices", zap.String("id", in.ID))
		return Shape{}, false
	}

	onewayLine := in.Oneway && in.PreserveOrder

	switch {
	case in.Kind == KindPoint || (n == 1 && in.Kind != KindPolygon):
		if n > 1 {
			b.log.Warn("geometry: point code with multiple vertices, using the first",
				zap.String("id", in.ID),
				zap.Int("vertices", n),
			)
		}
		return Shape{Kind: KindPoint, Coords: in.Coords[:1]}, true

	case n >= 2 && (in.Kind == KindLine || onewayLine):
		return Shape{Kind: KindLine, Coords: in.Coords}, true

	case in.Kind == KindPolygon && n >= 3:
		return b.polygon(in), true
	}

	// No usable kind code: infer from the vertex count.
	switch {
	case n == 1:
		return Shape{Kind: KindPoint, Coords: in.Coords}, true
	case n == 2:
		return Shape{Kind: KindLine, Coords: in.Coords}, true
	default:
		return b.polygon(in), true
	}
}

func (b *Builder) polygon(in Input) Shape {
	override := b.overrides.Contains(in.ID)
	if !override && !(b.strategy == StrategyConvexHull && len(in.Coords) > hullThreshold) {
		return Shape{Kind: KindPolygon, Coords: closeRing(in.Coords)}
	}

	if override {
		b.log.Debug("geometry: override id, applying repair strategy",
			zap.String("id", in.ID),
			zap.String("strategy", string(b.strategy)),
		)
	}

	switch b.strategy {
	case StrategyFixIntersections:
		return Shape{Kind: KindPolygon, Coords: closeRing(sortByAngle(in.Coords))}
	default:
		ring, err := convexHull(in.Coords)
		if err != nil {
			b.log.Debug("geometry: convex hull failed, closing ring as-is",
				zap.String("id", in.ID),
				zap.Error(err),
			)
			return Shape{Kind: KindPolygon, Coords: closeRing(in.Coords)}
		}
		return Shape{Kind: KindPolygon, Coords: ring}
	}
}
