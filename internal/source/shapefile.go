package source

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/jartic-cli/internal/feature"
)

// prjCRS maps datum markers found in .prj WKT to GeoJSON CRS names.
var prjCRS = []struct {
	marker string
	name   string
}{
	{"JGD_2011", "urn:ogc:def:crs:EPSG::6668"},
	{"JGD_2000", "urn:ogc:def:crs:EPSG::4612"},
	{"WGS_1984", "urn:ogc:def:crs:OGC:1.3:CRS84"},
}

// Shapefile streams the records of a .shp/.dbf pair. Attribute types come
// from the DBF field descriptors; a .cpg sidecar selects the attribute
// charset and a .prj sidecar the CRS.
type Shapefile struct {
	path    string
	reader  *shp.Reader
	fields  []shp.Field
	names   []string
	header  feature.Header
	decoder *encoding.Decoder
	log     *zap.Logger
}

// OpenShapefile opens path (the .shp file) and its sidecars.
func OpenShapefile(path string, log *zap.Logger) (*Shapefile, error) {
	if log == nil {
		log = zap.NewNop()
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shapefile: open %s", path)
	}

	s := &Shapefile{path: path, reader: reader, fields: reader.Fields(), log: log}
	s.decoder = sidecarDecoder(path, log)

	schema := make(feature.Schema, 0, len(s.fields))
	for _, f := range s.fields {
		name := s.text(strings.TrimRight(f.String(), "\x00"))
		s.names = append(s.names, name)
		schema = append(schema, feature.Field{Name: name, Type: dbfType(f)})
	}
	s.header = feature.Header{Schema: schema, CRS: sidecarCRS(path, log)}
	return s, nil
}

// Header returns the DBF schema and the CRS derived from the .prj sidecar.
func (s *Shapefile) Header() feature.Header {
	return s.header
}

// Features streams records in file order.
// Both channels are closed when processing completes.
func (s *Shapefile) Features(ctx context.Context) (<-chan *feature.Feature, <-chan error) {
	outCh := make(chan *feature.Feature, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		for s.reader.Next() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "shapefile: context cancelled")
				return
			}

			n, shape := s.reader.Shape()
			f := &feature.Feature{
				ID:         strconv.Itoa(n + 1),
				Geometry:   toGeom(shape),
				Properties: s.attributes(),
			}

			select {
			case outCh <- f:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "shapefile: context cancelled")
				return
			}
		}

		if err := s.reader.Err(); err != nil {
			errCh <- eris.Wrapf(err, "shapefile: read %s", s.path)
		}
	}()

	return outCh, errCh
}

// Close closes the shapefile.
func (s *Shapefile) Close() error {
	return s.reader.Close()
}

func (s *Shapefile) attributes() *feature.Properties {
	props := feature.NewProperties(len(s.fields))
	for i, f := range s.fields {
		val := strings.TrimSpace(strings.TrimRight(s.reader.Attribute(i), "\x00"))
		if val == "" {
			continue
		}
		props.Set(s.names[i], s.value(f, val))
	}
	return props
}

func (s *Shapefile) value(f shp.Field, val string) any {
	switch dbfType(f) {
	case feature.FieldInt, feature.FieldFloat:
		if _, err := strconv.ParseFloat(val, 64); err == nil {
			return json.Number(val)
		}
		return val
	case feature.FieldBool:
		switch strings.ToUpper(val) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		}
		return nil
	default:
		return s.text(val)
	}
}

func (s *Shapefile) text(v string) string {
	if s.decoder == nil {
		return v
	}
	out, err := s.decoder.String(v)
	if err != nil {
		return v
	}
	return out
}

func dbfType(f shp.Field) feature.FieldType {
	switch f.Fieldtype {
	case 'N':
		if f.Precision == 0 {
			return feature.FieldInt
		}
		return feature.FieldFloat
	case 'F':
		return feature.FieldFloat
	case 'L':
		return feature.FieldBool
	case 'D':
		return feature.FieldDate
	default:
		return feature.FieldStr
	}
}

// sidecarDecoder returns a decoder for the charset named in the .cpg file,
// or nil for UTF-8 and missing sidecars.
func sidecarDecoder(path string, log *zap.Logger) *encoding.Decoder {
	data, err := os.ReadFile(sidecar(path, ".cpg"))
	if err != nil {
		return nil
	}
	label := strings.ToLower(strings.TrimSpace(string(data)))
	if label == "" || label == "utf-8" || label == "utf8" {
		return nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		log.Warn("shapefile: unknown .cpg charset, reading attributes as-is", zap.String("charset", label))
		return nil
	}
	return enc.NewDecoder()
}

func sidecarCRS(path string, log *zap.Logger) json.RawMessage {
	data, err := os.ReadFile(sidecar(path, ".prj"))
	if err != nil {
		return nil
	}
	wkt := strings.ToUpper(string(data))
	for _, c := range prjCRS {
		if strings.Contains(wkt, c.marker) {
			crs, _ := json.Marshal(map[string]any{
				"type":       "name",
				"properties": map[string]string{"name": c.name},
			})
			return crs
		}
	}
	log.Debug("shapefile: unrecognised .prj, writing without crs", zap.String("path", path))
	return nil
}

func sidecar(path, ext string) string {
	return strings.TrimSuffix(path, ".shp") + ext
}

// toGeom converts a go-shp shape. Unsupported and empty shapes return nil.
func toGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.MultiPoint:
		if len(s.Points) == 0 {
			return nil
		}
		return geom.NewMultiPointFlat(geom.XY, pointsFlat(s.Points))
	case *shp.PolyLine:
		return polyLine(s.Parts, s.Points)
	case *shp.Polygon:
		return polygon(s.Parts, s.Points)
	default:
		return nil
	}
}

// parts splits a shapefile point array at the part offsets.
func parts(offsets []int32, points []shp.Point) [][]shp.Point {
	out := make([][]shp.Point, 0, len(offsets))
	for i, start := range offsets {
		end := int32(len(points))
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		if start < 0 || start >= end || int(end) > len(points) {
			continue
		}
		out = append(out, points[start:end])
	}
	return out
}

func polyLine(offsets []int32, points []shp.Point) geom.T {
	ps := parts(offsets, points)
	switch len(ps) {
	case 0:
		return nil
	case 1:
		return geom.NewLineStringFlat(geom.XY, pointsFlat(ps[0]))
	}

	flat := make([]float64, 0, len(points)*2)
	ends := make([]int, 0, len(ps))
	for _, p := range ps {
		flat = append(flat, pointsFlat(p)...)
		ends = append(ends, len(flat))
	}
	return geom.NewMultiLineStringFlat(geom.XY, flat, ends)
}

// polygon groups rings into polygons: clockwise rings start a new polygon,
// counter-clockwise rings are holes of the preceding one.
func polygon(offsets []int32, points []shp.Point) geom.T {
	var polys [][][]float64
	for _, p := range parts(offsets, points) {
		ring := pointsFlat(p)
		hole := len(p) >= 4 && xy.IsRingCounterClockwise(geom.XY, ring)
		if hole && len(polys) > 0 {
			polys[len(polys)-1] = append(polys[len(polys)-1], ring)
			continue
		}
		polys = append(polys, [][]float64{ring})
	}

	switch len(polys) {
	case 0:
		return nil
	case 1:
		flat, ends := joinRings(polys[0], nil, 0)
		return geom.NewPolygonFlat(geom.XY, flat, ends)
	}

	var flat []float64
	endss := make([][]int, 0, len(polys))
	for _, rings := range polys {
		var ends []int
		flat, ends = joinRings(rings, flat, len(flat))
		endss = append(endss, ends)
	}
	return geom.NewMultiPolygonFlat(geom.XY, flat, endss)
}

func joinRings(rings [][]float64, flat []float64, offset int) ([]float64, []int) {
	ends := make([]int, 0, len(rings))
	for _, r := range rings {
		flat = append(flat, r...)
		offset += len(r)
		ends = append(ends, offset)
	}
	return flat, ends
}

func pointsFlat(points []shp.Point) []float64 {
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}
