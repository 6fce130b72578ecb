package source

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/text/encoding/japanese"

	"github.com/sells-group/jartic-cli/internal/feature"
)

type streamer interface {
	Features(ctx context.Context) (<-chan *feature.Feature, <-chan error)
}

func drain(t *testing.T, s streamer) []*feature.Feature {
	t.Helper()
	outCh, errCh := s.Features(context.Background())
	var out []*feature.Feature
	for f := range outCh {
		out = append(out, f)
	}
	require.NoError(t, <-errCh)
	return out
}

var testColumns = Columns{
	Coordinates: "座標",
	ID:          "ユニークキー",
	Kind:        "点・線・面コード",
	Regulation:  "共通規制種別コード",
	Direction:   "指定・禁止方向の別コード",
}

const testCSV = "\ufeffユニークキー,共通規制種別コード,点・線・面コード,指定・禁止方向の別コード,座標,備考\n" +
	"k1,11,2,2,\"139.0 35.0;139.1 35.1\",\n" +
	",01,,,139.5 35.5,メモ\n"

func TestCSV_StreamsRows(t *testing.T) {
	src, err := NewCSV(strings.NewReader(testCSV), CSVOptions{Columns: testColumns}, nil)
	require.NoError(t, err)

	h := src.Header()
	assert.Equal(t, []string{"ユニークキー", "共通規制種別コード", "点・線・面コード", "指定・禁止方向の別コード", "備考"}, h.Schema.Names())
	assert.JSONEq(t, string(CRS84), string(h.CRS))

	got := drain(t, src)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "k1", first.ID)
	assert.Equal(t, "139.0 35.0;139.1 35.1", first.Raw.Coordinates)
	assert.Equal(t, "11", first.Raw.Regulation)
	assert.Equal(t, "2", first.Raw.Kind)
	assert.Equal(t, "2", first.Raw.Direction)
	assert.Equal(t, []string{"ユニークキー", "共通規制種別コード", "点・線・面コード", "指定・禁止方向の別コード"}, first.Properties.Keys())

	second := got[1]
	assert.Equal(t, "row2", second.ID)
	assert.Nil(t, second.Raw.Kind)
	assert.Nil(t, second.Raw.Direction)
	v, ok := second.Properties.Get("備考")
	require.True(t, ok)
	assert.Equal(t, "メモ", v)
}

func TestCSV_ShiftJIS(t *testing.T) {
	encoded, err := japanese.ShiftJIS.NewEncoder().String(strings.TrimPrefix(testCSV, utf8BOM))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "regs.csv")
	require.NoError(t, os.WriteFile(path, []byte(encoded), 0o600))

	src, err := OpenCSV(path, CSVOptions{Columns: testColumns, Charset: "shift_jis"}, nil)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	got := drain(t, src)
	require.Len(t, got, 2)
	v, _ := got[1].Properties.Get("備考")
	assert.Equal(t, "メモ", v)
}

func TestCSV_Errors(t *testing.T) {
	_, err := NewCSV(strings.NewReader(""), CSVOptions{Columns: testColumns}, nil)
	assert.Error(t, err)

	_, err = NewCSV(strings.NewReader("a,b\n"), CSVOptions{Columns: testColumns}, nil)
	assert.Error(t, err)

	_, err = NewCSV(strings.NewReader(testCSV), CSVOptions{Columns: testColumns, Charset: "klingon"}, nil)
	assert.Error(t, err)

	_, err = OpenCSV(filepath.Join(t.TempDir(), "missing.csv"), CSVOptions{Columns: testColumns}, nil)
	assert.Error(t, err)
}

func TestCSV_ContextCancelled(t *testing.T) {
	src, err := NewCSV(strings.NewReader(testCSV), CSVOptions{Columns: testColumns}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outCh, errCh := src.Features(ctx)
	for range outCh {
	}
	assert.ErrorContains(t, <-errCh, "context cancelled")
}

const testCollection = `{
  "type": "FeatureCollection",
  "name": "regs",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:OGC:1.3:CRS84"}},
  "features": [
    {"type": "Feature", "id": "a", "properties": {"除外車両コード": 3000000000, "name": "x"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,1],[1,0],[0,1],[0,0]]]}},
    {"type": "Feature", "properties": null, "geometry": null},
    {"type": "Feature", "id": 7, "properties": {"name": "y"},
     "geometry": {"type": "LineString", "coordinates": [[0,0],[1,1]]}}
  ]
}`

func TestGeoJSON_StreamsFeatures(t *testing.T) {
	src, err := NewGeoJSON(strings.NewReader(testCollection), nil)
	require.NoError(t, err)

	h := src.Header()
	assert.JSONEq(t, string(CRS84), string(h.CRS))
	assert.Equal(t, feature.Schema{
		{Name: "除外車両コード", Type: feature.FieldInt},
		{Name: "name", Type: feature.FieldStr},
	}, h.Schema)

	got := drain(t, src)
	require.Len(t, got, 3)

	assert.Equal(t, "a", got[0].ID)
	assert.IsType(t, &geom.Polygon{}, got[0].Geometry)
	v, _ := got[0].Properties.Get("除外車両コード")
	assert.Equal(t, json.Number("3000000000"), v)

	assert.Empty(t, got[1].ID)
	assert.Nil(t, got[1].Geometry)
	assert.Equal(t, 0, got[1].Properties.Len())

	assert.Equal(t, "7", got[2].ID)
	assert.IsType(t, &geom.LineString{}, got[2].Geometry)
}

func TestGeoJSON_EmptyAndMalformed(t *testing.T) {
	src, err := NewGeoJSON(strings.NewReader(`{"type":"FeatureCollection","features":[]}`), nil)
	require.NoError(t, err)
	assert.Empty(t, drain(t, src))
	assert.Nil(t, src.Header().CRS)

	src, err = NewGeoJSON(strings.NewReader(`{"type":"FeatureCollection"}`), nil)
	require.NoError(t, err)
	assert.Empty(t, drain(t, src))

	_, err = NewGeoJSON(strings.NewReader(`[1,2]`), nil)
	assert.Error(t, err)

	src, err = NewGeoJSON(strings.NewReader(`{"features":[{"type":"Feature","properties":{}},{"type":`), nil)
	require.NoError(t, err)
	outCh, errCh := src.Features(context.Background())
	n := 0
	for range outCh {
		n++
	}
	assert.Equal(t, 1, n)
	assert.Error(t, <-errCh)
}

func TestGeoJSON_BadGeometryLeftNil(t *testing.T) {
	src, err := NewGeoJSON(strings.NewReader(`{"features":[{"type":"Feature","properties":{},"geometry":{"type":"Blob","coordinates":[1]}}]}`), nil)
	require.NoError(t, err)

	got := drain(t, src)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Geometry)
}

func writeShapefile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "regs.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("NAME", 20),
		shp.NumberField("CODE", 12),
	}))

	// clockwise outer ring with a counter-clockwise hole
	withHole := shp.Polygon(*shp.NewPolyLine([][]shp.Point{
		{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0}},
		{{X: 2, Y: 2}, {X: 4, Y: 2}, {X: 4, Y: 4}, {X: 2, Y: 4}, {X: 2, Y: 2}},
	}))
	bowtie := shp.Polygon(*shp.NewPolyLine([][]shp.Point{
		{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: 0, Y: 0}},
	}))

	w.Write(&withHole)
	require.NoError(t, w.WriteAttribute(0, 0, "square"))
	require.NoError(t, w.WriteAttribute(0, 1, 3000000000))
	w.Write(&bowtie)
	require.NoError(t, w.WriteAttribute(1, 0, "bowtie"))
	w.Close()

	// go-shp v0.1.1 names the attribute table "<stem>dbf" without the dot.
	if _, err := os.Stat(filepath.Join(dir, "regsdbf")); err == nil {
		require.NoError(t, os.Rename(filepath.Join(dir, "regsdbf"), filepath.Join(dir, "regs.dbf")))
	}
	_, err = os.Stat(filepath.Join(dir, "regs.dbf"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "regs.prj"),
		[]byte(`GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137,298.257223563]]]`), 0o600))
	return path
}

func TestShapefile_StreamsRecords(t *testing.T) {
	path := writeShapefile(t, t.TempDir())

	src, err := OpenShapefile(path, nil)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	h := src.Header()
	assert.Equal(t, feature.Schema{
		{Name: "NAME", Type: feature.FieldStr},
		{Name: "CODE", Type: feature.FieldInt},
	}, h.Schema)
	assert.JSONEq(t, string(CRS84), string(h.CRS))

	got := drain(t, src)
	require.Len(t, got, 2)

	assert.Equal(t, "1", got[0].ID)
	poly, ok := got[0].Geometry.(*geom.Polygon)
	require.True(t, ok)
	assert.Equal(t, 2, poly.NumLinearRings())
	name, _ := got[0].Properties.Get("NAME")
	assert.Equal(t, "square", name)
	code, _ := got[0].Properties.Get("CODE")
	assert.Equal(t, json.Number("3000000000"), code)

	assert.Equal(t, "2", got[1].ID)
	_, hasCode := got[1].Properties.Get("CODE")
	assert.False(t, hasCode)
}

func TestShapefile_MultiPartPolygon(t *testing.T) {
	g := polygon([]int32{0, 5}, []shp.Point{
		{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: 0},
		{X: 5, Y: 5}, {X: 5, Y: 6}, {X: 6, Y: 6}, {X: 6, Y: 5}, {X: 5, Y: 5},
	})

	mp, ok := g.(*geom.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, 2, mp.NumPolygons())
}

func TestShapefile_LineParts(t *testing.T) {
	single := polyLine([]int32{0}, []shp.Point{{X: 0, Y: 0}, {X: 1, Y: 1}})
	assert.IsType(t, &geom.LineString{}, single)

	multi := polyLine([]int32{0, 2}, []shp.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}})
	mls, ok := multi.(*geom.MultiLineString)
	require.True(t, ok)
	assert.Equal(t, 2, mls.NumLineStrings())

	assert.Nil(t, toGeom(&shp.Null{}))
}

func TestOpen_ByExtension(t *testing.T) {
	dir := t.TempDir()
	shpPath := writeShapefile(t, dir)

	s, err := Open(shpPath, nil)
	require.NoError(t, err)
	assert.IsType(t, &Shapefile{}, s)
	require.NoError(t, s.Close())

	gjPath := filepath.Join(dir, "regs.geojson")
	require.NoError(t, os.WriteFile(gjPath, []byte(testCollection), 0o600))
	s, err = Open(gjPath, nil)
	require.NoError(t, err)
	assert.IsType(t, &GeoJSON{}, s)
	assert.Len(t, drain(t, s), 3)
	require.NoError(t, s.Close())

	_, err = Open(filepath.Join(dir, "missing.geojson"), nil)
	assert.Error(t, err)
}

func TestGeoJSON_TrailingCRS(t *testing.T) {
	const crs = `{"type":"name","properties":{"name":"EPSG:6668"}}`

	core, logs := observer.New(zapcore.WarnLevel)
	src, err := NewGeoJSON(strings.NewReader(
		`{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":null}],"crs":`+crs+`}`),
		zap.New(core))
	require.NoError(t, err)
	assert.Nil(t, src.Header().CRS)

	assert.Len(t, drain(t, src), 1)
	warned := logs.FilterMessage("geojson: crs member follows features and was not applied")
	assert.Equal(t, 1, warned.Len())

	// with no features the trailing crs is still read before the header is used
	src, err = NewGeoJSON(strings.NewReader(`{"features":[],"crs":`+crs+`}`), nil)
	require.NoError(t, err)
	assert.JSONEq(t, crs, string(src.Header().CRS))
	assert.Empty(t, drain(t, src))
}
