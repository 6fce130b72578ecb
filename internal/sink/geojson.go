// Package sink writes resolved features as GeoJSON FeatureCollections.
package sink

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/jartic-cli/internal/feature"
)

// GeoJSON appends features to a FeatureCollection as they arrive, so a file
// never has to fit in memory. The collection is only well-formed after Close.
type GeoJSON struct {
	path   string
	closer io.Closer
	w      *bufio.Writer
	schema feature.Schema
	count  int
	closed bool
}

// CreateGeoJSON creates path (and its parent directories) and writes the
// collection preamble.
func CreateGeoJSON(path string, header feature.Header) (*GeoJSON, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "sink: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sink: create %s", path)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	s, err := NewGeoJSON(f, name, header)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	s.path = path
	s.closer = f
	return s, nil
}

// NewGeoJSON writes the preamble of a collection called name to w.
func NewGeoJSON(w io.Writer, name string, header feature.Header) (*GeoJSON, error) {
	s := &GeoJSON{w: bufio.NewWriterSize(w, 1<<16), schema: header.Schema}

	nameJSON, err := json.Marshal(name)
	if err != nil {
		return nil, eris.Wrap(err, "sink: marshal collection name")
	}
	s.w.WriteString(`{"type":"FeatureCollection","name":`)
	s.w.Write(nameJSON)
	if len(header.CRS) > 0 {
		s.w.WriteString(`,"crs":`)
		s.w.Write(header.CRS)
	}
	if _, err := s.w.WriteString(`,"features":[`); err != nil {
		return nil, eris.Wrap(err, "sink: write preamble")
	}
	return s, nil
}

// Path returns the file written to, or "" for writer-backed sinks.
func (s *GeoJSON) Path() string {
	return s.path
}

// Count returns the number of features written so far.
func (s *GeoJSON) Count() int {
	return s.count
}

// Write appends fs in order. Values of str-typed schema fields that are not
// strings are written as their decimal text.
func (s *GeoJSON) Write(fs []*feature.Feature) error {
	if s.closed {
		return eris.New("sink: write after close")
	}
	for _, f := range fs {
		data, err := s.encode(f)
		if err != nil {
			return eris.Wrapf(err, "sink: encode feature %s", f.ID)
		}
		if s.count > 0 {
			s.w.WriteByte(',')
		}
		s.w.WriteByte('\n')
		if _, err := s.w.Write(data); err != nil {
			return eris.Wrap(err, "sink: write feature")
		}
		s.count++
	}
	return nil
}

// Close terminates the collection and closes the underlying file.
func (s *GeoJSON) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.w.WriteString("\n]}\n")
	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return eris.Wrap(err, "sink: close collection")
	}
	return nil
}

func (s *GeoJSON) encode(f *feature.Feature) ([]byte, error) {
	s.stringify(f.Properties)

	props := []byte("{}")
	if f.Properties != nil {
		var err error
		if props, err = f.Properties.MarshalJSON(); err != nil {
			return nil, err
		}
	}

	geometry, err := marshalGeometry(f.Geometry)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(props)+len(geometry)+64)
	buf = append(buf, `{"type":"Feature",`...)
	if f.ID != "" {
		id, _ := json.Marshal(f.ID)
		buf = append(buf, `"id":`...)
		buf = append(buf, id...)
		buf = append(buf, ',')
	}
	buf = append(buf, `"properties":`...)
	buf = append(buf, props...)
	buf = append(buf, `,"geometry":`...)
	buf = append(buf, geometry...)
	buf = append(buf, '}')
	return buf, nil
}

// stringify rewrites non-string values of str-typed fields in place.
func (s *GeoJSON) stringify(p *feature.Properties) {
	for _, k := range p.Keys() {
		if ty, ok := s.schema.Type(k); !ok || ty != feature.FieldStr {
			continue
		}
		v, _ := p.Get(k)
		if text, ok := asText(v); ok {
			p.Set(k, text)
		}
	}
}

func asText(v any) (string, bool) {
	switch n := v.(type) {
	case json.Number:
		return n.String(), true
	case int:
		return strconv.Itoa(n), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(n), true
	default:
		return "", false
	}
}

func marshalGeometry(g geom.T) ([]byte, error) {
	if g == nil {
		return []byte("null"), nil
	}
	return geojson.Marshal(g)
}
