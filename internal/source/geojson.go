package source

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/jartic-cli/internal/feature"
)

type geojsonFeature struct {
	ID         json.RawMessage     `json:"id"`
	Geometry   json.RawMessage     `json:"geometry"`
	Properties *feature.Properties `json:"properties"`
}

// GeoJSON streams a FeatureCollection without loading it into memory.
// Members that precede "features" (notably "crs") are read eagerly; the
// first feature is decoded up front to infer the schema.
type GeoJSON struct {
	closer  io.Closer
	dec     *json.Decoder
	header  feature.Header
	pending *geojsonFeature
	empty   bool
	log     *zap.Logger
}

// OpenGeoJSON opens path and reads the collection preamble.
func OpenGeoJSON(path string, log *zap.Logger) (*GeoJSON, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geojson: open %s", path)
	}
	src, err := NewGeoJSON(bufio.NewReaderSize(f, 1<<16), log)
	if err != nil {
		_ = f.Close()
		return nil, eris.Wrapf(err, "geojson: read %s", path)
	}
	src.closer = f
	return src, nil
}

// NewGeoJSON reads the collection preamble from r.
func NewGeoJSON(r io.Reader, log *zap.Logger) (*GeoJSON, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &GeoJSON{dec: json.NewDecoder(r), log: log}
	if err := s.readPreamble(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GeoJSON) readPreamble() error {
	tok, err := s.dec.Token()
	if err != nil {
		return eris.Wrap(err, "geojson: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return eris.Errorf("geojson: expected '{', got %v", tok)
	}

	for s.dec.More() {
		keyTok, err := s.dec.Token()
		if err != nil {
			return eris.Wrap(err, "geojson: read member name")
		}
		key, _ := keyTok.(string)

		switch key {
		case "crs":
			var raw json.RawMessage
			if err := s.dec.Decode(&raw); err != nil {
				return eris.Wrap(err, "geojson: decode crs")
			}
			if string(raw) != "null" {
				s.header.CRS = raw
			}
		case "features":
			if err := s.openFeatures(); err != nil || !s.empty {
				return err
			}
		default:
			var skip json.RawMessage
			if err := s.dec.Decode(&skip); err != nil {
				return eris.Wrapf(err, "geojson: skip member %q", key)
			}
		}
	}

	s.empty = true
	return nil
}

func (s *GeoJSON) openFeatures() error {
	tok, err := s.dec.Token()
	if err != nil {
		return eris.Wrap(err, "geojson: read features array")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return eris.Errorf("geojson: expected features array, got %v", tok)
	}
	if !s.dec.More() {
		if _, err := s.dec.Token(); err != nil {
			return eris.Wrap(err, "geojson: read end of features")
		}
		s.empty = true
		return nil
	}

	var first geojsonFeature
	if err := s.dec.Decode(&first); err != nil {
		return eris.Wrap(err, "geojson: decode first feature")
	}
	s.pending = &first
	s.header.Schema = feature.InferSchema(first.Properties)
	return nil
}

// Header returns the schema inferred from the first feature and the
// collection's CRS member.
func (s *GeoJSON) Header() feature.Header {
	return s.header
}

// Features streams the collection's features in file order.
// Both channels are closed when processing completes.
func (s *GeoJSON) Features(ctx context.Context) (<-chan *feature.Feature, <-chan error) {
	outCh := make(chan *feature.Feature, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		if s.empty {
			return
		}

		n := 0
		send := func(raw *geojsonFeature) bool {
			n++
			select {
			case outCh <- s.toFeature(n, raw):
				return true
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "geojson: context cancelled")
				return false
			}
		}

		if s.pending != nil {
			first := s.pending
			s.pending = nil
			if !send(first) {
				return
			}
		}

		for s.dec.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "geojson: context cancelled")
				return
			}

			var raw geojsonFeature
			if err := s.dec.Decode(&raw); err != nil {
				errCh <- eris.Wrapf(err, "geojson: decode feature %d", n+1)
				return
			}
			if !send(&raw) {
				return
			}
		}

		if _, err := s.dec.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "geojson: read end of features")
			return
		}
		s.checkTrailer()
	}()

	return outCh, errCh
}

// checkTrailer reads the members after "features". A "crs" there arrives
// after the header was handed out, so it is reported and not applied.
func (s *GeoJSON) checkTrailer() {
	for s.dec.More() {
		keyTok, err := s.dec.Token()
		if err != nil {
			return
		}
		var raw json.RawMessage
		if err := s.dec.Decode(&raw); err != nil {
			return
		}
		if key, _ := keyTok.(string); key == "crs" && string(raw) != "null" {
			s.log.Warn("geojson: crs member follows features and was not applied", zap.ByteString("crs", raw))
		}
	}
}

// Close closes the underlying file when the source was opened from a path.
func (s *GeoJSON) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// toFeature converts a decoded feature. An undecodable geometry is logged
// and left nil so the pipeline counts the feature as skipped.
func (s *GeoJSON) toFeature(n int, raw *geojsonFeature) *feature.Feature {
	f := &feature.Feature{ID: featureID(raw.ID), Properties: raw.Properties}
	if f.Properties == nil {
		f.Properties = feature.NewProperties(0)
	}

	if len(raw.Geometry) > 0 {
		if err := geojson.Unmarshal(raw.Geometry, &f.Geometry); err != nil {
			s.log.Warn("geojson: undecodable geometry",
				zap.Int("feature", n),
				zap.String("id", f.ID),
				zap.Error(err),
			)
			f.Geometry = nil
		}
	}
	return f
}

// featureID renders a GeoJSON id member as text. Features without one get
// an empty ID.
func featureID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
