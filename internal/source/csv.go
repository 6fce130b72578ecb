// Package source streams features out of regulation CSV exports, GeoJSON
// FeatureCollections and shapefiles.
package source

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/sells-group/jartic-cli/internal/feature"
)

// CRS84 is the named CRS written for data in WGS84 longitude/latitude.
var CRS84 = json.RawMessage(`{"type":"name","properties":{"name":"urn:ogc:def:crs:OGC:1.3:CRS84"}}`)

const utf8BOM = "\ufeff"

// Columns names the CSV columns that carry regulation fields. Empty names
// mean the column is absent; Coordinates is required.
type Columns struct {
	Coordinates string
	ID          string
	Kind        string
	Regulation  string
	Direction   string
}

// CSVOptions configures a CSV source.
type CSVOptions struct {
	Columns   Columns
	Charset   string // any WHATWG label, e.g. "shift_jis"; default utf-8
	Delimiter rune   // default ','
}

// CSV streams raw regulation rows. Every column except the coordinates
// becomes a string property; empty cells are omitted.
type CSV struct {
	closer io.Closer
	reader *csv.Reader
	header []string
	idx    map[string]int
	opts   CSVOptions
	log    *zap.Logger
}

// OpenCSV opens path and reads its header row.
func OpenCSV(path string, opts CSVOptions, log *zap.Logger) (*CSV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: open %s", path)
	}
	src, err := NewCSV(f, opts, log)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	src.closer = f
	return src, nil
}

// NewCSV reads the header row from r, decoding it from opts.Charset.
func NewCSV(r io.Reader, opts CSVOptions, log *zap.Logger) (*CSV, error) {
	if log == nil {
		log = zap.NewNop()
	}

	decoded, err := decodeCharset(r, opts.Charset)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(decoded)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1 // allow variable fields

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("csv: empty file")
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		header[i] = strings.TrimSpace(name)
		idx[header[i]] = i
	}

	if opts.Columns.Coordinates == "" {
		return nil, eris.New("csv: coordinate column not configured")
	}
	if _, ok := idx[opts.Columns.Coordinates]; !ok {
		return nil, eris.Errorf("csv: coordinate column %q not found in header", opts.Columns.Coordinates)
	}
	for _, optional := range []string{opts.Columns.ID, opts.Columns.Kind, opts.Columns.Regulation, opts.Columns.Direction} {
		if optional == "" {
			continue
		}
		if _, ok := idx[optional]; !ok {
			log.Warn("csv: configured column not found", zap.String("column", optional))
		}
	}

	return &CSV{reader: reader, header: header, idx: idx, opts: opts, log: log}, nil
}

// Header returns a string schema of every non-coordinate column and the
// CRS84 tag.
func (s *CSV) Header() feature.Header {
	schema := make(feature.Schema, 0, len(s.header))
	for _, name := range s.header {
		if name == s.opts.Columns.Coordinates {
			continue
		}
		schema = append(schema, feature.Field{Name: name, Type: feature.FieldStr})
	}
	return feature.Header{Schema: schema, CRS: CRS84}
}

// Features streams one feature per data row.
// Both channels are closed when processing completes.
func (s *CSV) Features(ctx context.Context) (<-chan *feature.Feature, <-chan error) {
	outCh := make(chan *feature.Feature, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		row := 0
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := s.reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrapf(err, "csv: read row %d", row+1)
				return
			}
			row++

			select {
			case outCh <- s.toFeature(row, record):
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return outCh, errCh
}

// Close closes the underlying file when the source was opened from a path.
func (s *CSV) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *CSV) toFeature(row int, record []string) *feature.Feature {
	props := feature.NewProperties(len(s.header))
	for i, name := range s.header {
		if name == s.opts.Columns.Coordinates || i >= len(record) {
			continue
		}
		v := strings.TrimSpace(record[i])
		if v == "" {
			continue
		}
		props.Set(name, v)
	}

	raw := &feature.Raw{
		Coordinates: s.cell(record, s.opts.Columns.Coordinates),
		Regulation:  s.cell(record, s.opts.Columns.Regulation),
	}
	if v := s.cell(record, s.opts.Columns.Kind); v != "" {
		raw.Kind = v
	}
	if v := s.cell(record, s.opts.Columns.Direction); v != "" {
		raw.Direction = v
	}

	id := s.cell(record, s.opts.Columns.ID)
	if id == "" {
		id = "row" + strconv.Itoa(row)
	}

	return &feature.Feature{ID: id, Raw: raw, Properties: props}
}

func (s *CSV) cell(record []string, column string) string {
	if column == "" {
		return ""
	}
	i, ok := s.idx[column]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// decodeCharset wraps r with a decoder for charset. UTF-8 input is passed
// through untouched.
func decodeCharset(r io.Reader, charset string) (io.Reader, error) {
	name := strings.ToLower(strings.TrimSpace(charset))
	if name == "" || name == "utf-8" || name == "utf8" {
		return r, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: unsupported charset %q", charset)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
