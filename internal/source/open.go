package source

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/jartic-cli/internal/feature"
)

// Stream is a source of resolved features backed by an open file.
type Stream interface {
	Header() feature.Header
	Features(ctx context.Context) (<-chan *feature.Feature, <-chan error)
	Close() error
}

// Open picks a reader by extension: .shp files are read as shapefiles,
// everything else as a GeoJSON FeatureCollection.
func Open(path string, log *zap.Logger) (Stream, error) {
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		s, err := OpenShapefile(path, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	g, err := OpenGeoJSON(path, log)
	if err != nil {
		return nil, err
	}
	return g, nil
}
