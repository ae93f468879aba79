// Package layers dispatches layer access to the reader for each file format.
package layers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jobrunner/fieldtally/internal/adapters/geojson"
	"github.com/jobrunner/fieldtally/internal/adapters/geopackage"
	"github.com/jobrunner/fieldtally/internal/adapters/shapefile"
	"github.com/jobrunner/fieldtally/internal/domain"
	"github.com/jobrunner/fieldtally/internal/ports/output"
)

// Opener implements output.LayerOpener by file extension.
type Opener struct {
	readers map[string]output.LayerOpener
}

// NewOpener creates an opener for GeoPackage, GeoJSON and shapefile layers.
func NewOpener() *Opener {
	gpkg := geopackage.NewReader()
	gj := geojson.NewReader()
	return &Opener{readers: map[string]output.LayerOpener{
		".gpkg":    gpkg,
		".geojson": gj,
		".json":    gj,
		".shp":     shapefile.NewReader(),
	}}
}

// Open opens a layer with the reader for its file extension.
func (o *Opener) Open(ctx context.Context, ref domain.LayerRef) (output.FeatureProvider, error) {
	r, err := o.reader(ref.Path)
	if err != nil {
		return nil, err
	}
	return r.Open(ctx, ref)
}

// Layers lists the layers of a file.
func (o *Opener) Layers(ctx context.Context, path string) ([]domain.LayerInfo, error) {
	r, err := o.reader(path)
	if err != nil {
		return nil, err
	}
	return r.Layers(ctx, path)
}

func (o *Opener) reader(path string) (output.LayerOpener, error) {
	ext := strings.ToLower(filepath.Ext(path))
	r, ok := o.readers[ext]
	if !ok {
		return nil, &domain.LayerError{Path: path, Err: fmt.Errorf("%q: %w", ext, domain.ErrUnsupportedFormat)}
	}
	return r, nil
}
