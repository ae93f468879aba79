// Package geojson reads feature layers from GeoJSON FeatureCollection files.
package geojson

import (
	"context"
	"fmt"
	"iter"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/fieldtally/internal/domain"
	"github.com/jobrunner/fieldtally/internal/ports/output"
)

// Reader opens GeoJSON layers. A file holds exactly one layer named after
// the file.
type Reader struct{}

// NewReader creates a new GeoJSON reader.
func NewReader() *Reader {
	return &Reader{}
}

// Layers describes the single layer of a GeoJSON file.
func (r *Reader) Layers(_ context.Context, path string) ([]domain.LayerInfo, error) {
	layer, err := load(path)
	if err != nil {
		return nil, err
	}
	return []domain.LayerInfo{layer.info}, nil
}

// Open loads the file into memory.
func (r *Reader) Open(_ context.Context, ref domain.LayerRef) (output.FeatureProvider, error) {
	layer, err := load(ref.Path)
	if err != nil {
		return nil, err
	}
	if ref.Name != "" && ref.Name != layer.info.Name {
		return nil, &domain.LayerError{Path: ref.Path, Layer: ref.Name, Err: domain.ErrLayerNotFound}
	}
	return layer, nil
}

func load(path string) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.LayerError{Path: path, Err: err}
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, &domain.LayerError{Path: path, Err: fmt.Errorf("parsing feature collection: %w", err)}
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	layer := &Layer{
		info:     domain.LayerInfo{Name: name, SRID: 4326},
		features: make([]domain.Feature, len(fc.Features)),
	}

	seen := make(map[string]bool)
	types := make(map[string]bool)
	var extent *domain.Extent
	for i, f := range fc.Features {
		attrs := make(domain.Attributes, len(f.Properties))
		for k, v := range f.Properties {
			attrs[k] = v
			if !seen[k] {
				seen[k] = true
				layer.info.Fields = append(layer.info.Fields, k)
			}
		}
		layer.features[i] = domain.Feature{
			ID:         featureID(f.ID, i),
			Layer:      name,
			Geometry:   f.Geometry,
			Attributes: attrs,
		}
		if f.Geometry != nil {
			types[strings.ToUpper(f.Geometry.GeoJSONType())] = true
			e := domain.ExtentOf(f.Geometry)
			switch {
			case !e.IsValid():
			case extent == nil:
				extent = &e
			default:
				extent.MinX = math.Min(extent.MinX, e.MinX)
				extent.MinY = math.Min(extent.MinY, e.MinY)
				extent.MaxX = math.Max(extent.MaxX, e.MaxX)
				extent.MaxY = math.Max(extent.MaxY, e.MaxY)
			}
		}
	}
	sort.Strings(layer.info.Fields)

	layer.info.FeatureCount = int64(len(layer.features))
	layer.info.Extent = extent
	if len(types) == 1 {
		for t := range types {
			layer.info.GeometryType = t
		}
	} else if len(types) > 1 {
		layer.info.GeometryType = "GEOMETRY"
	}
	return layer, nil
}

// featureID uses an integral GeoJSON id and falls back to the 1-based ordinal.
func featureID(id interface{}, i int) int64 {
	switch v := id.(type) {
	case float64:
		if v == math.Trunc(v) {
			return int64(v)
		}
	case int64:
		return v
	case int:
		return int64(v)
	}
	return int64(i + 1)
}

// Layer is an in-memory GeoJSON layer.
type Layer struct {
	info     domain.LayerInfo
	features []domain.Feature
}

// Name returns the layer name.
func (l *Layer) Name() string { return l.info.Name }

// Fields returns the property names, sorted.
func (l *Layer) Fields() []string { return l.info.Fields }

// FeatureCount returns the number of features.
func (l *Layer) FeatureCount(_ context.Context) (int64, error) {
	return int64(len(l.features)), nil
}

// Features iterates over the features in file order.
func (l *Layer) Features(_ context.Context) iter.Seq2[domain.Feature, error] {
	return l.iterate(nil)
}

// FeaturesInExtent iterates over features whose bounding box touches extent.
func (l *Layer) FeaturesInExtent(_ context.Context, extent domain.Extent) iter.Seq2[domain.Feature, error] {
	return l.iterate(func(f domain.Feature) bool {
		return f.Geometry != nil && extent.Intersects(domain.ExtentOf(f.Geometry))
	})
}

func (l *Layer) iterate(keep func(domain.Feature) bool) iter.Seq2[domain.Feature, error] {
	return func(yield func(domain.Feature, error) bool) {
		for _, f := range l.features {
			if keep != nil && !keep(f) {
				continue
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// Close releases nothing; the layer lives in memory.
func (l *Layer) Close() error { return nil }
