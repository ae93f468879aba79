// Package shapefile reads feature layers from ESRI shapefiles.
package shapefile

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/jobrunner/fieldtally/internal/domain"
	"github.com/jobrunner/fieldtally/internal/ports/output"
)

// Reader opens shapefile layers. The .dbf attribute table must sit next to
// the .shp file.
type Reader struct{}

// NewReader creates a new shapefile reader.
func NewReader() *Reader {
	return &Reader{}
}

// Layers describes the single layer of a shapefile.
func (r *Reader) Layers(_ context.Context, path string) ([]domain.LayerInfo, error) {
	l, err := open(path)
	if err != nil {
		return nil, err
	}
	return []domain.LayerInfo{l.info}, nil
}

// Open opens the shapefile layer.
func (r *Reader) Open(_ context.Context, ref domain.LayerRef) (output.FeatureProvider, error) {
	l, err := open(ref.Path)
	if err != nil {
		return nil, err
	}
	if ref.Name != "" && ref.Name != l.info.Name {
		return nil, &domain.LayerError{Path: ref.Path, Layer: ref.Name, Err: domain.ErrLayerNotFound}
	}
	return l, nil
}

func open(path string) (*Layer, error) {
	if !hasTable(path) {
		return nil, &domain.LayerError{Path: path, Err: fmt.Errorf("missing .dbf attribute table: %w", domain.ErrLayerFileNotFound)}
	}

	sr, err := shp.Open(path)
	if err != nil {
		return nil, &domain.LayerError{Path: path, Err: err}
	}
	defer sr.Close()

	l := &Layer{
		path: path,
		info: domain.LayerInfo{
			Name:         strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			GeometryType: geometryType(sr.GeometryType),
			FeatureCount: int64(sr.AttributeCount()),
		},
	}
	for _, f := range sr.Fields() {
		l.fields = append(l.fields, f)
		l.info.Fields = append(l.info.Fields, f.String())
	}
	box := sr.BBox()
	l.info.Extent = &domain.Extent{MinX: box.MinX, MinY: box.MinY, MaxX: box.MaxX, MaxY: box.MaxY}
	return l, nil
}

func hasTable(path string) bool {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range []string{".dbf", ".DBF"} {
		if _, err := os.Stat(base + ext); err == nil {
			return true
		}
	}
	return false
}

func geometryType(t shp.ShapeType) string {
	switch t {
	case shp.POINT, shp.POINTZ, shp.POINTM:
		return "POINT"
	case shp.MULTIPOINT, shp.MULTIPOINTZ, shp.MULTIPOINTM:
		return "MULTIPOINT"
	case shp.POLYGON, shp.POLYGONZ, shp.POLYGONM:
		return "POLYGON"
	case shp.POLYLINE, shp.POLYLINEZ, shp.POLYLINEM:
		return "LINESTRING"
	}
	return "GEOMETRY"
}

// Layer is a shapefile layer. Each iteration reopens the file.
type Layer struct {
	path   string
	info   domain.LayerInfo
	fields []shp.Field
}

// Name returns the file name without extension.
func (l *Layer) Name() string { return l.info.Name }

// Fields returns the attribute names in table order.
func (l *Layer) Fields() []string { return l.info.Fields }

// FeatureCount returns the number of records.
func (l *Layer) FeatureCount(_ context.Context) (int64, error) {
	return l.info.FeatureCount, nil
}

// Features iterates over all shapes in file order.
func (l *Layer) Features(_ context.Context) iter.Seq2[domain.Feature, error] {
	return l.iterate(nil)
}

// FeaturesInExtent iterates over shapes whose bounding box touches extent.
func (l *Layer) FeaturesInExtent(_ context.Context, extent domain.Extent) iter.Seq2[domain.Feature, error] {
	return l.iterate(func(b shp.Box) bool {
		return extent.Intersects(domain.Extent{MinX: b.MinX, MinY: b.MinY, MaxX: b.MaxX, MaxY: b.MaxY})
	})
}

// Close releases nothing; files are opened per iteration.
func (l *Layer) Close() error { return nil }

func (l *Layer) iterate(keep func(shp.Box) bool) iter.Seq2[domain.Feature, error] {
	return func(yield func(domain.Feature, error) bool) {
		sr, err := shp.Open(l.path)
		if err != nil {
			yield(domain.Feature{}, &domain.LayerError{Path: l.path, Err: err})
			return
		}
		defer sr.Close()

		for sr.Next() {
			row, shape := sr.Shape()
			if shape == nil {
				continue
			}
			if keep != nil {
				if _, isNull := shape.(*shp.Null); isNull || !keep(shape.BBox()) {
					continue
				}
			}

			f := domain.Feature{
				ID:         int64(row + 1),
				Layer:      l.info.Name,
				Geometry:   toGeometry(shape),
				Attributes: make(domain.Attributes, len(l.fields)),
			}
			for i, field := range l.fields {
				if v := attributeValue(field, sr.ReadAttribute(row, i)); v != nil {
					f.Attributes[field.String()] = v
				}
			}
			if !yield(f, nil) {
				return
			}
		}
		if err := sr.Err(); err != nil {
			yield(domain.Feature{}, &domain.LayerError{Path: l.path, Err: err})
		}
	}
}

// attributeValue converts a raw dBASE value according to the field type.
// Unparseable numbers and dates are kept as text.
func attributeValue(f shp.Field, raw string) interface{} {
	s := strings.TrimSpace(strings.Trim(raw, "\x00"))
	switch f.Fieldtype {
	case 'N', 'F':
		if s == "" {
			return nil
		}
		if f.Precision == 0 {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
		}
		if x, err := strconv.ParseFloat(s, 64); err == nil {
			return x
		}
	case 'D':
		if s == "" {
			return nil
		}
		if t, err := time.Parse("20060102", s); err == nil {
			return t
		}
	case 'L':
		switch strings.ToUpper(s) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		case "", "?":
			return nil
		}
	}
	return s
}

// toGeometry converts a shape to an orb geometry.
func toGeometry(s shp.Shape) orb.Geometry {
	switch g := s.(type) {
	case *shp.Point:
		return orb.Point{g.X, g.Y}
	case *shp.PointZ:
		return orb.Point{g.X, g.Y}
	case *shp.PointM:
		return orb.Point{g.X, g.Y}
	case *shp.MultiPoint:
		return multiPoint(g.Points)
	case *shp.MultiPointZ:
		return multiPoint(g.Points)
	case *shp.Polygon:
		return polygon(g.Parts, g.Points)
	case *shp.PolygonZ:
		return polygon(g.Parts, g.Points)
	case *shp.PolygonM:
		return polygon(g.Parts, g.Points)
	}
	return nil
}

func multiPoint(pts []shp.Point) orb.MultiPoint {
	mp := make(orb.MultiPoint, len(pts))
	for i, p := range pts {
		mp[i] = orb.Point{p.X, p.Y}
	}
	return mp
}

// polygon groups shapefile rings: a clockwise ring starts a new polygon, a
// counter-clockwise ring is a hole in the current one.
func polygon(parts []int32, pts []shp.Point) orb.Geometry {
	var polys orb.MultiPolygon
	for i, start := range parts {
		end := len(pts)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) >= end || end > len(pts) {
			continue
		}

		ring := make(orb.Ring, 0, end-int(start))
		for _, p := range pts[start:end] {
			ring = append(ring, orb.Point{p.X, p.Y})
		}
		if len(ring) < 3 {
			continue
		}

		if ring.Orientation() == orb.CCW && len(polys) > 0 {
			polys[len(polys)-1] = append(polys[len(polys)-1], ring)
			continue
		}
		polys = append(polys, orb.Polygon{ring})
	}

	switch len(polys) {
	case 0:
		return nil
	case 1:
		return polys[0]
	}
	return polys
}
