package geojson

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"

	"github.com/jobrunner/fieldtally/internal/domain"
)

const fieldsJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": 7,
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[2,0],[2,2],[0,2],[0,0]]]},
     "properties": {"Id": "F-1", "Status": "done", "Date": "2024-05-01"}},
    {"type": "Feature", "id": "abc",
     "geometry": {"type": "Polygon", "coordinates": [[[5,5],[8,5],[8,8],[5,8],[5,5]]]},
     "properties": {"Id": 12, "Status": "open", "Area": 3.5}}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReaderLayers(t *testing.T) {
	path := writeFile(t, "fields.geojson", fieldsJSON)

	layers, err := NewReader().Layers(context.Background(), path)
	if err != nil {
		t.Fatalf("Layers() error = %v", err)
	}
	if len(layers) != 1 {
		t.Fatalf("len(layers) = %d, want 1", len(layers))
	}
	l := layers[0]
	if l.Name != "fields" || l.FeatureCount != 2 || l.GeometryType != "POLYGON" {
		t.Errorf("layer = %+v", l)
	}
	want := []string{"Area", "Date", "Id", "Status"}
	for i := range want {
		if i >= len(l.Fields) || l.Fields[i] != want[i] {
			t.Fatalf("Fields = %v, want %v", l.Fields, want)
		}
	}
	if l.Extent == nil || l.Extent.MaxX != 8 || l.Extent.MinY != 0 {
		t.Errorf("Extent = %+v", l.Extent)
	}
}

func TestReaderFeatures(t *testing.T) {
	path := writeFile(t, "fields.geojson", fieldsJSON)
	ctx := context.Background()

	layer, err := NewReader().Open(ctx, domain.LayerRef{Path: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer layer.Close()

	var got []domain.Feature
	for f, err := range layer.Features(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, f)
	}
	if len(got) != 2 {
		t.Fatalf("len(features) = %d", len(got))
	}
	if got[0].ID != 7 || got[1].ID != 2 {
		t.Errorf("ids = %d, %d, want 7, 2", got[0].ID, got[1].ID)
	}
	if got[1].Attributes.String(domain.FarmIDField) != "12" {
		t.Errorf("numeric Id = %q, want 12", got[1].Attributes.String(domain.FarmIDField))
	}
	if _, ok := got[0].Geometry.(orb.Polygon); !ok {
		t.Errorf("geometry type = %T", got[0].Geometry)
	}

	var inExtent []int64
	for f, err := range layer.FeaturesInExtent(ctx, domain.Extent{MinX: 3, MinY: 3, MaxX: 6, MaxY: 6}) {
		if err != nil {
			t.Fatal(err)
		}
		inExtent = append(inExtent, f.ID)
	}
	if len(inExtent) != 1 || inExtent[0] != 2 {
		t.Errorf("FeaturesInExtent ids = %v, want [2]", inExtent)
	}
}

func TestReaderErrors(t *testing.T) {
	ctx := context.Background()
	r := NewReader()

	if _, err := r.Open(ctx, domain.LayerRef{Path: writeFile(t, "bad.geojson", `{"type": "Feature"`)}); err == nil {
		t.Error("expected parse error")
	}
	if _, err := r.Open(ctx, domain.LayerRef{Path: filepath.Join(t.TempDir(), "missing.geojson")}); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeFile(t, "fields.geojson", fieldsJSON)
	_, err := r.Open(ctx, domain.LayerRef{Path: path, Name: "other"})
	if !errors.Is(err, domain.ErrLayerNotFound) {
		t.Errorf("err = %v, want ErrLayerNotFound", err)
	}
	if _, err := r.Open(ctx, domain.LayerRef{Path: path, Name: "fields"}); err != nil {
		t.Errorf("Open() with matching layer name error = %v", err)
	}
}
