package domain

import (
	"math"
	"strconv"
	"time"

	"github.com/paulmach/orb"
)

// Feature represents a geo feature with geometry and attributes.
type Feature struct {
	ID         int64        // Feature ID (fid or ordinal)
	Layer      string       // Associated layer name
	Geometry   orb.Geometry // Geometry data
	Attributes Attributes   // Attribute data
}

// Attributes maps field names to attribute values.
type Attributes map[string]interface{}

// Get returns an attribute value by key.
func (a Attributes) Get(key string) (interface{}, bool) {
	if a == nil {
		return nil, false
	}
	v, ok := a[key]
	return v, ok
}

// Has reports whether the attribute is present.
func (a Attributes) Has(key string) bool {
	_, ok := a.Get(key)
	return ok
}

// String returns the canonical text form of an attribute. Absent and nil
// values are returned as an empty string.
func (a Attributes) String(key string) string {
	v, _ := a.Get(key)
	return FormatValue(v)
}

// FormatValue renders an attribute value the way it is written to output files.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return formatFloat(float64(x), 32)
	case float64:
		return formatFloat(x, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	case interface{ String() string }:
		return x.String()
	default:
		return ""
	}
}

func formatFloat(f float64, bits int) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

// LayerRef identifies a layer inside a file. Name may be empty when the file
// holds a single layer.
type LayerRef struct {
	Path string
	Name string
}

// ParseLayerRef parses "path" or "path#layer".
func ParseLayerRef(s string) LayerRef {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '#' {
			return LayerRef{Path: s[:i], Name: s[i+1:]}
		}
	}
	return LayerRef{Path: s}
}

// String returns the "path#layer" form.
func (r LayerRef) String() string {
	if r.Name == "" {
		return r.Path
	}
	return r.Path + "#" + r.Name
}

// LayerInfo describes a feature layer found in a layer file.
type LayerInfo struct {
	Name         string   // Layer name
	Fields       []string // Attribute field names in storage order
	GeometryType string   // Geometry type (POINT, POLYGON, etc.)
	SRID         int      // Spatial Reference ID, 0 when unknown
	FeatureCount int64    // Number of features
	Extent       *Extent  // Bounding box (optional)
}

// HasField reports whether the layer carries the named attribute field.
func (l *LayerInfo) HasField(name string) bool {
	for _, f := range l.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// IsPointLayer returns true if the layer contains point geometries.
func (l *LayerInfo) IsPointLayer() bool {
	return l.GeometryType == "POINT" || l.GeometryType == "MULTIPOINT"
}

// IsPolygonLayer returns true if the layer contains polygon geometries.
func (l *LayerInfo) IsPolygonLayer() bool {
	return l.GeometryType == "POLYGON" || l.GeometryType == "MULTIPOLYGON"
}
