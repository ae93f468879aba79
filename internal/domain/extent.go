// Package domain contains the core business entities and value objects.
package domain

import (
	"math"

	"github.com/paulmach/orb"
)

// Extent represents a spatial bounding box.
type Extent struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// emptyExtent is the extent of a geometry without coordinates. It is not valid.
var emptyExtent = Extent{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}

// ExtentOf returns the bounding box of a geometry. Polygons without an outer
// ring contribute nothing.
func ExtentOf(g orb.Geometry) Extent {
	switch x := g.(type) {
	case nil:
		return Extent{}
	case orb.Polygon:
		return polygonExtent(x)
	case orb.MultiPolygon:
		e := emptyExtent
		for _, poly := range x {
			e = e.union(polygonExtent(poly))
		}
		return e
	}
	return boundExtent(g.Bound())
}

func polygonExtent(poly orb.Polygon) Extent {
	if len(poly) == 0 || len(poly[0]) == 0 {
		return emptyExtent
	}
	return boundExtent(poly[0].Bound())
}

func boundExtent(b orb.Bound) Extent {
	return Extent{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}
}

func (e Extent) union(o Extent) Extent {
	return Extent{
		MinX: math.Min(e.MinX, o.MinX),
		MinY: math.Min(e.MinY, o.MinY),
		MaxX: math.Max(e.MaxX, o.MaxX),
		MaxY: math.Max(e.MaxY, o.MaxY),
	}
}

// Contains checks if a point is within the extent. Edges are inclusive.
func (e Extent) Contains(p orb.Point) bool {
	return p[0] >= e.MinX && p[0] <= e.MaxX && p[1] >= e.MinY && p[1] <= e.MaxY
}

// Intersects reports whether two extents overlap or touch.
func (e Extent) Intersects(o Extent) bool {
	return e.MinX <= o.MaxX && o.MinX <= e.MaxX && e.MinY <= o.MaxY && o.MinY <= e.MaxY
}

// IsValid checks if the extent has valid dimensions.
func (e Extent) IsValid() bool {
	return e.MinX <= e.MaxX && e.MinY <= e.MaxY
}

// Width returns the width of the extent.
func (e Extent) Width() float64 {
	return math.Abs(e.MaxX - e.MinX)
}

// Height returns the height of the extent.
func (e Extent) Height() float64 {
	return math.Abs(e.MaxY - e.MinY)
}

// Bound converts the extent to an orb.Bound.
func (e Extent) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{e.MinX, e.MinY}, Max: orb.Point{e.MaxX, e.MaxY}}
}
