package domain

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Intersects reports whether a point geometry lies inside or on the boundary of
// an areal geometry. Argument order does not matter. Point, MultiPoint,
// Polygon, MultiPolygon, Bound and Collection are supported; any other pairing
// is reported as not intersecting.
func Intersects(a, b orb.Geometry) bool {
	if a == nil || b == nil {
		return false
	}
	if isAreal(a) && !isAreal(b) {
		a, b = b, a
	}

	switch g := a.(type) {
	case orb.Point:
		return containsPoint(b, g)
	case orb.MultiPoint:
		for _, p := range g {
			if containsPoint(b, p) {
				return true
			}
		}
	case orb.Collection:
		for _, member := range g {
			if Intersects(member, b) {
				return true
			}
		}
	}
	return false
}

// containsPoint tests a single point against an areal geometry.
func containsPoint(area orb.Geometry, p orb.Point) bool {
	switch g := area.(type) {
	case orb.Polygon:
		return polygonContains(g, p)
	case orb.MultiPolygon:
		for _, poly := range g {
			if polygonContains(poly, p) {
				return true
			}
		}
	case orb.Bound:
		return g.Contains(p)
	case orb.Ring:
		return len(g) > 0 && planar.RingContains(g, p)
	case orb.Collection:
		for _, member := range g {
			if containsPoint(member, p) {
				return true
			}
		}
	}
	return false
}

// polygonContains skips polygons without an outer ring; orb/planar indexes
// the first ring unconditionally.
func polygonContains(poly orb.Polygon, p orb.Point) bool {
	if len(poly) == 0 || len(poly[0]) == 0 {
		return false
	}
	return planar.PolygonContains(poly, p)
}

func isAreal(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon, orb.Bound, orb.Ring:
		return true
	}
	return false
}

// IsPointGeometry returns true for point and multipoint geometries.
func IsPointGeometry(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return true
	}
	return false
}

// IsPolygonGeometry returns true for polygon and multipolygon geometries.
func IsPolygonGeometry(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	}
	return false
}
