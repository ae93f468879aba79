package application

import (
	"github.com/jobrunner/fieldtally/internal/domain"
	"github.com/jobrunner/fieldtally/internal/ports/output"
)

// ResolveRoles decides which of two providers holds the points and which holds
// the field polygons. Exactly one provider must carry the field marker
// attribute and exactly one must carry the variant's point attribute; argument
// order does not matter.
func ResolveRoles(a, b output.FeatureProvider, v domain.Variant) (points, fields output.FeatureProvider, err error) {
	aField, bField := hasField(a, domain.FieldMarker), hasField(b, domain.FieldMarker)
	aPoint, bPoint := hasField(a, v.PointIDField), hasField(b, v.PointIDField)

	fail := func(reason string) (output.FeatureProvider, output.FeatureProvider, error) {
		return nil, nil, &domain.LayerRoleError{First: a.Name(), Second: b.Name(), Reason: reason}
	}

	switch {
	case aField && bField:
		return fail("both layers carry " + domain.FieldMarker)
	case !aField && !bField:
		return fail("no layer carries " + domain.FieldMarker)
	case aPoint && bPoint:
		return fail("both layers carry " + v.PointIDField)
	case aField && bPoint:
		return b, a, nil
	case bField && aPoint:
		return a, b, nil
	}
	return fail("no point layer carries " + v.PointIDField)
}

func hasField(p output.FeatureProvider, name string) bool {
	for _, f := range p.Fields() {
		if f == name {
			return true
		}
	}
	return false
}
