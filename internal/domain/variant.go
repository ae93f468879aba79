package domain

import "strings"

// Attribute names shared by both counting variants.
const (
	FieldMarker = "Status" // present on field polygons only
	FarmIDField = "Id"
	DateField   = "Date"
)

// Attribute names distinguishing the point layers.
const (
	NodeIDField     = "PointID"
	VPIDField       = "Preplot_P"
	VPCategoryField = "Farm_Cate"
)

// Variant describes one flavour of the count: which attribute marks the point
// layer, whether points carry a category, and the CSV header.
type Variant struct {
	Name          string   // node or vp
	DisplayName   string   // Human-readable name
	PointIDField  string   // Attribute identifying point features
	CategoryField string   // Category attribute, empty when the variant has none
	Header        []string // Output header
}

// HasCategory reports whether the variant writes a category column.
func (v Variant) HasCategory() bool {
	return v.CategoryField != ""
}

// The two counting variants.
var (
	NodeCount = Variant{
		Name:         "node",
		DisplayName:  "Node count",
		PointIDField: NodeIDField,
		Header:       []string{"farm_id", "rl_rp", "date", "status", "count"},
	}
	VPCount = Variant{
		Name:          "vp",
		DisplayName:   "VP count",
		PointIDField:  VPIDField,
		CategoryField: VPCategoryField,
		Header:        []string{"farm_id", "sl_sp", "date", "farm_status", "vp_category", "count"},
	}
)

// ParseVariant returns the variant with the given name.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NodeCount.Name, "nodecount":
		return NodeCount, nil
	case VPCount.Name, "vpcount":
		return VPCount, nil
	}
	return Variant{}, &ValidationError{
		Field:      "variant",
		Value:      name,
		Constraint: "node|vp",
		Message:    "unknown count variant",
	}
}

// VPCategory is one of the fixed VP category labels.
type VPCategory struct {
	Key   string // Enumeration name
	Label string // Attribute value stored on the point
}

// VPCategories lists the known VP categories in their canonical order.
var VPCategories = []VPCategory{
	{Key: "FARM_EMPTY", Label: "Empty land"},
	{Key: "FARM_CROP", Label: "In the farmland"},
	{Key: "TRACK_GOOD", Label: "Good Track＞4m"},
	{Key: "TRACK_FARM", Label: "Track affect by farmland"},
	{Key: "TRACK_REMOVED", Label: "Track disappeared"},
	{Key: "TRACK_WIDEN", Label: "Track need wide"},
}

// ParseVPCategory accepts an enumeration name (case-insensitive) or a label.
func ParseVPCategory(s string) (string, error) {
	for _, c := range VPCategories {
		if strings.EqualFold(s, c.Key) || s == c.Label {
			return c.Label, nil
		}
	}
	return "", &ValidationError{
		Field:      "category",
		Value:      s,
		Constraint: "known VP category",
		Message:    "unknown VP category",
	}
}
