package domain

import (
	"strconv"
	"time"
)

// CategoryFilter is a set of allowed category labels. A nil filter lets every
// point through; an empty, non-nil filter lets nothing through.
type CategoryFilter struct {
	allowed map[string]struct{}
}

// NewCategoryFilter builds a filter from category labels.
func NewCategoryFilter(labels ...string) *CategoryFilter {
	f := &CategoryFilter{allowed: make(map[string]struct{}, len(labels))}
	for _, l := range labels {
		f.allowed[l] = struct{}{}
	}
	return f
}

// Allows reports whether a point with the given category passes the filter.
func (f *CategoryFilter) Allows(category string) bool {
	if f == nil {
		return true
	}
	_, ok := f.allowed[category]
	return ok
}

// Len returns the number of allowed labels.
func (f *CategoryFilter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.allowed)
}

// MatchRow is one emitted point-in-field match.
type MatchRow struct {
	FarmID   string
	PointID  string
	Date     string
	Status   string
	Category string
	Count    int // Running count for FarmID after this match
}

// Record renders the row for the given variant's header.
func (r MatchRow) Record(v Variant) []string {
	if v.HasCategory() {
		return []string{r.FarmID, r.PointID, r.Date, r.Status, r.Category, strconv.Itoa(r.Count)}
	}
	return []string{r.FarmID, r.PointID, r.Date, r.Status, strconv.Itoa(r.Count)}
}

// CountResult holds the outcome of one counting run.
type CountResult struct {
	Rows       []MatchRow     // Matches in emission order
	Pairs      int64          // Point/field pairs processed
	FarmCounts map[string]int // Final tally per farm id
}

// Records renders all rows for the given variant.
func (r *CountResult) Records(v Variant) [][]string {
	records := make([][]string, len(r.Rows))
	for i, row := range r.Rows {
		records[i] = row.Record(v)
	}
	return records
}

// MatchCount returns the number of emitted rows.
func (r *CountResult) MatchCount() int {
	return len(r.Rows)
}

// CountRequest describes one counting run.
type CountRequest struct {
	Variant    Variant
	Layers     []LayerRef // Exactly two layers, in any order
	Output     string     // Destination CSV path
	Categories []string   // VP category labels; nil means no filter
}

// Filter returns the category filter for the request.
func (r CountRequest) Filter() *CategoryFilter {
	if r.Categories == nil {
		return nil
	}
	return NewCategoryFilter(r.Categories...)
}

// RunSummary reports a finished run.
type RunSummary struct {
	RunID        string        `json:"run_id"`
	Variant      string        `json:"variant"`
	PointLayer   string        `json:"point_layer"`
	FieldLayer   string        `json:"field_layer"`
	Output       string        `json:"output"`
	PublishedKey string        `json:"published_key,omitempty"`
	Pairs        int64         `json:"pairs"`
	Rows         int           `json:"rows"`
	Duration     time.Duration `json:"duration"`
}
