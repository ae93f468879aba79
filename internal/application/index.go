package application

import (
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"

	"github.com/jobrunner/fieldtally/internal/domain"
)

// indexPad widens degenerate boxes; rtreego rejects zero-length sides.
const indexPad = 1e-9

// fieldIndex is an R-tree over field bounding boxes. It only prefilters
// candidates; the exact test stays with domain.Intersects.
type fieldIndex struct {
	tree *rtreego.Rtree
}

type indexedField struct {
	pos  int
	rect rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (f *indexedField) Bounds() rtreego.Rect {
	return f.rect
}

func newFieldIndex(fields []preparedField) *fieldIndex {
	tree := rtreego.NewTree(2, 25, 50)
	for i, f := range fields {
		if f.geometry == nil {
			continue
		}
		rect, ok := paddedRect(domain.ExtentOf(f.geometry))
		if !ok {
			continue
		}
		tree.Insert(&indexedField{pos: i, rect: rect})
	}
	return &fieldIndex{tree: tree}
}

// candidates returns the positions of fields whose box touches g, in ascending
// order so that matches are emitted as the full scan would emit them.
func (ix *fieldIndex) candidates(g orb.Geometry) []int {
	if g == nil {
		return nil
	}
	rect, ok := paddedRect(domain.ExtentOf(g))
	if !ok {
		return nil
	}
	hits := ix.tree.SearchIntersect(rect)
	out := make([]int, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(*indexedField).pos)
	}
	sort.Ints(out)
	return out
}

func paddedRect(e domain.Extent) (rtreego.Rect, bool) {
	if !e.IsValid() || math.IsNaN(e.MinX) || math.IsNaN(e.MinY) {
		return rtreego.Rect{}, false
	}
	rect, err := rtreego.NewRect(
		rtreego.Point{e.MinX - indexPad, e.MinY - indexPad},
		[]float64{e.Width() + 2*indexPad, e.Height() + 2*indexPad},
	)
	if err != nil {
		return rtreego.Rect{}, false
	}
	return rect, true
}
