package application

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"strconv"
	"testing"

	"github.com/paulmach/orb"

	"github.com/jobrunner/fieldtally/internal/domain"
)

func newTestEngine(index bool) *Engine {
	return NewEngine(EngineConfig{BatchSize: 2, MessageEvery: 4, SpatialIndex: index}, testLogger())
}

func scenarioA() (*mockProvider, *mockProvider) {
	points := vpPoints(
		vpPoint{pt: orb.Point{0, 0}, category: "A"},
		vpPoint{pt: orb.Point{5, 5}, category: "B"},
	)
	fields := fieldLayer(
		field{id: "f1", poly: square(-1, -1, 1, 1)},
		field{id: "f2", poly: square(4, 4, 6, 6)},
	)
	return points, fields
}

func rowKeys(rows []domain.MatchRow) [][3]string {
	out := make([][3]string, len(rows))
	for i, r := range rows {
		out[i] = [3]string{r.FarmID, r.PointID, strconv.Itoa(r.Count)}
	}
	return out
}

func TestEngineScenarios(t *testing.T) {
	tests := []struct {
		name    string
		points  func() (*mockProvider, *mockProvider)
		variant domain.Variant
		filter  *domain.CategoryFilter
		want    [][3]string
	}{
		{
			name:    "one match per point",
			points:  scenarioA,
			variant: domain.VPCount,
			want:    [][3]string{{"f1", "P1", "1"}, {"f2", "P2", "1"}},
		},
		{
			name:    "filter keeps only category B",
			points:  scenarioA,
			variant: domain.VPCount,
			filter:  domain.NewCategoryFilter("B"),
			want:    [][3]string{{"f2", "P2", "1"}},
		},
		{
			name: "running count per farm",
			points: func() (*mockProvider, *mockProvider) {
				return nodePoints(orb.Point{0, 0}, orb.Point{0, 0}),
					fieldLayer(field{id: "f1", poly: square(-1, -1, 1, 1)}, field{id: "f2", poly: square(4, 4, 6, 6)})
			},
			variant: domain.NodeCount,
			want:    [][3]string{{"f1", "P1", "1"}, {"f1", "P2", "2"}},
		},
		{
			name: "point in overlapping fields emits one row per field",
			points: func() (*mockProvider, *mockProvider) {
				return nodePoints(orb.Point{1, 1}),
					fieldLayer(field{id: "a", poly: square(0, 0, 2, 2)}, field{id: "b", poly: square(1, 1, 3, 3)})
			},
			variant: domain.NodeCount,
			want:    [][3]string{{"a", "P1", "1"}, {"b", "P1", "1"}},
		},
		{
			name: "point outside every field",
			points: func() (*mockProvider, *mockProvider) {
				return nodePoints(orb.Point{10, 10}), fieldLayer(field{id: "a", poly: square(0, 0, 2, 2)})
			},
			variant: domain.NodeCount,
			want:    [][3]string{},
		},
	}

	for _, tt := range tests {
		for _, index := range []bool{false, true} {
			name := tt.name
			if index {
				name += " (indexed)"
			}
			t.Run(name, func(t *testing.T) {
				points, fields := tt.points()
				result, err := newTestEngine(index).Count(context.Background(), points, fields, tt.variant, tt.filter, nil)
				if err != nil {
					t.Fatalf("Count() error = %v", err)
				}
				got := rowKeys(result.Rows)
				if !reflect.DeepEqual(got, tt.want) {
					t.Errorf("rows = %v, want %v", got, tt.want)
				}
			})
		}
	}
}

func TestEngineRowAttributes(t *testing.T) {
	points, fields := scenarioA()
	result, err := newTestEngine(false).Count(context.Background(), points, fields, domain.VPCount, nil, nil)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	want := []string{"f1", "P1", "2024-05-01", "done", "A", "1"}
	if got := result.Rows[0].Record(domain.VPCount); !reflect.DeepEqual(got, want) {
		t.Errorf("Record() = %v, want %v", got, want)
	}
	if result.Pairs != 4 {
		t.Errorf("Pairs = %d, want 4", result.Pairs)
	}
	if result.FarmCounts["f1"] != 1 || result.FarmCounts["f2"] != 1 {
		t.Errorf("FarmCounts = %v", result.FarmCounts)
	}
}

func TestEngineCategoryFilterBounds(t *testing.T) {
	points, fields := scenarioA()
	e := newTestEngine(false)
	ctx := context.Background()

	none, err := e.Count(ctx, points, fields, domain.VPCount, domain.NewCategoryFilter(), nil)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if len(none.Rows) != 0 {
		t.Errorf("empty filter rows = %d, want 0", len(none.Rows))
	}
	if none.Pairs != 4 {
		t.Errorf("empty filter Pairs = %d, want 4", none.Pairs)
	}

	labels := make([]string, 0, len(domain.VPCategories)+2)
	for _, c := range domain.VPCategories {
		labels = append(labels, c.Label)
	}
	labels = append(labels, "A", "B")
	all, err := e.Count(ctx, points, fields, domain.VPCount, domain.NewCategoryFilter(labels...), nil)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	unfiltered, err := e.Count(ctx, points, fields, domain.VPCount, nil, nil)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if !reflect.DeepEqual(all.Rows, unfiltered.Rows) {
		t.Errorf("full filter rows = %v, want %v", all.Rows, unfiltered.Rows)
	}
}

func TestEngineEmptyInputs(t *testing.T) {
	tests := []struct {
		name   string
		points *mockProvider
		fields *mockProvider
	}{
		{"no points", nodePoints(), fieldLayer(field{id: "a", poly: square(0, 0, 1, 1)})},
		{"no fields", nodePoints(orb.Point{0, 0}), fieldLayer()},
		{"nothing", nodePoints(), fieldLayer()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := newTestEngine(false).Count(context.Background(), tt.points, tt.fields, domain.NodeCount, nil, nil)
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if len(result.Rows) != 0 || result.Pairs != 0 {
				t.Errorf("rows = %d, pairs = %d, want 0, 0", len(result.Rows), result.Pairs)
			}
		})
	}
}

func TestEngineFieldWithEmptyPolygons(t *testing.T) {
	points := nodePoints(orb.Point{0, 0}, orb.Point{5, 5})
	fields := fieldLayer(
		field{id: "empty", poly: square(0, 0, 0, 0)},
		field{id: "partly", poly: square(0, 0, 0, 0)},
		field{id: "f1", poly: square(-1, -1, 1, 1)},
	)
	fields.features[0].Geometry = orb.MultiPolygon{{}}
	fields.features[1].Geometry = orb.MultiPolygon{{orb.Ring{}}, square(4, 4, 6, 6)}

	want := [][3]string{{"f1", "P1", "1"}, {"partly", "P2", "1"}}
	for _, index := range []bool{false, true} {
		result, err := newTestEngine(index).Count(context.Background(), points, fields, domain.NodeCount, nil, nil)
		if err != nil {
			t.Fatalf("index=%v: Count() error = %v", index, err)
		}
		if got := rowKeys(result.Rows); !reflect.DeepEqual(got, want) {
			t.Errorf("index=%v: rows = %v, want %v", index, got, want)
		}
		if result.Pairs != 6 {
			t.Errorf("index=%v: Pairs = %d, want 6", index, result.Pairs)
		}
	}
}

func TestEngineCountsAreStrictlyIncreasing(t *testing.T) {
	points, fields := randomLayers(200, 30, 7)
	result, err := newTestEngine(false).Count(context.Background(), points, fields, domain.NodeCount, nil, nil)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if len(result.Rows) == 0 {
		t.Fatal("expected some matches")
	}

	last := make(map[string]int)
	for i, r := range result.Rows {
		if r.Count != last[r.FarmID]+1 {
			t.Fatalf("row %d: count for %s = %d, want %d", i, r.FarmID, r.Count, last[r.FarmID]+1)
		}
		last[r.FarmID] = r.Count
	}
	if !reflect.DeepEqual(last, result.FarmCounts) {
		t.Errorf("FarmCounts = %v, want %v", result.FarmCounts, last)
	}
}

func TestEngineDeterministic(t *testing.T) {
	points, fields := randomLayers(100, 20, 3)
	e := newTestEngine(false)

	first, err := e.Count(context.Background(), points, fields, domain.NodeCount, nil, nil)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	second, err := e.Count(context.Background(), points, fields, domain.NodeCount, nil, nil)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if !reflect.DeepEqual(first.Records(domain.NodeCount), second.Records(domain.NodeCount)) {
		t.Error("two runs over the same input produced different output")
	}
}

func TestEngineIndexMatchesFullScan(t *testing.T) {
	for _, seed := range []int64{1, 2, 3} {
		points, fields := randomLayers(300, 40, seed)

		brute, err := newTestEngine(false).Count(context.Background(), points, fields, domain.NodeCount, nil, nil)
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		indexed, err := newTestEngine(true).Count(context.Background(), points, fields, domain.NodeCount, nil, nil)
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}

		if !reflect.DeepEqual(brute.Rows, indexed.Rows) {
			t.Errorf("seed %d: indexed rows differ from full scan (%d vs %d rows)", seed, len(indexed.Rows), len(brute.Rows))
		}
		if brute.Pairs != indexed.Pairs {
			t.Errorf("seed %d: Pairs = %d, want %d", seed, indexed.Pairs, brute.Pairs)
		}
	}
}

func TestEngineProgress(t *testing.T) {
	for _, index := range []bool{false, true} {
		points := nodePoints(orb.Point{0, 0}, orb.Point{0, 0}, orb.Point{0, 0})
		fields := fieldLayer(field{id: "a", poly: square(-1, -1, 1, 1)}, field{id: "b", poly: square(5, 5, 6, 6)})
		fb := &recordingFeedback{}

		if _, err := newTestEngine(index).Count(context.Background(), points, fields, domain.NodeCount, nil, fb); err != nil {
			t.Fatalf("Count() error = %v", err)
		}

		want := []int{0, 33, 66}
		if !reflect.DeepEqual(fb.progress, want) {
			t.Errorf("index=%v: progress = %v, want %v", index, fb.progress, want)
		}
		if len(fb.messages) != 2 {
			t.Errorf("index=%v: messages = %v, want 2 percentage messages", index, fb.messages)
		}
	}
}

func TestEngineCancellation(t *testing.T) {
	for _, index := range []bool{false, true} {
		ctx, cancel := context.WithCancel(context.Background())
		fb := &recordingFeedback{cancelAt: 2, cancel: cancel}
		points, fields := randomLayers(50, 10, 5)

		result, err := newTestEngine(index).Count(ctx, points, fields, domain.NodeCount, nil, fb)
		cancel()

		if !errors.Is(err, domain.ErrCancelled) {
			t.Errorf("index=%v: err = %v, want ErrCancelled", index, err)
		}
		if result != nil {
			t.Errorf("index=%v: result = %v, want nil", index, result)
		}
	}
}

func TestEngineReadError(t *testing.T) {
	points := nodePoints(orb.Point{0, 0})
	points.readErr = errBoom
	fields := fieldLayer(field{id: "a", poly: square(-1, -1, 1, 1)})

	_, err := newTestEngine(false).Count(context.Background(), points, fields, domain.NodeCount, nil, nil)
	if !errors.Is(err, errBoom) {
		t.Errorf("err = %v, want %v", err, errBoom)
	}
}

// randomLayers scatters points over a 100x100 area and drops overlapping
// squares on it, some sharing a farm id.
func randomLayers(nPoints, nFields int, seed int64) (*mockProvider, *mockProvider) {
	rng := rand.New(rand.NewSource(seed))

	pts := make([]orb.Point, nPoints)
	for i := range pts {
		pts[i] = orb.Point{rng.Float64() * 100, rng.Float64() * 100}
	}
	// Some points sit exactly on field corners.
	for i := 0; i < nPoints/10; i++ {
		pts[i] = orb.Point{float64(rng.Intn(10) * 10), float64(rng.Intn(10) * 10)}
	}

	fs := make([]field, nFields)
	for i := range fs {
		x, y := float64(rng.Intn(9)*10), float64(rng.Intn(9)*10)
		size := float64(10 + rng.Intn(20))
		fs[i] = field{id: "farm" + strconv.Itoa(i%(nFields/2+1)), poly: square(x, y, x+size, y+size)}
	}
	return nodePoints(pts...), fieldLayer(fs...)
}
