package application

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"github.com/jobrunner/fieldtally/internal/domain"
	"github.com/jobrunner/fieldtally/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockProvider implements output.FeatureProvider over an in-memory slice.
type mockProvider struct {
	name     string
	fields   []string
	features []domain.Feature
	readErr  error
	closed   bool
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Fields() []string { return m.fields }

func (m *mockProvider) FeatureCount(_ context.Context) (int64, error) {
	return int64(len(m.features)), nil
}

func (m *mockProvider) Features(_ context.Context) iter.Seq2[domain.Feature, error] {
	return func(yield func(domain.Feature, error) bool) {
		if m.readErr != nil {
			yield(domain.Feature{}, m.readErr)
			return
		}
		for _, f := range m.features {
			if !yield(f, nil) {
				return
			}
		}
	}
}

func (m *mockProvider) FeaturesInExtent(ctx context.Context, e domain.Extent) iter.Seq2[domain.Feature, error] {
	return func(yield func(domain.Feature, error) bool) {
		for f, err := range m.Features(ctx) {
			if err == nil && !e.Intersects(domain.ExtentOf(f.Geometry)) {
				continue
			}
			if !yield(f, err) {
				return
			}
		}
	}
}

func (m *mockProvider) Close() error {
	m.closed = true
	return nil
}

// nodePoints builds a node point layer from points; ids are P1, P2, ...
func nodePoints(pts ...orb.Point) *mockProvider {
	p := &mockProvider{name: "nodes", fields: []string{domain.NodeIDField}}
	for i, pt := range pts {
		p.features = append(p.features, domain.Feature{
			ID:         int64(i + 1),
			Geometry:   pt,
			Attributes: domain.Attributes{domain.NodeIDField: "P" + strconv.Itoa(i+1)},
		})
	}
	return p
}

type vpPoint struct {
	pt       orb.Point
	category string
}

func vpPoints(pts ...vpPoint) *mockProvider {
	p := &mockProvider{name: "vps", fields: []string{domain.VPIDField, domain.VPCategoryField}}
	for i, vp := range pts {
		p.features = append(p.features, domain.Feature{
			ID:       int64(i + 1),
			Geometry: vp.pt,
			Attributes: domain.Attributes{
				domain.VPIDField:       "P" + strconv.Itoa(i+1),
				domain.VPCategoryField: vp.category,
			},
		})
	}
	return p
}

type field struct {
	id   string
	poly orb.Polygon
}

func fieldLayer(fs ...field) *mockProvider {
	p := &mockProvider{
		name:   "fields",
		fields: []string{domain.FarmIDField, domain.FieldMarker, domain.DateField},
	}
	for i, f := range fs {
		p.features = append(p.features, domain.Feature{
			ID:       int64(i + 1),
			Geometry: f.poly,
			Attributes: domain.Attributes{
				domain.FarmIDField: f.id,
				domain.FieldMarker: "done",
				domain.DateField:   "2024-05-01",
			},
		})
	}
	return p
}

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

// mockOpener implements output.LayerOpener from a fixed table.
type mockOpener struct {
	providers map[string]output.FeatureProvider
	layers    map[string][]domain.LayerInfo
	openErr   error
	opened    []string
}

func (m *mockOpener) Open(_ context.Context, ref domain.LayerRef) (output.FeatureProvider, error) {
	m.opened = append(m.opened, ref.String())
	if m.openErr != nil {
		return nil, m.openErr
	}
	p, ok := m.providers[ref.String()]
	if !ok {
		return nil, domain.ErrLayerNotFound
	}
	return p, nil
}

func (m *mockOpener) Layers(_ context.Context, path string) ([]domain.LayerInfo, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	if layers, ok := m.layers[filepath.Base(path)]; ok {
		return layers, nil
	}
	return []domain.LayerInfo{{Name: "default"}}, nil
}

// mockStorage implements output.ObjectStorage. Downloads create empty files.
type mockStorage struct {
	objects     []output.StorageObject
	extra       map[string]bool
	downloadErr error
	listErr     error
	uploadErr   error
	uploaded    map[string]string
	downloaded  []string
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.objects, nil
}

func (m *mockStorage) Download(_ context.Context, key, dest string) error {
	if m.downloadErr != nil {
		return m.downloadErr
	}
	m.downloaded = append(m.downloaded, key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, nil, 0o644)
}

func (m *mockStorage) GetReader(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (m *mockStorage) Exists(_ context.Context, key string) (bool, error) {
	for _, o := range m.objects {
		if o.Key == key {
			return true, nil
		}
	}
	return m.extra[key], nil
}

func (m *mockStorage) Upload(_ context.Context, key, src string) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	if m.uploaded == nil {
		m.uploaded = make(map[string]string)
	}
	m.uploaded[key] = src
	return nil
}

// mockSink records written rows.
type mockSink struct {
	path   string
	header []string
	rows   [][]string
	calls  int
	err    error
}

func (m *mockSink) WriteRows(_ context.Context, path string, header []string, rows [][]string, _ output.Feedback) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.path, m.header, m.rows = path, header, rows
	return nil
}

// recordingFeedback captures progress values and messages. When cancel is
// set it is called once cancelAt progress reports have been seen.
type recordingFeedback struct {
	mu       sync.Mutex
	progress []int
	messages []string
	cancelAt int
	cancel   func()
}

func (r *recordingFeedback) SetProgress(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
	if r.cancel != nil && len(r.progress) == r.cancelAt {
		r.cancel()
	}
}

func (r *recordingFeedback) PushInfo(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recordingFeedback) hasMessage(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

// countingMetrics records run outcomes.
type countingMetrics struct {
	output.NoOpMetrics
	runs    map[string]int
	pairs   int64
	matches int
}

func (c *countingMetrics) IncRunCount(variant, status string) {
	if c.runs == nil {
		c.runs = make(map[string]int)
	}
	c.runs[variant+":"+status]++
}

func (c *countingMetrics) AddPairsProcessed(_ string, pairs int64) { c.pairs += pairs }
func (c *countingMetrics) AddMatches(_ string, matches int) { c.matches += matches }

var errBoom = errors.New("boom")
