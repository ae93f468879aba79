package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jobrunner/fieldtally/internal/adapters/layers"
	"github.com/jobrunner/fieldtally/internal/adapters/storage"
	"github.com/jobrunner/fieldtally/internal/application"
	"github.com/jobrunner/fieldtally/internal/config"
	"github.com/jobrunner/fieldtally/internal/domain"
	"github.com/jobrunner/fieldtally/internal/ports/output"
)

// mockCounter implements input.CountService for testing.
type mockCounter struct {
	messages []string
	summary  *domain.RunSummary
	err      error
	got      *domain.CountRequest
}

func (m *mockCounter) Run(_ context.Context, req domain.CountRequest, fb output.Feedback) (*domain.RunSummary, error) {
	m.got = &req
	for _, msg := range m.messages {
		fb.PushInfo(msg)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.summary, nil
}

// mockCatalog implements input.LayerCatalog for testing.
type mockCatalog struct {
	files []domain.LayerFile
}

func (m *mockCatalog) ListFiles(_ context.Context) ([]domain.LayerFile, error) {
	return m.files, nil
}

func (m *mockCatalog) GetFile(_ context.Context, id string) (*domain.LayerFile, error) {
	for i := range m.files {
		if m.files[i].ID == id {
			return &m.files[i], nil
		}
	}
	return nil, domain.ErrLayerFileNotFound
}

func (m *mockCatalog) GetFileStatus(_ context.Context, id string) (domain.LayerFileStatus, error) {
	if _, err := m.GetFile(context.Background(), id); err != nil {
		return "", err
	}
	return domain.StatusReady, nil
}

func (m *mockCatalog) Resolve(ctx context.Context, ref domain.LayerRef) (domain.LayerRef, error) {
	file, err := m.GetFile(ctx, ref.Path)
	if err != nil {
		return domain.LayerRef{}, err
	}
	layer, ok := file.GetLayer(ref.Name)
	if !ok {
		return domain.LayerRef{}, domain.ErrLayerNotFound
	}
	return domain.LayerRef{Path: file.Path, Name: layer.Name}, nil
}

type serverDeps struct {
	config    *config.ServerConfig
	counter   *mockCounter
	catalog   *mockCatalog
	sync      *application.SyncService
	outputDir string
}

func testCatalog() *mockCatalog {
	return &mockCatalog{files: []domain.LayerFile{{
		ID:   "survey",
		Key:  "survey.gpkg",
		Path: "/data/survey.gpkg",
		Size: 4096,
		Layers: []domain.LayerInfo{
			{
				Name:         "fields",
				Fields:       []string{domain.FarmIDField, domain.DateField, domain.FieldMarker},
				GeometryType: "POLYGON",
				SRID:         32650,
				FeatureCount: 12,
				Extent:       &domain.Extent{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4},
			},
			{Name: "vps", Fields: []string{domain.VPIDField, domain.VPCategoryField}, GeometryType: "POINT"},
		},
	}}}
}

func newTestServer(t *testing.T, deps serverDeps) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := config.ServerConfig{Host: "localhost", Port: 8080}
	if deps.config != nil {
		cfg = *deps.config
	}
	if deps.counter == nil {
		deps.counter = &mockCounter{}
	}
	if deps.catalog == nil {
		deps.catalog = testCatalog()
	}
	if deps.outputDir == "" {
		deps.outputDir = t.TempDir()
	}

	var opts []Option
	if deps.sync != nil {
		opts = append(opts, WithSync(deps.sync))
	}
	return NewServer(cfg, deps.counter, deps.catalog, application.NewHealthService(nil), deps.outputDir, logger, opts...)
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, serverDeps{})

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		t.Run(path, func(t *testing.T) {
			rr := doRequest(t, s, http.MethodGet, path, nil)
			if rr.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rr.Code)
			}
			if got := decodeBody(t, rr)["status"]; got != "ok" {
				t.Errorf("status field = %v, want ok", got)
			}
		})
	}
}

func TestHandleListFiles(t *testing.T) {
	s := newTestServer(t, serverDeps{})

	rr := doRequest(t, s, http.MethodGet, "/api/v1/layers", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
	file := body["files"].([]interface{})[0].(map[string]interface{})
	if file["id"] != "survey" || file["status"] != "ready" || file["layer_count"] != float64(2) {
		t.Errorf("file = %v", file)
	}
	if _, ok := file["path"]; ok {
		t.Error("local paths should not be exposed")
	}
}

func TestHandleGetFile(t *testing.T) {
	s := newTestServer(t, serverDeps{})

	rr := doRequest(t, s, http.MethodGet, "/api/v1/layers/survey", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	layers := decodeBody(t, rr)["layers"].([]interface{})
	if len(layers) != 2 {
		t.Fatalf("len(layers) = %d, want 2", len(layers))
	}
	fields := layers[0].(map[string]interface{})
	if fields["role"] != "fields" || fields["extent"] == nil {
		t.Errorf("fields layer = %v", fields)
	}
	if role := layers[1].(map[string]interface{})["role"]; role != "vps" {
		t.Errorf("vps role = %v", role)
	}

	rr = doRequest(t, s, http.MethodGet, "/api/v1/layers/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestHandleRun(t *testing.T) {
	outDir := t.TempDir()
	counter := &mockCounter{
		messages: []string{"start processing ...", "Processing completed, 3 features done"},
		summary:  &domain.RunSummary{RunID: "r1", Variant: "vp", Rows: 3},
	}
	s := newTestServer(t, serverDeps{counter: counter, outputDir: outDir})

	rr := doRequest(t, s, http.MethodPost, "/api/v1/runs", RunRequest{
		Variant:    "vp",
		Layers:     []string{"survey#vps", "survey#fields"},
		Output:     "vp/out.csv",
		Categories: []string{"FARM_CROP"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp RunResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Summary == nil || resp.Summary.RunID != "r1" || len(resp.Messages) != 2 {
		t.Errorf("response = %+v", resp)
	}

	got := counter.got
	if got.Variant.Name != "vp" {
		t.Errorf("variant = %q", got.Variant.Name)
	}
	wantLayers := []domain.LayerRef{
		{Path: "/data/survey.gpkg", Name: "vps"},
		{Path: "/data/survey.gpkg", Name: "fields"},
	}
	for i, want := range wantLayers {
		if got.Layers[i] != want {
			t.Errorf("layers[%d] = %+v, want %+v", i, got.Layers[i], want)
		}
	}
	if got.Output != filepath.Join(outDir, "vp", "out.csv") {
		t.Errorf("output = %q", got.Output)
	}
	if len(got.Categories) != 1 || got.Categories[0] != "FARM_CROP" {
		t.Errorf("categories = %v", got.Categories)
	}
}

func TestHandleRunErrors(t *testing.T) {
	validLayers := []string{"survey#vps", "survey#fields"}

	tests := []struct {
		name       string
		body       interface{}
		runErr     error
		wantStatus int
		wantText   string
	}{
		{
			name:       "malformed body",
			body:       "not an object",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown variant",
			body:       RunRequest{Variant: "bogus", Layers: validLayers, Output: "a.csv"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown layer file",
			body:       RunRequest{Variant: "vp", Layers: []string{"nope#vps", "survey#fields"}, Output: "a.csv"},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "output escapes directory",
			body:       RunRequest{Variant: "vp", Layers: validLayers, Output: "../etc/passwd"},
			wantStatus: http.StatusBadRequest,
			wantText:   "escapes",
		},
		{
			name:       "absolute output",
			body:       RunRequest{Variant: "vp", Layers: validLayers, Output: "/tmp/a.csv"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing output",
			body:       RunRequest{Variant: "vp", Layers: validLayers},
			runErr:     &domain.NoOutputPathError{Path: ""},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "role failure",
			body:       RunRequest{Variant: "vp", Layers: validLayers, Output: "a.csv"},
			runErr:     &domain.LayerRoleError{First: "vps", Second: "fields", Reason: "no point layer"},
			wantStatus: http.StatusUnprocessableEntity,
			wantText:   "incorrect layers selected",
		},
		{
			name:       "cancelled",
			body:       RunRequest{Variant: "vp", Layers: validLayers, Output: "a.csv"},
			runErr:     fmt.Errorf("counting: %w", domain.ErrCancelled),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "unexpected",
			body:       RunRequest{Variant: "vp", Layers: validLayers, Output: "a.csv"},
			runErr:     fmt.Errorf("disk on fire"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := &mockCounter{err: tt.runErr, messages: []string{"ERROR: something"}}
			s := newTestServer(t, serverDeps{counter: counter})

			rr := doRequest(t, s, http.MethodPost, "/api/v1/runs", tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			body := decodeBody(t, rr)
			if tt.wantText != "" && !strings.Contains(fmt.Sprint(body["message"]), tt.wantText) {
				t.Errorf("message = %v, want it to contain %q", body["message"], tt.wantText)
			}
			if tt.runErr != nil && body["messages"] == nil {
				t.Error("run messages should be included in the error body")
			}
		})
	}
}

func TestOutputPath(t *testing.T) {
	s := &Server{outputDir: filepath.FromSlash("/srv/out")}

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a.csv", "/srv/out/a.csv", false},
		{"vp/../b.csv", "/srv/out/b.csv", false},
		{"", "", false},
		{"../a.csv", "", true},
		{"..", "", true},
		{"/abs/a.csv", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := s.outputPath(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("outputPath(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != filepath.FromSlash(tt.want) {
				t.Errorf("outputPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSyncRouteRequiresService(t *testing.T) {
	s := newTestServer(t, serverDeps{})
	rr := doRequest(t, s, http.MethodPost, "/api/v1/sync", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 without sync service", rr.Code)
	}
}

func TestSyncRouteRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	dir := t.TempDir()
	catalog := application.NewLayerCatalog(layers.NewOpener(), storage.NewLocalStorage(dir), &output.NoOpMetrics{}, logger, dir)
	svc := application.NewSyncService(catalog, application.SyncServiceConfig{Interval: time.Hour, Cooldown: time.Minute}, logger)
	s := newTestServer(t, serverDeps{sync: svc})

	rr := doRequest(t, s, http.MethodPost, "/api/v1/sync", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("first sync status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, s, http.MethodPost, "/api/v1/sync", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second sync status = %d, want 429", rr.Code)
	}
	wait, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil || wait < 1 || wait > 60 {
		t.Errorf("Retry-After = %q, want 1..60 seconds", rr.Header().Get("Retry-After"))
	}
}

func TestHandleOpenAPI(t *testing.T) {
	s := newTestServer(t, serverDeps{})

	rr := doRequest(t, s, http.MethodGet, "/openapi.json", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	paths, ok := body["paths"].(map[string]interface{})
	if !ok {
		t.Fatal("paths missing")
	}
	if _, ok := paths["/api/v1/runs"]; !ok {
		t.Error("runs path missing from OpenAPI document")
	}
}

func TestJSONCompatible(t *testing.T) {
	in := map[interface{}]interface{}{
		200:    map[interface{}]interface{}{"description": "ok"},
		"list": []interface{}{map[interface{}]interface{}{true: "yes"}},
	}
	out, err := json.Marshal(jsonCompatible(in))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(out), `"200":{"description":"ok"}`) || !strings.Contains(string(out), `"true":"yes"`) {
		t.Errorf("json = %s", out)
	}
}

func TestBoolToStatus(t *testing.T) {
	if boolToStatus(true) != "ok" || boolToStatus(false) != "unhealthy" {
		t.Error("boolToStatus mismatch")
	}
}
