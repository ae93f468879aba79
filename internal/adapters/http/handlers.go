package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/jobrunner/fieldtally/internal/adapters/feedback"
	"github.com/jobrunner/fieldtally/internal/application"
	"github.com/jobrunner/fieldtally/internal/domain"
)

// maxRunRequestBytes bounds the run request body.
const maxRunRequestBytes = 64 << 10

// RunRequest is the body of POST /api/v1/runs.
type RunRequest struct {
	Variant    string   `json:"variant"`
	Layers     []string `json:"layers"` // "fileId#layer" catalog references
	Output     string   `json:"output"` // relative to the output directory
	Categories []string `json:"categories,omitempty"`
}

// RunResponse is returned by a finished run.
type RunResponse struct {
	Summary  *domain.RunSummary `json:"summary,omitempty"`
	Messages []string           `json:"messages"`
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":       boolToStatus(details.Healthy),
		"ready":        details.Ready,
		"files_loaded": details.FilesLoaded,
		"files_ready":  details.FilesReady,
		"components":   details.Components,
		"files":        s.health.GetFileHealth(r.Context()),
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleListFiles returns all catalogued layer files.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.catalog.ListFiles(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list layer files")
		return
	}

	response := make([]map[string]interface{}, len(files))
	for i := range files {
		response[i] = s.formatFile(r, &files[i])
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"files": response,
		"count": len(files),
	})
}

// handleGetFile returns one layer file with its layers.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["fileId"]

	file, err := s.catalog.GetFile(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "Layer file not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to get layer file")
		return
	}

	body := s.formatFile(r, file)
	layers := make([]map[string]interface{}, len(file.Layers))
	for i, l := range file.Layers {
		layers[i] = map[string]interface{}{
			"name":          l.Name,
			"geometry_type": l.GeometryType,
			"srid":          l.SRID,
			"feature_count": l.FeatureCount,
			"fields":        l.Fields,
			"role":          layerRole(&l),
		}
		if l.Extent != nil {
			layers[i]["extent"] = map[string]interface{}{
				"min_x": l.Extent.MinX,
				"min_y": l.Extent.MinY,
				"max_x": l.Extent.MaxX,
				"max_y": l.Extent.MaxY,
			}
		}
	}
	body["layers"] = layers

	s.writeJSON(w, http.StatusOK, body)
}

// layerRole tells API clients how a layer would be used in a run.
func layerRole(l *domain.LayerInfo) string {
	switch {
	case l.HasField(domain.FieldMarker):
		return "fields"
	case l.HasField(domain.NodeIDField):
		return "nodes"
	case l.HasField(domain.VPIDField):
		return "vps"
	}
	return ""
}

// handleRun executes one counting run synchronously.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var body RunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRunRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	req, err := s.buildRequest(r, body)
	if err != nil {
		s.handleRunError(w, err, nil)
		return
	}

	rec := feedback.NewRecorder()
	fb := feedback.Tee{rec, feedback.NewLogger(s.logger, "variant", req.Variant.Name, "output", req.Output)}

	summary, err := s.counter.Run(r.Context(), req, fb)
	if err != nil {
		s.handleRunError(w, err, rec.Messages())
		return
	}

	s.writeJSON(w, http.StatusOK, RunResponse{Summary: summary, Messages: rec.Messages()})
}

// buildRequest resolves catalog references and the output path.
func (s *Server) buildRequest(r *http.Request, body RunRequest) (domain.CountRequest, error) {
	variant, err := domain.ParseVariant(body.Variant)
	if err != nil {
		return domain.CountRequest{}, err
	}

	layers := make([]domain.LayerRef, 0, len(body.Layers))
	for _, ref := range body.Layers {
		resolved, err := s.catalog.Resolve(r.Context(), domain.ParseLayerRef(ref))
		if err != nil {
			return domain.CountRequest{}, fmt.Errorf("resolving %q: %w", ref, err)
		}
		layers = append(layers, resolved)
	}

	out, err := s.outputPath(body.Output)
	if err != nil {
		return domain.CountRequest{}, err
	}

	return domain.CountRequest{
		Variant:    variant,
		Layers:     layers,
		Output:     out,
		Categories: body.Categories,
	}, nil
}

// outputPath joins a client supplied path onto the output directory. Empty
// paths are passed through so the run reports the missing output itself.
func (s *Server) outputPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return p, nil
	}
	clean := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", &domain.ValidationError{
			Field:      "output",
			Value:      p,
			Constraint: "relative path inside the output directory",
			Message:    "output path escapes the output directory",
		}
	}
	return filepath.Join(s.outputDir, clean), nil
}

// handleRunError maps run errors to HTTP status codes.
func (s *Server) handleRunError(w http.ResponseWriter, err error, messages []string) {
	status := http.StatusInternalServerError
	message := "Run failed"

	var (
		roleErr       *domain.LayerRoleError
		noOutputErr   *domain.NoOutputPathError
		validationErr *domain.ValidationError
	)
	switch {
	case errors.As(err, &roleErr):
		status, message = http.StatusUnprocessableEntity, roleErr.Error()
	case errors.As(err, &noOutputErr):
		status, message = http.StatusBadRequest, noOutputErr.Error()
	case errors.As(err, &validationErr):
		status, message = http.StatusBadRequest, validationErr.Message
	case errors.Is(err, domain.ErrInvalidInput):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrCancelled):
		status, message = http.StatusServiceUnavailable, "Run cancelled"
	case errors.Is(err, domain.ErrUnavailable):
		status, message = http.StatusServiceUnavailable, err.Error()
	default:
		s.logger.Error("run failed", "error", err)
	}

	body := map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	}
	if len(messages) > 0 {
		body["messages"] = messages
	}
	s.writeJSON(w, status, body)
}

// handleSync handles the sync trigger endpoint.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncService == nil {
		s.writeError(w, http.StatusNotFound, "Sync service not available")
		return
	}

	result, err := s.syncService.TriggerSync(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			wait := max(int(math.Ceil(s.syncService.RetryAfter().Seconds())), 1)
			w.Header().Set("Retry-After", strconv.Itoa(wait))
			s.writeError(w, http.StatusTooManyRequests, fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", wait))
			return
		}
		s.logger.Error("sync failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// formatFile formats a layer file for JSON output.
func (s *Server) formatFile(r *http.Request, f *domain.LayerFile) map[string]interface{} {
	status, _ := s.catalog.GetFileStatus(r.Context(), f.ID)
	return map[string]interface{}{
		"id":          f.ID,
		"key":         f.Key,
		"size":        f.Size,
		"layer_count": f.LayerCount(),
		"status":      status,
		"loaded_at":   f.LoadedAt,
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
