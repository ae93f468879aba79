package application

import (
	"context"

	"github.com/jobrunner/fieldtally/internal/domain"
	"github.com/jobrunner/fieldtally/internal/ports/input"
)

// HealthService provides health check functionality.
type HealthService struct {
	catalog *LayerCatalog
}

// NewHealthService creates a new health service. catalog may be nil when the
// process serves only local files.
func NewHealthService(catalog *LayerCatalog) *HealthService {
	return &HealthService{catalog: catalog}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady reports readiness: an empty catalog is ready, otherwise at least
// one file must be ready.
func (s *HealthService) IsReady(_ context.Context) bool {
	if s.catalog == nil {
		return true
	}
	return s.catalog.FileCount() == 0 || s.catalog.ReadyCount() > 0
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	details := input.HealthDetails{
		Healthy:    s.IsHealthy(ctx),
		Ready:      s.IsReady(ctx),
		Components: map[string]string{"storage": "ok"},
	}
	if s.catalog != nil {
		details.FilesLoaded = s.catalog.FileCount()
		details.FilesReady = s.catalog.ReadyCount()
		if details.FilesLoaded > details.FilesReady {
			details.Components["catalog"] = "degraded"
		} else {
			details.Components["catalog"] = "ok"
		}
	}
	return details
}

// FileHealth contains health info for a single layer file.
type FileHealth struct {
	ID     string                 `json:"id"`
	Status domain.LayerFileStatus `json:"status"`
	Ready  bool                   `json:"ready"`
}

// GetFileHealth returns health info for all catalogued files.
func (s *HealthService) GetFileHealth(ctx context.Context) []FileHealth {
	if s.catalog == nil {
		return nil
	}
	files, _ := s.catalog.ListFiles(ctx)

	health := make([]FileHealth, len(files))
	for i, f := range files {
		status, _ := s.catalog.GetFileStatus(ctx, f.ID)
		health[i] = FileHealth{
			ID:     f.ID,
			Status: status,
			Ready:  status == domain.StatusReady,
		}
	}
	return health
}
