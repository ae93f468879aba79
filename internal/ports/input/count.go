// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/fieldtally/internal/domain"
	"github.com/jobrunner/fieldtally/internal/ports/output"
)

// CountService defines the primary port for point-in-field counting runs.
type CountService interface {
	// Run executes one counting run and writes its CSV output.
	Run(ctx context.Context, req domain.CountRequest, fb output.Feedback) (*domain.RunSummary, error)
}

// LayerCatalog defines the primary port for layer file management.
type LayerCatalog interface {
	// ListFiles returns all registered layer files.
	ListFiles(ctx context.Context) ([]domain.LayerFile, error)

	// GetFile returns a specific layer file by ID.
	GetFile(ctx context.Context, id string) (*domain.LayerFile, error)

	// GetFileStatus returns the status of a layer file.
	GetFileStatus(ctx context.Context, id string) (domain.LayerFileStatus, error)

	// Resolve maps a catalog reference ("fileId#layer") to a local layer.
	Resolve(ctx context.Context, ref domain.LayerRef) (domain.LayerRef, error)
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy     bool              // Overall health status
	Ready       bool              // Ready to accept requests
	FilesLoaded int               // Number of catalogued layer files
	FilesReady  int               // Number of ready layer files
	Components  map[string]string // Component statuses
}
