package output

import (
	"context"
	"iter"

	"github.com/jobrunner/fieldtally/internal/domain"
)

// FeatureProvider is the secondary port for reading one feature layer.
// Features returns a fresh sequence on every call.
type FeatureProvider interface {
	// Name returns the display name used in messages.
	Name() string

	// Fields returns the attribute field names in storage order.
	Fields() []string

	// FeatureCount returns the number of features in the layer.
	FeatureCount(ctx context.Context) (int64, error)

	// Features iterates over all features in natural order.
	Features(ctx context.Context) iter.Seq2[domain.Feature, error]

	// FeaturesInExtent iterates over features whose bounding box intersects the extent.
	FeaturesInExtent(ctx context.Context, extent domain.Extent) iter.Seq2[domain.Feature, error]

	// Close releases the underlying resources.
	Close() error
}

// LayerOpener defines the secondary port for opening layer files.
type LayerOpener interface {
	// Open opens a single layer for reading.
	Open(ctx context.Context, ref domain.LayerRef) (FeatureProvider, error)

	// Layers describes the feature layers contained in a file.
	Layers(ctx context.Context, path string) ([]domain.LayerInfo, error)
}
