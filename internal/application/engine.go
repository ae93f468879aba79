package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"

	"github.com/jobrunner/fieldtally/internal/domain"
	"github.com/jobrunner/fieldtally/internal/ports/output"
)

// EngineConfig tunes the counting engine.
type EngineConfig struct {
	BatchSize    int  // Pairs between progress reports and cancellation polls
	MessageEvery int  // Pairs between percentage messages
	SpatialIndex bool // Prefilter fields with an R-tree
}

// Engine performs the point-in-field join.
type Engine struct {
	cfg    EngineConfig
	logger *slog.Logger
}

// NewEngine creates a new counting engine.
func NewEngine(cfg EngineConfig, logger *slog.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// preparedField holds the attributes of a field polygon that end up in a row.
type preparedField struct {
	geometry orb.Geometry
	farmID   string
	date     string
	status   string
}

// Count tests every point against every field, points outer and fields inner,
// and emits one row per match with the running count of the matched farm.
// Nothing is returned when the context is cancelled.
func (e *Engine) Count(
	ctx context.Context,
	points, fields output.FeatureProvider,
	v domain.Variant,
	filter *domain.CategoryFilter,
	fb output.Feedback,
) (*domain.CountResult, error) {
	if fb == nil {
		fb = output.NoOpFeedback{}
	}

	prepared, err := loadFields(ctx, fields)
	if err != nil {
		return nil, err
	}

	pointCount, err := points.FeatureCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting points of %s: %w", points.Name(), err)
	}

	nFields := int64(len(prepared))
	total := pointCount * nFields
	tracker := newProgressTracker(ctx, fb, total, e.cfg.BatchSize, e.cfg.MessageEvery)

	result := &domain.CountResult{FarmCounts: make(map[string]int)}
	if nFields == 0 {
		return result, nil
	}

	var index *fieldIndex
	if e.cfg.SpatialIndex {
		index = newFieldIndex(prepared)
	}

	e.logger.Debug("counting",
		"points", pointCount,
		"fields", nFields,
		"total_pairs", total,
		"spatial_index", index != nil,
	)

	emit := func(point domain.Feature, f *preparedField, category string) {
		result.FarmCounts[f.farmID]++
		result.Rows = append(result.Rows, domain.MatchRow{
			FarmID:   f.farmID,
			PointID:  point.Attributes.String(v.PointIDField),
			Date:     f.date,
			Status:   f.status,
			Category: category,
			Count:    result.FarmCounts[f.farmID],
		})
	}

	for point, err := range points.Features(ctx) {
		if err != nil {
			return nil, fmt.Errorf("reading points of %s: %w", points.Name(), err)
		}

		var category string
		if v.HasCategory() {
			category = point.Attributes.String(v.CategoryField)
		}
		allowed := filter.Allows(category)

		if index != nil {
			if err := tracker.advance(nFields); err != nil {
				return nil, err
			}
			result.Pairs += nFields
			if !allowed {
				continue
			}
			for _, i := range index.candidates(point.Geometry) {
				if domain.Intersects(point.Geometry, prepared[i].geometry) {
					emit(point, &prepared[i], category)
				}
			}
			continue
		}

		for i := range prepared {
			if err := tracker.advance(1); err != nil {
				return nil, err
			}
			result.Pairs++
			if !allowed {
				continue
			}
			if domain.Intersects(point.Geometry, prepared[i].geometry) {
				emit(point, &prepared[i], category)
			}
		}
	}

	return result, nil
}

// loadFields materializes the field layer in its natural order.
func loadFields(ctx context.Context, fields output.FeatureProvider) ([]preparedField, error) {
	var out []preparedField
	for f, err := range fields.Features(ctx) {
		if err != nil {
			return nil, fmt.Errorf("reading fields of %s: %w", fields.Name(), err)
		}
		out = append(out, preparedField{
			geometry: f.Geometry,
			farmID:   f.Attributes.String(domain.FarmIDField),
			date:     f.Attributes.String(domain.DateField),
			status:   f.Attributes.String(domain.FieldMarker),
		})
	}
	return out, nil
}
