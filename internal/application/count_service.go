package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jobrunner/fieldtally/internal/domain"
	"github.com/jobrunner/fieldtally/internal/ports/output"
)

// tempProcessingMarker identifies scratch destinations that are never kept.
const tempProcessingMarker = "temp/processing"

// Run statuses used for metrics.
const (
	runStatusSuccess   = "success"
	runStatusError     = "error"
	runStatusCancelled = "cancelled"
)

// CountServiceConfig holds the publishing options of the count service.
type CountServiceConfig struct {
	Publish       bool   // Upload the CSV to object storage after writing
	PublishPrefix string // Object key prefix for published files
}

// CountService runs point-in-field counts end to end.
type CountService struct {
	opener  output.LayerOpener
	engine  *Engine
	sink    output.RowSink
	storage output.ObjectStorage
	metrics output.MetricsCollector
	logger  *slog.Logger
	config  CountServiceConfig
	printer *message.Printer
}

// NewCountService creates a new count service. storage may be nil when
// publishing is disabled.
func NewCountService(
	opener output.LayerOpener,
	engine *Engine,
	sink output.RowSink,
	storage output.ObjectStorage,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	config CountServiceConfig,
) *CountService {
	return &CountService{
		opener:  opener,
		engine:  engine,
		sink:    sink,
		storage: storage,
		metrics: metrics,
		logger:  logger,
		config:  config,
		printer: message.NewPrinter(language.English),
	}
}

// Run executes a counting run and writes the CSV output.
func (s *CountService) Run(ctx context.Context, req domain.CountRequest, fb output.Feedback) (*domain.RunSummary, error) {
	if fb == nil {
		fb = output.NoOpFeedback{}
	}
	start := time.Now()
	variant := req.Variant.Name

	summary, err := s.run(ctx, req, fb)

	status := runStatusSuccess
	switch {
	case errors.Is(err, domain.ErrCancelled):
		status = runStatusCancelled
		s.logger.Info("run cancelled", "variant", variant)
	case err != nil:
		status = runStatusError
		s.logger.Error("run failed", "variant", variant, "error", err)
	default:
		summary.Duration = time.Since(start)
		s.logger.Info("run completed",
			"run_id", summary.RunID,
			"variant", variant,
			"pairs", summary.Pairs,
			"rows", summary.Rows,
			"duration_ms", summary.Duration.Milliseconds(),
		)
	}
	s.metrics.IncRunCount(variant, status)
	s.metrics.ObserveRunDuration(variant, time.Since(start))

	return summary, err
}

func (s *CountService) run(ctx context.Context, req domain.CountRequest, fb output.Feedback) (*domain.RunSummary, error) {
	if err := ValidateOutputPath(req.Output); err != nil {
		fb.PushInfo("ERROR: " + err.Error())
		return nil, err
	}
	categories, err := normalizeCategories(req.Variant, req.Categories)
	if err != nil {
		fb.PushInfo("ERROR: " + err.Error())
		return nil, err
	}
	req.Categories = categories

	if len(req.Layers) != 2 {
		return nil, &domain.ValidationError{
			Field:      "layers",
			Value:      len(req.Layers),
			Constraint: "exactly 2",
			Message:    "a run needs one point layer and one field layer",
		}
	}

	first, err := s.opener.Open(ctx, req.Layers[0])
	if err != nil {
		return nil, err
	}
	defer first.Close()
	second, err := s.opener.Open(ctx, req.Layers[1])
	if err != nil {
		return nil, err
	}
	defer second.Close()

	points, fields, err := ResolveRoles(first, second, req.Variant)
	if err != nil {
		fb.PushInfo("ERROR: " + err.Error())
		return nil, err
	}

	runID := uuid.NewString()
	s.logger.Info("run started",
		"run_id", runID,
		"variant", req.Variant.Name,
		"points", points.Name(),
		"fields", fields.Name(),
		"output", req.Output,
	)
	fb.PushInfo("start processing ...")

	result, err := s.engine.Count(ctx, points, fields, req.Variant, req.Filter(), fb)
	if err != nil {
		return nil, err
	}
	s.metrics.AddPairsProcessed(req.Variant.Name, result.Pairs)
	s.metrics.AddMatches(req.Variant.Name, result.MatchCount())

	if err := s.sink.WriteRows(ctx, req.Output, req.Variant.Header, result.Records(req.Variant), fb); err != nil {
		return nil, err
	}

	summary := &domain.RunSummary{
		RunID:      runID,
		Variant:    req.Variant.Name,
		PointLayer: points.Name(),
		FieldLayer: fields.Name(),
		Output:     req.Output,
		Pairs:      result.Pairs,
		Rows:       result.MatchCount(),
	}

	if s.config.Publish && s.storage != nil {
		key := path.Join(s.config.PublishPrefix, filepath.Base(req.Output))
		if err := s.storage.Upload(ctx, key, req.Output); err != nil {
			return nil, fmt.Errorf("publishing %s: %w", req.Output, err)
		}
		summary.PublishedKey = key
		fb.PushInfo("CSV file published: " + key)
	}

	fb.PushInfo("CSV file written: " + req.Output)
	fb.PushInfo(s.printer.Sprintf("Processing completed, %d features done", result.Pairs))
	fb.SetProgress(100)

	return summary, nil
}

// ValidateOutputPath rejects empty destinations and scratch locations.
func ValidateOutputPath(p string) error {
	if strings.TrimSpace(p) == "" {
		return &domain.NoOutputPathError{}
	}
	normalized := strings.ToLower(strings.ReplaceAll(p, `\`, "/"))
	if strings.Contains(normalized, tempProcessingMarker) {
		return &domain.NoOutputPathError{Path: p}
	}
	return nil
}

// normalizeCategories maps enumeration names to labels. Categories are only
// meaningful for variants that carry a category attribute.
func normalizeCategories(v domain.Variant, categories []string) ([]string, error) {
	if categories == nil {
		return nil, nil
	}
	if !v.HasCategory() {
		if len(categories) == 0 {
			return nil, nil
		}
		return nil, &domain.ValidationError{
			Field:      "categories",
			Value:      categories,
			Constraint: "vp variant only",
			Message:    v.DisplayName + " does not support category filters",
		}
	}
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		label, err := domain.ParseVPCategory(c)
		if err != nil {
			return nil, err
		}
		out = append(out, label)
	}
	return out, nil
}
