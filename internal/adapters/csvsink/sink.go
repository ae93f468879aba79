// Package csvsink writes run results as CSV files.
package csvsink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jobrunner/fieldtally/internal/domain"
	"github.com/jobrunner/fieldtally/internal/ports/output"
)

// DefaultRetryInterval is the wait between attempts while the file is busy.
const DefaultRetryInterval = 5 * time.Second

// Config holds sink settings.
type Config struct {
	RetryInterval time.Duration
	CRLF          bool // Terminate records with \r\n
}

// Sink implements output.RowSink. While the destination is held open by
// another program it keeps retrying until the write succeeds or ctx ends.
type Sink struct {
	config  Config
	metrics output.MetricsCollector
	logger  *slog.Logger
	create  func(path string) (io.WriteCloser, error)
}

// New creates a new CSV sink.
func New(config Config, metrics output.MetricsCollector, logger *slog.Logger) *Sink {
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	return &Sink{
		config:  config,
		metrics: metrics,
		logger:  logger,
		create: func(path string) (io.WriteCloser, error) {
			return os.Create(path) //#nosec G304 -- output path chosen by the operator
		},
	}
}

// WriteRows writes header and rows to path, replacing any existing file.
func (s *Sink) WriteRows(ctx context.Context, path string, header []string, rows [][]string, fb output.Feedback) error {
	if fb == nil {
		fb = output.NoOpFeedback{}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}

	for attempt := 1; ; attempt++ {
		err := s.write(path, header, rows)
		if err == nil {
			s.logger.Debug("csv written", "path", path, "rows", len(rows), "attempts", attempt)
			return nil
		}
		if !isBusy(err) {
			return fmt.Errorf("writing %s: %w", path, err)
		}

		busy := &domain.SinkBusyError{Path: path, Err: err}
		s.logger.Warn("output file busy, retrying",
			"path", path,
			"attempt", attempt,
			"retry_in", s.config.RetryInterval,
			"error", busy,
		)
		fb.PushInfo("Please close the file: " + path)
		s.metrics.IncSinkRetries()

		timer := time.NewTimer(s.config.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", domain.ErrCancelled, ctx.Err())
		case <-timer.C:
		}
	}
}

func (s *Sink) write(path string, header []string, rows [][]string) (err error) {
	f, err := s.create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	w.UseCRLF = s.config.CRLF
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}

// isBusy reports whether err means another program holds the file.
func isBusy(err error) bool {
	return errors.Is(err, fs.ErrPermission) || isSharingViolation(err)
}
