package storage

import (
	"context"
	"io"
	"time"

	"github.com/jobrunner/fieldtally/internal/ports/output"
)

// Instrumented records operation counts and durations of a wrapped storage.
type Instrumented struct {
	next    output.ObjectStorage
	metrics output.MetricsCollector
}

// NewInstrumented wraps storage with metrics collection.
func NewInstrumented(next output.ObjectStorage, metrics output.MetricsCollector) *Instrumented {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &Instrumented{next: next, metrics: metrics}
}

func (s *Instrumented) observe(op string, start time.Time, err error) {
	s.metrics.IncStorageOperations(op, err == nil)
	s.metrics.ObserveStorageDuration(op, time.Since(start))
}

// List implements ObjectStorage.
func (s *Instrumented) List(ctx context.Context) (objects []output.StorageObject, err error) {
	defer func(start time.Time) { s.observe("list", start, err) }(time.Now())
	return s.next.List(ctx)
}

// Download implements ObjectStorage.
func (s *Instrumented) Download(ctx context.Context, key string, dest string) (err error) {
	defer func(start time.Time) { s.observe("download", start, err) }(time.Now())
	return s.next.Download(ctx, key, dest)
}

// GetReader implements ObjectStorage.
func (s *Instrumented) GetReader(ctx context.Context, key string) (r io.ReadCloser, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())
	return s.next.GetReader(ctx, key)
}

// Exists implements ObjectStorage.
func (s *Instrumented) Exists(ctx context.Context, key string) (ok bool, err error) {
	defer func(start time.Time) { s.observe("exists", start, err) }(time.Now())
	return s.next.Exists(ctx, key)
}

// Upload implements ObjectStorage.
func (s *Instrumented) Upload(ctx context.Context, key string, src string) (err error) {
	defer func(start time.Time) { s.observe("upload", start, err) }(time.Now())
	return s.next.Upload(ctx, key, src)
}
