package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncRunCount increments the run counter.
	IncRunCount(variant, status string)

	// ObserveRunDuration records run duration.
	ObserveRunDuration(variant string, duration time.Duration)

	// AddPairsProcessed adds to the number of point/field pairs processed.
	AddPairsProcessed(variant string, pairs int64)

	// AddMatches adds to the number of emitted matches.
	AddMatches(variant string, matches int)

	// IncSinkRetries increments the busy-output retry counter.
	IncSinkRetries()

	// SetLayerFilesLoaded sets the number of catalogued layer files.
	SetLayerFilesLoaded(count int)

	// SetLayerFilesReady sets the number of ready layer files.
	SetLayerFilesReady(count int)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncRunCount implements MetricsCollector.
func (n *NoOpMetrics) IncRunCount(_, _ string) {}

// ObserveRunDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveRunDuration(_ string, _ time.Duration) {}

// AddPairsProcessed implements MetricsCollector.
func (n *NoOpMetrics) AddPairsProcessed(_ string, _ int64) {}

// AddMatches implements MetricsCollector.
func (n *NoOpMetrics) AddMatches(_ string, _ int) {}

// IncSinkRetries implements MetricsCollector.
func (n *NoOpMetrics) IncSinkRetries() {}

// SetLayerFilesLoaded implements MetricsCollector.
func (n *NoOpMetrics) SetLayerFilesLoaded(_ int) {}

// SetLayerFilesReady implements MetricsCollector.
func (n *NoOpMetrics) SetLayerFilesReady(_ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
