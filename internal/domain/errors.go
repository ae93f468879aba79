package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrLayerFileNotFound  = fmt.Errorf("layer file: %w", ErrNotFound)
	ErrLayerNotFound      = fmt.Errorf("layer: %w", ErrNotFound)
	ErrLayerRole          = fmt.Errorf("layer roles: %w", ErrInvalidInput)
	ErrNoOutputPath       = fmt.Errorf("output path: %w", ErrInvalidInput)
	ErrUnsupportedFormat  = fmt.Errorf("layer format: %w", ErrUnsupported)
	ErrSinkBusy           = fmt.Errorf("output file busy: %w", ErrUnavailable)
	ErrStorageUnavailable = fmt.Errorf("storage: %w", ErrUnavailable)
	ErrNotReady           = fmt.Errorf("service not ready: %w", ErrUnavailable)
)

// ErrCancelled is returned when a run is stopped by its caller. It is a normal
// outcome and is not reported as a failure.
var ErrCancelled = errors.New("run cancelled")

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// LayerRoleError is returned when the two input layers cannot be assigned the
// point and field roles.
type LayerRoleError struct {
	First  string // Display name of the first layer
	Second string // Display name of the second layer
	Reason string // Why resolution failed
}

// Error implements the error interface.
func (e *LayerRoleError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("incorrect layers selected: %s, %s (%s)", e.First, e.Second, e.Reason)
	}
	return fmt.Sprintf("incorrect layers selected: %s, %s", e.First, e.Second)
}

// Unwrap returns the underlying error type.
func (e *LayerRoleError) Unwrap() error {
	return ErrLayerRole
}

// NoOutputPathError is returned when the output destination is missing or
// points into a temporary processing location.
type NoOutputPathError struct {
	Path string
}

// Error implements the error interface.
func (e *NoOutputPathError) Error() string {
	if e.Path == "" {
		return "no output CSV file is given"
	}
	return fmt.Sprintf("no output CSV file is given: %s is a temporary location", e.Path)
}

// Unwrap returns the underlying error type.
func (e *NoOutputPathError) Unwrap() error {
	return ErrNoOutputPath
}

// SinkBusyError reports that the output file is held open by another program.
// It is recovered by retrying and never surfaces as a run failure.
type SinkBusyError struct {
	Path string // Output file
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *SinkBusyError) Error() string {
	return fmt.Sprintf("output file %s is in use: %v", e.Path, e.Err)
}

// Unwrap returns both the sentinel and the underlying error.
func (e *SinkBusyError) Unwrap() []error {
	return []error{ErrSinkBusy, e.Err}
}

// LayerError represents an error while reading a layer.
type LayerError struct {
	Path  string // Layer file path
	Layer string // Layer name (optional)
	Err   error  // Underlying error
}

// Error implements the error interface.
func (e *LayerError) Error() string {
	if e.Layer != "" {
		return fmt.Sprintf("layer error in %s, layer %s: %v", e.Path, e.Layer, e.Err)
	}
	return fmt.Sprintf("layer error in %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *LayerError) Unwrap() error {
	return e.Err
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, list, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error type.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
