// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"
	"path/filepath"
	"strings"
)

// ObjectStorage defines the secondary port for object storage operations.
type ObjectStorage interface {
	// List returns all layer files in the storage.
	List(ctx context.Context) ([]StorageObject, error)

	// Download downloads a file to the local filesystem.
	Download(ctx context.Context, key string, dest string) error

	// GetReader returns a reader for the given object.
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Upload stores a local file under key.
	Upload(ctx context.Context, key string, src string) error
}

// StorageObject represents a file in object storage.
type StorageObject struct {
	Key          string // Object key/path
	Size         int64  // Size in bytes
	LastModified int64  // Unix timestamp
	ETag         string // Content hash
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeAzure StorageType = "azure"
	StorageTypeHTTP  StorageType = "http"
	StorageTypeLocal StorageType = "local"
)

// layerExtensions are the primary files of supported layer formats.
var layerExtensions = map[string]bool{
	".gpkg":    true,
	".geojson": true,
	".json":    true,
	".shp":     true,
}

// IsLayerFile reports whether a key names a supported layer file.
func IsLayerFile(key string) bool {
	return layerExtensions[strings.ToLower(filepath.Ext(key))]
}

// ShapefileSidecars returns the companion keys of a shapefile key.
func ShapefileSidecars(key string) []string {
	if strings.ToLower(filepath.Ext(key)) != ".shp" {
		return nil
	}
	base := strings.TrimSuffix(key, filepath.Ext(key))
	return []string{base + ".dbf", base + ".shx", base + ".prj", base + ".cpg"}
}
