// Package application contains the application services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jobrunner/fieldtally/internal/domain"
	"github.com/jobrunner/fieldtally/internal/ports/output"
)

// LayerCatalog tracks the layer files available to runs started over the API.
type LayerCatalog struct {
	mu        sync.RWMutex
	files     map[string]*catalogEntry
	opener    output.LayerOpener
	storage   output.ObjectStorage
	metrics   output.MetricsCollector
	logger    *slog.Logger
	cachePath string
}

type catalogEntry struct {
	File   *domain.LayerFile
	Status domain.LayerFileStatus
	Error  error
}

// NewLayerCatalog creates a new layer catalog. Files downloaded from storage
// are cached below cachePath.
func NewLayerCatalog(
	opener output.LayerOpener,
	storage output.ObjectStorage,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cachePath string,
) *LayerCatalog {
	return &LayerCatalog{
		files:     make(map[string]*catalogEntry),
		opener:    opener,
		storage:   storage,
		metrics:   metrics,
		logger:    logger,
		cachePath: cachePath,
	}
}

// LoadFile inspects a local layer file and registers it.
func (c *LayerCatalog) LoadFile(ctx context.Context, path string) error {
	return c.loadFile(ctx, filepath.Base(path), path)
}

func (c *LayerCatalog) loadFile(ctx context.Context, key, path string) error {
	id := deriveFileID(key)
	c.logger.Info("loading layer file", "id", id, "path", path)

	file := &domain.LayerFile{ID: id, Key: key, Path: path}

	c.mu.Lock()
	c.files[id] = &catalogEntry{File: file, Status: domain.StatusLoading}
	c.mu.Unlock()
	c.updateMetrics()

	layers, err := c.opener.Layers(ctx, path)
	if err == nil {
		var info os.FileInfo
		if info, err = os.Stat(path); err == nil {
			file.Size = info.Size()
		}
	}

	c.mu.Lock()
	entry, ok := c.files[id]
	if !ok {
		entry = &catalogEntry{File: file}
		c.files[id] = entry
	}
	if err != nil {
		entry.Status = domain.StatusError
		entry.Error = err
	} else {
		file.Layers = layers
		file.LoadedAt = time.Now()
		entry.Status = domain.StatusReady
	}
	c.mu.Unlock()
	c.updateMetrics()

	if err != nil {
		c.logger.Error("failed to load layer file", "id", id, "path", path, "error", err)
		return err
	}
	c.logger.Info("layer file loaded", "id", id, "layers", len(layers))
	return nil
}

// UnloadFile removes a layer file from the catalog.
func (c *LayerCatalog) UnloadFile(_ context.Context, id string) error {
	c.logger.Info("unloading layer file", "id", id)

	c.mu.Lock()
	if _, ok := c.files[id]; !ok {
		c.mu.Unlock()
		return domain.ErrLayerFileNotFound
	}
	delete(c.files, id)
	c.mu.Unlock()

	c.updateMetrics()
	return nil
}

// UnloadPath removes the layer file loaded from path.
func (c *LayerCatalog) UnloadPath(ctx context.Context, path string) error {
	return c.UnloadFile(ctx, deriveFileID(path))
}

// ListFiles returns all registered layer files sorted by ID.
func (c *LayerCatalog) ListFiles(_ context.Context) ([]domain.LayerFile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	files := make([]domain.LayerFile, 0, len(c.files))
	for _, entry := range c.files {
		files = append(files, *entry.File)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

// GetFile returns a specific layer file by ID.
func (c *LayerCatalog) GetFile(_ context.Context, id string) (*domain.LayerFile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.files[id]
	if !ok {
		return nil, domain.ErrLayerFileNotFound
	}
	return entry.File, nil
}

// GetFileStatus returns the status of a layer file.
func (c *LayerCatalog) GetFileStatus(_ context.Context, id string) (domain.LayerFileStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.files[id]
	if !ok {
		return "", domain.ErrLayerFileNotFound
	}
	return entry.Status, nil
}

// Resolve maps a catalog reference to the cached local file. The path part
// of ref is a file ID; the layer part is checked against the file's layers.
func (c *LayerCatalog) Resolve(_ context.Context, ref domain.LayerRef) (domain.LayerRef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.files[ref.Path]
	if !ok {
		entry, ok = c.files[deriveFileID(ref.Path)]
	}
	if !ok {
		return domain.LayerRef{}, fmt.Errorf("%s: %w", ref.Path, domain.ErrLayerFileNotFound)
	}
	if entry.Status != domain.StatusReady {
		return domain.LayerRef{}, fmt.Errorf("layer file %s is %s: %w", entry.File.ID, entry.Status, domain.ErrNotReady)
	}
	layer, ok := entry.File.GetLayer(ref.Name)
	if !ok {
		return domain.LayerRef{}, fmt.Errorf("%s: %w", ref.String(), domain.ErrLayerNotFound)
	}
	return domain.LayerRef{Path: entry.File.Path, Name: layer.Name}, nil
}

// IsReady returns true if a file is ready for runs.
func (c *LayerCatalog) IsReady(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.files[id]
	return ok && entry.Status == domain.StatusReady
}

// IsLoaded returns true if a file with the given ID is registered.
func (c *LayerCatalog) IsLoaded(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.files[id]
	return ok
}

// FileCount returns the number of registered files.
func (c *LayerCatalog) FileCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.files)
}

// ReadyCount returns the number of ready files.
func (c *LayerCatalog) ReadyCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ready := 0
	for _, entry := range c.files {
		if entry.Status == domain.StatusReady {
			ready++
		}
	}
	return ready
}

func (c *LayerCatalog) updateMetrics() {
	c.metrics.SetLayerFilesLoaded(c.FileCount())
	c.metrics.SetLayerFilesReady(c.ReadyCount())
}

// LoadAll downloads and registers every layer file in storage.
func (c *LayerCatalog) LoadAll(ctx context.Context) error {
	c.logger.Info("loading all layer files from storage")

	objects, err := c.storage.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}

	for _, obj := range objects {
		localPath, err := c.fetch(ctx, obj.Key)
		if err != nil {
			c.logger.Error("failed to download layer file", "key", obj.Key, "error", err)
			continue
		}
		if err := c.loadFile(ctx, obj.Key, localPath); err != nil {
			c.logger.Error("failed to load layer file", "path", localPath, "error", err)
		}
	}
	return nil
}

// fetch downloads a layer file and, for shapefiles, its sidecar files into
// the cache. Only the .dbf sidecar is mandatory.
func (c *LayerCatalog) fetch(ctx context.Context, key string) (string, error) {
	localPath := filepath.Join(c.cachePath, filepath.FromSlash(key))
	if err := c.storage.Download(ctx, key, localPath); err != nil {
		return "", err
	}

	for _, sidecar := range output.ShapefileSidecars(key) {
		exists, err := c.storage.Exists(ctx, sidecar)
		if err != nil || !exists {
			if strings.EqualFold(filepath.Ext(sidecar), ".dbf") {
				return "", fmt.Errorf("shapefile %s has no attribute table: %w", key, domain.ErrLayerFileNotFound)
			}
			continue
		}
		if err := c.storage.Download(ctx, sidecar, filepath.Join(c.cachePath, filepath.FromSlash(sidecar))); err != nil {
			return "", err
		}
	}
	return localPath, nil
}

// SyncStats contains statistics from a sync operation.
type SyncStats struct {
	Added   int
	Removed int
}

// Sync synchronizes with remote storage, downloading new layer files and
// removing files that no longer exist remotely.
func (c *LayerCatalog) Sync(ctx context.Context) (SyncStats, error) {
	c.logger.Info("syncing layer files from storage")

	objects, err := c.storage.List(ctx)
	if err != nil {
		return SyncStats{}, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}

	remote := make(map[string]string, len(objects)) // file ID -> object key
	for _, obj := range objects {
		remote[deriveFileID(obj.Key)] = obj.Key
	}

	stats := SyncStats{}

	for id, key := range remote {
		if c.IsLoaded(id) {
			c.logger.Debug("layer file already loaded, skipping", "id", id)
			continue
		}

		localPath, err := c.fetch(ctx, key)
		if err != nil {
			c.logger.Error("failed to download layer file", "key", key, "error", err)
			continue
		}
		if err := c.loadFile(ctx, key, localPath); err != nil {
			continue
		}

		stats.Added++
		c.logger.Info("new layer file synced", "id", id)
	}

	for _, id := range c.filesToRemove(remote) {
		c.logger.Info("removing layer file not in remote storage", "id", id)

		localPath := c.filePath(id)
		if err := c.UnloadFile(ctx, id); err != nil {
			c.logger.Error("failed to unload removed layer file", "id", id, "error", err)
			continue
		}

		if localPath != "" {
			for _, p := range append([]string{localPath}, output.ShapefileSidecars(localPath)...) {
				if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
					c.logger.Warn("failed to delete local cache file", "path", p, "error", err)
				}
			}
		}

		stats.Removed++
	}

	c.logger.Info("sync completed", "added", stats.Added, "removed", stats.Removed, "total", c.FileCount())
	return stats, nil
}

func (c *LayerCatalog) filesToRemove(remote map[string]string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var toRemove []string
	for id := range c.files {
		if _, exists := remote[id]; !exists {
			toRemove = append(toRemove, id)
		}
	}
	return toRemove
}

func (c *LayerCatalog) filePath(id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if entry, ok := c.files[id]; ok && entry.File != nil {
		return entry.File.Path
	}
	return ""
}

// deriveFileID extracts a file ID from a file path or object key.
func deriveFileID(path string) string {
	base := filepath.Base(filepath.FromSlash(path))
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}
