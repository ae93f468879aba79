package domain

import "time"

// LayerFile represents a registered layer file (GeoPackage, GeoJSON or
// shapefile) and the layers it contains.
type LayerFile struct {
	ID       string      // Unique identifier (derived from filename)
	Key      string      // Object storage key
	Path     string      // Local file path
	Size     int64       // File size in bytes
	Layers   []LayerInfo // Feature layers
	LoadedAt time.Time   // Load timestamp
}

// LayerCount returns the number of feature layers.
func (f *LayerFile) LayerCount() int {
	return len(f.Layers)
}

// GetLayer returns a layer by name. An empty name selects the only layer of a
// single-layer file.
func (f *LayerFile) GetLayer(name string) (*LayerInfo, bool) {
	if name == "" {
		if len(f.Layers) == 1 {
			return &f.Layers[0], true
		}
		return nil, false
	}
	for i := range f.Layers {
		if f.Layers[i].Name == name {
			return &f.Layers[i], true
		}
	}
	return nil, false
}

// LayerFileStatus represents the status of a layer file in the catalog.
type LayerFileStatus string

const (
	StatusLoading   LayerFileStatus = "loading"
	StatusReady     LayerFileStatus = "ready"
	StatusError     LayerFileStatus = "error"
	StatusUnloading LayerFileStatus = "unloading"
)
