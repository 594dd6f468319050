package catalog

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Repository looks up catalogs by device name.
type Repository interface {
	Lookup(device string) (*Catalog, error)
}

// MemoryRepository holds catalogs loaded from files or added directly.
type MemoryRepository struct {
	mu       sync.RWMutex
	catalogs map[string]*Catalog
	sources  map[string]string
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		catalogs: make(map[string]*Catalog),
		sources:  make(map[string]string),
	}
}

// Add registers a catalog under its device name. A second catalog for the
// same device is rejected.
func (r *MemoryRepository) Add(c *Catalog, source string) error {
	if c == nil {
		return fmt.Errorf("catalog: nil catalog")
	}
	name := c.Info.Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.sources[name]; ok {
		return fmt.Errorf("catalog: device %s defined by both %s and %s", name, prev, source)
	}
	r.catalogs[name] = c
	r.sources[name] = source
	return nil
}

// Lookup implements the Repository interface.
func (r *MemoryRepository) Lookup(device string) (*Catalog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.catalogs[device]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("catalog: no catalog for device %q", device)
}

// Devices returns the known device names, sorted.
func (r *MemoryRepository) Devices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.catalogs))
	for name := range r.catalogs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Family returns the devices of a family, sorted.
func (r *MemoryRepository) Family(family string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, c := range r.catalogs {
		if c.Info.Family == family {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// LoadFiles parses the provided catalog files and adds each of them.
func (r *MemoryRepository) LoadFiles(paths ...string) error {
	for _, path := range paths {
		c, err := LoadFile(path)
		if err != nil {
			return err
		}
		if err := r.Add(c, path); err != nil {
			return err
		}
	}
	return nil
}

// LoadDir recursively loads all .yaml/.yml files under root.
func (r *MemoryRepository) LoadDir(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !isCatalogFile(path) {
			return nil
		}
		return r.LoadFiles(path)
	})
}

func isCatalogFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
