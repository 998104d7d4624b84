package resolver

import (
	"path/filepath"
	"sync"
)

// SourceRegistry maps downloaded files to the URL they came from. Keys are
// either a cleaned path or a bare file name.
type SourceRegistry struct {
	mu      sync.RWMutex
	sources map[string]string
}

func NewSourceRegistry(initial map[string]string) *SourceRegistry {
	r := &SourceRegistry{sources: make(map[string]string, len(initial))}
	for k, v := range initial {
		r.Register(k, v)
	}
	return r
}

// Register records url as the source for key.
func (r *SourceRegistry) Register(key, url string) {
	if key == "" || url == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[normalizeKey(key)] = url
}

func (r *SourceRegistry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, normalizeKey(key))
}

// Lookup returns the URL for path, matching the full path first and the
// base name second.
func (r *SourceRegistry) Lookup(path string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if url, ok := r.sources[normalizeKey(path)]; ok {
		return url
	}
	return r.sources[filepath.Base(path)]
}

func (r *SourceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

func normalizeKey(key string) string {
	if filepath.Base(key) == key {
		return key
	}
	return filepath.Clean(key)
}
