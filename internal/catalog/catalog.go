// Package catalog loads the set of scenes a viewer can show.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/AaronLay10/SentientViewer/internal/scene"
)

// ErrSceneNotFound is returned by Get for an unknown scene id.
var ErrSceneNotFound = errors.New("scene not found")

// File is the on-disk catalog format.
type File struct {
	Version int           `json:"version"`
	Scenes  []scene.Scene `json:"scenes"`
}

// Catalog is the in-memory scene index. It is safe for concurrent use and
// can be swapped wholesale on reload.
type Catalog struct {
	mu     sync.RWMutex
	scenes map[string]scene.Scene
	order  []string
}

// New builds a catalog from scenes. Ids must be non-empty and unique.
func New(scenes []scene.Scene) (*Catalog, error) {
	c := &Catalog{}
	if err := c.set(scenes); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if f.Version != 1 {
		return nil, fmt.Errorf("unsupported catalog version: %d", f.Version)
	}
	return New(f.Scenes)
}

func (c *Catalog) set(scenes []scene.Scene) error {
	byID := make(map[string]scene.Scene, len(scenes))
	order := make([]string, 0, len(scenes))
	for i, s := range scenes {
		if s.ID == "" {
			return fmt.Errorf("scene %d: missing id", i)
		}
		if _, dup := byID[s.ID]; dup {
			return fmt.Errorf("duplicate scene id: %s", s.ID)
		}
		byID[s.ID] = s
		order = append(order, s.ID)
	}

	c.mu.Lock()
	c.scenes = byID
	c.order = order
	c.mu.Unlock()
	return nil
}

// Get returns the scene with id.
func (c *Catalog) Get(id string) (scene.Scene, error) {
	s, ok := c.Lookup(id)
	if !ok {
		return scene.Scene{}, fmt.Errorf("%w: %s", ErrSceneNotFound, id)
	}
	return s, nil
}

// Lookup is Get without the error.
func (c *Catalog) Lookup(id string) (scene.Scene, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.scenes[id]
	return s, ok
}

// List returns every scene in file order.
func (c *Catalog) List() []scene.Scene {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]scene.Scene, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.scenes[id])
	}
	return out
}

// Len returns the number of scenes.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Replace swaps in the contents of next.
func (c *Catalog) Replace(next *Catalog) {
	scenes := next.List()
	byID := make(map[string]scene.Scene, len(scenes))
	order := make([]string, 0, len(scenes))
	for _, s := range scenes {
		byID[s.ID] = s
		order = append(order, s.ID)
	}
	c.mu.Lock()
	c.scenes = byID
	c.order = order
	c.mu.Unlock()
}
