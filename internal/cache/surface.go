package cache

import (
	"sync"

	"github.com/OCAP2/markersync/pkg/core"
	"github.com/google/uuid"
)

// SurfaceCache maps world ids to the surfaces that render them for the current cycle
type SurfaceCache struct {
	mu     sync.RWMutex
	worlds map[uuid.UUID][]core.Surface
}

// NewSurfaceCache creates a new SurfaceCache
func NewSurfaceCache() *SurfaceCache {
	return &SurfaceCache{
		worlds: make(map[uuid.UUID][]core.Surface),
	}
}

// Get retrieves the surfaces of a world. The returned slice must not be modified.
func (c *SurfaceCache) Get(world uuid.UUID) ([]core.Surface, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	surfaces, ok := c.worlds[world]
	return surfaces, ok
}

// Set stores the surfaces of a world. An empty slice is cached as well.
func (c *SurfaceCache) Set(world uuid.UUID, surfaces []core.Surface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.worlds[world] = surfaces
}

// Len returns the number of cached worlds
func (c *SurfaceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.worlds)
}

// Reset clears all worlds from the cache
func (c *SurfaceCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.worlds = make(map[uuid.UUID][]core.Surface)
}
