// internal/storage/memory/memory.go
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/OCAP2/markersync/internal/config"
	"github.com/OCAP2/markersync/internal/gateway"
	"github.com/OCAP2/markersync/internal/logging"
	"github.com/OCAP2/markersync/pkg/core"
	"github.com/google/uuid"
)

// SurfaceRecord groups a surface with the marker sets published onto it
type SurfaceRecord struct {
	Surface core.Surface
	Sets    map[string]core.MarkerSet // keyed by set key
}

// Backend keeps marker sets in memory and optionally exports them as JSON
type Backend struct {
	cfg    config.MemoryConfig
	logger logging.Logger

	surfaces map[string]*SurfaceRecord // keyed by Surface.Key()
	mu       sync.RWMutex
}

var _ gateway.Backend = (*Backend)(nil)

// New creates a new memory backend
func New(cfg config.MemoryConfig, logger logging.Logger) *Backend {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Backend{
		cfg:      cfg,
		logger:   logger,
		surfaces: make(map[string]*SurfaceRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// AddSurface registers a surface. Registering it twice keeps its marker sets.
func (b *Backend) AddSurface(s core.Surface) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.surfaces[s.Key()]; ok {
		return
	}
	b.surfaces[s.Key()] = &SurfaceRecord{
		Surface: s,
		Sets:    make(map[string]core.MarkerSet),
	}
}

// SurfacesForWorld returns the surfaces rendering world
func (b *Backend) SurfacesForWorld(_ context.Context, world uuid.UUID) ([]core.Surface, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []core.Surface
	for _, record := range b.surfaces {
		if record.Surface.World == world {
			out = append(out, record.Surface)
		}
	}
	core.SortSurfaces(out)
	return out, nil
}

// AllKnownSurfaces returns every registered surface
func (b *Backend) AllKnownSurfaces(_ context.Context) ([]core.Surface, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.Surface, 0, len(b.surfaces))
	for _, record := range b.surfaces {
		out = append(out, record.Surface)
	}
	core.SortSurfaces(out)
	return out, nil
}

// PublishMarkerSet replaces the set stored under set.Key on the surface. With
// an output directory, the set only becomes visible once its export is written.
func (b *Backend) PublishMarkerSet(ctx context.Context, surface core.Surface, set core.MarkerSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	record, ok := b.surfaces[surface.Key()]
	if !ok {
		return fmt.Errorf("publish %s to %s: %w", set.Key, surface.Name, gateway.ErrUnknownSurface)
	}

	stored := set
	stored.Markers = maps.Clone(set.Markers)
	if stored.Markers == nil {
		stored.Markers = make(map[string]core.Marker)
	}
	next := maps.Clone(record.Sets)
	next[set.Key] = stored
	if err := b.export(surface, next); err != nil {
		return err
	}
	record.Sets = next
	return nil
}

// RemoveMarkerSet deletes the set stored under key. Removing an absent set is not an error.
func (b *Backend) RemoveMarkerSet(ctx context.Context, surface core.Surface, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	record, ok := b.surfaces[surface.Key()]
	if !ok {
		return fmt.Errorf("remove %s from %s: %w", key, surface.Name, gateway.ErrUnknownSurface)
	}
	if _, ok := record.Sets[key]; !ok {
		return nil
	}
	next := maps.Clone(record.Sets)
	delete(next, key)
	if err := b.export(surface, next); err != nil {
		return err
	}
	record.Sets = next
	return nil
}

// Snapshot returns a copy of the marker sets on a surface
func (b *Backend) Snapshot(surface core.Surface) (map[string]core.MarkerSet, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	record, ok := b.surfaces[surface.Key()]
	if !ok {
		return nil, false
	}
	out := make(map[string]core.MarkerSet, len(record.Sets))
	for key, set := range record.Sets {
		set.Markers = maps.Clone(set.Markers)
		out[key] = set
	}
	return out, true
}

// GetMarkerSet looks up a single set on a surface
func (b *Backend) GetMarkerSet(surface core.Surface, key string) (core.MarkerSet, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	record, ok := b.surfaces[surface.Key()]
	if !ok {
		return core.MarkerSet{}, false
	}
	set, ok := record.Sets[key]
	if !ok {
		return core.MarkerSet{}, false
	}
	set.Markers = maps.Clone(set.Markers)
	return set, true
}
