// Package target maps worlds to the renderer surfaces that display them.
package target

import (
	"context"

	"github.com/OCAP2/markersync/internal/cache"
	"github.com/OCAP2/markersync/internal/gateway"
	"github.com/OCAP2/markersync/internal/logging"
	"github.com/OCAP2/markersync/pkg/core"
	"github.com/google/uuid"
)

// Resolver looks up surfaces through the gateway, memoizing per cycle
type Resolver struct {
	gw     gateway.Gateway
	cache  *cache.SurfaceCache
	logger logging.Logger
}

// New creates a new Resolver
func New(gw gateway.Gateway, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Resolver{
		gw:     gw,
		cache:  cache.NewSurfaceCache(),
		logger: logger,
	}
}

// Reset drops memoized lookups. Called at the start of every cycle.
func (r *Resolver) Reset() {
	r.cache.Reset()
}

// SurfacesFor returns the surfaces rendering world, sorted and de-duplicated.
// Unknown worlds and lookup failures yield an empty result.
func (r *Resolver) SurfacesFor(ctx context.Context, world uuid.UUID) []core.Surface {
	if surfaces, ok := r.cache.Get(world); ok {
		return surfaces
	}

	found, err := r.gw.SurfacesForWorld(ctx, world)
	if err != nil {
		r.logger.Debug("Surface lookup failed", "world", world.String(), "error", err)
		// not cached: a transient failure is retried by the next lookup
		return nil
	}

	surfaces := normalize(found, func(s core.Surface) bool { return s.World == world })
	r.cache.Set(world, surfaces)
	return surfaces
}

// Known returns every surface the renderer knows about
func (r *Resolver) Known(ctx context.Context) ([]core.Surface, error) {
	found, err := r.gw.AllKnownSurfaces(ctx)
	if err != nil {
		return nil, err
	}
	return normalize(found, nil), nil
}

func normalize(in []core.Surface, keep func(core.Surface) bool) []core.Surface {
	seen := make(map[string]bool, len(in))
	out := make([]core.Surface, 0, len(in))
	for _, s := range in {
		if s.Name == "" || seen[s.Key()] {
			continue
		}
		if keep != nil && !keep(s) {
			continue
		}
		seen[s.Key()] = true
		out = append(out, s)
	}
	core.SortSurfaces(out)
	return out
}
