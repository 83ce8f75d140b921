// Package gateway defines the contract between the reconciliation engine and
// the map renderer's marker repository.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/OCAP2/markersync/pkg/core"
	"github.com/google/uuid"
)

// ErrUnknownSurface is returned when a surface is not rendered by the backend
var ErrUnknownSurface = errors.New("unknown surface")

// Gateway is the marker repository of the map renderer. Publishing replaces
// the whole set stored under the set's key on that surface.
type Gateway interface {
	SurfacesForWorld(ctx context.Context, world uuid.UUID) ([]core.Surface, error)
	PublishMarkerSet(ctx context.Context, surface core.Surface, set core.MarkerSet) error
	RemoveMarkerSet(ctx context.Context, surface core.Surface, key string) error
	AllKnownSurfaces(ctx context.Context) ([]core.Surface, error)
}

// Backend is a Gateway with a connection lifecycle
type Backend interface {
	Gateway
	Init() error
	Close() error
}

// timeoutGateway bounds every call with a deadline
type timeoutGateway struct {
	inner   Gateway
	timeout time.Duration
}

// WithTimeout wraps g so that each call runs under its own deadline.
// A non-positive timeout returns g unchanged.
func WithTimeout(g Gateway, timeout time.Duration) Gateway {
	if timeout <= 0 {
		return g
	}
	return &timeoutGateway{inner: g, timeout: timeout}
}

func (t *timeoutGateway) SurfacesForWorld(ctx context.Context, world uuid.UUID) ([]core.Surface, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.SurfacesForWorld(ctx, world)
}

func (t *timeoutGateway) PublishMarkerSet(ctx context.Context, surface core.Surface, set core.MarkerSet) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.PublishMarkerSet(ctx, surface, set)
}

func (t *timeoutGateway) RemoveMarkerSet(ctx context.Context, surface core.Surface, key string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.RemoveMarkerSet(ctx, surface, key)
}

func (t *timeoutGateway) AllKnownSurfaces(ctx context.Context) ([]core.Surface, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.AllKnownSurfaces(ctx)
}
