package target

import (
	"context"
	"errors"
	"testing"

	"github.com/OCAP2/markersync/pkg/core"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	overworld = uuid.MustParse("5a1e4f52-0d7c-4c1b-9a9e-3f0a3c1b2d4e")
	nether    = uuid.MustParse("11111111-2222-3333-4444-555555555555")
)

type stubGateway struct {
	surfaces []core.Surface
	err      error
	lookups  int
}

func (s *stubGateway) SurfacesForWorld(_ context.Context, world uuid.UUID) ([]core.Surface, error) {
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	var out []core.Surface
	for _, surf := range s.surfaces {
		if surf.World == world {
			out = append(out, surf)
		}
	}
	return out, nil
}

func (s *stubGateway) PublishMarkerSet(context.Context, core.Surface, core.MarkerSet) error {
	return nil
}

func (s *stubGateway) RemoveMarkerSet(context.Context, core.Surface, string) error {
	return nil
}

func (s *stubGateway) AllKnownSurfaces(context.Context) ([]core.Surface, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.surfaces, nil
}

func TestSurfacesFor_SortedAndDeduplicated(t *testing.T) {
	gw := &stubGateway{surfaces: []core.Surface{
		{World: overworld, Name: "world_flat"},
		{World: overworld, Name: "world"},
		{World: overworld, Name: "world"},
		{World: nether, Name: "nether"},
	}}
	r := New(gw, nil)

	got := r.SurfacesFor(context.Background(), overworld)
	assert.Equal(t, []core.Surface{
		{World: overworld, Name: "world"},
		{World: overworld, Name: "world_flat"},
	}, got)
}

func TestSurfacesFor_UnknownWorldIsEmpty(t *testing.T) {
	r := New(&stubGateway{}, nil)
	assert.Empty(t, r.SurfacesFor(context.Background(), uuid.New()))
}

func TestSurfacesFor_MemoizedUntilReset(t *testing.T) {
	gw := &stubGateway{surfaces: []core.Surface{{World: overworld, Name: "world"}}}
	r := New(gw, nil)
	ctx := context.Background()

	r.SurfacesFor(ctx, overworld)
	r.SurfacesFor(ctx, overworld)
	r.SurfacesFor(ctx, nether)
	r.SurfacesFor(ctx, nether)
	assert.Equal(t, 2, gw.lookups)

	r.Reset()
	r.SurfacesFor(ctx, overworld)
	assert.Equal(t, 3, gw.lookups)
}

func TestSurfacesFor_ErrorIsEmptyAndNotCached(t *testing.T) {
	gw := &stubGateway{err: errors.New("renderer offline")}
	r := New(gw, nil)
	ctx := context.Background()

	assert.Empty(t, r.SurfacesFor(ctx, overworld))
	assert.Empty(t, r.SurfacesFor(ctx, overworld))
	assert.Equal(t, 2, gw.lookups)
}

func TestKnown(t *testing.T) {
	gw := &stubGateway{surfaces: []core.Surface{
		{World: overworld, Name: "world"},
		{World: nether, Name: "nether"},
		{World: overworld, Name: ""},
	}}
	r := New(gw, nil)

	got, err := r.Known(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	gw.err = errors.New("boom")
	_, err = r.Known(context.Background())
	assert.Error(t, err)
}
