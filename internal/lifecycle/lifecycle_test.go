package lifecycle

import (
	"context"
	"iter"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/OCAP2/markersync/internal/config"
	"github.com/OCAP2/markersync/internal/reconcile"
	"github.com/OCAP2/markersync/internal/storage/memory"
	"github.com/OCAP2/markersync/pkg/core"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/goleak"
)

var (
	overworld = uuid.MustParse("5a1e4f52-0d7c-4c1b-9a9e-3f0a3c1b2d4e")
	surfWorld = core.Surface{World: overworld, Name: "world"}
)

type staticSource struct {
	warps []core.NamedLocation
}

func (s staticSource) Available() bool { return true }

func (s staticSource) ListWarps(context.Context) iter.Seq[core.NamedLocation] {
	return slices.Values(s.warps)
}

func (s staticSource) ListHomes(context.Context, core.OwnerScope) iter.Seq[core.NamedLocation] {
	return slices.Values([]core.NamedLocation(nil))
}

func newManager(hooks ...func(reconcile.Result)) *Manager {
	return New(Dependencies{
		Source: staticSource{warps: []core.NamedLocation{{Name: "spawn", World: overworld}}},
		Config: config.MarkerConfig{
			Warps:          core.WarpCategory(),
			Homes:          core.HomeCategory(),
			HomeScope:      core.ScopeAll,
			UpdateInterval: time.Hour,
		},
		Meter: sdkmetric.NewMeterProvider().Meter("test"),
		Hooks: hooks,
	})
}

func newStore() *memory.Backend {
	store := memory.New(config.MemoryConfig{}, nil)
	store.AddSurface(surfWorld)
	return store
}

func TestOnTargetAvailable_PublishesAndUnavailableRetracts(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newStore()
	m := newManager()

	require.NoError(t, m.OnTargetAvailable(context.Background(), store))
	assert.True(t, m.Active())

	set, ok := store.GetMarkerSet(surfWorld, core.WarpSetKey)
	require.True(t, ok)
	assert.Equal(t, []string{"warp:world:spawn"}, set.IDs())

	require.NoError(t, m.OnTargetUnavailable(context.Background()))
	assert.False(t, m.Active())

	sets, _ := store.Snapshot(surfWorld)
	assert.Empty(t, sets)
}

// gatedGateway blocks publishing while armed
type gatedGateway struct {
	*memory.Backend

	mu      sync.Mutex
	hold    chan struct{}
	entered chan struct{}
}

func (g *gatedGateway) arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hold = make(chan struct{})
	g.entered = make(chan struct{}, 1)
}

func (g *gatedGateway) PublishMarkerSet(ctx context.Context, surface core.Surface, set core.MarkerSet) error {
	g.mu.Lock()
	hold, entered := g.hold, g.entered
	g.mu.Unlock()
	if hold != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-hold
	}
	return g.Backend.PublishMarkerSet(ctx, surface, set)
}

func TestOnTargetUnavailable_DeadlineDuringCycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	gw := &gatedGateway{Backend: newStore()}
	m := New(Dependencies{
		Source: staticSource{warps: []core.NamedLocation{{Name: "spawn", World: overworld}}},
		Config: config.MarkerConfig{
			Warps:          core.WarpCategory(),
			Homes:          core.HomeCategory(),
			HomeScope:      core.ScopeAll,
			UpdateInterval: 5 * time.Millisecond,
		},
		Meter: sdkmetric.NewMeterProvider().Meter("test"),
	})
	require.NoError(t, m.OnTargetAvailable(context.Background(), gw))

	gw.arm()
	<-gw.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.OnTargetUnavailable(ctx), context.DeadlineExceeded)
	assert.False(t, m.Active())

	close(gw.hold)
	require.Eventually(t, func() bool {
		sets, _ := gw.Snapshot(surfWorld)
		return len(sets) == 0
	}, time.Second, 5*time.Millisecond, "marker sets left after the cycle finished")
}

func TestOnTargetAvailable_NilGateway(t *testing.T) {
	m := newManager()
	assert.ErrorIs(t, m.OnTargetAvailable(context.Background(), nil), ErrNoTarget)
	assert.False(t, m.Active())
}

func TestOnTargetAvailable_ReplacesTarget(t *testing.T) {
	defer goleak.VerifyNone(t)

	first, second := newStore(), newStore()
	m := newManager()

	require.NoError(t, m.OnTargetAvailable(context.Background(), first))
	require.NoError(t, m.OnTargetAvailable(context.Background(), second))

	sets, _ := first.Snapshot(surfWorld)
	assert.Empty(t, sets, "old target keeps markers")

	_, ok := second.GetMarkerSet(surfWorld, core.WarpSetKey)
	assert.True(t, ok)

	require.NoError(t, m.OnTargetUnavailable(context.Background()))
}

func TestOnTargetUnavailable_WithoutSession(t *testing.T) {
	m := newManager()
	assert.NoError(t, m.OnTargetUnavailable(context.Background()))
}

func TestHooks(t *testing.T) {
	defer goleak.VerifyNone(t)

	var results []reconcile.Result
	m := newManager(func(res reconcile.Result) { results = append(results, res) })

	require.NoError(t, m.OnTargetAvailable(context.Background(), newStore()))
	require.NoError(t, m.OnTargetUnavailable(context.Background()))

	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Markers["warp"])
}

func TestCurrentCycle_Idle(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newManager()
	assert.Zero(t, m.CurrentCycle())

	require.NoError(t, m.OnTargetAvailable(context.Background(), newStore()))
	assert.Zero(t, m.CurrentCycle(), "no cycle running between ticks")
	require.NoError(t, m.OnTargetUnavailable(context.Background()))
}
