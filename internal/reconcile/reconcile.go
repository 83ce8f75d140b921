// Package reconcile runs the marker reconciliation cycle: it rebuilds every
// marker set from the location providers and publishes each one by full
// replacement, so markers of vanished locations disappear with the next cycle.
package reconcile

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OCAP2/markersync/internal/config"
	"github.com/OCAP2/markersync/internal/gateway"
	"github.com/OCAP2/markersync/internal/logging"
	"github.com/OCAP2/markersync/internal/markers"
	"github.com/OCAP2/markersync/internal/target"
	"github.com/OCAP2/markersync/pkg/core"
	"go.opentelemetry.io/otel/metric"
)

// ErrCycleInProgress is returned by Run when another cycle holds the guard.
// The request is dropped, not queued.
var ErrCycleInProgress = errors.New("reconciliation cycle already in progress")

// Source lists the named locations of both categories
type Source interface {
	Available() bool
	ListWarps(ctx context.Context) iter.Seq[core.NamedLocation]
	ListHomes(ctx context.Context, scope core.OwnerScope) iter.Seq[core.NamedLocation]
}

// Dependencies holds the collaborators of a Reconciler
type Dependencies struct {
	Source  Source
	Gateway gateway.Gateway
	Config  config.MarkerConfig
	Logger  logging.Logger
	Meter   metric.Meter // defaults to the global meter
}

// Result summarizes one cycle or retraction pass
type Result struct {
	Cycle     uint64
	Started   time.Time
	Duration  time.Duration
	Markers   map[string]int // markers published per category
	Published int            // marker sets published
	Removed   int            // marker sets removed
	Failures  int            // failed gateway calls
	Skipped   bool           // no location provider available
}

// Reconciler owns the cycle guard. At most one cycle or retraction runs at a time.
type Reconciler struct {
	deps     Dependencies
	resolver *target.Resolver
	metrics  *metrics

	mu      sync.Mutex
	seq     atomic.Uint64
	current atomic.Uint64 // sequence number of the running cycle, 0 when idle
}

// New creates a new Reconciler
func New(deps Dependencies) (*Reconciler, error) {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Meter == nil {
		deps.Meter = meter()
	}
	m, err := newMetrics(deps.Meter)
	if err != nil {
		return nil, err
	}
	return &Reconciler{
		deps:     deps,
		resolver: target.New(deps.Gateway, deps.Logger),
		metrics:  m,
	}, nil
}

// CurrentCycle returns the sequence number of the running cycle, zero when idle
func (r *Reconciler) CurrentCycle() uint64 {
	return r.current.Load()
}

// Run performs one reconciliation cycle. It returns ErrCycleInProgress
// without doing anything when another cycle is running.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	if !r.mu.TryLock() {
		r.metrics.skipped.Add(ctx, 1)
		return Result{}, ErrCycleInProgress
	}
	defer r.mu.Unlock()

	res := r.begin()
	defer r.end(ctx, &res)

	if r.deps.Source == nil || !r.deps.Source.Available() {
		res.Skipped = true
		r.deps.Logger.Debug("No location provider available, skipping cycle")
		return res, nil
	}

	r.resolver.Reset()
	known, err := r.resolver.Known(ctx)
	if err != nil {
		r.deps.Logger.Warn("Listing known surfaces failed, continuing with resolved surfaces", "error", err)
		r.metrics.failure(ctx, opList)
		res.Failures++
	}

	for _, cat := range []core.Category{r.deps.Config.Warps, r.deps.Config.Homes} {
		if !cat.Enabled {
			r.removeAll(ctx, known, cat.Key, &res)
			continue
		}
		r.publish(ctx, cat, r.build(ctx, cat, known), &res)
	}

	r.deps.Logger.Debug("Reconciliation cycle complete",
		"published", res.Published,
		"removed", res.Removed,
		"failures", res.Failures,
		"warps", res.Markers[core.Warp.String()],
		"homes", res.Markers[core.Home.String()],
	)
	return res, nil
}

// Retract removes both marker sets from every known surface, regardless of
// the enabled flags. It waits for an in-flight cycle to finish first.
func (r *Reconciler) Retract(ctx context.Context) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.begin()
	defer func() {
		res.Duration = time.Since(res.Started)
		r.current.Store(0)
	}()

	known, err := r.resolver.Known(ctx)
	if err != nil {
		r.deps.Logger.Warn("Listing known surfaces failed, nothing retracted", "error", err)
		r.metrics.failure(ctx, opList)
		res.Failures++
		return res
	}

	for _, key := range []string{r.deps.Config.Warps.Key, r.deps.Config.Homes.Key} {
		r.removeAll(ctx, known, key, &res)
	}

	r.deps.Logger.Info("Markers retracted", "surfaces", len(known), "removed", res.Removed, "failures", res.Failures)
	return res
}

func (r *Reconciler) begin() Result {
	n := r.seq.Add(1)
	r.current.Store(n)
	return Result{
		Cycle:   n,
		Started: time.Now(),
		Markers: make(map[string]int),
	}
}

func (r *Reconciler) end(ctx context.Context, res *Result) {
	res.Duration = time.Since(res.Started)
	r.metrics.record(ctx, *res)
	r.current.Store(0)
}

// locations lists the named locations of a category
func (r *Reconciler) locations(ctx context.Context, cat core.Category) iter.Seq[core.NamedLocation] {
	if cat.Kind == core.Home {
		return r.deps.Source.ListHomes(ctx, r.deps.Config.HomeScope)
	}
	return r.deps.Source.ListWarps(ctx)
}

type surfaceSet struct {
	surface core.Surface
	set     core.MarkerSet
}

// build creates a fresh set for every known surface and every surface a
// location resolved to. Surfaces without locations keep an empty set so
// their stale markers are cleared.
func (r *Reconciler) build(ctx context.Context, cat core.Category, known []core.Surface) []surfaceSet {
	sets := make(map[string]*surfaceSet, len(known))
	for _, s := range known {
		sets[s.Key()] = &surfaceSet{surface: s, set: markers.NewSet(cat)}
	}

	for loc := range r.locations(ctx, cat) {
		for _, s := range r.resolver.SurfacesFor(ctx, loc.World) {
			entry, ok := sets[s.Key()]
			if !ok {
				entry = &surfaceSet{surface: s, set: markers.NewSet(cat)}
				sets[s.Key()] = entry
			}
			markers.Add(entry.set, markers.Build(loc, cat, s))
		}
	}

	surfaces := make([]core.Surface, 0, len(sets))
	for _, entry := range sets {
		surfaces = append(surfaces, entry.surface)
	}
	core.SortSurfaces(surfaces)

	out := make([]surfaceSet, 0, len(surfaces))
	for _, s := range surfaces {
		out = append(out, *sets[s.Key()])
	}
	return out
}

func (r *Reconciler) publish(ctx context.Context, cat core.Category, sets []surfaceSet, res *Result) {
	for _, entry := range sets {
		if err := r.deps.Gateway.PublishMarkerSet(ctx, entry.surface, entry.set); err != nil {
			r.deps.Logger.Warn("Publishing marker set failed",
				"surface", entry.surface.Name,
				"set", entry.set.Key,
				"error", err,
			)
			r.metrics.failure(ctx, opPublish)
			res.Failures++
			continue
		}
		res.Published++
		res.Markers[cat.Kind.String()] += len(entry.set.Markers)
	}
}

func (r *Reconciler) removeAll(ctx context.Context, surfaces []core.Surface, key string, res *Result) {
	for _, s := range surfaces {
		if err := r.deps.Gateway.RemoveMarkerSet(ctx, s, key); err != nil {
			r.deps.Logger.Warn("Removing marker set failed", "surface", s.Name, "set", key, "error", err)
			r.metrics.failure(ctx, opRemove)
			res.Failures++
			continue
		}
		res.Removed++
	}
}
