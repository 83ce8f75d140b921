// Package source flattens the warp and home providers into a single stream of
// core.NamedLocation values. Entries that fail to resolve are skipped, never
// reported as errors.
package source

import (
	"context"
	"errors"
	"iter"
	"sort"
	"strings"

	"github.com/OCAP2/markersync/internal/logging"
	"github.com/OCAP2/markersync/pkg/core"
	"github.com/google/uuid"
)

// Missing-data errors returned by providers
var (
	ErrWarpNotFound  = errors.New("warp not found")
	ErrInvalidWorld  = errors.New("invalid world")
	ErrOwnerNotFound = errors.New("owner not found")
	ErrHomeNotFound  = errors.New("home not found")
)

// WarpProvider is the registry of globally shared warps
type WarpProvider interface {
	List() ([]string, error)
	Resolve(name string) (core.Location, error)
}

// HomeProvider is the registry of per-owner homes
type HomeProvider interface {
	AllOwners() ([]uuid.UUID, error)
	ActiveOwners() ([]uuid.UUID, error)
	OwnerName(owner uuid.UUID) (string, error)
	HomesOf(owner uuid.UUID) ([]string, error)
	ResolveHome(owner uuid.UUID, name string) (core.Location, error)
}

// Dependencies holds the providers backing an Adapter. Either may be nil when
// the data provider is not installed.
type Dependencies struct {
	Warps  WarpProvider
	Homes  HomeProvider
	Logger logging.Logger
}

// Adapter normalizes both providers into NamedLocation sequences
type Adapter struct {
	deps Dependencies
}

// New creates a new Adapter
func New(deps Dependencies) *Adapter {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	return &Adapter{deps: deps}
}

// Available reports whether any provider is present
func (a *Adapter) Available() bool {
	return a != nil && (a.deps.Warps != nil || a.deps.Homes != nil)
}

// ListWarps yields every resolvable warp in name order.
func (a *Adapter) ListWarps(ctx context.Context) iter.Seq[core.NamedLocation] {
	return func(yield func(core.NamedLocation) bool) {
		if a == nil || a.deps.Warps == nil {
			return
		}
		names, err := a.deps.Warps.List()
		if err != nil {
			a.deps.Logger.Debug("Listing warps failed", "error", err)
			return
		}
		sort.Strings(names)

		for _, name := range names {
			if ctx.Err() != nil {
				return
			}
			loc, err := a.deps.Warps.Resolve(name)
			if err != nil {
				a.deps.Logger.Debug("Skipping unresolvable warp", "warp", name, "error", err)
				continue
			}
			if !yield(core.NamedLocation{Name: name, World: loc.World, Position: loc.Position}) {
				return
			}
		}
	}
}

type owner struct {
	id    uuid.UUID
	label string
}

// ListHomes yields every resolvable home of the owners selected by scope,
// ordered by owner label then home name.
func (a *Adapter) ListHomes(ctx context.Context, scope core.OwnerScope) iter.Seq[core.NamedLocation] {
	return func(yield func(core.NamedLocation) bool) {
		if a == nil || a.deps.Homes == nil {
			return
		}
		for _, o := range a.owners(scope) {
			names, err := a.deps.Homes.HomesOf(o.id)
			if err != nil {
				a.deps.Logger.Debug("Skipping owner without home list", "owner", o.label, "error", err)
				continue
			}
			sort.Strings(names)

			for _, name := range names {
				if ctx.Err() != nil {
					return
				}
				loc, err := a.deps.Homes.ResolveHome(o.id, name)
				if err != nil {
					a.deps.Logger.Debug("Skipping unresolvable home", "owner", o.label, "home", name, "error", err)
					continue
				}
				if !yield(core.NamedLocation{Owner: o.label, Name: name, World: loc.World, Position: loc.Position}) {
					return
				}
			}
		}
	}
}

// owners returns the owners in scope whose record could be loaded
func (a *Adapter) owners(scope core.OwnerScope) []owner {
	var (
		ids []uuid.UUID
		err error
	)
	if scope == core.ScopeAll {
		ids, err = a.deps.Homes.AllOwners()
	} else {
		ids, err = a.deps.Homes.ActiveOwners()
	}
	if err != nil {
		a.deps.Logger.Debug("Listing home owners failed", "scope", scope.String(), "error", err)
		return nil
	}

	owners := make([]owner, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		label, err := a.deps.Homes.OwnerName(id)
		if err != nil || strings.TrimSpace(label) == "" {
			a.deps.Logger.Debug("Skipping owner without record", "owner", id.String(), "error", err)
			continue
		}
		owners = append(owners, owner{id: id, label: label})
	}

	sort.Slice(owners, func(i, j int) bool {
		if owners[i].label != owners[j].label {
			return owners[i].label < owners[j].label
		}
		return owners[i].id.String() < owners[j].id.String()
	})
	return owners
}
