// Package sqlstore implements gateway.Backend on top of a SQL database
// (Postgres or SQLite) through GORM. Published marker sets survive restarts,
// so a renderer reading these tables always sees the last completed cycle.
package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/OCAP2/markersync/internal/database"
	"github.com/OCAP2/markersync/internal/gateway"
	"github.com/OCAP2/markersync/internal/logging"
	"github.com/OCAP2/markersync/pkg/core"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dependencies holds the collaborators of a Backend
type Dependencies struct {
	DB       *database.Manager
	Surfaces []core.Surface // seeded into the surfaces table at Init
	Logger   logging.Logger
}

// Backend stores marker sets in SQL tables
type Backend struct {
	deps Dependencies
}

var _ gateway.Backend = (*Backend)(nil)

// New creates a new SQL backend. The manager must already be connected.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	return &Backend{deps: deps}
}

func (b *Backend) db(ctx context.Context) *gorm.DB {
	return b.deps.DB.DB.WithContext(ctx)
}

// Init migrates the schema and registers the configured surfaces.
func (b *Backend) Init() error {
	if b.deps.DB == nil || b.deps.DB.DB == nil {
		return fmt.Errorf("database not connected")
	}
	if err := b.deps.DB.Setup(); err != nil {
		return err
	}
	for _, s := range b.deps.Surfaces {
		if err := b.AddSurface(context.Background(), s); err != nil {
			return err
		}
	}
	b.deps.Logger.Info("Surface catalog seeded", "surfaces", len(b.deps.Surfaces))
	return nil
}

// Close releases the database connection.
func (b *Backend) Close() error {
	if b.deps.DB == nil {
		return nil
	}
	return b.deps.DB.Close()
}

// AddSurface registers a surface. Registering an existing surface is a no-op.
func (b *Backend) AddSurface(ctx context.Context, s core.Surface) error {
	row := database.Surface{World: s.World, Name: s.Name}
	err := b.db(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("add surface %s: %w", s.Name, err)
	}
	return nil
}

func toSurfaces(rows []database.Surface) []core.Surface {
	out := make([]core.Surface, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.Surface{World: r.World, Name: r.Name})
	}
	core.SortSurfaces(out)
	return out
}

// SurfacesForWorld returns the surfaces rendering world
func (b *Backend) SurfacesForWorld(ctx context.Context, world uuid.UUID) ([]core.Surface, error) {
	var rows []database.Surface
	if err := b.db(ctx).Where("world = ?", world).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query surfaces: %w", err)
	}
	return toSurfaces(rows), nil
}

// AllKnownSurfaces returns every registered surface
func (b *Backend) AllKnownSurfaces(ctx context.Context) ([]core.Surface, error) {
	var rows []database.Surface
	if err := b.db(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query surfaces: %w", err)
	}
	return toSurfaces(rows), nil
}

// surfaceID looks up the row id of a surface
func surfaceID(tx *gorm.DB, s core.Surface) (uint, error) {
	var row database.Surface
	err := tx.Where("world = ? AND name = ?", s.World, s.Name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("surface %s: %w", s.Name, gateway.ErrUnknownSurface)
	}
	if err != nil {
		return 0, fmt.Errorf("query surface %s: %w", s.Name, err)
	}
	return row.ID, nil
}

// deleteSet removes a set and its markers
func deleteSet(tx *gorm.DB, surfaceID uint, key string) error {
	var existing database.MarkerSet
	err := tx.Where("surface_id = ? AND set_key = ?", surfaceID, key).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := tx.Where("marker_set_id = ?", existing.ID).Delete(&database.Marker{}).Error; err != nil {
		return err
	}
	return tx.Delete(&existing).Error
}

// PublishMarkerSet replaces the stored set in a single transaction
func (b *Backend) PublishMarkerSet(ctx context.Context, surface core.Surface, set core.MarkerSet) error {
	return b.db(ctx).Transaction(func(tx *gorm.DB) error {
		sid, err := surfaceID(tx, surface)
		if err != nil {
			return err
		}
		if err := deleteSet(tx, sid, set.Key); err != nil {
			return fmt.Errorf("delete previous %s set: %w", set.Key, err)
		}

		row := database.MarkerSet{
			SurfaceID: sid,
			Key:       set.Key,
			Label:     set.Label,
		}
		if err := tx.Omit("Surface", "Markers").Create(&row).Error; err != nil {
			return fmt.Errorf("create %s set: %w", set.Key, err)
		}

		b.deps.Logger.Debug("Storing marker set", "surface", surface.Name, "key", set.Key, "markers", len(set.Markers))
		if len(set.Markers) == 0 {
			return nil
		}
		markers := make([]database.Marker, 0, len(set.Markers))
		for _, id := range set.IDs() {
			m := set.Markers[id]
			markers = append(markers, database.Marker{
				MarkerSetID: row.ID,
				MarkerID:    m.ID,
				Label:       m.Label,
				Icon:        m.Icon,
				IconAnchor:  datatypes.NewJSONType(m.IconAnchor),
				Position:    database.PositionToPoint(m.Position),
			})
		}
		if err := tx.Create(&markers).Error; err != nil {
			return fmt.Errorf("create %s markers: %w", set.Key, err)
		}
		return nil
	})
}

// RemoveMarkerSet deletes the stored set. Removing an absent set is not an error.
func (b *Backend) RemoveMarkerSet(ctx context.Context, surface core.Surface, key string) error {
	return b.db(ctx).Transaction(func(tx *gorm.DB) error {
		sid, err := surfaceID(tx, surface)
		if err != nil {
			return err
		}
		if err := deleteSet(tx, sid, key); err != nil {
			return fmt.Errorf("delete %s set: %w", key, err)
		}
		return nil
	})
}

// GetMarkerSet loads a stored set
func (b *Backend) GetMarkerSet(ctx context.Context, surface core.Surface, key string) (core.MarkerSet, bool, error) {
	sid, err := surfaceID(b.db(ctx), surface)
	if err != nil {
		return core.MarkerSet{}, false, err
	}

	var row database.MarkerSet
	err = b.db(ctx).Preload("Markers").Where("surface_id = ? AND set_key = ?", sid, key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.MarkerSet{}, false, nil
	}
	if err != nil {
		return core.MarkerSet{}, false, fmt.Errorf("query %s set: %w", key, err)
	}

	set := core.MarkerSet{
		Key:     row.Key,
		Label:   row.Label,
		Markers: make(map[string]core.Marker, len(row.Markers)),
	}
	for _, m := range row.Markers {
		set.Markers[m.MarkerID] = core.Marker{
			ID:         m.MarkerID,
			Label:      m.Label,
			Icon:       m.Icon,
			IconAnchor: m.IconAnchor.Data(),
			Position:   database.PointToPosition(m.Position),
		}
	}
	return set, true, nil
}
