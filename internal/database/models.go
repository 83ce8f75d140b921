package database

import (
	"time"

	"github.com/OCAP2/markersync/pkg/core"
	"github.com/google/uuid"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// Models lists every table managed by Setup
var Models = []any{
	&Surface{},
	&MarkerSet{},
	&Marker{},
}

// Surface is one rendered map of a world
type Surface struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"createdAt"`
	World     uuid.UUID `json:"world" gorm:"size:36;not null;uniqueIndex:idx_surface_world_name"`
	Name      string    `json:"name" gorm:"size:128;not null;uniqueIndex:idx_surface_world_name"`
}

// MarkerSet is a published set of markers on one surface
type MarkerSet struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	UpdatedAt time.Time `json:"updatedAt"`
	SurfaceID uint      `json:"surfaceId" gorm:"not null;uniqueIndex:idx_markerset_surface_key"`
	Surface   Surface   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SurfaceID;"`
	Key       string    `json:"key" gorm:"column:set_key;size:64;not null;uniqueIndex:idx_markerset_surface_key"`
	Label     string    `json:"label"`
	Markers   []Marker  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

// Marker is one point-of-interest marker of a set
type Marker struct {
	ID          uint                            `json:"id" gorm:"primarykey"`
	MarkerSetID uint                            `json:"markerSetId" gorm:"not null;uniqueIndex:idx_marker_set_marker"`
	MarkerID    string                          `json:"markerId" gorm:"size:512;not null;uniqueIndex:idx_marker_set_marker"`
	Label       string                          `json:"label"`
	Icon        string                          `json:"icon"`
	IconAnchor  datatypes.JSONType[core.Anchor] `json:"iconAnchor"`
	Position    geom.Point                      `json:"position"` // XYZ point, Y is height
}

// PositionToPoint converts a core.Position3D to a geom.Point. Non-finite
// coordinates yield an empty point.
func PositionToPoint(p core.Position3D) geom.Point {
	coords := geom.Coordinates{XY: geom.XY{X: p.X, Y: p.Y}, Z: p.Z, Type: geom.DimXYZ}
	pt, err := geom.NewPoint(coords)
	if err != nil {
		return geom.Point{}
	}
	return pt
}

// PointToPosition converts a geom.Point back to a core.Position3D. An empty
// point yields the origin.
func PointToPosition(pt geom.Point) core.Position3D {
	c, ok := pt.Coordinates()
	if !ok {
		return core.Position3D{}
	}
	return core.Position3D{X: c.X, Y: c.Y, Z: c.Z}
}
