// pkg/core/marker.go
package core

import (
	"sort"

	"github.com/google/uuid"
)

// Anchor is the pixel offset of a marker icon relative to its position
type Anchor struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Surface is one rendered map of a world. A world may be rendered by several surfaces.
type Surface struct {
	World uuid.UUID `json:"world"`
	Name  string    `json:"name"`
}

// Key returns a string usable as a map key for the surface
func (s Surface) Key() string {
	return s.World.String() + "/" + s.Name
}

// Marker is a point-of-interest marker as published to a surface
type Marker struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Icon       string     `json:"icon,omitempty"` // empty uses the renderer default
	IconAnchor Anchor     `json:"anchor"`
	Position   Position3D `json:"position"`
}

// MarkerSet is a labeled group of markers published onto one surface as a unit
type MarkerSet struct {
	Key     string            `json:"key"`
	Label   string            `json:"label"`
	Markers map[string]Marker `json:"markers"`
}

// IDs returns the marker ids of the set in sorted order
func (s MarkerSet) IDs() []string {
	ids := make([]string, 0, len(s.Markers))
	for id := range s.Markers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SortSurfaces orders surfaces by world then name
func SortSurfaces(surfaces []Surface) {
	sort.Slice(surfaces, func(i, j int) bool {
		if surfaces[i].World != surfaces[j].World {
			return surfaces[i].World.String() < surfaces[j].World.String()
		}
		return surfaces[i].Name < surfaces[j].Name
	})
}
