// Package markers turns named locations into renderer markers.
package markers

import (
	"strings"

	"github.com/OCAP2/markersync/pkg/core"
)

// Label placeholders
const (
	PlaceholderWarp   = "%warp%"
	PlaceholderHome   = "%home%"
	PlaceholderPlayer = "%player%"
)

// Label renders the category's label format for loc. Substitution is a single
// pass, so placeholder text inside a name is kept as is.
func Label(cat core.Category, loc core.NamedLocation) string {
	var r *strings.Replacer
	switch cat.Kind {
	case core.Warp:
		r = strings.NewReplacer(PlaceholderWarp, loc.Name)
	case core.Home:
		r = strings.NewReplacer(PlaceholderHome, loc.Name, PlaceholderPlayer, loc.Owner)
	default:
		return cat.LabelFormat
	}
	return r.Replace(cat.LabelFormat)
}

// ID derives the marker id: "warp:<surface>:<name>" or
// "home:<surface>:<owner>:<name>".
func ID(cat core.Category, surface core.Surface, loc core.NamedLocation) string {
	parts := []string{cat.Kind.String(), surface.Name}
	if cat.Kind == core.Home {
		parts = append(parts, loc.Owner)
	}
	parts = append(parts, loc.Name)
	return strings.Join(parts, ":")
}

// Build creates the marker for loc on surface
func Build(loc core.NamedLocation, cat core.Category, surface core.Surface) core.Marker {
	return core.Marker{
		ID:         ID(cat, surface, loc),
		Label:      Label(cat, loc),
		Icon:       cat.Icon,
		IconAnchor: cat.IconAnchor,
		Position:   loc.Position,
	}
}

// NewSet returns an empty marker set for the category
func NewSet(cat core.Category) core.MarkerSet {
	return core.MarkerSet{
		Key:     cat.Key,
		Label:   cat.DisplayLabel,
		Markers: make(map[string]core.Marker),
	}
}

// Add puts m into set, replacing any marker with the same id
func Add(set core.MarkerSet, m core.Marker) {
	set.Markers[m.ID] = m
}
