// pkg/core/location.go
package core

import "github.com/google/uuid"

// Position3D represents a world-space coordinate
type Position3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"` // height
	Z float64 `json:"z"`
}

// Location is a resolved position inside a world, as returned by the data providers
type Location struct {
	World    uuid.UUID
	Position Position3D
}

// NamedLocation is one warp or home flattened into a provider-independent shape.
// Owner is empty for warps.
type NamedLocation struct {
	Owner    string
	Name     string
	World    uuid.UUID
	Position Position3D
}

// OwnerScope selects which home owners are enumerated
type OwnerScope int

const (
	// ScopeActiveOnly lists homes of currently online owners only
	ScopeActiveOnly OwnerScope = iota
	// ScopeAll lists homes of every known owner
	ScopeAll
)

func (s OwnerScope) String() string {
	if s == ScopeAll {
		return "all"
	}
	return "active"
}
