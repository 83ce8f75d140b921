// pkg/core/category.go
package core

// CategoryKind identifies one of the two marker categories
type CategoryKind int

const (
	Warp CategoryKind = iota
	Home
)

func (k CategoryKind) String() string {
	switch k {
	case Warp:
		return "warp"
	case Home:
		return "home"
	default:
		return "unknown"
	}
}

// Marker set keys and labels as shown by the renderer
const (
	WarpSetKey   = "warps"
	WarpSetLabel = "Warps"
	HomeSetKey   = "homes"
	HomeSetLabel = "Homes"

	DefaultWarpLabel = "%warp%"
	DefaultHomeLabel = "%home% (%player%'s home)"
)

// Default icon anchors. Overridable via config.
var (
	DefaultWarpAnchor = Anchor{X: 19, Y: 19}
	DefaultHomeAnchor = Anchor{X: 18, Y: 18}
)

// Category holds the settings of one marker category
type Category struct {
	Kind         CategoryKind
	Key          string
	DisplayLabel string
	Enabled      bool
	LabelFormat  string
	Icon         string
	IconAnchor   Anchor
}

// WarpCategory returns the warp category with default settings
func WarpCategory() Category {
	return Category{
		Kind:         Warp,
		Key:          WarpSetKey,
		DisplayLabel: WarpSetLabel,
		Enabled:      true,
		LabelFormat:  DefaultWarpLabel,
		IconAnchor:   DefaultWarpAnchor,
	}
}

// HomeCategory returns the home category with default settings
func HomeCategory() Category {
	return Category{
		Kind:         Home,
		Key:          HomeSetKey,
		DisplayLabel: HomeSetLabel,
		Enabled:      true,
		LabelFormat:  DefaultHomeLabel,
		IconAnchor:   DefaultHomeAnchor,
	}
}
