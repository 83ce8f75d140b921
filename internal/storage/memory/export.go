// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/OCAP2/markersync/pkg/core"
)

// MarkerSetJSON is one entry of the exported markers file
type MarkerSetJSON struct {
	Label         string                `json:"label"`
	Toggleable    bool                  `json:"toggleable"`
	DefaultHidden bool                  `json:"default-hidden"`
	Sorting       int                   `json:"sorting"`
	Markers       map[string]MarkerJSON `json:"markers"`
}

// MarkerJSON is a point-of-interest marker in the exported file
type MarkerJSON struct {
	Type     string     `json:"type"`
	Label    string     `json:"label"`
	Position PointJSON  `json:"position"`
	Icon     string     `json:"icon,omitempty"`
	Anchor   AnchorJSON `json:"anchor"`
}

// PointJSON is a marker position
type PointJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// AnchorJSON is an icon anchor
type AnchorJSON struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// exportPath returns <outputDir>/<world>/<surface>/live/markers.json[.gz].
// Surface names are only unique within a world.
func (b *Backend) exportPath(surface core.Surface) string {
	name := "markers.json"
	if b.cfg.CompressOutput {
		name += ".gz"
	}
	return filepath.Join(b.cfg.OutputDir, surface.World.String(), surface.Name, "live", name)
}

func buildExport(sets map[string]core.MarkerSet) map[string]MarkerSetJSON {
	export := make(map[string]MarkerSetJSON, len(sets))
	for key, set := range sets {
		out := MarkerSetJSON{
			Label:      set.Label,
			Toggleable: true,
			Markers:    make(map[string]MarkerJSON, len(set.Markers)),
		}
		for id, m := range set.Markers {
			out.Markers[id] = MarkerJSON{
				Type:     "poi",
				Label:    m.Label,
				Position: PointJSON{X: m.Position.X, Y: m.Position.Y, Z: m.Position.Z},
				Icon:     m.Icon,
				Anchor:   AnchorJSON{X: m.IconAnchor.X, Y: m.IconAnchor.Y},
			}
		}
		export[key] = out
	}
	return export
}

// export writes the given marker sets of a surface when an output directory
// is set. Caller must hold b.mu.
func (b *Backend) export(surface core.Surface, sets map[string]core.MarkerSet) error {
	if b.cfg.OutputDir == "" {
		return nil
	}

	outputPath := b.exportPath(surface)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// written next to the target and renamed so readers never see a partial file
	tmpPath := outputPath + ".tmp"
	var err error
	if b.cfg.CompressOutput {
		err = writeGzipJSON(tmpPath, buildExport(sets))
	} else {
		err = writeJSON(tmpPath, buildExport(sets))
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("failed to replace %s: %w", outputPath, err)
	}

	b.logger.Debug("Exported marker sets", "surface", surface.Name, "path", outputPath)
	return nil
}

func writeJSON(path string, data any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if err := json.NewEncoder(f).Encode(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}

func writeGzipJSON(path string, data any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	gw := gzip.NewWriter(f)
	if err := json.NewEncoder(gw).Encode(data); err != nil {
		_ = gw.Close()
		_ = f.Close()
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	if err := gw.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to close gzip writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}
