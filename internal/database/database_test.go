package database

import (
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/OCAP2/markersync/pkg/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newSQLiteManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(zerolog.New(io.Discard), filepath.Join(t.TempDir(), "markers.db"))
	require.NoError(t, m.ConnectSQLite())
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, m.Setup())
	return m
}

func TestPositionPointConversion(t *testing.T) {
	pos := core.Position3D{X: 12.5, Y: 64, Z: -300.25}
	assert.Equal(t, pos, PointToPosition(PositionToPoint(pos)))
}

func TestPositionToPoint_NonFinite(t *testing.T) {
	pt := PositionToPoint(core.Position3D{X: math.NaN(), Y: 64, Z: 0})
	assert.True(t, pt.IsEmpty())
	assert.Equal(t, core.Position3D{}, PointToPosition(pt))
}

func TestConnectSQLite_InMemory(t *testing.T) {
	m := NewManager(zerolog.New(io.Discard), "")
	require.NoError(t, m.ConnectSQLite())
	t.Cleanup(func() { _ = m.Close() })

	assert.True(t, m.IsValid)
	assert.True(t, m.ShouldSaveLocal)
	require.NoError(t, m.Setup())
	assert.True(t, m.DB.Migrator().HasTable(&Marker{}))
}

func TestSetup_NotConnected(t *testing.T) {
	m := NewManager(zerolog.New(io.Discard), "")
	assert.Error(t, m.Setup())
}

func TestConnect_FallsBackToSQLite(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("db.host", "127.0.0.1")
	viper.Set("db.port", "1")
	viper.Set("db.username", "nobody")
	viper.Set("db.password", "nothing")
	viper.Set("db.database", "none")

	m := NewManager(zerolog.New(io.Discard), "")
	require.NoError(t, m.Connect())
	t.Cleanup(func() { _ = m.Close() })

	assert.True(t, m.IsValid)
	assert.True(t, m.ShouldSaveLocal)
	assert.Equal(t, "sqlite", m.DB.Dialector.Name())
}

func TestMarkerRoundTrip(t *testing.T) {
	m := newSQLiteManager(t)

	surface := Surface{World: uuid.New(), Name: "world"}
	require.NoError(t, m.DB.Create(&surface).Error)

	set := MarkerSet{
		SurfaceID: surface.ID,
		Key:       core.WarpSetKey,
		Label:     core.WarpSetLabel,
		Markers: []Marker{{
			MarkerID:   "warp:world:spawn",
			Label:      "spawn",
			IconAnchor: datatypes.NewJSONType(core.Anchor{X: 19, Y: 19}),
			Position:   PositionToPoint(core.Position3D{X: 1, Y: 2, Z: 3}),
		}},
	}
	require.NoError(t, m.DB.Create(&set).Error)

	var loaded MarkerSet
	require.NoError(t, m.DB.Preload("Markers").Preload("Surface").First(&loaded, set.ID).Error)
	assert.Equal(t, surface.World, loaded.Surface.World)
	require.Len(t, loaded.Markers, 1)
	assert.Equal(t, core.Anchor{X: 19, Y: 19}, loaded.Markers[0].IconAnchor.Data())
	assert.Equal(t, core.Position3D{X: 1, Y: 2, Z: 3}, PointToPosition(loaded.Markers[0].Position))

	// cascade
	require.NoError(t, m.DB.Delete(&MarkerSet{}, set.ID).Error)
	var count int64
	require.NoError(t, m.DB.Model(&Marker{}).Count(&count).Error)
	assert.Zero(t, count)
}
