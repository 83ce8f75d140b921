package main

import (
	"fmt"

	"github.com/OCAP2/markersync/internal/config"
	"github.com/OCAP2/markersync/internal/database"
	"github.com/OCAP2/markersync/internal/gateway"
	"github.com/OCAP2/markersync/internal/logging"
	"github.com/OCAP2/markersync/internal/storage/memory"
	"github.com/OCAP2/markersync/internal/storage/sqlstore"
	wsstorage "github.com/OCAP2/markersync/internal/storage/websocket"
	"github.com/OCAP2/markersync/pkg/core"
	"github.com/rs/zerolog"
)

// createStorageBackend builds the marker repository selected by storage.type.
// Local backends are seeded with the configured surface catalog; the remote
// renderer owns its own.
func createStorageBackend(
	storageCfg config.StorageConfig,
	surfaces []core.Surface,
	logger logging.Logger,
	dbLogger zerolog.Logger,
) (gateway.Backend, error) {
	switch storageCfg.Type {
	case "postgres":
		db := database.NewManager(dbLogger, storageCfg.SQLite.Path)
		if err := db.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}
		logger.Info("SQL storage backend initialized", "local", db.ShouldSaveLocal)
		return sqlstore.New(sqlstore.Dependencies{
			DB:       db,
			Surfaces: surfaces,
			Logger:   logging.NewZerologAdapter(dbLogger),
		}), nil

	case "sqlite":
		db := database.NewManager(dbLogger, storageCfg.SQLite.Path)
		if err := db.ConnectSQLite(); err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		logger.Info("SQLite storage backend initialized", "path", storageCfg.SQLite.Path)
		return sqlstore.New(sqlstore.Dependencies{
			DB:       db,
			Surfaces: surfaces,
			Logger:   logging.NewZerologAdapter(dbLogger),
		}), nil

	case "websocket":
		logger.Info("WebSocket storage backend initialized", "url", storageCfg.WebSocket.URL)
		return wsstorage.New(wsstorage.Config{
			URL:     storageCfg.WebSocket.URL,
			Secret:  storageCfg.WebSocket.Secret,
			Timeout: storageCfg.WebSocket.Timeout,
		}, logger), nil

	case "memory", "":
		backend := memory.New(storageCfg.Memory, logger)
		for _, s := range surfaces {
			backend.AddSurface(s)
		}
		logger.Info("Memory storage backend initialized", "surfaces", len(surfaces), "outputDir", storageCfg.Memory.OutputDir)
		return backend, nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", storageCfg.Type)
	}
}
