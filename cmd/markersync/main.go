package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/OCAP2/markersync/internal/api"
	"github.com/OCAP2/markersync/internal/config"
	"github.com/OCAP2/markersync/internal/essentials"
	"github.com/OCAP2/markersync/internal/gateway"
	"github.com/OCAP2/markersync/internal/influx"
	"github.com/OCAP2/markersync/internal/lifecycle"
	"github.com/OCAP2/markersync/internal/logging"
	"github.com/OCAP2/markersync/internal/monitor"
	intOtel "github.com/OCAP2/markersync/internal/otel"
	"github.com/OCAP2/markersync/internal/reconcile"
	"github.com/OCAP2/markersync/internal/source"
)

const (
	ServiceName = "markersync"

	// icon references substituted for the "default" icon setting
	DefaultWarpIcon = "essentials/warp"
	DefaultHomeIcon = "essentials/home"

	shutdownTimeout = 30 * time.Second
)

var configDir = flag.String("config", ".", "directory containing markersync.yml")

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	sessionStart := time.Now()

	slogManager := logging.NewSlogManager()
	slogManager.Setup("info", logging.Sinks{})
	logger := slogManager.Logger()

	if err := config.Load(*configDir); err != nil {
		logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		logger.Info("Loaded config", "dir", *configDir)
	}

	logLevel := config.GetString("logLevel")
	logsDir := config.GetString("logsDir")

	var logFile *os.File
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		logger.Error("Failed to create logs directory", "error", err, "path", logsDir)
	} else {
		logPath := logging.LogFilePath(logsDir, ServiceName, sessionStart)
		logFile, err = os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			logger.Error("Failed to create/open log file!", "error", err, "path", logPath)
		} else {
			defer logFile.Close()
			logger.Info("Begin logging in logs directory", "path", logPath)
		}
	}

	// Initialize OTel provider (no-op when disabled)
	otelCfg := config.GetOTelConfig()
	otelProvider, err := intOtel.New(intOtel.Config{
		Enabled:      otelCfg.Enabled,
		ServiceName:  otelCfg.ServiceName,
		BatchTimeout: otelCfg.BatchTimeout,
		LogWriter:    writerOrNil(logFile),
		Endpoint:     otelCfg.Endpoint,
		Insecure:     otelCfg.Insecure,
	})
	if err != nil {
		logger.Error("Failed to initialize OTel provider", "error", err)
		otelProvider, _ = intOtel.New(intOtel.Config{})
	}

	sinks := logging.Sinks{File: writerOrNil(logFile), OTel: otelProvider.LoggerProvider()}
	if config.GetBool("graylog.enabled") {
		addr := config.GetString("graylog.address")
		graylogWriter, err := logging.NewGraylogWriter(addr)
		if err != nil {
			logger.Error("Failed to connect to Graylog", "error", err, "address", addr)
		} else {
			defer graylogWriter.Close()
			sinks.Graylog = graylogWriter
		}
	}

	// every record emitted during a cycle carries its sequence number
	var lc *lifecycle.Manager
	slogManager.SetCycleTracker(logging.CycleFunc(func() uint64 {
		if lc == nil {
			return 0
		}
		return lc.CurrentCycle()
	}))

	// Re-setup logging with file output, Graylog and optional OTel
	slogManager.Setup(logLevel, sinks)
	logger = slogManager.Logger()

	var zlogWriter io.Writer = os.Stdout
	if logFile != nil {
		zlogWriter = logFile
	}
	zlog := logging.NewZerolog(zlogWriter, logLevel)

	markerCfg := resolveIcons(config.GetMarkerConfig())
	logger.Info("Marker configuration",
		"warps", markerCfg.Warps.Enabled,
		"homes", markerCfg.Homes.Enabled,
		"homeScope", markerCfg.HomeScope.String(),
		"interval", markerCfg.UpdateInterval,
	)

	// Location providers are optional; without them every cycle is skipped
	src := openSource(logger)

	storageCfg := config.GetStorageConfig()
	if storageCfg.Type == "websocket" {
		checkServerStatus(storageCfg.WebSocket, logger)
	}
	backend, err := createStorageBackend(storageCfg, config.GetSurfaces(), logger, zlog)
	if err != nil {
		logger.Error("Failed to create storage backend", "error", err)
		return err
	}
	if err := backend.Init(); err != nil {
		logger.Error("Failed to initialize storage backend", "error", err)
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("Failed to close storage backend", "error", err)
		}
	}()

	var hooks []func(reconcile.Result)

	influxCfg := config.GetInfluxConfig()
	if influxCfg.Enabled {
		influxManager := influx.NewManager(zlog, influxCfg, filepath.Join(logsDir, ServiceName+"_influx_backup.lp.gz"))
		if err := influxManager.Connect(context.Background()); err != nil {
			logger.Error("Failed to connect InfluxDB", "error", err)
		} else {
			hooks = append(hooks, influxManager.RecordCycle)
			defer influxManager.Close()
		}
	}

	if statusFile := config.GetString("statusFile"); statusFile != "" {
		monitorService := monitor.NewService(monitor.Dependencies{
			StatusFile: statusFile,
			Logger:     logger,
			Metrics:    otelProvider,
		})
		if err := monitorService.Start(); err != nil {
			logger.Error("Failed to start status monitor", "error", err)
		} else {
			hooks = append(hooks, monitorService.Record)
			defer monitorService.Stop()
		}
	}

	lc = lifecycle.New(lifecycle.Dependencies{
		Source: src,
		Config: markerCfg,
		Logger: logger,
		Hooks:  hooks,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw := gateway.WithTimeout(backend, storageCfg.WebSocket.Timeout)
	if err := lc.OnTargetAvailable(ctx, gw); err != nil {
		logger.Error("Failed to start marker synchronization", "error", err)
		return err
	}
	logger.Info("Marker synchronization started", "storage", storageCfg.Type)

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := lc.OnTargetUnavailable(shutdownCtx); err != nil {
		logger.Warn("Failed to stop marker synchronization cleanly", "error", err)
	}

	if err := slogManager.Flush(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush logs: %v\n", err)
	}
	if err := otelProvider.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to shut down OTel: %v\n", err)
	}
	return nil
}

// openSource wires the Essentials providers into a source adapter. A missing
// data directory leaves the adapter without providers.
func openSource(logger *slog.Logger) *source.Adapter {
	deps := source.Dependencies{Logger: logger}

	essentialsCfg := config.GetEssentialsConfig()
	provider, err := essentials.Open(essentialsCfg)
	switch {
	case err != nil:
		logger.Error("Failed to open Essentials data", "error", err, "path", essentialsCfg.DataDir)
	case provider == nil:
		logger.Warn("Essentials data not found, markers will not be synchronized", "path", essentialsCfg.DataDir)
	default:
		deps.Warps = provider
		deps.Homes = provider
		logger.Info("Essentials data found", "path", essentialsCfg.DataDir)
	}

	return source.New(deps)
}

// checkServerStatus logs whether the remote renderer answers its healthcheck
func checkServerStatus(cfg config.WebSocketConfig, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	client := api.New(cfg.ServerURL, cfg.Secret, cfg.Timeout)
	if err := client.Healthcheck(ctx); err != nil {
		logger.Warn("Renderer healthcheck failed", "url", cfg.ServerURL, "error", err)
		return
	}
	logger.Info("Renderer is reachable", "url", cfg.ServerURL)
}

// resolveIcons replaces the "default" icon setting with the bundled icon references
func resolveIcons(cfg config.MarkerConfig) config.MarkerConfig {
	if cfg.Warps.Icon == "default" {
		cfg.Warps.Icon = DefaultWarpIcon
	}
	if cfg.Homes.Icon == "default" {
		cfg.Homes.Icon = DefaultHomeIcon
	}
	return cfg
}

// writerOrNil avoids handing a typed nil *os.File to an io.Writer field
func writerOrNil(f *os.File) io.Writer {
	if f == nil {
		return nil
	}
	return f
}
