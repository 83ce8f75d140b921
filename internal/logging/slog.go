package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// console receives records when no log file is configured; swapped in tests
var console io.Writer = os.Stdout

// Logger is the structured logging surface used across markersync.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SlogManager manages slog-based logging with optional OTel integration.
type SlogManager struct {
	logger  *slog.Logger
	tracker CycleTracker

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Sinks are the destinations records are written to
type Sinks struct {
	File    io.Writer              // text records; the console is used when nil
	OTel    *sdklog.LoggerProvider // nil disables the OTel bridge
	Graylog io.Writer              // GELF writer; nil disables it
}

// SetCycleTracker makes every record logged during a reconciliation cycle
// carry the cycle number. Takes effect on the next Setup.
func (m *SlogManager) SetCycleTracker(t CycleTracker) {
	m.tracker = t
}

// Setup (re)builds the logger. It can be called again once the log file and
// telemetry are available; loggers handed out earlier keep their old sinks.
func (m *SlogManager) Setup(level string, sinks Sinks) {
	lvl := parseLevel(level)
	m.logProvider = sinks.OTel

	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if t, ok := a.Value.Any().(time.Time); ok && a.Key == slog.TimeKey {
				a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	out := sinks.File
	if out == nil {
		out = console
	}
	handlers := fanout{slog.NewTextHandler(out, opts)}
	if sinks.Graylog != nil {
		handlers = append(handlers, slog.NewTextHandler(sinks.Graylog, opts))
	}
	if sinks.OTel != nil {
		handlers = append(handlers, otelslog.NewHandler("markersync", otelslog.WithLoggerProvider(sinks.OTel)))
	}

	var handler slog.Handler = handlers
	if len(handlers) == 1 {
		handler = handlers[0]
	}
	if m.tracker != nil {
		handler = cycleHandler{Handler: handler, tracker: m.tracker}
	}

	m.logger = slog.New(handler)
	m.logger.Info("Logging initialized", "level", lvl.String(), "graylog", sinks.Graylog != nil, "otel", sinks.OTel != nil)
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
