// Package lifecycle starts and stops marker synchronization as the renderer
// comes and goes.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/OCAP2/markersync/internal/config"
	"github.com/OCAP2/markersync/internal/gateway"
	"github.com/OCAP2/markersync/internal/logging"
	"github.com/OCAP2/markersync/internal/reconcile"
	"github.com/OCAP2/markersync/internal/scheduler"
	"go.opentelemetry.io/otel/metric"
)

// ErrNoTarget is returned when OnTargetAvailable is given a nil gateway
var ErrNoTarget = errors.New("no marker target")

// Dependencies holds what every synchronization session shares
type Dependencies struct {
	Source reconcile.Source
	Config config.MarkerConfig
	Logger logging.Logger
	Meter  metric.Meter
	Hooks  []func(reconcile.Result)
}

// Manager owns at most one running session
type Manager struct {
	deps Dependencies

	mu        sync.Mutex
	scheduler *scheduler.Scheduler
	current   atomic.Pointer[reconcile.Reconciler]
}

// New creates a new lifecycle manager
func New(deps Dependencies) *Manager {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	return &Manager{deps: deps}
}

// OnTargetAvailable starts synchronizing markers into gw. A running session
// for a previous target is stopped first.
func (m *Manager) OnTargetAvailable(ctx context.Context, gw gateway.Gateway) error {
	if gw == nil {
		return ErrNoTarget
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scheduler != nil {
		m.deps.Logger.Info("Marker target replaced, stopping previous session")
		if err := m.stopLocked(ctx); err != nil {
			// the old scheduler still retracts once its cycle ends
			m.deps.Logger.Warn("Previous session did not stop in time", "error", err)
		}
	}

	r, err := reconcile.New(reconcile.Dependencies{
		Source:  m.deps.Source,
		Gateway: gw,
		Config:  m.deps.Config,
		Logger:  m.deps.Logger,
		Meter:   m.deps.Meter,
	})
	if err != nil {
		return fmt.Errorf("creating reconciler: %w", err)
	}

	s := scheduler.New(scheduler.Dependencies{Cycler: r, Logger: m.deps.Logger}, m.deps.Config.UpdateInterval)
	for _, fn := range m.deps.Hooks {
		s.OnCycle(fn)
	}

	m.current.Store(r)
	m.scheduler = s
	return s.Start(ctx)
}

// OnTargetUnavailable stops the running session, retracting its markers.
// When ctx ends before a running cycle finishes, the error is returned and the
// markers are retracted in the background once it does. Does nothing when no
// session is running.
func (m *Manager) OnTargetUnavailable(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scheduler == nil {
		return nil
	}
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	err := m.scheduler.Stop(ctx)
	m.scheduler = nil
	m.current.Store(nil)
	if err != nil {
		return fmt.Errorf("stopping scheduler: %w", err)
	}
	return nil
}

// Active returns whether a session is running
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduler != nil
}

// CurrentCycle returns the sequence number of the cycle running in the
// current session, zero when idle. It is the logging.CycleTracker of the
// process logger.
func (m *Manager) CurrentCycle() uint64 {
	r := m.current.Load()
	if r == nil {
		return 0
	}
	return r.CurrentCycle()
}
