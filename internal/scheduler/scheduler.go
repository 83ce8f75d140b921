// Package scheduler runs reconciliation cycles on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/OCAP2/markersync/internal/logging"
	"github.com/OCAP2/markersync/internal/reconcile"
)

// DefaultInterval is used when no positive interval is given
const DefaultInterval = 300 * time.Second

// Cycler runs and retracts reconciliation cycles. *reconcile.Reconciler satisfies it.
type Cycler interface {
	Run(ctx context.Context) (reconcile.Result, error)
	Retract(ctx context.Context) reconcile.Result
}

var _ Cycler = (*reconcile.Reconciler)(nil)

// Dependencies holds all dependencies for the scheduler
type Dependencies struct {
	Cycler Cycler
	Logger logging.Logger
}

// Scheduler owns the background goroutine that triggers cycles
type Scheduler struct {
	deps     Dependencies
	interval time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
	hooks    []func(reconcile.Result)
}

// New creates a new scheduler
func New(deps Dependencies, interval time.Duration) *Scheduler {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		deps:     deps,
		interval: interval,
	}
}

// OnCycle registers fn to be called with the result of every completed cycle.
// Hooks registered after Start take effect on the next Start.
func (s *Scheduler) OnCycle(fn func(reconcile.Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// IsRunning returns whether the scheduler is started
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start runs one cycle right away, then one per interval. Calling Start on a
// running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	hooks := slices.Clone(s.hooks)
	s.mu.Unlock()

	// cycles outlive the caller's context; Stop ends them
	loopCtx := context.WithoutCancel(ctx)

	s.deps.Logger.Info("Starting marker scheduler", "interval", s.interval)
	s.tick(loopCtx, hooks)

	go s.loop(loopCtx, stop, done, hooks)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}, hooks []func(reconcile.Result)) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			// runs after the last cycle, even when Stop gave up waiting
			res := s.deps.Cycler.Retract(ctx)
			s.deps.Logger.Info("Marker scheduler stopped", "removed", res.Removed, "failures", res.Failures)
			return
		case <-ticker.C:
			s.tick(ctx, hooks)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, hooks []func(reconcile.Result)) {
	res, err := s.deps.Cycler.Run(ctx)
	if errors.Is(err, reconcile.ErrCycleInProgress) {
		s.deps.Logger.Debug("Cycle still running, tick skipped")
		return
	}
	if err != nil {
		s.deps.Logger.Warn("Reconciliation cycle failed", "error", err)
		return
	}
	for _, fn := range hooks {
		fn(res)
	}
}

// Stop cancels pending ticks and waits until an in-flight cycle has finished
// and every published marker set has been removed. If ctx ends first, Stop
// returns its error and the removal still happens once the cycle completes.
// Calling Stop on a stopped scheduler does nothing.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.deps.Logger.Warn("Marker scheduler stop timed out, retracting after the running cycle", "error", ctx.Err())
		return ctx.Err()
	}
}

// Done is closed once the scheduler goroutine has retracted its markers and
// exited. It is nil before the first Start.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
