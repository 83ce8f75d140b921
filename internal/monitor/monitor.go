package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/OCAP2/markersync/internal/logging"
	"github.com/OCAP2/markersync/internal/reconcile"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// DefaultInterval is how often the status file is rewritten
const DefaultInterval = time.Second

// Collector exports the current metric state. *otel.Provider satisfies it.
type Collector interface {
	Collect(ctx context.Context) (metricdata.ResourceMetrics, error)
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	StatusFile string
	Logger     logging.Logger
	Metrics    Collector // optional
	Interval   time.Duration
}

// CycleStatus is the last cycle as written to the status file
type CycleStatus struct {
	Cycle      uint64         `json:"cycle"`
	Started    time.Time      `json:"started"`
	DurationMs float64        `json:"durationMs"`
	Markers    map[string]int `json:"markers"`
	Published  int            `json:"published"`
	Removed    int            `json:"removed"`
	Failures   int            `json:"failures"`
	Skipped    bool           `json:"skipped"`
}

// Status is the document written to the status file
type Status struct {
	Time      time.Time          `json:"time"`
	Cycles    int                `json:"cycles"`
	LastCycle *CycleStatus       `json:"lastCycle,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}

	last   *CycleStatus
	cycles int
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Record keeps res as the last completed cycle. Meant as a scheduler hook.
func (s *Service) Record(res reconcile.Result) {
	status := &CycleStatus{
		Cycle:      res.Cycle,
		Started:    res.Started,
		DurationMs: float64(res.Duration.Microseconds()) / 1000,
		Markers:    res.Markers,
		Published:  res.Published,
		Removed:    res.Removed,
		Failures:   res.Failures,
		Skipped:    res.Skipped,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = status
	s.cycles++
}

// GetStatus returns the current status
func (s *Service) GetStatus(ctx context.Context) Status {
	s.mu.RLock()
	status := Status{
		Time:      time.Now().UTC(),
		Cycles:    s.cycles,
		LastCycle: s.last,
	}
	s.mu.RUnlock()

	if s.deps.Metrics != nil {
		rm, err := s.deps.Metrics.Collect(ctx)
		if err != nil {
			s.deps.Logger.Debug("Collecting metrics failed", "error", err)
		} else {
			status.Metrics = summarize(rm)
		}
	}
	return status
}

// summarize flattens sums and histogram counts into name -> value
func summarize(rm metricdata.ResourceMetrics) map[string]float64 {
	out := make(map[string]float64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += float64(dp.Value)
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out[m.Name+".count"] += float64(dp.Count)
					out[m.Name+".sum"] += dp.Sum
				}
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// WriteStatus writes the current status to the status file
func (s *Service) WriteStatus(ctx context.Context) error {
	data, err := json.MarshalIndent(s.GetStatus(ctx), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	tmp := s.deps.StatusFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if err := os.Rename(tmp, s.deps.StatusFile); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	if s.deps.StatusFile == "" {
		return fmt.Errorf("no status file configured")
	}
	if err := os.MkdirAll(filepath.Dir(s.deps.StatusFile), 0755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)

		s.deps.Logger.Debug("Starting status monitor goroutine", "file", s.deps.StatusFile)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				if err := s.WriteStatus(context.Background()); err != nil {
					s.deps.Logger.Error("Error writing status file", "error", err)
				}
				return
			case <-ticker.C:
				if err := s.WriteStatus(context.Background()); err != nil {
					s.deps.Logger.Error("Error writing status file", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor after a final status write
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done
}
