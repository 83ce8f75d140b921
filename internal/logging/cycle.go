package logging

import (
	"context"
	"log/slog"
)

// CycleKey is the attribute holding the running reconciliation cycle
const CycleKey = "cycle"

// CycleTracker reports the reconciliation cycle currently running, zero when idle
type CycleTracker interface {
	CurrentCycle() uint64
}

// CycleFunc adapts a plain function to CycleTracker
type CycleFunc func() uint64

// CurrentCycle calls f
func (f CycleFunc) CurrentCycle() uint64 { return f() }

// cycleHandler stamps records emitted while a cycle runs with its number
type cycleHandler struct {
	slog.Handler
	tracker CycleTracker
}

func (h cycleHandler) Handle(ctx context.Context, r slog.Record) error {
	if n := h.tracker.CurrentCycle(); n != 0 {
		r.AddAttrs(slog.Uint64(CycleKey, n))
	}
	return h.Handler.Handle(ctx, r)
}

func (h cycleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return cycleHandler{Handler: h.Handler.WithAttrs(attrs), tracker: h.tracker}
}

func (h cycleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return cycleHandler{Handler: h.Handler.WithGroup(name), tracker: h.tracker}
}
