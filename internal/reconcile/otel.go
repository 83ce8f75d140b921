package reconcile

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/markersync/internal/reconcile"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// gateway operations reported in the failures counter
const (
	opPublish = "publish"
	opRemove  = "remove"
	opList    = "list"
)

type metrics struct {
	cycles   metric.Int64Counter
	skipped  metric.Int64Counter
	failures metric.Int64Counter
	markers  metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(m metric.Meter) (*metrics, error) {
	var (
		out metrics
		err error
	)

	out.cycles, err = m.Int64Counter(
		"reconcile.cycles",
		metric.WithDescription("Completed reconciliation cycles"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cycles counter: %w", err)
	}

	out.skipped, err = m.Int64Counter(
		"reconcile.cycles.skipped",
		metric.WithDescription("Cycles dropped because another cycle was running"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating skipped counter: %w", err)
	}

	out.failures, err = m.Int64Counter(
		"reconcile.gateway.failures",
		metric.WithDescription("Failed marker repository calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failures counter: %w", err)
	}

	out.markers, err = m.Int64Counter(
		"reconcile.markers",
		metric.WithDescription("Markers published"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating markers counter: %w", err)
	}

	out.duration, err = m.Float64Histogram(
		"reconcile.duration",
		metric.WithDescription("Duration of a reconciliation cycle"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &out, nil
}

func (m *metrics) failure(ctx context.Context, op string) {
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *metrics) record(ctx context.Context, res Result) {
	if res.Skipped {
		return
	}
	m.cycles.Add(ctx, 1)
	m.duration.Record(ctx, res.Duration.Seconds())
	for category, n := range res.Markers {
		m.markers.Add(ctx, int64(n), metric.WithAttributes(attribute.String("category", category)))
	}
}
