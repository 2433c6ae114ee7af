// Package metrics translates the probe event stream into OpenTelemetry
// metrics.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hazz-dev/pingmon/internal/event"
	"github.com/hazz-dev/pingmon/internal/registry"
)

// MetricsHandler records counters and histograms for probe results,
// transitions, overruns and internal errors. It implements event.Reporter.
type MetricsHandler struct {
	probeResults   metric.Int64Counter
	probeLatency   metric.Float64Histogram
	transitions    metric.Int64Counter
	overruns       metric.Int64Counter
	internalErrors metric.Int64Counter
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create its instruments.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	results, err := meter.Int64Counter("pingmon.probe.results",
		metric.WithDescription("Number of completed probes"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram("pingmon.probe.latency",
		metric.WithDescription("Round-trip latency of successful probes in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter("pingmon.transitions",
		metric.WithDescription("Number of liveness state changes"),
	)
	if err != nil {
		return nil, err
	}

	overruns, err := meter.Int64Counter("pingmon.probe.overruns",
		metric.WithDescription("Number of ticks skipped because the previous probe was pending"),
	)
	if err != nil {
		return nil, err
	}

	internalErrors, err := meter.Int64Counter("pingmon.probe.internal_errors",
		metric.WithDescription("Number of probes that failed inside the probing mechanism"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		probeResults:   results,
		probeLatency:   latency,
		transitions:    transitions,
		overruns:       overruns,
		internalErrors: internalErrors,
	}, nil
}

// Report implements event.Reporter.
func (h *MetricsHandler) Report(e event.Event) {
	ctx := context.Background()
	target := attribute.String("target", e.TargetID)

	switch e.Kind {
	case event.KindProbeResult:
		if e.Result == nil {
			return
		}
		h.probeResults.Add(ctx, 1, metric.WithAttributes(
			target,
			attribute.Bool("success", e.Result.Success),
			attribute.String("reason", string(e.Result.Reason)),
		))
		if e.Result.Success {
			h.probeLatency.Record(ctx, e.Result.Latency.Seconds(), metric.WithAttributes(target))
		}
	case event.KindTransition:
		if e.Transition == nil {
			return
		}
		h.transitions.Add(ctx, 1, metric.WithAttributes(
			target,
			attribute.String("from", string(e.Transition.From)),
			attribute.String("to", string(e.Transition.To)),
		))
	case event.KindOverrun:
		h.overruns.Add(ctx, 1, metric.WithAttributes(target))
	case event.KindInternalError:
		h.internalErrors.Add(ctx, 1, metric.WithAttributes(target))
	}
}

// ObserveTargets registers a gauge reporting how many targets are in each
// state, read from snapshot at collection time.
func ObserveTargets(meter metric.Meter, snapshot func() []registry.Record) error {
	_, err := meter.Int64ObservableGauge("pingmon.targets",
		metric.WithDescription("Number of registered targets by liveness state"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			counts := map[registry.State]int64{
				registry.StateUnknown: 0,
				registry.StateUp:      0,
				registry.StateDown:    0,
			}
			for _, rec := range snapshot() {
				counts[rec.State]++
			}
			for state, n := range counts {
				o.Observe(n, metric.WithAttributes(attribute.String("state", string(state))))
			}
			return nil
		}),
	)
	return err
}
