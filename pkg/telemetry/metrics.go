package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/symbiontlabs/leukocyte/pkg/policy"
)

var (
	metricsOnce         sync.Once
	metricsInitErr      error
	decisionCounter     metric.Int64Counter
	denialCounter       metric.Int64Counter
	inspectedBytes      metric.Int64Counter
	decisionLatencyHist metric.Float64Histogram
)

// Decision captures the fields recorded for each inspection outcome.
type Decision struct {
	Verdict    policy.Verdict
	Phase      string
	Generation int64
	BodyBytes  int
	Duration   time.Duration
}

// RecordDecision emits counters and histograms describing one verdict.
func RecordDecision(ctx context.Context, d Decision) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("decision.action", string(d.Verdict.Action)),
		attribute.String("decision.phase", d.Phase),
		attribute.Int64("ruleset.generation", d.Generation),
	}
	if d.Verdict.Action == policy.ActionDeny {
		attrs = append(attrs,
			attribute.String("decision.reason", string(d.Verdict.Reason)),
			attribute.String("decision.defense_type", d.Verdict.DefenseType),
		)
	}

	decisionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if d.Verdict.Action == policy.ActionDeny {
		denialCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	if d.BodyBytes > 0 {
		inspectedBytes.Add(ctx, int64(d.BodyBytes), metric.WithAttributes(attrs...))
	}

	if d.Duration > 0 {
		decisionLatencyHist.Record(ctx, float64(d.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("leukocyte.inspector")

		decisionCounter, metricsInitErr = meter.Int64Counter(
			"leukocyte.decisions_total",
			metric.WithDescription("Inspection decisions partitioned by action and phase"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		denialCounter, metricsInitErr = meter.Int64Counter(
			"leukocyte.denials_total",
			metric.WithDescription("Denied requests partitioned by reason and defense type"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		inspectedBytes, metricsInitErr = meter.Int64Counter(
			"leukocyte.body.inspected_bytes",
			metric.WithDescription("Request body bytes buffered for inspection"),
			metric.WithUnit("By"),
		)
		if metricsInitErr != nil {
			return
		}

		decisionLatencyHist, metricsInitErr = meter.Float64Histogram(
			"leukocyte.decision.duration_ms",
			metric.WithDescription("Observed inspection latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordDenialEvent attaches a coarse-grained denial event to the provided
// span without leaking request contents.
func RecordDenialEvent(span trace.Span, verdict policy.Verdict) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.AddEvent("leukocyte.denial", trace.WithAttributes(
		attribute.String("decision.reason", string(verdict.Reason)),
		attribute.String("decision.defense_type", verdict.DefenseType),
	))
}
