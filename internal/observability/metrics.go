package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/backoffice/internal/telemetry"
)

var (
	metricsOnce sync.Once

	eventsAdmitted  metric.Int64Counter
	eventsReleased  metric.Int64Counter
	eventsExcluded  metric.Int64Counter
	reportsBuilt    metric.Int64Counter
	reportBuildTime metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("backoffice")
		eventsAdmitted, _ = meter.Int64Counter("backoffice_events_admitted_total",
			metric.WithDescription("Events accepted by the intake endpoint"),
			metric.WithUnit("{event}"))
		eventsReleased, _ = meter.Int64Counter("backoffice_events_released_total",
			metric.WithDescription("Events released in order and applied to the ledger"),
			metric.WithUnit("{event}"))
		eventsExcluded, _ = meter.Int64Counter("backoffice_events_excluded_total",
			metric.WithDescription("Trade events rejected by a validation rule"),
			metric.WithUnit("{event}"))
		reportsBuilt, _ = meter.Int64Counter("backoffice_reports_generated_total",
			metric.WithDescription("Point-in-time reports rendered"),
			metric.WithUnit("{report}"))
		reportBuildTime, _ = meter.Float64Histogram("report.build.duration",
			metric.WithDescription("Point-in-time report reconstruction duration"),
			metric.WithUnit("ms"))
	})
}

func envAttr() attribute.KeyValue {
	return attribute.String("environment", telemetry.Environment())
}

// RecordEventAdmitted counts one intake admission for the given event type.
func RecordEventAdmitted(ctx context.Context, eventType string) {
	initMetrics()
	if eventsAdmitted == nil {
		return
	}
	eventsAdmitted.Add(ctx, 1, metric.WithAttributes(envAttr(),
		attribute.String("event.type", eventType)))
}

// RecordEventReleased counts one in-order release for the given event type.
func RecordEventReleased(ctx context.Context, eventType string) {
	initMetrics()
	if eventsReleased == nil {
		return
	}
	eventsReleased.Add(ctx, 1, metric.WithAttributes(envAttr(),
		attribute.String("event.type", eventType)))
}

// RecordEventExcluded counts one trade rejection for the given reason.
func RecordEventExcluded(ctx context.Context, reason string) {
	initMetrics()
	if eventsExcluded == nil {
		return
	}
	eventsExcluded.Add(ctx, 1, metric.WithAttributes(envAttr(),
		attribute.String("reason", reason)))
}

// RecordReportBuilt counts one rendered report and its build duration.
func RecordReportBuilt(ctx context.Context, kind string, durationMillis float64) {
	initMetrics()
	if reportsBuilt != nil {
		reportsBuilt.Add(ctx, 1, metric.WithAttributes(envAttr(),
			attribute.String("report.kind", kind)))
	}
	if reportBuildTime != nil {
		reportBuildTime.Record(ctx, durationMillis, metric.WithAttributes(envAttr(),
			attribute.String("report.kind", kind)))
	}
}
