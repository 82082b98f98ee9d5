// Package observe provides application-wide observability primitives for
// fieldvoice: OpenTelemetry metrics, tracing helpers, and HTTP middleware for
// the local UI server.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so the UI server can expose
// /metrics. A package-level default [Metrics] instance ([DefaultMetrics]) is
// provided for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all fieldvoice metrics.
const meterName = "github.com/MrWong99/fieldvoice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// BackendDuration tracks interview backend call latency. Attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	BackendDuration metric.Float64Histogram

	// BackendRequests counts backend calls by op and status.
	BackendRequests metric.Int64Counter

	// StateTransitions counts interview state changes. Attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// Recordings counts finished recordings by source (turn, session, video).
	Recordings metric.Int64Counter

	// RecordedSeconds sums recorded media duration by source.
	RecordedSeconds metric.Float64Counter

	// UploadFailures counts failed media uploads by source.
	UploadFailures metric.Int64Counter

	// TranscriptionFallbacks counts turns that fell back to text entry.
	// Attribute: attribute.String("reason", ...)
	TranscriptionFallbacks metric.Int64Counter

	// ActiveCaptures tracks open device handles by kind (microphone, camera).
	ActiveCaptures metric.Int64UpDownCounter

	// HTTPRequestDuration tracks UI server request latency.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// round trips that include speech recognition and synthesis.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.BackendDuration, err = m.Float64Histogram("fieldvoice.backend.duration",
		metric.WithDescription("Latency of interview backend calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackendRequests, err = m.Int64Counter("fieldvoice.backend.requests",
		metric.WithDescription("Total backend calls by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("fieldvoice.interview.transitions",
		metric.WithDescription("Interview state transitions by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.Recordings, err = m.Int64Counter("fieldvoice.recordings",
		metric.WithDescription("Finished recordings by source."),
	); err != nil {
		return nil, err
	}
	if met.RecordedSeconds, err = m.Float64Counter("fieldvoice.recorded.duration",
		metric.WithDescription("Total recorded media duration by source."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.UploadFailures, err = m.Int64Counter("fieldvoice.upload.failures",
		metric.WithDescription("Failed media uploads by source."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionFallbacks, err = m.Int64Counter("fieldvoice.transcription.fallbacks",
		metric.WithDescription("Turns that fell back to text entry, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCaptures, err = m.Int64UpDownCounter("fieldvoice.active_captures",
		metric.WithDescription("Open capture device handles by kind."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("fieldvoice.http.request.duration",
		metric.WithDescription("UI server request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordBackendCall records one backend round trip.
func (m *Metrics) RecordBackendCall(ctx context.Context, op, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	)
	m.BackendDuration.Record(ctx, seconds, attrs)
	m.BackendRequests.Add(ctx, 1, attrs)
}

// RecordTransition records an interview state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordRecording records a finished recording of the given source.
func (m *Metrics) RecordRecording(ctx context.Context, source string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("source", source))
	m.Recordings.Add(ctx, 1, attrs)
	m.RecordedSeconds.Add(ctx, seconds, attrs)
}

// RecordUploadFailure records a failed upload of the given source.
func (m *Metrics) RecordUploadFailure(ctx context.Context, source string) {
	m.UploadFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordFallback records a turn that fell back to text entry.
func (m *Metrics) RecordFallback(ctx context.Context, reason string) {
	m.TranscriptionFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// CaptureOpened and CaptureClosed track device handles of the given kind.
func (m *Metrics) CaptureOpened(ctx context.Context, kind string) {
	m.ActiveCaptures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) CaptureClosed(ctx context.Context, kind string) {
	m.ActiveCaptures.Add(ctx, -1, metric.WithAttributes(attribute.String("kind", kind)))
}
