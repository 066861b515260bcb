// Package observe provides application-wide observability primitives for
// iopet: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all iopet metrics.
const meterName = "github.com/MrWong99/iopet"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// DispatchDuration tracks a whole dispatch, all attempts included. Use
	// with attribute.String("mode", ...).
	DispatchDuration metric.Float64Histogram

	// AttemptDuration tracks a single backend attempt. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("reason", ...)
	AttemptDuration metric.Float64Histogram

	// ExecuteDuration tracks confirmed code execution on the agent.
	ExecuteDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts backend and provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Turns counts finished turns by result mode.
	Turns metric.Int64Counter

	// Executions counts confirmed executions. Use with attribute:
	//   attribute.String("status", ...)
	Executions metric.Int64Counter

	// --- Gauges ---

	// ActiveWorkers tracks background units of work in flight (dispatch,
	// recording, execution).
	ActiveWorkers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...),
	//   attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds. Remote
// agents may take up to two minutes, local fallbacks well under a second.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.DispatchDuration, "iopet.dispatch.duration", "Latency of a dispatch across all attempts."},
		{&met.AttemptDuration, "iopet.dispatch.attempt.duration", "Latency of a single backend attempt."},
		{&met.ExecuteDuration, "iopet.execute.duration", "Latency of confirmed code execution."},
		{&met.STTDuration, "iopet.stt.duration", "Latency of speech-to-text transcription."},
		{&met.TTSDuration, "iopet.tts.duration", "Latency of text-to-speech synthesis."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.ProviderRequests, err = m.Int64Counter("iopet.provider.requests",
		metric.WithDescription("Total backend and provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("iopet.provider.errors",
		metric.WithDescription("Total backend and provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("iopet.turns",
		metric.WithDescription("Total finished turns by result mode."),
	); err != nil {
		return nil, err
	}
	if met.Executions, err = m.Int64Counter("iopet.executions",
		metric.WithDescription("Total confirmed executions by status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveWorkers, err = m.Int64UpDownCounter("iopet.active_workers",
		metric.WithDescription("Number of background workers in flight."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("iopet.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records an error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, mode string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordExecution records a confirmed execution and its latency.
func (m *Metrics) RecordExecution(ctx context.Context, status string, seconds float64) {
	m.Executions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.ExecuteDuration.Record(ctx, seconds)
}

// TrackWorker increments [Metrics.ActiveWorkers] and returns a function that
// decrements it again.
func (m *Metrics) TrackWorker(ctx context.Context, kind string) (done func()) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.ActiveWorkers.Add(ctx, 1, attrs)
	return func() { m.ActiveWorkers.Add(context.Background(), -1, attrs) }
}
