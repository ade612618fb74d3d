// Package observe provides application-wide observability primitives for
// Sonalign: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all Sonalign metrics.
const meterName = "github.com/avennor/sonalign"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// EvalDuration tracks end-to-end evaluation latency. Use with attribute:
	//   attribute.String("kind", "sentence"|"word"|"audio")
	EvalDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// PhonemizeDuration tracks grapheme-to-phoneme conversion latency.
	PhonemizeDuration metric.Float64Histogram

	// FeedbackDuration tracks LLM feedback generation latency.
	FeedbackDuration metric.Float64Histogram

	// --- Counters ---

	// EvalRequests counts evaluation requests. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	EvalRequests metric.Int64Counter

	// EvalErrors counts rejected or failed evaluations. Use with attribute:
	//   attribute.String("kind", ...)
	EvalErrors metric.Int64Counter

	// FeedbackFallbacks counts evaluations that fell back to template
	// feedback because the LLM enhancer failed or timed out.
	FeedbackFallbacks metric.Int64Counter

	// HistoryWrites counts persisted evaluation snapshots. Use with attribute:
	//   attribute.String("status", ...)
	HistoryWrites metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// everything from in-process alignment up to whisper inference on a long clip.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.EvalDuration, err = m.Float64Histogram("sonalign.eval.duration",
		metric.WithDescription("End-to-end latency of one pronunciation evaluation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("sonalign.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PhonemizeDuration, err = m.Float64Histogram("sonalign.phonemize.duration",
		metric.WithDescription("Latency of grapheme-to-phoneme conversion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FeedbackDuration, err = m.Float64Histogram("sonalign.feedback.duration",
		metric.WithDescription("Latency of LLM feedback generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.EvalRequests, err = m.Int64Counter("sonalign.eval.requests",
		metric.WithDescription("Total evaluation requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.EvalErrors, err = m.Int64Counter("sonalign.eval.errors",
		metric.WithDescription("Total rejected or failed evaluations by kind."),
	); err != nil {
		return nil, err
	}
	if met.FeedbackFallbacks, err = m.Int64Counter("sonalign.feedback.fallbacks",
		metric.WithDescription("Evaluations that kept template feedback after an enhancer failure."),
	); err != nil {
		return nil, err
	}
	if met.HistoryWrites, err = m.Int64Counter("sonalign.history.writes",
		metric.WithDescription("Persisted evaluation snapshots by status."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("sonalign.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordEvalRequest is a convenience method that records an evaluation
// request counter increment with the standard attribute set.
func (m *Metrics) RecordEvalRequest(ctx context.Context, kind, status string) {
	m.EvalRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordEvalError is a convenience method that records an evaluation error
// counter increment.
func (m *Metrics) RecordEvalError(ctx context.Context, kind string) {
	m.EvalErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordHistoryWrite is a convenience method that records a history write
// counter increment.
func (m *Metrics) RecordHistoryWrite(ctx context.Context, status string) {
	m.HistoryWrites.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
