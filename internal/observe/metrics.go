// Package observe provides the observability primitives shared by the
// chatterbox engine and its control surfaces: OpenTelemetry metrics, tracing,
// trace-aware logging and HTTP middleware.
//
// Instruments are created through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge so the API can serve /metrics. Code
// that does not receive a [Metrics] explicitly uses [DefaultMetrics]; tests
// build their own with [NewMetrics] over a ManualReader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/tacogerbil/chatterboxPro"

// Metrics holds every instrument the engine records to.
type Metrics struct {
	// --- Latency ---

	// SynthesisDuration tracks one Synthesize call per attempt.
	SynthesisDuration metric.Float64Histogram

	// TranscriptionDuration tracks one Transcribe call per validated take.
	TranscriptionDuration metric.Float64Histogram

	// AssemblyDuration tracks a whole assembly run.
	AssemblyDuration metric.Float64Histogram

	// --- Lifecycle ---

	// Transitions counts chunk status changes. Attributes: from, to.
	Transitions metric.Int64Counter

	// Verdicts counts validation outcomes. Attribute: verdict.
	Verdicts metric.Int64Counter

	// GateRejections counts takes refused before transcription.
	// Attribute: outcome.
	GateRejections metric.Int64Counter

	// Retries, Splits and PermanentFailures count auto-fix decisions.
	Retries           metric.Int64Counter
	Splits            metric.Int64Counter
	PermanentFailures metric.Int64Counter

	// ActiveJobs is the number of attempts currently holding a device.
	// Attribute: device.
	ActiveJobs metric.Int64UpDownCounter

	// --- Ports ---

	// ProviderRequests counts port calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed port calls. Attributes: provider, kind,
	// error (a fault.Classify name).
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes.
	// Attributes: breaker, to.
	BreakerTransitions metric.Int64Counter

	// --- HTTP ---

	// HTTPRequestDuration tracks API request time. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets covers fast transcriptions up to multi-minute chapter
// assemblies, in seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	hist := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}
	if met.SynthesisDuration, err = hist("chatterbox.synthesis.duration",
		"Latency of one synthesis attempt."); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = hist("chatterbox.transcription.duration",
		"Latency of transcribing one take."); err != nil {
		return nil, err
	}
	if met.AssemblyDuration, err = hist("chatterbox.assembly.duration",
		"Latency of an assembly run."); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Transitions, "chatterbox.chunk.transitions", "Chunk status transitions by from and to status."},
		{&met.Verdicts, "chatterbox.validation.verdicts", "Validation verdicts by kind."},
		{&met.GateRejections, "chatterbox.gate.rejections", "Takes rejected by the signal quality gate by outcome."},
		{&met.Retries, "chatterbox.autofix.retries", "Chunks re-queued with a new seed."},
		{&met.Splits, "chatterbox.autofix.splits", "Chunks split in place by auto-fix."},
		{&met.PermanentFailures, "chatterbox.autofix.permanent_failures", "Chunks that exhausted their retry budget."},
		{&met.ProviderRequests, "chatterbox.provider.requests", "Port calls by provider, kind and status."},
		{&met.ProviderErrors, "chatterbox.provider.errors", "Failed port calls by provider, kind and error class."},
		{&met.BreakerTransitions, "chatterbox.breaker.transitions", "Circuit breaker state changes."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveJobs, err = m.Int64UpDownCounter("chatterbox.scheduler.active_jobs",
		metric.WithDescription("Attempts currently holding a device."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("chatterbox.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics], created on first call
// from [otel.GetMeterProvider]. It panics if instrument creation fails.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one port call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one failed port call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind, class string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("error", class),
		),
	)
}

// RecordTransition counts one chunk status change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.Transitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordVerdict counts one validation outcome.
func (m *Metrics) RecordVerdict(ctx context.Context, verdict string) {
	m.Verdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
}

// RecordGateRejection counts one take refused by the signal gate.
func (m *Metrics) RecordGateRejection(ctx context.Context, outcome string) {
	m.GateRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}
