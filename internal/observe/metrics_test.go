package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"chatterbox.synthesis.duration", m.SynthesisDuration},
		{"chatterbox.transcription.duration", m.TranscriptionDuration},
		{"chatterbox.assembly.duration", m.AssemblyDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 4.56)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

// sumFor returns the value of the data point of counter name whose attribute
// key equals value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestProviderRequestsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "coqui", "tts", "ok")
	m.RecordProviderRequest(ctx, "coqui", "tts", "ok")
	m.RecordProviderRequest(ctx, "coqui", "tts", "error")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "chatterbox.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumFor(t, rm, "chatterbox.provider.requests", "status", "error"); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
}

func TestProviderErrorsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordProviderError(context.Background(), "whisper", "stt", "port_unavailable")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "chatterbox.provider.errors", "error", "port_unavailable"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestLifecycleCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransition(ctx, "pending", "generating")
	m.RecordTransition(ctx, "pending", "generating")
	m.RecordTransition(ctx, "generating", "awaiting_validation")
	m.RecordVerdict(ctx, "passed")
	m.RecordVerdict(ctx, "failed_word_count")
	m.RecordGateRejection(ctx, "low_energy")
	m.RecordBreakerTransition(ctx, "coqui", "open")
	m.Retries.Add(ctx, 3)
	m.Splits.Add(ctx, 1)
	m.PermanentFailures.Add(ctx, 2)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "chatterbox.chunk.transitions", "to", "generating"); got != 2 {
		t.Errorf("transitions to generating = %d, want 2", got)
	}
	if got := sumFor(t, rm, "chatterbox.validation.verdicts", "verdict", "passed"); got != 1 {
		t.Errorf("passed verdicts = %d, want 1", got)
	}
	if got := sumFor(t, rm, "chatterbox.gate.rejections", "outcome", "low_energy"); got != 1 {
		t.Errorf("gate rejections = %d, want 1", got)
	}
	if got := sumFor(t, rm, "chatterbox.breaker.transitions", "breaker", "coqui"); got != 1 {
		t.Errorf("breaker transitions = %d, want 1", got)
	}

	plain := []struct {
		name string
		want int64
	}{
		{"chatterbox.autofix.retries", 3},
		{"chatterbox.autofix.splits", 1},
		{"chatterbox.autofix.permanent_failures", 2},
	}
	for _, tc := range plain {
		met := findMetric(rm, tc.name)
		if met == nil {
			t.Fatalf("metric %q not found", tc.name)
		}
		sum := met.Data.(metricdata.Sum[int64])
		if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != tc.want {
			t.Errorf("%s = %+v, want %d", tc.name, sum.DataPoints, tc.want)
		}
	}
}

func TestActiveJobsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	gpu := metric.WithAttributes(attribute.String("device", "cuda:0"))
	m.ActiveJobs.Add(ctx, 1, gpu)
	m.ActiveJobs.Add(ctx, 1, gpu)
	m.ActiveJobs.Add(ctx, -1, gpu)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "chatterbox.scheduler.active_jobs", "device", "cuda:0"); got != 1 {
		t.Errorf("active jobs = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "chatterbox.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}

func TestInitProvider_ExportsToRegistry(t *testing.T) {
	origMP := otel.GetMeterProvider()
	origTP := otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	reg := prometheus.NewRegistry()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{Registerer: reg, ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordVerdict(context.Background(), "passed")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var verdicts, service bool
	for _, f := range families {
		if strings.Contains(f.GetName(), "validation") && strings.Contains(f.GetName(), "verdicts") {
			verdicts = true
		}
		if f.GetName() == "target_info" {
			for _, l := range f.GetMetric()[0].GetLabel() {
				if l.GetName() == "service_name" && l.GetValue() == "chatterbox" {
					service = true
				}
			}
		}
	}
	if !verdicts {
		t.Error("verdict counter not exported to the registry")
	}
	if !service {
		t.Error("target_info does not carry service_name=chatterbox")
	}
}
