package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type middlewareEnv struct {
	metrics *Metrics
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
	router  chi.Router
}

// newMiddlewareEnv returns a chi router behind [Middleware] with in-memory
// metric and span sinks. The global tracer provider is swapped for the test.
func newMiddlewareEnv(t *testing.T) *middlewareEnv {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	r := chi.NewRouter()
	r.Use(Middleware(m))
	return &middlewareEnv{metrics: m, reader: reader, spans: exp, router: r}
}

func (e *middlewareEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *middlewareEnv) durations(t *testing.T) metricdata.Histogram[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := e.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "chatterbox.http.request.duration")
	if met == nil {
		t.Fatal("chatterbox.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("request duration is %T, want a histogram", met.Data)
	}
	return hist
}

func TestMiddleware_CorrelationID(t *testing.T) {
	const incoming = "4bf92f3577b34da6a3ce929d0e0e4736"

	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{name: "generated"},
		{name: "from traceparent", traceparent: "00-" + incoming + "-00f067aa0ba902b7-01", want: incoming},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newMiddlewareEnv(t)
			var seen string
			env.router.Get("/v1/status", func(w http.ResponseWriter, r *http.Request) {
				seen = CorrelationID(r.Context())
			})

			req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := env.serve(req)

			if len(seen) != 32 {
				t.Fatalf("correlation id %q is not a trace id", seen)
			}
			if tt.want != "" && seen != tt.want {
				t.Errorf("correlation id = %q, want %q", seen, tt.want)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != seen {
				t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
			}
		})
	}
}

func TestMiddleware_SpanCarriesRouteAndStatus(t *testing.T) {
	env := newMiddlewareEnv(t)
	env.router.Post("/v1/chunks/{id}/requeue", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	rec := env.serve(httptest.NewRequest(http.MethodPost, "/v1/chunks/c-7/requeue", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	spans := env.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if want := "HTTP POST /v1/chunks/c-7/requeue"; spans[0].Name != want {
		t.Errorf("span name = %q, want %q", spans[0].Name, want)
	}
	attrs := map[string]string{}
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)] = a.Value.Emit()
	}
	if attrs["http.response.status_code"] != "409" {
		t.Errorf("status attribute = %q, want 409", attrs["http.response.status_code"])
	}
	if attrs["http.route"] != "/v1/chunks/{id}/requeue" {
		t.Errorf("route attribute = %q", attrs["http.route"])
	}
}

func TestMiddleware_DurationKeyedByRoutePattern(t *testing.T) {
	env := newMiddlewareEnv(t)
	env.router.Get("/v1/chunks/{id}", func(http.ResponseWriter, *http.Request) {})
	env.router.Get("/v1/playlist", func(http.ResponseWriter, *http.Request) {})

	for _, path := range []string{"/v1/chunks/a1", "/v1/chunks/b2", "/v1/chunks/c3", "/v1/playlist"} {
		env.serve(httptest.NewRequest(http.MethodGet, path, nil))
	}

	counts := map[string]uint64{}
	for _, dp := range env.durations(t).DataPoints {
		v, _ := dp.Attributes.Value("path")
		counts[v.AsString()] = dp.Count
	}
	want := map[string]uint64{"/v1/chunks/{id}": 3, "/v1/playlist": 1}
	for path, n := range want {
		if counts[path] != n {
			t.Errorf("path %s: count = %d, want %d (all: %v)", path, counts[path], n, counts)
		}
	}
	if len(counts) != len(want) {
		t.Errorf("unexpected paths recorded: %v", counts)
	}
}

func TestMiddleware_RawPathOutsideRouter(t *testing.T) {
	env := newMiddlewareEnv(t)
	h := Middleware(env.metrics)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plain", nil))

	hist := env.durations(t)
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}
	if v, _ := hist.DataPoints[0].Attributes.Value("path"); v.AsString() != "/plain" {
		t.Errorf("path = %q, want /plain", v.AsString())
	}
}

func TestMiddleware_AllowsWebsocketUpgrade(t *testing.T) {
	env := newMiddlewareEnv(t)
	env.router.Get("/v1/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.Close(websocket.StatusNormalClosure, "bye")
	})
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, srv.URL+"/v1/events", nil)
	if err != nil {
		t.Fatalf("Dial through middleware: %v", err)
	}
	defer conn.CloseNow()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("status = %d, want 101", resp.StatusCode)
	}
}
