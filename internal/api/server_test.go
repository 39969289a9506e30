package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/tacogerbil/chatterboxPro/internal/app"
	"github.com/tacogerbil/chatterboxPro/internal/audit"
	"github.com/tacogerbil/chatterboxPro/internal/config"
	"github.com/tacogerbil/chatterboxPro/internal/observe"
	"github.com/tacogerbil/chatterboxPro/internal/playlist"
	"github.com/tacogerbil/chatterboxPro/internal/scheduler"
	"github.com/tacogerbil/chatterboxPro/pkg/audio"
	sttmock "github.com/tacogerbil/chatterboxPro/pkg/provider/stt/mock"
	ttsmock "github.com/tacogerbil/chatterboxPro/pkg/provider/tts/mock"
)

func tone() audio.Buffer {
	f := audio.Format{SampleRate: 24000, Channels: 1}
	s := make([]int16, f.SampleRate)
	for i := range s {
		s[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(f.SampleRate)))
	}
	return audio.FromSamples(s, f)
}

type fixture struct {
	app     *app.App
	journal *audit.Memory
	srv     *httptest.Server
	ids     []string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader("engine:\n  sample_rate: 24000\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	cfg.Scheduler.DrainTimeout = time.Second
	cfg.Assembly.OutputDir = t.TempDir()

	hub := scheduler.NewHub()
	pl, err := playlist.New([]playlist.Item{
		playlist.ChunkItem("Hello world."),
		playlist.PauseItem(500 * time.Millisecond),
		playlist.ChunkItem("Goodbye moon."),
	}, playlist.WithOnChange(app.PublishChanges(hub)))
	if err != nil {
		t.Fatalf("playlist.New: %v", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	providers := &app.Providers{
		Devices: []scheduler.Device{{ID: "cpu", Provider: "mock", TTS: &ttsmock.Provider{Takes: []audio.Buffer{tone()}}}},
		STT:     &sttmock.Provider{Texts: []string{"two words"}},
		STTName: "mock",
	}
	journal := audit.NewMemory()
	a, err := app.New(context.Background(), cfg, providers, pl,
		app.WithAuditLog(journal), app.WithMetrics(m), app.WithHub(hub))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	srv := httptest.NewServer(New(a, opts...).Router())
	t.Cleanup(srv.Close)

	var ids []string
	for _, c := range a.Playlist().Snapshot().Chunks() {
		ids = append(ids, c.ID)
	}
	return &fixture{app: a, journal: journal, srv: srv, ids: ids}
}

func (f *fixture) do(t *testing.T, method, path, body string, out any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, data, err)
		}
	}
	return resp
}

func (f *fixture) runToEnd(t *testing.T) {
	t.Helper()
	if resp := f.do(t, http.MethodPost, "/v1/run", `{"actor":"tester"}`, nil); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /v1/run: status %d, want 202", resp.StatusCode)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	info, err := f.app.Runs().Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	// The request context ends with the response; the run must not.
	if info.Summary == nil || info.Summary.Stopped || !info.Summary.Converged {
		t.Fatalf("run ended early: %+v", info.Summary)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, WithVersion("1.2.3"))

	var got struct {
		Version   string         `json:"version"`
		Chunks    int            `json:"chunks"`
		Stats     map[string]int `json:"stats"`
		Converged bool           `json:"converged"`
		Run       app.RunInfo    `json:"run"`
	}
	resp := f.do(t, http.MethodGet, "/v1/status", "", &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", got.Version)
	}
	if got.Chunks != 2 || got.Stats["pending"] != 2 {
		t.Errorf("chunks = %d stats = %v, want 2 pending", got.Chunks, got.Stats)
	}
	if got.Converged || got.Run.Active {
		t.Errorf("converged = %v active = %v, want both false", got.Converged, got.Run.Active)
	}
}

func TestPlaylist(t *testing.T) {
	f := newFixture(t)

	var got struct {
		Entries []struct {
			Kind    string `json:"kind"`
			ID      string `json:"id"`
			PauseMS int64  `json:"pause_ms"`
			Chunk   *struct {
				Text   string `json:"text"`
				Status string `json:"status"`
			} `json:"chunk"`
		} `json:"entries"`
		Chapters []struct {
			Number int `json:"number"`
		} `json:"chapters"`
	}
	f.do(t, http.MethodGet, "/v1/playlist", "", &got)

	if len(got.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(got.Entries))
	}
	wantKinds := []string{"chunk", "pause", "chunk"}
	for i, e := range got.Entries {
		if e.Kind != wantKinds[i] {
			t.Errorf("entry %d kind = %q, want %q", i, e.Kind, wantKinds[i])
		}
	}
	if c := got.Entries[0].Chunk; c == nil || c.Text != "Hello world." || c.Status != "pending" {
		t.Errorf("first chunk = %+v", c)
	}
	if got.Entries[1].PauseMS != 500 {
		t.Errorf("pause = %dms, want 500", got.Entries[1].PauseMS)
	}
	if len(got.Chapters) != 1 {
		t.Errorf("chapters = %d, want 1", len(got.Chapters))
	}
}

func TestGetChunk(t *testing.T) {
	f := newFixture(t)

	var got struct {
		ID       string `json:"id"`
		Position int    `json:"position"`
	}
	if resp := f.do(t, http.MethodGet, "/v1/chunks/"+f.ids[1], "", &got); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got.ID != f.ids[1] || got.Position != 2 {
		t.Errorf("got %+v, want id %s at position 2", got, f.ids[1])
	}

	var e errorResponse
	if resp := f.do(t, http.MethodGet, "/v1/chunks/nope", "", &e); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", resp.StatusCode)
	}
	if e.Code != "chunk_not_found" {
		t.Errorf("code = %q, want chunk_not_found", e.Code)
	}
}

func TestEditText(t *testing.T) {
	f := newFixture(t)
	id := f.ids[0]

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
	}{
		{name: "ok", path: "/v1/chunks/" + id + "/text", body: `{"text":"Hello there.","actor":"ed"}`, wantCode: http.StatusOK},
		{name: "empty text", path: "/v1/chunks/" + id + "/text", body: `{"text":"  "}`, wantCode: http.StatusBadRequest},
		{name: "no body", path: "/v1/chunks/" + id + "/text", wantCode: http.StatusBadRequest},
		{name: "unknown field", path: "/v1/chunks/" + id + "/text", body: `{"txt":"x"}`, wantCode: http.StatusBadRequest},
		{name: "unknown id", path: "/v1/chunks/nope/text", body: `{"text":"x"}`, wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := f.do(t, http.MethodPut, tt.path, tt.body, nil); resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
		})
	}

	if c, ok := f.app.Playlist().Snapshot().Chunk(id); !ok || c.Text != "Hello there." {
		t.Errorf("chunk text = %q, want %q", c.Text, "Hello there.")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		var history []audit.Event
		f.do(t, http.MethodGet, "/v1/chunks/"+id+"/history", "", &history)
		if len(history) > 0 {
			if history[0].Kind != audit.KindEdit || history[0].Actor != "ed" {
				t.Errorf("history[0] = %+v, want an edit by ed", history[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("edit never reached the journal")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRequeuePendingIsConflict(t *testing.T) {
	f := newFixture(t)

	var e errorResponse
	resp := f.do(t, http.MethodPost, "/v1/chunks/"+f.ids[0]+"/requeue", "", &e)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
	if e.Code != "playlist_integrity" {
		t.Errorf("code = %q, want playlist_integrity", e.Code)
	}
}

func TestRunThenAssemble(t *testing.T) {
	f := newFixture(t)
	f.runToEnd(t)

	var status struct {
		Converged bool        `json:"converged"`
		Run       app.RunInfo `json:"run"`
	}
	f.do(t, http.MethodGet, "/v1/status", "", &status)
	if !status.Converged || status.Run.StartedBy != "tester" {
		t.Errorf("status = %+v, want converged run by tester", status)
	}

	var res assembleResponse
	resp := f.do(t, http.MethodPost, "/v1/assemble", `{"export":true}`, &res)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assemble: status = %d, want 200", resp.StatusCode)
	}
	if res.DurationMS != 2500 {
		t.Errorf("duration = %dms, want 2500", res.DurationMS)
	}
	if len(res.Parts) != 1 || res.Parts[0].Chunks != 2 || res.Parts[0].Pauses != 1 {
		t.Errorf("parts = %+v", res.Parts)
	}
	if len(res.Paths) != 1 {
		t.Errorf("paths = %v, want one file", res.Paths)
	}

	if resp := f.do(t, http.MethodPost, "/v1/chunks/"+f.ids[0]+"/requeue", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("requeue passed chunk: status = %d, want 200", resp.StatusCode)
	}
}

func TestAssembleOverride(t *testing.T) {
	f := newFixture(t)

	var e errorResponse
	if resp := f.do(t, http.MethodPost, "/v1/assemble", "", &e); resp.StatusCode != http.StatusConflict {
		t.Errorf("no override: status = %d, want 409", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, "/v1/assemble", `{"override":{"actor":"ops"}}`, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("override without reason: status = %d, want 400", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, "/v1/assemble", `{"chapter":9}`, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown chapter: status = %d, want 404", resp.StatusCode)
	}

	var res assembleResponse
	resp := f.do(t, http.MethodPost, "/v1/assemble", `{"override":{"actor":"ops","reason":"proof listen"}}`, &res)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("override: status = %d, want 200", resp.StatusCode)
	}
	if len(res.Parts) != 1 || len(res.Parts[0].Omitted) != 2 {
		t.Errorf("parts = %+v, want both chunks omitted", res.Parts)
	}
	if res.DurationMS != 500 {
		t.Errorf("duration = %dms, want the 500ms pause", res.DurationMS)
	}

	var journal []audit.Event
	f.do(t, http.MethodGet, "/v1/journal?limit=10", "", &journal)
	found := false
	for _, ev := range journal {
		if ev.Kind == audit.KindOverride && ev.Actor == "ops" && ev.Reason == "proof listen" {
			found = true
		}
	}
	if !found {
		t.Errorf("journal %+v has no override by ops", journal)
	}
}

func TestJournal_InvalidLimit(t *testing.T) {
	f := newFixture(t)
	for _, q := range []string{"0", "-1", "abc"} {
		if resp := f.do(t, http.MethodGet, "/v1/journal?limit="+q, "", nil); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t)

	if resp := f.do(t, http.MethodGet, "/v1/search", "", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing q: status = %d, want 400", resp.StatusCode)
	}
	var results []playlist.SearchResult
	f.do(t, http.MethodGet, "/v1/search?q=moon", "", &results)
	if len(results) == 0 || results[0].ID != f.ids[1] {
		t.Errorf("results = %+v, want %s first", results, f.ids[1])
	}
}

func TestStopWithoutRun(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(t, http.MethodPost, "/v1/stop", "", nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "chatterbox_api_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	f := newFixture(t, WithGatherer(reg))

	for _, path := range []string{"/healthz", "/readyz"} {
		if resp := f.do(t, http.MethodGet, path, "", nil); resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("chatterbox_api_test_total 1")) {
		t.Errorf("metrics body missing counter:\n%s", body)
	}
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, f.srv.URL+"/v1/events", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	if resp := f.do(t, http.MethodPut, "/v1/chunks/"+f.ids[1]+"/text", `{"text":"Goodbye sun."}`, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("edit: status = %d", resp.StatusCode)
	}

	var ev scheduler.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ev.ChunkID != f.ids[1] || ev.Op != "edit_text" || ev.To != "pending" {
		t.Errorf("event = %+v, want edit_text on %s", ev, f.ids[1])
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
