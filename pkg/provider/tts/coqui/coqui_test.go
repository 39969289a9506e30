package coqui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tacogerbil/chatterboxPro/pkg/audio"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/tts"
	"github.com/tacogerbil/chatterboxPro/pkg/types"
)

// ---- helpers ----

// wavOf returns a WAV file of n frames of a constant sample at f.
func wavOf(t *testing.T, f audio.Format, n int) []byte {
	t.Helper()
	samples := make([]int16, n*f.Channels)
	for i := range samples {
		samples[i] = 1000
	}
	return audio.EncodeWAV(audio.FromSamples(samples, f))
}

// recorder captures the requests a test server sees.
type recorder struct {
	mu   sync.Mutex
	reqs []*http.Request
	body []ttsRequest
}

func (r *recorder) add(req *http.Request, body *ttsRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if body != nil {
		r.body = append(r.body, *body)
	}
}

func newServer(t *testing.T, rec *recorder, wav []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+ttsEndpoint, func(w http.ResponseWriter, r *http.Request) {
		var body ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rec.add(r, &body)
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	})
	mux.HandleFunc("GET "+apiTTSEndpoint, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r, nil)
		_, _ = w.Write(wav)
	})
	mux.HandleFunc("GET "+studioSpeakersEndpoint, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Zoe":{},"Adam":{}}`))
	})
	mux.HandleFunc("GET "+detailsEndpoint, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"model_name":"vits","speakers":["p2","p1"]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// ---- New ----

func TestNew_Validation(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty server URL")
	}
	if _, err := New("http://x", WithAPIMode("bark")); err == nil {
		t.Error("expected error for unknown API mode")
	}
	p, err := New("http://x/", WithLanguage("de"), WithTimeout(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if p.serverURL != "http://x" || p.language != "de" || p.httpClient.Timeout != time.Second {
		t.Errorf("provider = %+v", p)
	}
}

// ---- Synthesize ----

func TestSynthesize_XTTS(t *testing.T) {
	native := audio.Format{SampleRate: 24000, Channels: 1}
	rec := &recorder{}
	srv := newServer(t, rec, wavOf(t, native, 2400))

	p, err := New(srv.URL, WithAPIMode(APIModeXTTS))
	if err != nil {
		t.Fatal(err)
	}
	buf, err := p.Synthesize(context.Background(), tts.Request{
		Text:   "  Call me Ishmael.  ",
		Voice:  types.VoiceProfile{ID: "narrator.wav"},
		Seed:   42,
		Params: types.GenerationParams{Speed: 1.1, Temperature: 0.7},
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if buf.Format() != native || buf.Duration() != 100*time.Millisecond {
		t.Errorf("take = %s %v", buf.Format(), buf.Duration())
	}

	if len(rec.body) != 1 {
		t.Fatalf("requests = %d", len(rec.body))
	}
	got := rec.body[0]
	want := ttsRequest{Text: "Call me Ishmael.", SpeakerWav: "narrator.wav", Language: "en", Seed: 42, Speed: 1.1, Temperature: 0.7}
	if got != want {
		t.Errorf("body = %+v, want %+v", got, want)
	}
}

func TestSynthesize_StandardConvertsFormat(t *testing.T) {
	rec := &recorder{}
	srv := newServer(t, rec, wavOf(t, audio.Format{SampleRate: 22050, Channels: 1}, 22050))

	out := audio.Format{SampleRate: 44100, Channels: 2}
	p, err := New(srv.URL, WithOutputFormat(out))
	if err != nil {
		t.Fatal(err)
	}
	buf, err := p.Synthesize(context.Background(), tts.Request{
		Text:  "Hello.",
		Voice: types.VoiceProfile{ID: "p225"},
		Seed:  7,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if buf.Format() != out {
		t.Errorf("format = %s, want %s", buf.Format(), out)
	}
	if d := buf.Duration(); d < 999*time.Millisecond || d > time.Second {
		t.Errorf("duration = %v", d)
	}

	q := rec.reqs[0].URL.Query()
	if q.Get("text") != "Hello." || q.Get("speaker_id") != "p225" || q.Get("seed") != "7" || q.Get("language_id") != "en" {
		t.Errorf("query = %v", q)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("text") {
		case "garbage":
			_, _ = w.Write([]byte("not a wav"))
		default:
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()
	p, _ := New(srv.URL)
	ctx := context.Background()

	if _, err := p.Synthesize(ctx, tts.Request{Text: "   "}); err == nil {
		t.Error("expected error for empty text")
	}
	_, err := p.Synthesize(ctx, tts.Request{Text: "down"})
	if err == nil || !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("status error = %v", err)
	}
	if _, err := p.Synthesize(ctx, tts.Request{Text: "garbage"}); err == nil {
		t.Error("expected decode error")
	}

	x, _ := New(srv.URL, WithAPIMode(APIModeXTTS))
	if _, err := x.Synthesize(ctx, tts.Request{Text: "hi"}); err == nil {
		t.Error("expected error for XTTS without voice")
	}
}

func TestSynthesize_ContextCanceled(t *testing.T) {
	srv := newServer(t, &recorder{}, wavOf(t, audio.Format{SampleRate: 16000, Channels: 1}, 160))
	p, _ := New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Synthesize(ctx, tts.Request{Text: "hi"}); err == nil {
		t.Error("expected error for canceled context")
	}
}

// ---- ListVoices ----

func TestListVoices(t *testing.T) {
	srv := newServer(t, &recorder{}, nil)
	tests := []struct {
		mode APIMode
		want []string
	}{
		{APIModeXTTS, []string{"Adam", "Zoe"}},
		{APIModeStandard, []string{"p1", "p2"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			p, _ := New(srv.URL, WithAPIMode(tt.mode))
			voices, err := p.ListVoices(context.Background())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			if len(voices) != len(tt.want) {
				t.Fatalf("voices = %+v", voices)
			}
			for i, v := range voices {
				if v.ID != tt.want[i] || v.Provider != "coqui" {
					t.Errorf("voice %d = %+v", i, v)
				}
			}
		})
	}
}
