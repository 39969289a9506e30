package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tacogerbil/chatterboxPro/internal/config"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/stt"
	sttmock "github.com/tacogerbil/chatterboxPro/pkg/provider/stt/mock"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/tts"
	ttsmock "github.com/tacogerbil/chatterboxPro/pkg/provider/tts/mock"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/vad"
	vadmock "github.com/tacogerbil/chatterboxPro/pkg/provider/vad/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

providers:
  tts:
    name: coqui
    base_url: http://localhost:8020
    rate_limit_per_minute: 120
  stt:
    name: whisper
    base_url: http://localhost:9000
    model: base.en
  vad:
    name: webrtc
    options:
      mode: 2

engine:
  strictness_mode: lenient
  similarity_threshold: 0.9
  similarity_metric: jaro_winkler
  energy_floor: 400
  trailing_window_ms: 300
  trailing_floor: 150
  min_speech_ratio: 0.5
  max_retries: 0
  split_enabled: false
  master_seed: 42
  sample_rate: 24000
  voice: narrator

scheduler:
  devices:
    - id: gpu0
      base_url: http://gpu0:8020
    - id: gpu1
      base_url: http://gpu1:8020
  validation_workers: 4
  drain_timeout: 5s
  take_dir: /tmp/takes

assembly:
  output_dir: /tmp/book
  per_chapter: true
  lead_in_ms: 500

audit:
  driver: sqlite
  dsn: file:audit.db
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cfg
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Providers.TTS.Name != "coqui" || cfg.Providers.TTS.RateLimitPerMinute != 120 {
		t.Errorf("providers.tts: got %+v", cfg.Providers.TTS)
	}
	if cfg.Providers.VAD.Options["mode"] != 2 {
		t.Errorf("providers.vad.options.mode: got %v, want 2", cfg.Providers.VAD.Options["mode"])
	}
	if cfg.Engine.StrictnessMode != config.ModeLenient {
		t.Errorf("engine.strictness_mode: got %q", cfg.Engine.StrictnessMode)
	}
	if got := *cfg.Engine.MaxRetries; got != 0 {
		t.Errorf("engine.max_retries: got %d, want 0 (explicit zero must survive defaults)", got)
	}
	if *cfg.Engine.SplitEnabled {
		t.Error("engine.split_enabled: got true, want false")
	}
	if cfg.Engine.TrailingWindow() != 300*time.Millisecond {
		t.Errorf("engine.trailing_window: got %v", cfg.Engine.TrailingWindow())
	}
	if len(cfg.Scheduler.Devices) != 2 || cfg.Scheduler.Devices[1].ID != "gpu1" {
		t.Errorf("scheduler.devices: got %+v", cfg.Scheduler.Devices)
	}
	if cfg.Scheduler.DrainTimeout != 5*time.Second {
		t.Errorf("scheduler.drain_timeout: got %v, want 5s", cfg.Scheduler.DrainTimeout)
	}
	if !cfg.Assembly.PerChapter || cfg.Assembly.LeadInMS != 500 {
		t.Errorf("assembly: got %+v", cfg.Assembly)
	}
	if cfg.Audit.Driver != "sqlite" {
		t.Errorf("audit.driver: got %q", cfg.Audit.Driver)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	// An empty config should succeed (no required top-level fields).
	if _, err := config.LoadFromReader(strings.NewReader("")); err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg := mustLoad(t, "{}")
	e := cfg.Engine

	if cfg.Server.ListenAddr != ":8080" || cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server defaults: got %+v", cfg.Server)
	}
	if e.StrictnessMode != config.ModeStrict {
		t.Errorf("strictness_mode: got %q, want strict", e.StrictnessMode)
	}
	if e.SimilarityThreshold != 0.85 || e.SimilarityMetric != "levenshtein" {
		t.Errorf("similarity: got %.2f/%s", e.SimilarityThreshold, e.SimilarityMetric)
	}
	if *e.MaxRetries != 3 || !*e.SplitEnabled || e.SplitExcessWords != 3 {
		t.Errorf("retry defaults: got retries=%d split=%v excess=%d", *e.MaxRetries, *e.SplitEnabled, e.SplitExcessWords)
	}
	if e.MinDuration() != 100*time.Millisecond {
		t.Errorf("min_duration: got %v, want 100ms", e.MinDuration())
	}
	if e.SampleRate != 44100 || e.Channels != 1 || e.PauseGranularity() != 10*time.Millisecond {
		t.Errorf("format defaults: got %d Hz, %d ch, %v", e.SampleRate, e.Channels, e.PauseGranularity())
	}
	if len(cfg.Scheduler.Devices) != 1 || cfg.Scheduler.Devices[0].ID != "cpu" {
		t.Errorf("devices: got %+v", cfg.Scheduler.Devices)
	}
	if cfg.Scheduler.ValidationWorkers != 2 || cfg.Scheduler.DrainTimeout != 30*time.Second || cfg.Scheduler.Candidates != 1 {
		t.Errorf("scheduler defaults: got %+v", cfg.Scheduler)
	}
	if cfg.Audit.Driver != "memory" || cfg.Assembly.OutputDir != "output" {
		t.Errorf("audit/assembly defaults: got %q / %q", cfg.Audit.Driver, cfg.Assembly.OutputDir)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("engine:\n  strictnes_mode: strict\n"))
	if err == nil {
		t.Fatal("expected error for misspelt field, got nil")
	}
}

func TestLoadFromReader_InvalidYAML(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader(":\t bad yaml [[["))
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

// ── Validation ───────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"invalid log level", "server:\n  log_level: verbose\n", "log_level"},
		{"invalid mode", "engine:\n  strictness_mode: fuzzy\n", "strictness_mode"},
		{"threshold above one", "engine:\n  similarity_threshold: 1.5\n", "similarity_threshold"},
		{"unknown metric", "engine:\n  similarity_metric: cosine\n", "similarity_metric"},
		{"negative floor", "engine:\n  energy_floor: -1\n", "energy_floor"},
		{"clipping ratio above one", "engine:\n  max_clipping_ratio: 2\n", "max_clipping_ratio"},
		{"zero crossing rate above one", "engine:\n  max_zero_crossing_rate: 1.2\n", "max_zero_crossing_rate"},
		{"negative compression ratio", "engine:\n  max_compression_ratio: -1\n", "max_compression_ratio"},
		{"negative candidates", "scheduler:\n  candidates: -2\n", "candidates"},
		{"retries below minus one", "engine:\n  max_retries: -2\n", "max_retries"},
		{"speech ratio without vad", "engine:\n  min_speech_ratio: 0.4\n", "requires providers.vad"},
		{"sample rate too low", "engine:\n  sample_rate: 4000\n", "sample_rate"},
		{"three channels", "engine:\n  channels: 3\n", "channels"},
		{"duplicate device", "scheduler:\n  devices:\n    - id: gpu0\n    - id: gpu0\n", "duplicate"},
		{"device without id", "scheduler:\n  devices:\n    - base_url: http://x\n", "id is required"},
		{"negative rate limit", "providers:\n  tts:\n    name: coqui\n    rate_limit_per_minute: -1\n", "rate_limit_per_minute"},
		{"negative lead in", "assembly:\n  lead_in_ms: -5\n", "lead-in"},
		{"postgres without dsn", "audit:\n  driver: postgres\n", "audit.dsn"},
		{"unknown audit driver", "audit:\n  driver: mongo\n", "audit.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\nengine:\n  channels: 5\n"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "channels"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error %q is missing %q", err, want)
		}
	}
}

func TestValidate_UnboundedRetries(t *testing.T) {
	cfg := mustLoad(t, "engine:\n  max_retries: -1\n")
	if *cfg.Engine.MaxRetries != -1 {
		t.Errorf("max_retries: got %d, want -1", *cfg.Engine.MaxRetries)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nope"}

	if _, err := reg.CreateTTS(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("tts: expected ErrProviderNotRegistered, got %v", err)
	}
	if _, err := reg.CreateSTT(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("stt: expected ErrProviderNotRegistered, got %v", err)
	}
	if _, err := reg.CreateVAD(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("vad: expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	reg := config.NewRegistry()
	wantTTS := &ttsmock.Provider{}
	wantSTT := &sttmock.Provider{}
	wantVAD := &vadmock.Engine{}

	var gotEntry config.ProviderEntry
	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		gotEntry = e
		return wantTTS, nil
	})
	reg.RegisterSTT("whisper", func(config.ProviderEntry) (stt.Provider, error) { return wantSTT, nil })
	reg.RegisterVAD("webrtc", func(config.ProviderEntry) (vad.Engine, error) { return wantVAD, nil })

	p, err := reg.CreateTTS(config.ProviderEntry{Name: "coqui", BaseURL: "http://x"})
	if err != nil {
		t.Fatalf("CreateTTS: %v", err)
	}
	if p != tts.Provider(wantTTS) {
		t.Error("returned tts provider is not the expected instance")
	}
	if gotEntry.BaseURL != "http://x" {
		t.Errorf("factory received entry %+v", gotEntry)
	}
	if s, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper"}); err != nil || s != stt.Provider(wantSTT) {
		t.Errorf("CreateSTT: got %v, %v", s, err)
	}
	if v, err := reg.CreateVAD(config.ProviderEntry{Name: "webrtc"}); err != nil || v != vad.Engine(wantVAD) {
		t.Errorf("CreateVAD: got %v, %v", v, err)
	}
}

func TestRegistry_Has(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterSTT("whisper", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })

	tests := []struct {
		kind, name string
		want       bool
	}{
		{"stt", "whisper", true},
		{"tts", "whisper", false},
		{"stt", "deepgram", false},
		{"llm", "whisper", false},
	}
	for _, tt := range tests {
		if got := reg.Has(tt.kind, tt.name); got != tt.want {
			t.Errorf("Has(%q, %q) = %v, want %v", tt.kind, tt.name, got, tt.want)
		}
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterTTS("broken", func(config.ProviderEntry) (tts.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateTTS(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}
