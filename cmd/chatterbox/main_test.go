package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tacogerbil/chatterboxPro/internal/app"
	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/internal/config"
	"github.com/tacogerbil/chatterboxPro/internal/scheduler"
)

func TestBuiltinProvidersMatchKnownNames(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			if !reg.Has(kind, name) {
				t.Errorf("%s provider %q is listed as valid but not registered", kind, name)
			}
		}
	}
}

func TestOptHelpers(t *testing.T) {
	opts := map[string]any{"language": "en", "mode": 3, "rate": 22050.0, "bad": true}

	if got := optString(opts, "language"); got != "en" {
		t.Errorf("optString(language) = %q, want en", got)
	}
	if got := optString(opts, "mode"); got != "" {
		t.Errorf("optString(mode) = %q, want empty", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString(nil) = %q, want empty", got)
	}
	if got := optInt(opts, "mode"); got != 3 {
		t.Errorf("optInt(mode) = %d, want 3", got)
	}
	if got := optInt(opts, "rate"); got != 22050 {
		t.Errorf("optInt(rate) = %d, want 22050", got)
	}
	if got := optInt(opts, "bad"); got != 0 {
		t.Errorf("optInt(bad) = %d, want 0", got)
	}
}

func TestRunSummary(t *testing.T) {
	info := app.RunInfo{
		ID:        "run-1",
		StartedAt: time.Now().Add(-time.Minute),
		Summary: &scheduler.Summary{
			Stats:     map[chunk.Status]int{chunk.Passed: 1200, chunk.FailedPermanent: 3},
			Converged: true,
			Attempts:  1234,
			Elapsed:   90 * time.Second,
		},
	}
	out := runSummary(info)
	for _, want := range []string{"run-1", "converged", "1,234", "1,200", "failed_permanent", "1m30s"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestCheckConfigCmd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "chatterbox.yaml")
	plPath := filepath.Join(dir, "book.yaml")

	writeFile(t, cfgPath, `providers:
  tts:
    name: coqui
    base_url: http://localhost:5002
  stt:
    name: whisper
    base_url: http://localhost:9000
`)
	writeFile(t, plPath, `entries:
  - chapter: One
  - chunk: Hello world.
  - pause_ms: 500
  - chunk: Goodbye moon.
`)

	root := newRootCmd()
	root.SetArgs([]string{"check-config", "--config", cfgPath, "--playlist", plPath})
	if err := root.Execute(); err != nil {
		t.Fatalf("check-config: %v", err)
	}
}

func TestCheckConfigCmd_UnknownProvider(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "chatterbox.yaml")
	writeFile(t, cfgPath, `providers:
  tts:
    name: festival
  stt:
    name: whisper
`)

	root := newRootCmd()
	root.SetArgs([]string{"check-config", "--config", cfgPath})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "festival") {
		t.Fatalf("check-config: got %v, want an error naming festival", err)
	}
}

// TestAssembleCmd runs a full command session, telemetry included, and
// exports a draft with every unpassed chunk left out.
func TestAssembleCmd(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	cfgPath := filepath.Join(dir, "chatterbox.yaml")
	plPath := filepath.Join(dir, "book.yaml")
	writeFile(t, cfgPath, "engine:\n  sample_rate: 16000\nassembly:\n  output_dir: "+out+"\n")
	writeFile(t, plPath, `entries:
  - chunk: Not synthesized yet.
  - pause_ms: 250
`)

	// The Prometheus bridge registers on the default registry, so a
	// process gets one session.
	root := newRootCmd()
	root.SetArgs([]string{"assemble", "-c", cfgPath, "-p", plPath, "--actor", "tester", "--override", "draft listen"})
	if err := root.Execute(); err != nil {
		t.Fatalf("assemble --override: %v", err)
	}
	fi, err := os.Stat(filepath.Join(out, "book.wav"))
	if err != nil {
		t.Fatalf("book.wav not written: %v", err)
	}
	// 250ms at 16 kHz mono 16-bit plus the 44-byte header.
	if want := int64(44 + 4000*2); fi.Size() != want {
		t.Errorf("book.wav size = %d, want %d", fi.Size(), want)
	}
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
