package config_test

import (
	"slices"
	"testing"

	"github.com/tacogerbil/chatterboxPro/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level must be hot-reloadable, got restart for %v", d.RestartRequired)
	}
}

func TestDiff_HotSections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		edit  func(*config.Config)
		gate  bool
		valid bool
		retry bool
	}{
		{"energy floor", func(c *config.Config) { c.Engine.EnergyFloor = 900 }, true, false, false},
		{"min duration", func(c *config.Config) { v := 250; c.Engine.MinDurationMS = &v }, true, false, false},
		{"threshold", func(c *config.Config) { c.Engine.SimilarityThreshold = 0.7 }, false, true, false},
		{"metric", func(c *config.Config) { c.Engine.SimilarityMetric = "levenshtein" }, false, true, false},
		{"max retries", func(c *config.Config) { v := 5; c.Engine.MaxRetries = &v }, false, false, true},
		{"split", func(c *config.Config) { v := true; c.Engine.SplitEnabled = &v }, false, false, true},
		{"seed", func(c *config.Config) { c.Engine.MasterSeed = 7 }, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := mustLoad(t, sampleYAML)
			new := mustLoad(t, sampleYAML)
			tt.edit(new)

			d := config.Diff(old, new)
			if d.GateChanged != tt.gate || d.ValidatorChanged != tt.valid || d.RetryChanged != tt.retry {
				t.Errorf("got gate=%v validator=%v retry=%v, want %v/%v/%v",
					d.GateChanged, d.ValidatorChanged, d.RetryChanged, tt.gate, tt.valid, tt.retry)
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("unexpected restart for %v", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		edit func(*config.Config)
		want string
	}{
		{"sample rate", func(c *config.Config) { c.Engine.SampleRate = 48000 }, "engine"},
		{"granularity", func(c *config.Config) { c.Engine.PauseGranularityMS = 5 }, "engine"},
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, "server.listen_addr"},
		{"provider", func(c *config.Config) { c.Providers.TTS.Name = "elevenlabs" }, "providers"},
		{"devices", func(c *config.Config) {
			c.Scheduler.Devices = append(c.Scheduler.Devices, config.DeviceConfig{ID: "gpu2"})
		}, "scheduler"},
		{"audit", func(c *config.Config) { c.Audit.DSN = "file:other.db" }, "audit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := mustLoad(t, sampleYAML)
			new := mustLoad(t, sampleYAML)
			tt.edit(new)

			d := config.Diff(old, new)
			if !slices.Contains(d.RestartRequired, tt.want) {
				t.Errorf("RestartRequired = %v, want it to contain %q", d.RestartRequired, tt.want)
			}
			if d.GateChanged || d.ValidatorChanged || d.RetryChanged {
				t.Errorf("restart-only edit reported hot changes: %+v", d)
			}
		})
	}
}
