package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CHATTERBOX_LOG_LEVEL.
const EnvPrefix = "CHATTERBOX_"

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"tts": {"coqui", "elevenlabs"},
	"stt": {"whisper", "whisper-native", "deepgram"},
	"vad": {"webrtc"},
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	return parse(path, data)
}

func parse(path string, data []byte) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. It ignores the environment, which makes it the
// loader of choice in tests.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with CHATTERBOX_* environment variables. Only
// variables that are set take effect.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	e := &cfg.Engine
	if e.StrictnessMode == "" {
		e.StrictnessMode = ModeStrict
	}
	if e.SimilarityThreshold == 0 {
		e.SimilarityThreshold = 0.85
	}
	if e.SimilarityMetric == "" {
		e.SimilarityMetric = "levenshtein"
	}
	if e.MinDurationMS == nil {
		e.MinDurationMS = ptr(100)
	}
	if e.MaxRetries == nil {
		e.MaxRetries = ptr(3)
	}
	if e.SplitEnabled == nil {
		e.SplitEnabled = ptr(true)
	}
	if e.SplitExcessWords == 0 {
		e.SplitExcessWords = 3
	}
	if e.SampleRate == 0 {
		e.SampleRate = 44100
	}
	if e.Channels == 0 {
		e.Channels = 1
	}
	if e.PauseGranularityMS == 0 {
		e.PauseGranularityMS = 10
	}

	s := &cfg.Scheduler
	if len(s.Devices) == 0 {
		s.Devices = []DeviceConfig{{ID: "cpu"}}
	}
	if s.ValidationWorkers == 0 {
		s.ValidationWorkers = 2
	}
	if s.DrainTimeout == 0 {
		s.DrainTimeout = 30 * time.Second
	}
	if s.Candidates == 0 {
		s.Candidates = 1
	}

	if cfg.Assembly.OutputDir == "" {
		cfg.Assembly.OutputDir = "output"
	}
	if cfg.Audit.Driver == "" {
		cfg.Audit.Driver = "memory"
	}
}

func ptr[T any](v T) *T { return &v }

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	for kind, p := range map[string]ProviderEntry{"tts": cfg.Providers.TTS, "stt": cfg.Providers.STT} {
		if p.RateLimitPerMinute < 0 {
			errs = append(errs, fmt.Errorf("providers.%s.rate_limit_per_minute must not be negative", kind))
		}
	}

	e := cfg.Engine
	if e.StrictnessMode != "" && !e.StrictnessMode.IsValid() {
		errs = append(errs, fmt.Errorf("engine.strictness_mode %q is invalid; valid values: strict, lenient", e.StrictnessMode))
	}
	if e.SimilarityThreshold < 0 || e.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("engine.similarity_threshold %.2f is out of range [0, 1]", e.SimilarityThreshold))
	}
	if e.SimilarityMetric != "" && e.SimilarityMetric != "levenshtein" && e.SimilarityMetric != "jaro_winkler" {
		errs = append(errs, fmt.Errorf("engine.similarity_metric %q is invalid; valid values: levenshtein, jaro_winkler", e.SimilarityMetric))
	}
	for name, v := range map[string]float64{
		"energy_floor":   e.EnergyFloor,
		"trailing_floor": e.TrailingFloor,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("engine.%s must not be negative", name))
		}
	}
	for name, v := range map[string]float64{
		"min_speech_ratio":       e.MinSpeechRatio,
		"max_clipping_ratio":     e.MaxClippingRatio,
		"max_zero_crossing_rate": e.MaxZeroCrossingRate,
		"max_no_speech_prob":     e.MaxNoSpeechProb,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("engine.%s %.2f is out of range [0, 1]", name, v))
		}
	}
	if e.MaxCompressionRatio < 0 {
		errs = append(errs, errors.New("engine.max_compression_ratio must not be negative"))
	}
	if e.TrailingWindowMS < 0 {
		errs = append(errs, errors.New("engine.trailing_window_ms must not be negative"))
	}
	if e.MinDurationMS != nil && *e.MinDurationMS < 0 {
		errs = append(errs, errors.New("engine.min_duration_ms must not be negative"))
	}
	if e.MaxRetries != nil && *e.MaxRetries < -1 {
		errs = append(errs, fmt.Errorf("engine.max_retries %d is invalid; use -1 for unbounded", *e.MaxRetries))
	}
	if e.SplitExcessWords < 0 {
		errs = append(errs, errors.New("engine.split_excess_words must not be negative"))
	}
	if e.MinSpeechRatio > 0 && cfg.Providers.VAD.Name == "" {
		errs = append(errs, errors.New("engine.min_speech_ratio requires providers.vad"))
	}
	if e.SampleRate < 0 || (e.SampleRate > 0 && (e.SampleRate < 8000 || e.SampleRate > 192000)) {
		errs = append(errs, fmt.Errorf("engine.sample_rate %d is out of range [8000, 192000]", e.SampleRate))
	}
	if e.Channels < 0 || e.Channels > 2 {
		errs = append(errs, fmt.Errorf("engine.channels %d is invalid; valid values: 1, 2", e.Channels))
	}
	if e.PauseGranularityMS < 0 {
		errs = append(errs, errors.New("engine.pause_granularity_ms must not be negative"))
	}

	seen := make(map[string]int, len(cfg.Scheduler.Devices))
	for i, d := range cfg.Scheduler.Devices {
		prefix := fmt.Sprintf("scheduler.devices[%d]", i)
		if d.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
			continue
		}
		if prev, ok := seen[d.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of scheduler.devices[%d]", prefix, d.ID, prev))
		}
		seen[d.ID] = i
	}
	if cfg.Scheduler.ValidationWorkers < 0 {
		errs = append(errs, errors.New("scheduler.validation_workers must not be negative"))
	}
	if cfg.Scheduler.Candidates < 0 {
		errs = append(errs, errors.New("scheduler.candidates must not be negative"))
	}
	if cfg.Scheduler.DrainTimeout < 0 {
		errs = append(errs, errors.New("scheduler.drain_timeout must not be negative"))
	}

	if cfg.Assembly.LeadInMS < 0 || cfg.Assembly.LeadOutMS < 0 {
		errs = append(errs, errors.New("assembly lead-in and lead-out must not be negative"))
	}

	switch cfg.Audit.Driver {
	case "", "memory":
	case "postgres", "sqlite":
		if cfg.Audit.DSN == "" {
			errs = append(errs, fmt.Errorf("audit.dsn is required for driver %q", cfg.Audit.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.driver %q is invalid; valid values: memory, postgres, sqlite", cfg.Audit.Driver))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
