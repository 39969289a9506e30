// Package config provides the configuration schema, loader, file watcher and
// provider registry for the chatterbox engine.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StrictnessMode selects how transcriptions are compared with source text.
type StrictnessMode string

const (
	// ModeStrict passes only when the word counts match exactly.
	ModeStrict StrictnessMode = "strict"

	// ModeLenient passes when the similarity reaches the threshold.
	ModeLenient StrictnessMode = "lenient"
)

// IsValid reports whether m is a recognised mode.
func (m StrictnessMode) IsValid() bool {
	return m == ModeStrict || m == ModeLenient
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Assembly  AssemblyConfig  `yaml:"assembly"`
	Audit     AuditConfig     `yaml:"audit"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level" env:"LOG_LEVEL"`
}

// ProvidersConfig declares which implementation serves each port. Each
// entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	TTS ProviderEntry `yaml:"tts" envPrefix:"TTS_"`
	STT ProviderEntry `yaml:"stt" envPrefix:"STT_"`
	VAD ProviderEntry `yaml:"vad" envPrefix:"VAD_"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "coqui", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key" env:"API_KEY"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`

	// RateLimitPerMinute caps calls to this provider. Zero means unlimited.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// EngineConfig tunes the chunk lifecycle. Gate, validator and retry fields
// are applied to a running engine on reload; the rest need a restart.
type EngineConfig struct {
	StrictnessMode      StrictnessMode `yaml:"strictness_mode"`
	SimilarityThreshold float64        `yaml:"similarity_threshold"`
	// SimilarityMetric is "levenshtein" or "jaro_winkler".
	SimilarityMetric string `yaml:"similarity_metric"`

	// EnergyFloor is the minimum RMS over a take, in int16 units.
	EnergyFloor      float64 `yaml:"energy_floor"`
	TrailingWindowMS int     `yaml:"trailing_window_ms"`
	TrailingFloor    float64 `yaml:"trailing_floor"`
	MinSpeechRatio   float64 `yaml:"min_speech_ratio"`
	MaxClippingRatio float64 `yaml:"max_clipping_ratio"`
	MinDurationMS    *int    `yaml:"min_duration_ms"`
	// MaxZeroCrossingRate rejects static before transcription.
	MaxZeroCrossingRate float64 `yaml:"max_zero_crossing_rate"`

	// MaxNoSpeechProb and MaxCompressionRatio fail takes on the recognizer's
	// own segment scores. Only whisper reports them.
	MaxNoSpeechProb     float64 `yaml:"max_no_speech_prob"`
	MaxCompressionRatio float64 `yaml:"max_compression_ratio"`

	// MaxRetries is the number of re-rolls after the first attempt.
	// -1 retries forever.
	MaxRetries       *int  `yaml:"max_retries"`
	SplitEnabled     *bool `yaml:"split_enabled"`
	SplitExcessWords int   `yaml:"split_excess_words"`
	KeepFailedTakes  bool  `yaml:"keep_failed_takes"`

	// MasterSeed makes seeds reproducible. Zero draws a random seed per
	// attempt.
	MasterSeed int64 `yaml:"master_seed"`

	SampleRate         int `yaml:"sample_rate"`
	Channels           int `yaml:"channels"`
	PauseGranularityMS int `yaml:"pause_granularity_ms"`

	// Voice is the default narrator voice id.
	Voice string `yaml:"voice"`
}

// TrailingWindow returns TrailingWindowMS as a duration.
func (e EngineConfig) TrailingWindow() time.Duration {
	return time.Duration(e.TrailingWindowMS) * time.Millisecond
}

// MinDuration returns MinDurationMS as a duration.
func (e EngineConfig) MinDuration() time.Duration {
	if e.MinDurationMS == nil {
		return 0
	}
	return time.Duration(*e.MinDurationMS) * time.Millisecond
}

// PauseGranularity returns PauseGranularityMS as a duration.
func (e EngineConfig) PauseGranularity() time.Duration {
	return time.Duration(e.PauseGranularityMS) * time.Millisecond
}

// DeviceConfig is one generation worker. BaseURL, when set, points the
// synthesizer of this device at its own server.
type DeviceConfig struct {
	ID      string `yaml:"id"`
	BaseURL string `yaml:"base_url"`
}

// SchedulerConfig sizes the worker pools.
type SchedulerConfig struct {
	// Devices lists generation workers. Empty means one "cpu" worker.
	Devices           []DeviceConfig `yaml:"devices"`
	ValidationWorkers int            `yaml:"validation_workers"`
	DrainTimeout      time.Duration  `yaml:"drain_timeout"`
	// TakeDir receives every take as a WAV file. Empty keeps takes in memory.
	TakeDir string `yaml:"take_dir"`
	// Candidates is the number of takes generated per attempt. The shortest
	// passing take wins. Zero means one.
	Candidates int `yaml:"candidates"`
}

// AssemblyConfig sets the export layout.
type AssemblyConfig struct {
	OutputDir  string `yaml:"output_dir"`
	PerChapter bool   `yaml:"per_chapter"`
	LeadInMS   int    `yaml:"lead_in_ms"`
	LeadOutMS  int    `yaml:"lead_out_ms"`
}

// AuditConfig selects the journal backend.
type AuditConfig struct {
	// Driver is "memory", "postgres" or "sqlite".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn" env:"AUDIT_DSN"`
}
