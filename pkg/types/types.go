// Package types defines the shared types used across the chatterbox packages.
//
// These types form the lingua franca between the provider ports, the engine
// and the assembly stage. Each package defines its own domain types; only
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// VoiceProfile identifies the narrator voice used to synthesize a chunk.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (a reference clip path for
	// XTTS servers, a voice id for ElevenLabs).
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable voice name.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Provider identifies which synthesis backend this voice belongs to.
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// GenerationParams are the per-chunk knobs handed to the synthesis backend.
// Zero values mean "backend default".
type GenerationParams struct {
	// Speed adjusts speaking rate (0.5–2.0, 1.0 = default).
	Speed float64 `yaml:"speed,omitempty" json:"speed,omitempty" toml:"speed,omitempty"`

	// PitchShift adjusts pitch in semitones (-10 to +10, 0 = default).
	PitchShift float64 `yaml:"pitch_shift,omitempty" json:"pitch_shift,omitempty" toml:"pitch_shift,omitempty"`

	// Temperature controls sampling randomness of the voice model.
	Temperature float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" toml:"temperature,omitempty"`

	// Exaggeration controls emotional intensity on models that support it.
	Exaggeration float64 `yaml:"exaggeration,omitempty" json:"exaggeration,omitempty" toml:"exaggeration,omitempty"`

	// CFGWeight is the classifier-free guidance weight on models that support it.
	CFGWeight float64 `yaml:"cfg_weight,omitempty" json:"cfg_weight,omitempty" toml:"cfg_weight,omitempty"`

	// Style is a free-form style hint (e.g. "whisper", "excited").
	Style string `yaml:"style,omitempty" json:"style,omitempty" toml:"style,omitempty"`
}

// IsZero reports whether p carries no overrides.
func (p GenerationParams) IsZero() bool {
	return p == GenerationParams{}
}

// Transcript is the result of transcribing one synthesized take.
type Transcript struct {
	// Text is the recognized speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Words contains per-word detail when available (Deepgram).
	// May be nil for providers that don't support word-level output.
	Words []WordDetail

	// Duration is the length of the transcribed audio.
	Duration time.Duration

	// NoSpeechProb is the highest per-segment probability that a segment
	// holds no speech. Zero when the provider does not report it.
	NoSpeechProb float64

	// CompressionRatio is the highest per-segment text compression ratio.
	// Repetitive hallucinated output scores high. Zero when not reported.
	CompressionRatio float64
}

// WordDetail holds per-word metadata from providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}
