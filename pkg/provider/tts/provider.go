// Package tts defines the Provider interface for speech synthesis backends.
//
// A TTS provider turns the text of one chunk into one complete take. Calls
// are batch, not streaming: the engine needs the whole take before it can
// gate and validate it.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/tacogerbil/chatterboxPro/pkg/audio"
	"github.com/tacogerbil/chatterboxPro/pkg/types"
)

// Request describes one synthesis call.
type Request struct {
	// Text is the chunk text to speak.
	Text string

	// Voice selects the narrator voice.
	Voice types.VoiceProfile

	// Seed makes sampling reproducible on backends that support it. Zero means
	// the backend chooses.
	Seed int64

	// Params carries per-chunk generation overrides.
	Params types.GenerationParams
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. The scheduler runs one
// request per device worker in parallel.
type Provider interface {
	// Synthesize renders req into a take. The returned buffer is 16-bit PCM in
	// the provider's output format. An error means no take was produced;
	// providers never return a partial buffer with a nil error.
	Synthesize(ctx context.Context, req Request) (audio.Buffer, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
