package resilience

import (
	"context"

	"github.com/tacogerbil/chatterboxPro/pkg/audio"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/stt"
	"github.com/tacogerbil/chatterboxPro/pkg/types"
)

// STTFallback implements [stt.Provider] with failover across several
// transcription backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Breakers exposes the per-backend breakers for health reporting.
func (f *STTFallback) Breakers() []*CircuitBreaker { return f.group.Breakers() }

// Transcribe transcribes take on the first backend that succeeds.
func (f *STTFallback) Transcribe(ctx context.Context, take audio.Buffer) (types.Transcript, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (types.Transcript, error) {
		return p.Transcribe(ctx, take)
	})
}
