package resilience

import (
	"context"

	"github.com/tacogerbil/chatterboxPro/pkg/audio"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/tts"
	"github.com/tacogerbil/chatterboxPro/pkg/types"
)

// TTSFallback implements [tts.Provider] with failover across several
// synthesis backends.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Breakers exposes the per-backend breakers for health reporting.
func (f *TTSFallback) Breakers() []*CircuitBreaker { return f.group.Breakers() }

// Synthesize renders req on the first backend that succeeds.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (audio.Buffer, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (audio.Buffer, error) {
		return p.Synthesize(ctx, req)
	})
}

// ListVoices returns the voices of the first backend that answers.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
