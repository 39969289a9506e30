// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to hand scripted takes to the scheduler and to verify which
// requests reached the synthesis backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Takes: []audio.Buffer{take1, take2},
//	}
//	buf, _ := p.Synthesize(ctx, tts.Request{Text: "Hello."})
package mock

import (
	"context"
	"sync"

	"github.com/tacogerbil/chatterboxPro/pkg/audio"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/tts"
	"github.com/tacogerbil/chatterboxPro/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the request passed to Synthesize.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Takes are returned by successive Synthesize calls. The last take is
	// repeated once the list is exhausted. Ignored when SynthesizeFunc is set.
	Takes []audio.Buffer

	// SynthesizeFunc, if non-nil, computes the response for every call.
	SynthesizeFunc func(ctx context.Context, req tts.Request) (audio.Buffer, error)

	// SynthesizeErr, if non-nil, is returned by every Synthesize call.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []types.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCallCount is the number of times ListVoices was called.
	ListVoicesCallCount int
}

// Synthesize records the call and returns the next scripted take.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (audio.Buffer, error) {
	p.mu.Lock()
	n := len(p.SynthesizeCalls)
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	fn, err := p.SynthesizeFunc, p.SynthesizeErr
	var take audio.Buffer
	if len(p.Takes) > 0 {
		take = p.Takes[min(n, len(p.Takes)-1)]
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return audio.Buffer{}, err
	}
	return take.Clone(), nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCallCount++
	return p.ListVoicesResult, p.ListVoicesErr
}

// Calls returns a copy of the recorded Synthesize calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCallCount = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
