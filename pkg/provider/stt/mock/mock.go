// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to script what the recognizer "hears" for each take and to
// count how many takes reached the transcriber.
//
// Example:
//
//	p := &mock.Provider{Texts: []string{"hello world"}}
//	tr, _ := p.Transcribe(ctx, take)
package mock

import (
	"context"
	"sync"

	"github.com/tacogerbil/chatterboxPro/pkg/audio"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/stt"
	"github.com/tacogerbil/chatterboxPro/pkg/types"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Take is the buffer passed to Transcribe.
	Take audio.Buffer
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Texts are returned by successive Transcribe calls. The last text is
	// repeated once the list is exhausted. Ignored when TranscribeFunc is set.
	Texts []string

	// TranscribeFunc, if non-nil, computes the response for every call.
	TranscribeFunc func(ctx context.Context, take audio.Buffer) (types.Transcript, error)

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the next scripted transcript.
func (p *Provider) Transcribe(ctx context.Context, take audio.Buffer) (types.Transcript, error) {
	p.mu.Lock()
	n := len(p.TranscribeCalls)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Take: take})
	fn, err := p.TranscribeFunc, p.TranscribeErr
	var text string
	if len(p.Texts) > 0 {
		text = p.Texts[min(n, len(p.Texts)-1)]
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, take)
	}
	if err != nil {
		return types.Transcript{}, err
	}
	return types.Transcript{Text: text, Duration: take.Duration()}, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
