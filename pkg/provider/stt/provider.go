// Package stt defines the Provider interface for speech-to-text backends.
//
// chatterbox transcribes finished takes, not live streams: each call hands
// the provider one complete buffer and waits for the final transcript. The
// validator compares that transcript to the chunk's source text.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/tacogerbil/chatterboxPro/pkg/audio"
	"github.com/tacogerbil/chatterboxPro/pkg/types"
)

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. The validation pool runs
// several transcriptions in parallel.
type Provider interface {
	// Transcribe returns the final transcript of take. Providers convert the
	// take to whatever format their backend needs. An empty transcript with a
	// nil error means the backend heard nothing.
	Transcribe(ctx context.Context, take audio.Buffer) (types.Transcript, error)
}
