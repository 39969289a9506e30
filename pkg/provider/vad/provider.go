// Package vad defines the Engine interface for voice activity detection
// backends.
//
// chatterbox uses VAD after synthesis, not on a live stream: the signal gate
// runs a finished take through a session frame by frame and asks what share
// of it is speech. A take made mostly of breath, hiss or silence is rejected
// before it reaches the transcriber.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines.
package vad

import (
	"fmt"

	"github.com/tacogerbil/chatterboxPro/pkg/audio"
)

// AnalysisRate is the sample rate [SpeechRatio] converts takes to before
// framing. All backends accept it.
const AnalysisRate = 16000

// analysisFrameMs is the frame length used by [SpeechRatio].
const analysisFrameMs = 20

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds. Most VAD
	// models operate on fixed frame sizes (10, 20 or 30 ms).
	FrameSizeMs int
}

// Event is the detection result for a single frame.
type Event struct {
	// Speech reports whether the frame was classified as speech.
	Speech bool

	// Probability is the speech probability score (0.0–1.0). Binary backends
	// report 0 or 1.
	Probability float64
}

// SessionHandle represents an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame analyses a single frame of 16-bit little-endian mono PCM at
	// the session's configured rate and frame size.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the rate or frame size is unsupported.
	NewSession(cfg Config) (SessionHandle, error)
}

// SpeechRatio returns the share of buf's frames that eng classifies as
// speech. The buffer is converted to 16 kHz mono first; a trailing partial
// frame is ignored. A buffer shorter than one frame yields 0.
func SpeechRatio(eng Engine, buf audio.Buffer) (float64, error) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: AnalysisRate, Channels: 1}}
	mono, err := conv.Convert(buf)
	if err != nil {
		return 0, fmt.Errorf("vad: convert take: %w", err)
	}

	frameBytes := AnalysisRate * analysisFrameMs / 1000 * 2
	total := len(mono.PCM) / frameBytes
	if total == 0 {
		return 0, nil
	}

	sess, err := eng.NewSession(Config{SampleRate: AnalysisRate, FrameSizeMs: analysisFrameMs})
	if err != nil {
		return 0, fmt.Errorf("vad: new session: %w", err)
	}
	defer sess.Close()

	speech := 0
	for i := range total {
		ev, err := sess.ProcessFrame(mono.PCM[i*frameBytes : (i+1)*frameBytes])
		if err != nil {
			return 0, fmt.Errorf("vad: frame %d: %w", i, err)
		}
		if ev.Speech {
			speech++
		}
	}
	return float64(speech) / float64(total), nil
}
