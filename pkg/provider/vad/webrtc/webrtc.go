// Package webrtc provides a [vad.Engine] backed by the WebRTC voice activity
// detector.
package webrtc

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/tacogerbil/chatterboxPro/pkg/provider/vad"
)

var validRates = []int{8000, 16000, 32000, 48000}

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("webrtc vad: session closed")

// Option configures an [Engine].
type Option func(*Engine)

// WithMode sets the aggressiveness mode (0 = least aggressive about
// filtering out non-speech, 3 = most aggressive). Out-of-range values are
// clamped.
func WithMode(mode int) Option {
	return func(e *Engine) { e.mode = min(max(mode, 0), 3) }
}

// Engine creates WebRTC VAD sessions.
type Engine struct {
	mode int
}

// New returns an Engine. The default mode is 2.
func New(opts ...Option) *Engine {
	e := &Engine{mode: 2}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if !slices.Contains(validRates, cfg.SampleRate) {
		return nil, fmt.Errorf("webrtc vad: invalid sample rate %d, must be one of %v", cfg.SampleRate, validRates)
	}
	switch cfg.FrameSizeMs {
	case 10, 20, 30:
	default:
		return nil, fmt.Errorf("webrtc vad: invalid frame size %d ms, must be 10, 20 or 30", cfg.FrameSizeMs)
	}
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create: %w", err)
	}
	if err := v.SetMode(e.mode); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode: %w", err)
	}
	return &session{
		vad:        v,
		sampleRate: cfg.SampleRate,
		frameBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
	}, nil
}

type session struct {
	mu         sync.Mutex
	vad        *webrtcvad.VAD
	sampleRate int
	frameBytes int
	closed     bool
}

func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, ErrClosed
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("webrtc vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}
	active, err := s.vad.Process(s.sampleRate, frame)
	if err != nil {
		return vad.Event{}, fmt.Errorf("webrtc vad: process: %w", err)
	}
	if active {
		return vad.Event{Speech: true, Probability: 1}, nil
	}
	return vad.Event{}, nil
}

// Reset is a no-op; the WebRTC detector keeps no state worth clearing between
// takes.
func (s *session) Reset() {}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.Engine = (*Engine)(nil)
