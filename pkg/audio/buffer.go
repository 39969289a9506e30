// Package audio holds the PCM primitives shared by the synthesis ports, the
// signal gate and the assembly engine.
//
// All audio in chatterbox is 16-bit signed little-endian PCM. A [Buffer] is a
// complete take: it is created once by a port and never mutated afterwards.
// Code that needs a modified copy (resampling, silence padding) allocates a
// new Buffer.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// bytesPerSample is fixed at 2 for 16-bit PCM.
const bytesPerSample = 2

// ErrMisaligned is returned by [Buffer.Validate] when the PCM length is not a
// whole number of frames.
var ErrMisaligned = errors.New("audio: pcm length is not frame aligned")

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "44100Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// FrameSize returns the number of bytes in one frame (one sample per channel).
func (f Format) FrameSize() int {
	return f.Channels * bytesPerSample
}

// FramesFor returns the number of frames covering d at this format's sample
// rate, truncated towards zero.
func (f Format) FramesFor(d time.Duration) int {
	if d <= 0 || f.SampleRate <= 0 {
		return 0
	}
	return int(int64(d) * int64(f.SampleRate) / int64(time.Second))
}

// Buffer is a complete block of 16-bit little-endian PCM audio.
type Buffer struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// NewBuffer wraps pcm with the given format.
func NewBuffer(pcm []byte, f Format) Buffer {
	return Buffer{PCM: pcm, SampleRate: f.SampleRate, Channels: f.Channels}
}

// Format returns the buffer's sample rate and channel count.
func (b Buffer) Format() Format {
	return Format{SampleRate: b.SampleRate, Channels: b.Channels}
}

// Frames returns the number of complete frames in the buffer.
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.PCM) / (b.Channels * bytesPerSample)
}

// Duration returns the exact playing time of the buffer, truncated to the
// nanosecond.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(b.Frames()) * int64(time.Second) / int64(b.SampleRate))
}

// IsEmpty reports whether the buffer holds no frames.
func (b Buffer) IsEmpty() bool {
	return b.Frames() == 0
}

// Validate checks that the buffer has a usable format and whole frames.
func (b Buffer) Validate() error {
	if b.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", b.SampleRate)
	}
	if b.Channels <= 0 {
		return fmt.Errorf("audio: invalid channel count %d", b.Channels)
	}
	if len(b.PCM)%(b.Channels*bytesPerSample) != 0 {
		return fmt.Errorf("%w: %d bytes, %d channels", ErrMisaligned, len(b.PCM), b.Channels)
	}
	return nil
}

// Clone returns a deep copy of b.
func (b Buffer) Clone() Buffer {
	pcm := make([]byte, len(b.PCM))
	copy(pcm, b.PCM)
	return Buffer{PCM: pcm, SampleRate: b.SampleRate, Channels: b.Channels}
}

// Tail returns the last d of the buffer as a view sharing the same backing
// array. If d is longer than the buffer the whole buffer is returned.
func (b Buffer) Tail(d time.Duration) Buffer {
	frames := b.Format().FramesFor(d)
	total := b.Frames()
	if frames >= total {
		return b
	}
	start := (total - frames) * b.Channels * bytesPerSample
	return Buffer{PCM: b.PCM[start:], SampleRate: b.SampleRate, Channels: b.Channels}
}

// Silence returns a zeroed buffer of exactly frames frames.
func Silence(f Format, frames int) Buffer {
	if frames < 0 {
		frames = 0
	}
	return Buffer{
		PCM:        make([]byte, frames*f.FrameSize()),
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
	}
}

// Samples decodes the buffer into int16 samples (interleaved for
// multi-channel audio).
func (b Buffer) Samples() []int16 {
	n := len(b.PCM) / bytesPerSample
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(b.PCM[i*2]) | int16(b.PCM[i*2+1])<<8
	}
	return out
}

// FromSamples encodes interleaved int16 samples into a Buffer.
func FromSamples(samples []int16, f Format) Buffer {
	pcm := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return NewBuffer(pcm, f)
}
