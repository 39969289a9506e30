package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// FormatConverter converts buffers to a target format. Synthesis backends
// return whatever rate their model runs at; the converter brings every take
// to the book's configured format before it is attached to a chunk, so the
// assembly engine never has to resample.
//
// It logs a warning on the first format mismatch. Safe for concurrent use.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert returns b in the target format. If b already matches, it is
// returned unchanged (zero allocation).
// Conversion order: resample first, then channel convert.
func (c *FormatConverter) Convert(b Buffer) (Buffer, error) {
	if err := b.Validate(); err != nil {
		return Buffer{}, err
	}
	if b.Channels > 2 || c.Target.Channels > 2 {
		return Buffer{}, fmt.Errorf("audio: unsupported channel conversion %s -> %s", b.Format(), c.Target)
	}

	if b.SampleRate == c.Target.SampleRate && b.Channels == c.Target.Channels {
		return b, nil
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", b.Format().String(),
			"to", c.Target.String(),
		)
	})

	pcm := b.PCM
	if b.SampleRate != c.Target.SampleRate {
		if b.Channels == 1 {
			pcm = ResampleMono16(pcm, b.SampleRate, c.Target.SampleRate)
		} else {
			pcm = ResampleStereo16(pcm, b.SampleRate, c.Target.SampleRate)
		}
	}

	switch {
	case b.Channels == 1 && c.Target.Channels == 2:
		pcm = MonoToStereo(pcm)
	case b.Channels == 2 && c.Target.Channels == 1:
		pcm = StereoToMono(pcm)
	}

	return NewBuffer(pcm, c.Target), nil
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, srcRate, dstRate, 1)
}

// ResampleStereo16 resamples interleaved 16-bit stereo PCM from srcRate to
// dstRate using linear interpolation.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, srcRate, dstRate, 2)
}

// resample16 is the shared linear interpolator for any channel count.
func resample16(pcm []byte, srcRate, dstRate, channels int) []byte {
	frameSize := channels * bytesPerSample
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < frameSize {
		return pcm
	}
	srcFrames := len(pcm) / frameSize
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	sample := func(frame, ch int) float64 {
		idx := frame*frameSize + ch*bytesPerSample
		return float64(int16(pcm[idx]) | int16(pcm[idx+1])<<8)
	}

	out := make([]byte, dstFrames*frameSize)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)
		next := srcIdx + 1
		if next >= srcFrames {
			next = srcIdx
		}
		for ch := range channels {
			v := int16(sample(srcIdx, ch)*(1-frac) + sample(next, ch)*frac)
			o := i*frameSize + ch*bytesPerSample
			out[o] = byte(v)
			out[o+1] = byte(v >> 8)
		}
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
