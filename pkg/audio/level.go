package audio

import (
	"math"
	"time"
)

// FullScale is the magnitude of the largest int16 sample.
const FullScale = 32767

// RMS returns the root-mean-square amplitude of b in int16 units. All
// channels contribute equally. An empty buffer has an RMS of zero.
func RMS(b Buffer) float64 {
	n := len(b.PCM) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(b.PCM[i*2]) | int16(b.PCM[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// TailRMS returns the RMS of the last window of b. A non-positive window
// yields the RMS of the whole buffer.
func TailRMS(b Buffer, window time.Duration) float64 {
	if window <= 0 {
		return RMS(b)
	}
	return RMS(b.Tail(window))
}

// ClippingRatio returns the share of samples whose magnitude is at least
// threshold × [FullScale]. threshold is clamped to (0, 1].
func ClippingRatio(b Buffer, threshold float64) float64 {
	n := len(b.PCM) / bytesPerSample
	if n == 0 {
		return 0
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 1
	}
	limit := threshold * FullScale
	clipped := 0
	for i := range n {
		s := float64(int16(b.PCM[i*2]) | int16(b.PCM[i*2+1])<<8)
		if math.Abs(s) >= limit {
			clipped++
		}
	}
	return float64(clipped) / float64(n)
}

// ZeroCrossingRate returns the share of adjacent sample pairs, taken per
// channel, whose signs are strictly opposite. Broadband noise scores near
// 0.5; voiced speech scores far lower.
func ZeroCrossingRate(b Buffer) float64 {
	ch := max(b.Format().Channels, 1)
	n := len(b.PCM) / bytesPerSample
	if n <= ch {
		return 0
	}
	sample := func(i int) int16 { return int16(b.PCM[i*2]) | int16(b.PCM[i*2+1])<<8 }
	crossings := 0
	for i := ch; i < n; i++ {
		prev, cur := sample(i-ch), sample(i)
		if (prev < 0 && cur > 0) || (prev > 0 && cur < 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(n-ch)
}
