// Package signalgate screens synthesized takes before transcription.
//
// A speech recognizer fed near-silent or noise-only audio tends to invent
// plausible text. The gate measures the take and short-circuits validation
// for anything that is not worth transcribing. A rejected take is never sent
// to the transcription port.
package signalgate

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/internal/fault"
	"github.com/tacogerbil/chatterboxPro/pkg/audio"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/vad"
)

// clipLevel is the share of full scale at which a sample counts as clipped.
const clipLevel = 0.95

// Outcome is the gate decision for one take.
type Outcome int

const (
	Proceed Outcome = iota
	RejectLowEnergy
	RejectTrailingNoise
	RejectArtifact
)

func (o Outcome) String() string {
	switch o {
	case Proceed:
		return "proceed"
	case RejectLowEnergy:
		return "reject_low_energy"
	case RejectTrailingNoise:
		return "reject_trailing_noise"
	case RejectArtifact:
		return "reject_artifact"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Thresholds configure the gate. A zero threshold disables its check.
type Thresholds struct {
	// EnergyFloor is the minimum acceptable RMS over the whole take, in int16
	// units.
	EnergyFloor float64

	// TrailingWindow is the length of the tail measured against
	// TrailingFloor.
	TrailingWindow time.Duration

	// TrailingFloor is the minimum acceptable RMS of the trailing window.
	TrailingFloor float64

	// MinDuration rejects takes shorter than this.
	MinDuration time.Duration

	// MaxClippingRatio rejects takes whose share of samples at or above 95%
	// of full scale exceeds this ratio.
	MaxClippingRatio float64

	// MaxZeroCrossingRate rejects takes whose zero crossing rate exceeds
	// this value. Static and hiss sit near 0.5.
	MaxZeroCrossingRate float64

	// MinSpeechRatio rejects takes whose VAD speech share is below this
	// ratio. It needs a VAD engine.
	MinSpeechRatio float64
}

// Result carries the decision and every measured value.
type Result struct {
	Outcome       Outcome
	RMS           float64
	TrailingRMS   float64
	Duration      time.Duration
	ClippingRatio float64
	ZeroCrossings float64
	SpeechRatio   float64

	// Detail names the failing check for RejectArtifact.
	Detail string
	// Measured is the value that failed the check named by Detail.
	Measured float64
}

// Rejected reports whether the take must not be transcribed.
func (r Result) Rejected() bool { return r.Outcome != Proceed }

// Err returns nil for Proceed and an error wrapping
// [fault.ErrLowSignalRejected] otherwise.
func (r Result) Err() error {
	if !r.Rejected() {
		return nil
	}
	return fmt.Errorf("signalgate: %s: %w", r.Verdict().String(), fault.ErrLowSignalRejected)
}

// Verdict maps a rejection to the chunk verdict recorded on the chunk.
// Calling it on a Proceed result returns a zero (passed) verdict.
func (r Result) Verdict() chunk.Verdict {
	v := chunk.Verdict{RMS: r.RMS, TrailingRMS: r.TrailingRMS, At: time.Now()}
	switch r.Outcome {
	case RejectLowEnergy:
		v.Kind = chunk.VerdictFailedLowSignal
	case RejectTrailingNoise:
		v.Kind = chunk.VerdictFailedTrailingNoise
	case RejectArtifact:
		v.Kind = chunk.VerdictFailedOther
		v.Detail = r.Detail
		v.Measured = r.Measured
	}
	return v
}

// Option configures a [Gate].
type Option func(*Gate)

// WithVAD enables the speech ratio check.
func WithVAD(eng vad.Engine) Option {
	return func(g *Gate) { g.vad = eng }
}

// Gate applies [Thresholds] to takes. Thresholds may be swapped at runtime
// with [Gate.SetThresholds]. Safe for concurrent use.
type Gate struct {
	th  atomic.Pointer[Thresholds]
	vad vad.Engine
}

// New returns a gate with th.
func New(th Thresholds, opts ...Option) *Gate {
	g := &Gate{}
	for _, o := range opts {
		o(g)
	}
	g.SetThresholds(th)
	return g
}

// SetThresholds replaces the active thresholds. Checks already running keep
// the thresholds they started with.
func (g *Gate) SetThresholds(th Thresholds) {
	g.th.Store(&th)
}

// Thresholds returns the active thresholds.
func (g *Gate) Thresholds() Thresholds {
	return *g.th.Load()
}

// Check measures buf and decides whether it may be transcribed. The energy
// checks run first, then the artifact checks.
//
// A VAD failure skips the speech ratio check only: Check returns a Proceed
// result together with the error, and the take may still be transcribed.
func (g *Gate) Check(buf audio.Buffer) (Result, error) {
	th := g.Thresholds()
	r := Result{
		RMS:      audio.RMS(buf),
		Duration: buf.Duration(),
	}
	if th.TrailingWindow > 0 {
		r.TrailingRMS = audio.TailRMS(buf, th.TrailingWindow)
	}

	switch {
	case th.EnergyFloor > 0 && r.RMS < th.EnergyFloor:
		r.Outcome = RejectLowEnergy
		return r, nil
	case th.TrailingWindow > 0 && th.TrailingFloor > 0 && r.TrailingRMS < th.TrailingFloor:
		r.Outcome = RejectTrailingNoise
		return r, nil
	}

	if th.MinDuration > 0 && r.Duration < th.MinDuration {
		return r.artifact("too short", r.Duration.Seconds()), nil
	}
	if th.MaxClippingRatio > 0 {
		r.ClippingRatio = audio.ClippingRatio(buf, clipLevel)
		if r.ClippingRatio > th.MaxClippingRatio {
			return r.artifact("clipping", r.ClippingRatio), nil
		}
	}
	if th.MaxZeroCrossingRate > 0 {
		r.ZeroCrossings = audio.ZeroCrossingRate(buf)
		if r.ZeroCrossings > th.MaxZeroCrossingRate {
			return r.artifact("high zero crossing rate", r.ZeroCrossings), nil
		}
	}
	if th.MinSpeechRatio > 0 && g.vad != nil {
		ratio, err := vad.SpeechRatio(g.vad, buf)
		if err != nil {
			r.Outcome = Proceed
			return r, fmt.Errorf("signalgate: speech ratio skipped: %w", err)
		}
		r.SpeechRatio = ratio
		if ratio < th.MinSpeechRatio {
			return r.artifact("low speech ratio", ratio), nil
		}
	}
	r.Outcome = Proceed
	return r, nil
}

func (r Result) artifact(detail string, measured float64) Result {
	r.Outcome = RejectArtifact
	r.Detail = detail
	r.Measured = measured
	return r
}
