package chunk

import (
	"fmt"
	"time"
)

// VerdictKind classifies the outcome of judging one take.
type VerdictKind int

const (
	VerdictPassed VerdictKind = iota
	VerdictFailedWordCount
	VerdictFailedLowSignal
	VerdictFailedTrailingNoise
	VerdictFailedOther
)

var verdictNames = [...]string{
	VerdictPassed:              "passed",
	VerdictFailedWordCount:     "failed_word_count",
	VerdictFailedLowSignal:     "failed_low_signal",
	VerdictFailedTrailingNoise: "failed_trailing_noise",
	VerdictFailedOther:         "failed_other",
}

func (k VerdictKind) String() string {
	if k < 0 || int(k) >= len(verdictNames) {
		return fmt.Sprintf("verdict(%d)", int(k))
	}
	return verdictNames[k]
}

// MarshalText implements [encoding.TextMarshaler].
func (k VerdictKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (k *VerdictKind) UnmarshalText(b []byte) error {
	for i, n := range verdictNames {
		if n == string(b) {
			*k = VerdictKind(i)
			return nil
		}
	}
	return fmt.Errorf("chunk: unknown verdict %q", string(b))
}

// Verdict is the immutable result of judging one take. A new verdict always
// replaces the previous one; fields are never updated in place.
type Verdict struct {
	Kind VerdictKind `yaml:"kind" json:"kind" toml:"kind"`

	// WordDelta is transcript words minus source words. Positive means the
	// recognizer heard words that are not in the source.
	WordDelta int `yaml:"word_delta,omitempty" json:"word_delta,omitempty" toml:"word_delta,omitempty"`

	// Similarity is the lenient-mode score in [0, 1].
	Similarity float64 `yaml:"similarity,omitempty" json:"similarity,omitempty" toml:"similarity,omitempty"`

	RMS         float64 `yaml:"rms,omitempty" json:"rms,omitempty" toml:"rms,omitempty"`
	TrailingRMS float64 `yaml:"trailing_rms,omitempty" json:"trailing_rms,omitempty" toml:"trailing_rms,omitempty"`

	// Measured carries the failing metric for FailedOther verdicts (duration
	// in seconds, clipping ratio or speech ratio).
	Measured float64 `yaml:"measured,omitempty" json:"measured,omitempty" toml:"measured,omitempty"`

	Detail     string `yaml:"detail,omitempty" json:"detail,omitempty" toml:"detail,omitempty"`
	Transcript string `yaml:"transcript,omitempty" json:"transcript,omitempty" toml:"transcript,omitempty"`

	At time.Time `yaml:"at" json:"at" toml:"at"`
}

// Passed reports whether the verdict is a pass.
func (v Verdict) Passed() bool { return v.Kind == VerdictPassed }

// Excess returns the number of inserted words for word-count failures and
// zero otherwise.
func (v Verdict) Excess() int {
	if v.Kind != VerdictFailedWordCount || v.WordDelta < 0 {
		return 0
	}
	return v.WordDelta
}

// String renders the verdict for logs and failure reasons.
func (v Verdict) String() string {
	switch v.Kind {
	case VerdictPassed:
		if v.Similarity > 0 {
			return fmt.Sprintf("passed (similarity %.2f)", v.Similarity)
		}
		return "passed"
	case VerdictFailedWordCount:
		if v.Similarity > 0 {
			return fmt.Sprintf("similarity %.2f below threshold (word delta %+d)", v.Similarity, v.WordDelta)
		}
		return fmt.Sprintf("word count mismatch (delta %+d)", v.WordDelta)
	case VerdictFailedLowSignal:
		return fmt.Sprintf("low energy (rms %.1f)", v.RMS)
	case VerdictFailedTrailingNoise:
		return fmt.Sprintf("trailing window (rms %.1f)", v.TrailingRMS)
	default:
		if v.Detail != "" {
			return fmt.Sprintf("%s (%.3f)", v.Detail, v.Measured)
		}
		return v.Kind.String()
	}
}
