// Package validate compares a take's transcription to the chunk's source
// text and produces a verdict.
//
// Strict mode requires the transcription to have exactly as many words as
// the source. Any difference fails with [chunk.VerdictFailedWordCount] and
// the signed delta, where a positive delta means the recognizer heard words
// the source does not contain. Lenient mode scores the two texts with a
// string similarity metric and passes anything at or above the threshold.
package validate

import (
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/internal/fault"
	"github.com/tacogerbil/chatterboxPro/pkg/types"
)

// Mode selects the validation policy.
type Mode string

const (
	Strict  Mode = "strict"
	Lenient Mode = "lenient"
)

// Metric selects the similarity function used in lenient mode.
type Metric string

const (
	// Levenshtein scores 1 - distance/longer length.
	Levenshtein Metric = "levenshtein"
	// JaroWinkler scores with the Jaro-Winkler distance.
	JaroWinkler Metric = "jaro_winkler"
)

const defaultThreshold = 0.85

// Policy configures a [Validator].
type Policy struct {
	Mode Mode
	// Threshold is the minimum lenient similarity in [0, 1]. Zero selects
	// 0.85.
	Threshold float64
	// Metric defaults to [Levenshtein].
	Metric Metric

	// MaxNoSpeechProb fails takes the recognizer scores as probably not
	// speech. Zero disables the check.
	MaxNoSpeechProb float64
	// MaxCompressionRatio fails takes whose transcript repeats itself, the
	// mark of a hallucination loop. Zero disables the check.
	MaxCompressionRatio float64
}

func (p Policy) withDefaults() Policy {
	if p.Mode == "" {
		p.Mode = Strict
	}
	if p.Threshold <= 0 {
		p.Threshold = defaultThreshold
	}
	if p.Metric == "" {
		p.Metric = Levenshtein
	}
	return p
}

// Validate reports whether p names a known mode and metric.
func (p Policy) Validate() error {
	p = p.withDefaults()
	switch p.Mode {
	case Strict, Lenient:
	default:
		return fmt.Errorf("validate: unknown mode %q", p.Mode)
	}
	switch p.Metric {
	case Levenshtein, JaroWinkler:
	default:
		return fmt.Errorf("validate: unknown metric %q", p.Metric)
	}
	if p.Threshold > 1 {
		return fmt.Errorf("validate: threshold %.2f above 1", p.Threshold)
	}
	if p.MaxNoSpeechProb < 0 || p.MaxNoSpeechProb > 1 {
		return fmt.Errorf("validate: no-speech limit %.2f out of range [0, 1]", p.MaxNoSpeechProb)
	}
	if p.MaxCompressionRatio < 0 {
		return fmt.Errorf("validate: negative compression limit %.2f", p.MaxCompressionRatio)
	}
	return nil
}

// Validator judges transcriptions. The policy may be swapped at runtime.
// Safe for concurrent use.
type Validator struct {
	policy atomic.Pointer[Policy]
}

// New returns a validator applying p.
func New(p Policy) *Validator {
	v := &Validator{}
	v.SetPolicy(p)
	return v
}

// SetPolicy replaces the active policy.
func (v *Validator) SetPolicy(p Policy) {
	p = p.withDefaults()
	v.policy.Store(&p)
}

// Policy returns the active policy with defaults applied.
func (v *Validator) Policy() Policy {
	return *v.policy.Load()
}

// Judge compares tr against source. The returned verdict records the word
// delta in both modes and the similarity in lenient mode. A transcript the
// recognizer flags as non-speech or as a repetition loop fails with
// [chunk.VerdictFailedOther] before the texts are compared.
func (v *Validator) Judge(source string, tr types.Transcript) chunk.Verdict {
	p := v.Policy()
	delta := len(chunk.Words(tr.Text)) - len(chunk.Words(source))
	verdict := chunk.Verdict{
		WordDelta:  delta,
		Transcript: tr.Text,
		At:         time.Now(),
	}

	switch {
	case p.MaxNoSpeechProb > 0 && tr.NoSpeechProb > p.MaxNoSpeechProb:
		verdict.Kind = chunk.VerdictFailedOther
		verdict.Detail = "no speech"
		verdict.Measured = tr.NoSpeechProb
		return verdict
	case p.MaxCompressionRatio > 0 && tr.CompressionRatio > p.MaxCompressionRatio:
		verdict.Kind = chunk.VerdictFailedOther
		verdict.Detail = "repetitive transcript"
		verdict.Measured = tr.CompressionRatio
		return verdict
	}

	switch p.Mode {
	case Lenient:
		verdict.Similarity = Similarity(source, tr.Text, p.Metric)
		if verdict.Similarity >= p.Threshold {
			verdict.Kind = chunk.VerdictPassed
		} else {
			verdict.Kind = chunk.VerdictFailedWordCount
		}
	default:
		if delta == 0 {
			verdict.Kind = chunk.VerdictPassed
		} else {
			verdict.Kind = chunk.VerdictFailedWordCount
		}
	}
	return verdict
}

// Err returns nil for a passing verdict and an error wrapping
// [fault.ErrValidationMismatch] otherwise.
func Err(v chunk.Verdict) error {
	if v.Passed() {
		return nil
	}
	return fmt.Errorf("validate: %s: %w", v.String(), fault.ErrValidationMismatch)
}

// Similarity scores a and b in [0, 1] after reducing both to lower-case
// letters and digits. Two texts with nothing left to compare score 1.
func Similarity(a, b string, m Metric) float64 {
	a, b = chunk.Compact(a), chunk.Compact(b)
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	switch m {
	case JaroWinkler:
		return matchr.JaroWinkler(a, b, false)
	default:
		longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
		return 1 - float64(matchr.Levenshtein(a, b))/float64(longest)
	}
}
