package validate_test

import (
	"errors"
	"math"
	"testing"

	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/internal/fault"
	"github.com/tacogerbil/chatterboxPro/internal/validate"
	"github.com/tacogerbil/chatterboxPro/pkg/types"
)

func TestJudge_Strict(t *testing.T) {
	v := validate.New(validate.Policy{Mode: validate.Strict})
	tests := []struct {
		name       string
		source     string
		transcript string
		want       chunk.VerdictKind
		delta      int
	}{
		{"exact", "It was a dark night.", "it was a dark night", chunk.VerdictPassed, 0},
		{"punctuation ignored", "Well -- don't stop!", "Well, don't stop.", chunk.VerdictPassed, 0},
		{"different words same count", "The cat sat.", "A bat sat.", chunk.VerdictPassed, 0},
		{"insertion", "The cat sat.", "The cat sat down there.", chunk.VerdictFailedWordCount, 2},
		{"omission", "The cat sat on the mat.", "The cat sat.", chunk.VerdictFailedWordCount, -3},
		{"empty transcript", "Hello.", "", chunk.VerdictFailedWordCount, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Judge(tt.source, types.Transcript{Text: tt.transcript})
			if got.Kind != tt.want || got.WordDelta != tt.delta {
				t.Errorf("Judge = %s delta %d, want %s delta %d", got.Kind, got.WordDelta, tt.want, tt.delta)
			}
			if got.Transcript != tt.transcript {
				t.Errorf("transcript = %q", got.Transcript)
			}
			if got.Similarity != 0 {
				t.Errorf("strict mode should not score similarity, got %v", got.Similarity)
			}
		})
	}
}

func TestJudge_Lenient(t *testing.T) {
	v := validate.New(validate.Policy{Mode: validate.Lenient, Threshold: 0.9})

	pass := v.Judge("The quick brown fox.", types.Transcript{Text: "the quick brown fox"})
	if !pass.Passed() || pass.Similarity != 1 {
		t.Errorf("identical text: %+v", pass)
	}

	// One dropped letter in a long sentence still passes.
	near := v.Judge("It was the best of times, it was the worst of times.",
		types.Transcript{Text: "It was the best of times, it was the worst of time."})
	if !near.Passed() {
		t.Errorf("near match failed: similarity %.3f", near.Similarity)
	}

	fail := v.Judge("The quick brown fox.", types.Transcript{Text: "Thanks for watching!"})
	if fail.Passed() || fail.Kind != chunk.VerdictFailedWordCount {
		t.Errorf("unrelated text: %+v", fail)
	}
	if fail.Similarity >= 0.9 {
		t.Errorf("similarity = %.3f", fail.Similarity)
	}
}

func TestJudge_RecognizerScores(t *testing.T) {
	v := validate.New(validate.Policy{Mode: validate.Strict, MaxNoSpeechProb: 0.4, MaxCompressionRatio: 2})
	tests := []struct {
		name   string
		tr     types.Transcript
		want   chunk.VerdictKind
		detail string
	}{
		{"clean", types.Transcript{Text: "The cat sat.", NoSpeechProb: 0.1, CompressionRatio: 1.2}, chunk.VerdictPassed, ""},
		{"no speech", types.Transcript{Text: "The cat sat.", NoSpeechProb: 0.71}, chunk.VerdictFailedOther, "no speech"},
		{"loop", types.Transcript{Text: "The cat sat.", CompressionRatio: 2.4}, chunk.VerdictFailedOther, "repetitive transcript"},
		{"unreported scores", types.Transcript{Text: "The cat sat."}, chunk.VerdictPassed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Judge("The cat sat.", tt.tr)
			if got.Kind != tt.want || got.Detail != tt.detail {
				t.Errorf("Judge = %s %q, want %s %q", got.Kind, got.Detail, tt.want, tt.detail)
			}
		})
	}

	if err := (validate.Policy{MaxNoSpeechProb: 1.5}).Validate(); err == nil {
		t.Error("no-speech limit above 1 accepted")
	}
}

func TestSetPolicy(t *testing.T) {
	v := validate.New(validate.Policy{})
	if v.Policy().Mode != validate.Strict || v.Policy().Threshold != 0.85 || v.Policy().Metric != validate.Levenshtein {
		t.Fatalf("defaults = %+v", v.Policy())
	}
	tr := types.Transcript{Text: "the cat sat"}
	if v.Judge("The cat sat down.", tr).Passed() {
		t.Fatal("strict should fail on omission")
	}
	v.SetPolicy(validate.Policy{Mode: validate.Lenient, Threshold: 0.5})
	if !v.Judge("The cat sat down.", tr).Passed() {
		t.Error("lenient should pass after reload")
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b   string
		metric validate.Metric
		want   float64
	}{
		{"Hello, World!", "hello world", validate.Levenshtein, 1},
		{"", "...", validate.Levenshtein, 1},
		{"abc", "", validate.Levenshtein, 0},
		{"abcd", "abcx", validate.Levenshtein, 0.75},
		{"same", "SAME", validate.JaroWinkler, 1},
	}
	for _, tt := range tests {
		got := validate.Similarity(tt.a, tt.b, tt.metric)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Similarity(%q, %q, %s) = %v, want %v", tt.a, tt.b, tt.metric, got, tt.want)
		}
	}
	if jw := validate.Similarity("martha", "marhta", validate.JaroWinkler); jw < 0.9 || jw >= 1 {
		t.Errorf("jaro-winkler martha/marhta = %v", jw)
	}
}

func TestErr(t *testing.T) {
	if err := validate.Err(chunk.Verdict{Kind: chunk.VerdictPassed}); err != nil {
		t.Errorf("Err(passed) = %v", err)
	}
	err := validate.Err(chunk.Verdict{Kind: chunk.VerdictFailedWordCount, WordDelta: 2})
	if !errors.Is(err, fault.ErrValidationMismatch) {
		t.Errorf("Err = %v, want ErrValidationMismatch", err)
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := (validate.Policy{}).Validate(); err != nil {
		t.Errorf("zero policy: %v", err)
	}
	bad := []validate.Policy{
		{Mode: "fuzzy"},
		{Metric: "soundex"},
		{Threshold: 1.5},
	}
	for _, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil", p)
		}
	}
}
