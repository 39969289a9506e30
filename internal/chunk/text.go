package chunk

import (
	"strings"
	"unicode"
)

// Words returns the normalised word list of text: lower-cased, split on
// whitespace, with leading and trailing punctuation removed. Tokens that are
// pure punctuation (dashes, ellipses) are dropped. Internal apostrophes and
// hyphens are kept so "don't" and "well-known" count as one word each.
func Words(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w == "" {
			continue
		}
		out = append(out, strings.ToLower(w))
	}
	return out
}

// Compact strips everything except letters and digits and lower-cases the
// rest. It is the form used for similarity scoring.
func Compact(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// SplitSentences splits text at sentence boundaries: '.', '!' or '?'
// (optionally followed by closing quotes or brackets) followed by whitespace.
// Empty pieces are dropped and each piece is trimmed.
func SplitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && isCloser(runes[end]) {
			end++
		}
		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
		i = end - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// SplitBalanced splits text into two halves at the sentence boundary closest
// to the middle by word count. ok is false when text has fewer than two
// sentences.
func SplitBalanced(text string) (parts []string, ok bool) {
	sentences := SplitSentences(text)
	if len(sentences) < 2 {
		return nil, false
	}
	total := len(Words(text))
	best, bestDiff, running := 1, total+1, 0
	for i := 0; i < len(sentences)-1; i++ {
		running += len(Words(sentences[i]))
		diff := total - 2*running
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			best, bestDiff = i+1, diff
		}
	}
	return []string{
		strings.Join(sentences[:best], " "),
		strings.Join(sentences[best:], " "),
	}, true
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '.', '!', '?':
		return true
	}
	return false
}
