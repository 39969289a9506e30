package assembly

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/tacogerbil/chatterboxPro/pkg/audio"
)

// BookFile is the file name of a single-file export.
const BookFile = "book.wav"

// FileName returns the export name of the i-th (0-based) part of a
// per-chapter export.
func FileName(i int, title string) string {
	name := sanitize(title)
	if name == "" {
		name = fmt.Sprintf("Chapter_%d", i+1)
	}
	return fmt.Sprintf("%02d_%s.wav", i+1, name)
}

// sanitize keeps letters, digits and spaces, then joins words with
// underscores.
func sanitize(title string) string {
	var b strings.Builder
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), "_")
}

// Export writes res to dir as 16-bit PCM WAV files and returns their paths.
// A result with one whole-book part becomes [BookFile].
func Export(dir string, res Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("assembly: create output dir: %w", err)
	}
	paths := make([]string, 0, len(res.Parts))
	for i, p := range res.Parts {
		name := FileName(i, p.Title)
		if len(res.Parts) == 1 && p.Number == WholeBook {
			name = BookFile
		}
		path := filepath.Join(dir, name)
		if err := audio.WriteWAVFile(path, p.Audio); err != nil {
			return paths, fmt.Errorf("assembly: export %s: %w", name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
