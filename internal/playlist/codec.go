package playlist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/pkg/audio"
)

// DocumentFormat is the current playlist file format number.
const DocumentFormat = 1

// Format is a playlist file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the encoding from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("playlist: unsupported file extension %q", filepath.Ext(path))
	}
}

// Document is the on-disk form of a playlist.
type Document struct {
	Format  int      `yaml:"format" json:"format" toml:"format"`
	Entries []Record `yaml:"entries" json:"entries" toml:"entries"`
}

// Record is one on-disk entry. Exactly one of Chunk, PauseMS or Chapter is
// set. The remaining fields carry saved chunk state and are optional; a
// hand-written playlist only needs the variant field.
type Record struct {
	ID      string  `yaml:"id,omitempty" json:"id,omitempty" toml:"id,omitempty"`
	Chunk   string  `yaml:"chunk,omitempty" json:"chunk,omitempty" toml:"chunk,omitempty"`
	PauseMS *int64  `yaml:"pause_ms,omitempty" json:"pause_ms,omitempty" toml:"pause_ms,omitempty"`
	Chapter *string `yaml:"chapter,omitempty" json:"chapter,omitempty" toml:"chapter,omitempty"`

	Ordinal int            `yaml:"ordinal,omitempty" json:"ordinal,omitempty" toml:"ordinal,omitempty"`
	Status  *chunk.Status  `yaml:"status,omitempty" json:"status,omitempty" toml:"status,omitempty"`
	Audio   string         `yaml:"audio,omitempty" json:"audio,omitempty" toml:"audio,omitempty"`
	Params  *chunk.Params  `yaml:"params,omitempty" json:"params,omitempty" toml:"params,omitempty"`
	Retries int            `yaml:"retries,omitempty" json:"retries,omitempty" toml:"retries,omitempty"`
	Verdict *chunk.Verdict `yaml:"verdict,omitempty" json:"verdict,omitempty" toml:"verdict,omitempty"`
	Failure string         `yaml:"failure,omitempty" json:"failure,omitempty" toml:"failure,omitempty"`
}

func (r Record) kind() (Kind, error) {
	n := 0
	k := KindChunk
	if r.Chunk != "" {
		n++
	}
	if r.PauseMS != nil {
		n++
		k = KindPause
	}
	if r.Chapter != nil {
		n++
		k = KindChapter
	}
	if n != 1 {
		return 0, fmt.Errorf("record %q must set exactly one of chunk, pause_ms, chapter", r.ID)
	}
	return k, nil
}

// Decode reads a document in format f. Unknown fields are rejected.
func Decode(r io.Reader, f Format) (Document, error) {
	var doc Document
	switch f {
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return Document{}, fmt.Errorf("playlist: decode yaml: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return Document{}, fmt.Errorf("playlist: decode json: %w", err)
		}
	case FormatTOML:
		md, err := toml.NewDecoder(r).Decode(&doc)
		if err != nil {
			return Document{}, fmt.Errorf("playlist: decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Document{}, fmt.Errorf("playlist: decode toml: unknown keys %v", undecoded)
		}
	default:
		return Document{}, fmt.Errorf("playlist: unknown format %q", f)
	}
	if doc.Format > DocumentFormat {
		return Document{}, fmt.Errorf("playlist: document format %d is newer than supported %d", doc.Format, DocumentFormat)
	}
	return doc, nil
}

// Encode writes doc in format f.
func Encode(w io.Writer, doc Document, f Format) error {
	switch f {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("playlist: encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("playlist: encode json: %w", err)
		}
		return nil
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(doc); err != nil {
			return fmt.Errorf("playlist: encode toml: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("playlist: unknown format %q", f)
	}
}

// Export converts a snapshot to its on-disk form. Audio paths are written
// relative to baseDir when possible.
func Export(s *Snapshot, baseDir string) Document {
	doc := Document{Format: DocumentFormat, Entries: make([]Record, 0, s.Len())}
	for _, e := range s.entries {
		switch e.Kind {
		case KindChunk:
			c := e.Chunk
			status := c.Status
			params := c.Params
			rec := Record{
				ID:      c.ID,
				Chunk:   c.Text,
				Ordinal: c.Ordinal,
				Status:  &status,
				Audio:   relativeTo(baseDir, c.AudioPath),
				Retries: c.Retries,
				Verdict: c.Verdict,
				Failure: c.FailureReason,
			}
			if params != (chunk.Params{}) {
				rec.Params = &params
			}
			doc.Entries = append(doc.Entries, rec)
		case KindPause:
			ms := e.Pause.Duration.Milliseconds()
			doc.Entries = append(doc.Entries, Record{ID: e.Pause.ID, PauseMS: &ms})
		case KindChapter:
			title := e.Chapter.Title
			doc.Entries = append(doc.Entries, Record{ID: e.Chapter.ID, Chapter: &title})
		}
	}
	return doc
}

// ToEntries converts a document to playlist entries. Missing ids are generated
// with newID and missing ordinals continue after the highest saved one. Audio
// paths are resolved against baseDir and loaded; a chunk whose take is missing
// on disk is reset to Pending. Every record problem is reported together.
func (d Document) ToEntries(baseDir string, newID func() string) ([]Entry, error) {
	maxOrdinal := 0
	for _, r := range d.Entries {
		maxOrdinal = max(maxOrdinal, r.Ordinal)
	}

	var errs []error
	entries := make([]Entry, 0, len(d.Entries))
	for i, r := range d.Entries {
		k, err := r.kind()
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		id := r.ID
		if id == "" {
			id = newID()
		}
		switch k {
		case KindPause:
			if *r.PauseMS < 0 {
				errs = append(errs, fmt.Errorf("entry %d: negative pause_ms %d", i, *r.PauseMS))
				continue
			}
			entries = append(entries, Entry{Kind: KindPause, Pause: &Pause{ID: id, Duration: time.Duration(*r.PauseMS) * time.Millisecond}})
		case KindChapter:
			entries = append(entries, Entry{Kind: KindChapter, Chapter: &Chapter{ID: id, Title: strings.TrimSpace(*r.Chapter)}})
		case KindChunk:
			text := strings.TrimSpace(r.Chunk)
			if text == "" {
				errs = append(errs, fmt.Errorf("entry %d: chunk text is blank", i))
				continue
			}
			ordinal := r.Ordinal
			if ordinal == 0 {
				maxOrdinal++
				ordinal = maxOrdinal
			}
			var params chunk.Params
			if r.Params != nil {
				params = *r.Params
			}
			c := chunk.New(id, ordinal, text, params)
			if r.Status != nil {
				c.Status = *r.Status
			}
			if c.Status == chunk.Skipped {
				errs = append(errs, fmt.Errorf("entry %d: chunk cannot be skipped", i))
				continue
			}
			c.Retries = r.Retries
			c.Verdict = r.Verdict
			c.FailureReason = r.Failure
			c = attachSavedTake(c, resolve(baseDir, r.Audio))
			entries = append(entries, Entry{Kind: KindChunk, Chunk: &c})
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrIntegrity, errors.Join(errs...))
	}
	return entries, nil
}

// attachSavedTake loads the take at path onto c. States that require a take
// fall back to Pending when it cannot be read.
func attachSavedTake(c chunk.Chunk, path string) chunk.Chunk {
	needsTake := c.Status == chunk.Passed || c.Status == chunk.AwaitingValidation
	if path == "" {
		if needsTake {
			c.Status = chunk.Pending
			c.Verdict = nil
		}
		return c
	}
	buf, err := audio.ReadWAVFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("playlist: unreadable take", "chunk_id", c.ID, "path", path, "err", err)
		}
		if needsTake {
			slog.Warn("playlist: take missing, chunk reset to pending", "chunk_id", c.ID, "status", c.Status.String())
			c.Status = chunk.Pending
			c.Verdict = nil
			c.FailureReason = ""
		}
		return c
	}
	c.Audio = &buf
	c.AudioPath = path
	return c
}

// Load reads a playlist file, picking the encoding from its extension.
func Load(path string, opts ...Option) (*Playlist, error) {
	f, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("playlist: read %s: %w", path, err)
	}
	doc, err := Decode(bytes.NewReader(data), f)
	if err != nil {
		return nil, fmt.Errorf("playlist: %s: %w", path, err)
	}
	p, err := New(nil, opts...)
	if err != nil {
		return nil, err
	}
	entries, err := doc.ToEntries(filepath.Dir(path), p.newID)
	if err != nil {
		return nil, fmt.Errorf("playlist: %s: %w", path, err)
	}
	return FromEntries(entries, opts...)
}

// Save writes s to path, picking the encoding from its extension. The file is
// replaced atomically.
func Save(path string, s *Snapshot) error {
	f, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, Export(s, filepath.Dir(path)), f); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("playlist: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("playlist: rename %s: %w", tmp, err)
	}
	return nil
}

func relativeTo(base, path string) string {
	if path == "" || base == "" {
		return path
	}
	if rel, err := filepath.Rel(base, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}
