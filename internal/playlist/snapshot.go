package playlist

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/tacogerbil/chatterboxPro/internal/chunk"
)

// Snapshot is an immutable, versioned view of the playlist. Readers may hold
// a snapshot for as long as they like; later edits publish new snapshots and
// never modify this one.
type Snapshot struct {
	Version uint64
	entries []Entry
	index   map[string]int
}

func newSnapshot(version uint64, entries []Entry) (*Snapshot, error) {
	s := &Snapshot{Version: version, entries: entries, index: make(map[string]int, len(entries))}
	for i, e := range entries {
		id := e.ID()
		if id == "" {
			return nil, fmt.Errorf("%w: entry %d has no id", ErrIntegrity, i)
		}
		if _, dup := s.index[id]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrIntegrity, id)
		}
		if e.Kind == KindPause && e.Pause.Duration < 0 {
			return nil, fmt.Errorf("%w: pause %s has negative duration", ErrIntegrity, id)
		}
		s.index[id] = i
	}
	return s, nil
}

// Len returns the number of entries.
func (s *Snapshot) Len() int { return len(s.entries) }

// At returns the entry at position i.
func (s *Snapshot) At(i int) Entry { return s.entries[i] }

// Entries returns a copy of the entry slice.
func (s *Snapshot) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Find returns the entry with id and its position.
func (s *Snapshot) Find(id string) (Entry, int, bool) {
	i, ok := s.index[id]
	if !ok {
		return Entry{}, -1, false
	}
	return s.entries[i], i, true
}

// Chunk returns the chunk with id.
func (s *Snapshot) Chunk(id string) (chunk.Chunk, bool) {
	e, _, ok := s.Find(id)
	if !ok || e.Kind != KindChunk {
		return chunk.Chunk{}, false
	}
	return *e.Chunk, true
}

// Chunks returns every chunk in playlist order.
func (s *Snapshot) Chunks() []chunk.Chunk {
	out := make([]chunk.Chunk, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Kind == KindChunk {
			out = append(out, *e.Chunk)
		}
	}
	return out
}

// ChunkCount is the number of chunk entries.
func (s *Snapshot) ChunkCount() int {
	n := 0
	for _, e := range s.entries {
		if e.Kind == KindChunk {
			n++
		}
	}
	return n
}

// ChunksWithStatus returns the ids of chunks in status, in playlist order.
func (s *Snapshot) ChunksWithStatus(status chunk.Status) []string {
	var ids []string
	for _, e := range s.entries {
		if e.Kind == KindChunk && e.Chunk.Status == status {
			ids = append(ids, e.Chunk.ID)
		}
	}
	return ids
}

// Stats counts entries per status. Pauses and chapters count as Skipped.
func (s *Snapshot) Stats() map[chunk.Status]int {
	out := make(map[chunk.Status]int, len(chunk.AllStatuses))
	for _, e := range s.entries {
		out[e.Status()]++
	}
	return out
}

// Converged reports whether every chunk is Passed or FailedPermanent.
func (s *Snapshot) Converged() bool {
	for _, e := range s.entries {
		if e.Kind == KindChunk && e.Chunk.Status != chunk.Passed && e.Chunk.Status != chunk.FailedPermanent {
			return false
		}
	}
	return true
}

// NextWithStatus returns the position of the next chunk after from whose
// status is status, wrapping around the end. from may be -1 to start at the
// top. It returns -1 if no chunk matches.
func (s *Snapshot) NextWithStatus(from int, status chunk.Status) int {
	n := len(s.entries)
	if n == 0 {
		return -1
	}
	if from < -1 || from >= n {
		from = -1
	}
	for step := 1; step <= n; step++ {
		i := (from + step) % n
		if e := s.entries[i]; e.Kind == KindChunk && e.Chunk.Status == status {
			return i
		}
	}
	return -1
}

// ChapterRange is a contiguous, half-open range of entry positions. Chapter
// ranges never overlap and together cover the whole playlist.
type ChapterRange struct {
	// Number is the 1-based chapter number. Front matter before the first
	// chapter marker is number 0.
	Number int
	Title  string

	// MarkerID is the id of the chapter marker opening the range, empty for
	// front matter and for books without chapter markers.
	MarkerID string
	Start    int
	End      int
}

// Chapters partitions the playlist into chapter ranges. A playlist without
// chapter markers is a single range numbered 1. Entries before the first
// marker form a front matter range, present only when non-empty.
func (s *Snapshot) Chapters() []ChapterRange {
	var out []ChapterRange
	var starts []int
	for i, e := range s.entries {
		if e.Kind == KindChapter {
			starts = append(starts, i)
		}
	}
	if len(starts) == 0 {
		return []ChapterRange{{Number: 1, Start: 0, End: len(s.entries)}}
	}
	if starts[0] > 0 {
		out = append(out, ChapterRange{Number: 0, Title: "", Start: 0, End: starts[0]})
	}
	for n, start := range starts {
		end := len(s.entries)
		if n+1 < len(starts) {
			end = starts[n+1]
		}
		ch := s.entries[start].Chapter
		out = append(out, ChapterRange{Number: n + 1, Title: ch.Title, MarkerID: ch.ID, Start: start, End: end})
	}
	return out
}

// Chapter returns the chapter range with the given number.
func (s *Snapshot) Chapter(number int) (ChapterRange, bool) {
	for _, r := range s.Chapters() {
		if r.Number == number {
			return r, true
		}
	}
	return ChapterRange{}, false
}

// SearchResult is one fuzzy search hit.
type SearchResult struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
	Text     string `json:"text"`
	Score    int    `json:"score"`
}

// Search fuzzy-matches query against chunk text and chapter titles, best
// matches first.
func (s *Snapshot) Search(query string) []SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	var (
		texts     []string
		positions []int
	)
	for i, e := range s.entries {
		switch e.Kind {
		case KindChunk:
			texts = append(texts, e.Chunk.Text)
			positions = append(positions, i)
		case KindChapter:
			texts = append(texts, e.Chapter.Title)
			positions = append(positions, i)
		}
	}
	matches := fuzzy.Find(query, texts)
	out := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		pos := positions[m.Index]
		out = append(out, SearchResult{
			ID:       s.entries[pos].ID(),
			Position: pos,
			Text:     m.Str,
			Score:    m.Score,
		})
	}
	return out
}
