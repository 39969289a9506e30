// Package playlist holds the ordered sequence of chunks, pauses and chapter
// markers that makes up a book.
//
// The playlist is the only shared mutable structure in chatterbox. Writers
// (user edits and engine transitions) are serialised by a mutex; each write
// publishes a new [Snapshot] through an atomic pointer, so readers never take
// a lock and never observe a half-applied edit. Chunks only move when an
// explicit edit moves them.
package playlist

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/internal/fault"
)

var (
	// ErrIntegrity wraps every structural violation raised by this package.
	ErrIntegrity = fmt.Errorf("playlist: %w", fault.ErrPlaylistIntegrity)

	// ErrUnknownID is returned when an edit names an id that is not in the
	// current snapshot.
	ErrUnknownID = fmt.Errorf("%w: unknown id", ErrIntegrity)

	// ErrWrongKind is returned when an edit targets the wrong entry variant,
	// such as EditPause on a chunk.
	ErrWrongKind = fmt.Errorf("%w: wrong entry kind", ErrIntegrity)

	// ErrNotSplittable is returned when a chunk has fewer than two sentences.
	ErrNotSplittable = errors.New("playlist: chunk has a single sentence")
)

// Change describes one published edit.
type Change struct {
	Version uint64
	Op      string
	IDs     []string
}

// Option configures a [Playlist].
type Option func(*Playlist)

// WithPauseGranularity rounds every pause to a multiple of g.
func WithPauseGranularity(g time.Duration) Option {
	return func(p *Playlist) { p.granularity = g }
}

// WithIDGenerator replaces the UUID generator. Tests use it for stable ids.
func WithIDGenerator(fn func() string) Option {
	return func(p *Playlist) { p.newID = fn }
}

// WithOnChange registers a callback invoked after every structural edit.
// It runs with the write lock held and must not call back into the playlist.
func WithOnChange(fn func(Change)) Option {
	return func(p *Playlist) { p.onChange = fn }
}

// Playlist is the versioned, copy-on-write sequence of entries.
// All methods are safe for concurrent use.
type Playlist struct {
	mu          sync.Mutex
	cur         atomic.Pointer[Snapshot]
	changed     chan struct{}
	nextOrdinal int
	granularity time.Duration
	newID       func() string
	onChange    func(Change)
}

// New creates a playlist from items.
func New(items []Item, opts ...Option) (*Playlist, error) {
	p := &Playlist{
		changed:     make(chan struct{}),
		granularity: 10 * time.Millisecond,
		newID:       uuid.NewString,
	}
	for _, o := range opts {
		o(p)
	}
	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		e, err := p.entryFor(it)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	snap, err := newSnapshot(1, entries)
	if err != nil {
		return nil, err
	}
	p.cur.Store(snap)
	return p, nil
}

// FromEntries creates a playlist from fully formed entries, preserving ids,
// ordinals and chunk state. It is used when restoring a saved playlist.
func FromEntries(entries []Entry, opts ...Option) (*Playlist, error) {
	p, err := New(nil, opts...)
	if err != nil {
		return nil, err
	}
	entries = slices.Clone(entries)
	for i, e := range entries {
		switch e.Kind {
		case KindChunk:
			p.nextOrdinal = max(p.nextOrdinal, e.Chunk.Ordinal)
		case KindPause:
			d, err := p.roundPause(e.Pause.Duration)
			if err != nil {
				return nil, err
			}
			entries[i] = Entry{Kind: KindPause, Pause: &Pause{ID: e.Pause.ID, Duration: d}}
		}
	}
	snap, err := newSnapshot(1, entries)
	if err != nil {
		return nil, err
	}
	p.cur.Store(snap)
	return p, nil
}

// Snapshot returns the current snapshot.
func (p *Playlist) Snapshot() *Snapshot { return p.cur.Load() }

// Changed returns a channel that is closed on the next published edit or
// transition. Callers re-fetch the channel after each wake-up.
func (p *Playlist) Changed() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changed
}

// mutate applies fn to a copy of the current entries under the write lock
// and publishes the result as the next version.
func (p *Playlist) mutate(op string, fn func(entries []Entry) ([]Entry, []string, error)) (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.cur.Load()
	next, ids, err := fn(slices.Clone(cur.entries))
	if err != nil {
		return cur, err
	}
	snap, err := newSnapshot(cur.Version+1, next)
	if err != nil {
		return cur, err
	}
	p.cur.Store(snap)
	close(p.changed)
	p.changed = make(chan struct{})
	if p.onChange != nil && op != "" {
		p.onChange(Change{Version: snap.Version, Op: op, IDs: ids})
	}
	return snap, nil
}

func (p *Playlist) entryFor(it Item) (Entry, error) {
	id := p.newID()
	switch it.Kind {
	case KindChunk:
		text := strings.TrimSpace(it.Text)
		if text == "" {
			return Entry{}, fmt.Errorf("%w: empty chunk text", ErrIntegrity)
		}
		p.nextOrdinal++
		c := chunk.New(id, p.nextOrdinal, text, it.Params)
		return Entry{Kind: KindChunk, Chunk: &c}, nil
	case KindPause:
		d, err := p.roundPause(it.Pause)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Kind: KindPause, Pause: &Pause{ID: id, Duration: d}}, nil
	case KindChapter:
		return Entry{Kind: KindChapter, Chapter: &Chapter{ID: id, Title: strings.TrimSpace(it.Text)}}, nil
	default:
		return Entry{}, fmt.Errorf("%w: unknown entry kind %d", ErrIntegrity, it.Kind)
	}
}

// roundPause rounds d to the nearest multiple of the pause granularity.
func (p *Playlist) roundPause(d time.Duration) (time.Duration, error) {
	if d < 0 {
		return 0, fmt.Errorf("%w: negative pause %v", ErrIntegrity, d)
	}
	if p.granularity <= 0 {
		return d, nil
	}
	steps := math.Round(float64(d) / float64(p.granularity))
	return time.Duration(steps) * p.granularity, nil
}

func locate(entries []Entry, id string) (int, error) {
	for i, e := range entries {
		if e.ID() == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrUnknownID, id)
}

func locateChunk(entries []Entry, id string) (int, chunk.Chunk, error) {
	i, err := locate(entries, id)
	if err != nil {
		return -1, chunk.Chunk{}, err
	}
	if entries[i].Kind != KindChunk {
		return -1, chunk.Chunk{}, fmt.Errorf("%w: %s is a %s", ErrWrongKind, id, entries[i].Kind)
	}
	return i, *entries[i].Chunk, nil
}

func chunkEntry(c chunk.Chunk) Entry { return Entry{Kind: KindChunk, Chunk: &c} }

// ── Engine transitions ──────────────────────────────────────────────────────

// Apply replaces the chunk with id by fn's result. It is the single path the
// engine uses to record lifecycle transitions. If fn returns an error the
// playlist is unchanged.
func (p *Playlist) Apply(id string, fn func(chunk.Chunk) (chunk.Chunk, error)) (chunk.Chunk, error) {
	var out chunk.Chunk
	_, err := p.mutate("", func(entries []Entry) ([]Entry, []string, error) {
		i, c, err := locateChunk(entries, id)
		if err != nil {
			return nil, nil, err
		}
		next, err := fn(c)
		if err != nil {
			return nil, nil, err
		}
		if next.ID != c.ID {
			return nil, nil, fmt.Errorf("%w: transition changed chunk id %s", ErrIntegrity, c.ID)
		}
		entries[i] = chunkEntry(next)
		out = next
		return entries, []string{id}, nil
	})
	return out, err
}

// ReplaceChunk swaps the chunk with id for new Pending chunks, in place.
// split receives the current chunk under the write lock and returns the texts
// of the replacements. The new chunks inherit the original's voice and style
// parameters but not its seed. It returns the new ids.
func (p *Playlist) ReplaceChunk(op, id string, split func(chunk.Chunk) ([]string, error)) ([]string, error) {
	var ids []string
	_, err := p.mutate(op, func(entries []Entry) ([]Entry, []string, error) {
		i, c, err := locateChunk(entries, id)
		if err != nil {
			return nil, nil, err
		}
		if c.Status == chunk.Generating {
			return nil, nil, fmt.Errorf("%w: %s is generating", ErrIntegrity, id)
		}
		texts, err := split(c)
		if err != nil {
			return nil, nil, err
		}
		params := c.Params
		params.Seed = 0
		repl := make([]Entry, 0, len(texts))
		for _, t := range texts {
			e, err := p.entryFor(Item{Kind: KindChunk, Text: t, Params: params})
			if err != nil {
				return nil, nil, err
			}
			repl = append(repl, e)
			ids = append(ids, e.ID())
		}
		return slices.Replace(entries, i, i+1, repl...), append([]string{id}, ids...), nil
	})
	return ids, err
}

// ── Structural edits ────────────────────────────────────────────────────────

// Insert places items at position pos, shifting later entries down. A
// negative pos or one past the end appends. It returns the new ids.
func (p *Playlist) Insert(pos int, items ...Item) ([]string, error) {
	var ids []string
	_, err := p.mutate("insert", func(entries []Entry) ([]Entry, []string, error) {
		if pos < 0 || pos > len(entries) {
			pos = len(entries)
		}
		add := make([]Entry, 0, len(items))
		for _, it := range items {
			e, err := p.entryFor(it)
			if err != nil {
				return nil, nil, err
			}
			add = append(add, e)
			ids = append(ids, e.ID())
		}
		return slices.Insert(entries, pos, add...), ids, nil
	})
	return ids, err
}

// Delete removes the entries with ids. Deleting a Generating chunk is an
// integrity violation.
func (p *Playlist) Delete(ids ...string) error {
	_, err := p.mutate("delete", func(entries []Entry) ([]Entry, []string, error) {
		drop := make(map[string]bool, len(ids))
		for _, id := range ids {
			i, err := locate(entries, id)
			if err != nil {
				return nil, nil, err
			}
			if entries[i].Status() == chunk.Generating {
				return nil, nil, fmt.Errorf("%w: %s is generating", ErrIntegrity, id)
			}
			drop[id] = true
		}
		return slices.DeleteFunc(entries, func(e Entry) bool { return drop[e.ID()] }), ids, nil
	})
	return err
}

// Move relocates the entries with ids, keeping their relative order, so the
// first of them lands at position to in the resulting playlist.
func (p *Playlist) Move(ids []string, to int) error {
	_, err := p.mutate("move", func(entries []Entry) ([]Entry, []string, error) {
		sel := make(map[string]bool, len(ids))
		for _, id := range ids {
			if _, err := locate(entries, id); err != nil {
				return nil, nil, err
			}
			sel[id] = true
		}
		var moved, rest []Entry
		for _, e := range entries {
			if sel[e.ID()] {
				moved = append(moved, e)
			} else {
				rest = append(rest, e)
			}
		}
		if to < 0 || to > len(rest) {
			to = len(rest)
		}
		return slices.Insert(rest, to, moved...), ids, nil
	})
	return err
}

// EditText replaces a chunk's text and resets it to Pending.
func (p *Playlist) EditText(id, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty chunk text", ErrIntegrity)
	}
	_, err := p.mutate("edit_text", func(entries []Entry) ([]Entry, []string, error) {
		i, c, err := locateChunk(entries, id)
		if err != nil {
			return nil, nil, err
		}
		next, err := c.Edit(text, c.Params)
		if err != nil {
			return nil, nil, err
		}
		entries[i] = chunkEntry(next)
		return entries, []string{id}, nil
	})
	return err
}

// EditParams replaces a chunk's generation parameters and resets it to
// Pending.
func (p *Playlist) EditParams(id string, params chunk.Params) error {
	_, err := p.mutate("edit_params", func(entries []Entry) ([]Entry, []string, error) {
		i, c, err := locateChunk(entries, id)
		if err != nil {
			return nil, nil, err
		}
		next, err := c.Edit(c.Text, params)
		if err != nil {
			return nil, nil, err
		}
		entries[i] = chunkEntry(next)
		return entries, []string{id}, nil
	})
	return err
}

// EditPause changes a pause's duration.
func (p *Playlist) EditPause(id string, d time.Duration) error {
	d, err := p.roundPause(d)
	if err != nil {
		return err
	}
	_, err = p.mutate("edit_pause", func(entries []Entry) ([]Entry, []string, error) {
		i, err := locate(entries, id)
		if err != nil {
			return nil, nil, err
		}
		if entries[i].Kind != KindPause {
			return nil, nil, fmt.Errorf("%w: %s is a %s", ErrWrongKind, id, entries[i].Kind)
		}
		entries[i] = Entry{Kind: KindPause, Pause: &Pause{ID: id, Duration: d}}
		return entries, []string{id}, nil
	})
	return err
}

// SplitChunk splits a chunk into one chunk per sentence.
func (p *Playlist) SplitChunk(id string) ([]string, error) {
	return p.ReplaceChunk("split", id, func(c chunk.Chunk) ([]string, error) {
		parts := chunk.SplitSentences(c.Text)
		if len(parts) < 2 {
			return nil, ErrNotSplittable
		}
		return parts, nil
	})
}

// MergeChunks joins adjacent chunks into one Pending chunk at the position of
// the first. The merged chunk takes the first chunk's parameters.
func (p *Playlist) MergeChunks(ids ...string) (string, error) {
	if len(ids) < 2 {
		return "", fmt.Errorf("%w: merge needs at least two chunks", ErrIntegrity)
	}
	var merged string
	_, err := p.mutate("merge", func(entries []Entry) ([]Entry, []string, error) {
		positions := make([]int, 0, len(ids))
		for _, id := range ids {
			i, c, err := locateChunk(entries, id)
			if err != nil {
				return nil, nil, err
			}
			if c.Status == chunk.Generating {
				return nil, nil, fmt.Errorf("%w: %s is generating", ErrIntegrity, id)
			}
			positions = append(positions, i)
		}
		slices.Sort(positions)
		texts := make([]string, 0, len(positions))
		for n, i := range positions {
			if n > 0 && i != positions[n-1]+1 {
				return nil, nil, fmt.Errorf("%w: merged chunks must be adjacent", ErrIntegrity)
			}
			texts = append(texts, entries[i].Chunk.Text)
		}
		first := *entries[positions[0]].Chunk
		params := first.Params
		params.Seed = 0
		e, err := p.entryFor(Item{Kind: KindChunk, Text: strings.Join(texts, " "), Params: params})
		if err != nil {
			return nil, nil, err
		}
		merged = e.ID()
		out := slices.Replace(entries, positions[0], positions[len(positions)-1]+1, e)
		return out, append(slices.Clone(ids), merged), nil
	})
	return merged, err
}

// ConvertToChapter turns a chunk into a chapter marker. An empty title uses
// the chunk's text. The marker keeps the chunk's id.
func (p *Playlist) ConvertToChapter(id, title string) error {
	_, err := p.mutate("convert_to_chapter", func(entries []Entry) ([]Entry, []string, error) {
		i, c, err := locateChunk(entries, id)
		if err != nil {
			return nil, nil, err
		}
		if c.Status == chunk.Generating {
			return nil, nil, fmt.Errorf("%w: %s is generating", ErrIntegrity, id)
		}
		if strings.TrimSpace(title) == "" {
			title = c.Text
		}
		entries[i] = Entry{Kind: KindChapter, Chapter: &Chapter{ID: id, Title: strings.TrimSpace(title)}}
		return entries, []string{id}, nil
	})
	return err
}

// Requeue returns Passed or FailedPermanent chunks to Pending.
func (p *Playlist) Requeue(ids ...string) error {
	_, err := p.mutate("requeue", func(entries []Entry) ([]Entry, []string, error) {
		for _, id := range ids {
			i, c, err := locateChunk(entries, id)
			if err != nil {
				return nil, nil, err
			}
			next, err := c.Requeue()
			if err != nil {
				return nil, nil, err
			}
			entries[i] = chunkEntry(next)
		}
		return entries, ids, nil
	})
	return err
}

// MergeFailedDown merges each FailedPermanent chunk into the chunk that
// follows it. The combined chunk is Pending. A failed chunk with no chunk
// directly below it is left alone. It returns the number of merges.
func (p *Playlist) MergeFailedDown() (int, error) {
	count := 0
	_, err := p.mutate("merge_failed_down", func(entries []Entry) ([]Entry, []string, error) {
		var touched []string
		for i := 0; i < len(entries)-1; {
			cur, next := entries[i], entries[i+1]
			if cur.Kind != KindChunk || cur.Chunk.Status != chunk.FailedPermanent ||
				next.Kind != KindChunk || next.Chunk.Status == chunk.Generating {
				i++
				continue
			}
			merged, err := next.Chunk.Edit(cur.Chunk.Text+" "+next.Chunk.Text, next.Chunk.Params)
			if err != nil {
				return nil, nil, err
			}
			touched = append(touched, cur.Chunk.ID, merged.ID)
			entries[i+1] = chunkEntry(merged)
			entries = slices.Delete(entries, i, i+1)
			count++
		}
		return entries, touched, nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SplitAllFailed splits every FailedPermanent chunk that has more than one
// sentence. It returns the number of chunks split.
func (p *Playlist) SplitAllFailed() (int, error) {
	count := 0
	_, err := p.mutate("split_all_failed", func(entries []Entry) ([]Entry, []string, error) {
		var touched []string
		for i := 0; i < len(entries); i++ {
			e := entries[i]
			if e.Kind != KindChunk || e.Chunk.Status != chunk.FailedPermanent {
				continue
			}
			parts := chunk.SplitSentences(e.Chunk.Text)
			if len(parts) < 2 {
				continue
			}
			params := e.Chunk.Params
			params.Seed = 0
			repl := make([]Entry, 0, len(parts))
			for _, t := range parts {
				ne, err := p.entryFor(Item{Kind: KindChunk, Text: t, Params: params})
				if err != nil {
					return nil, nil, err
				}
				repl = append(repl, ne)
			}
			touched = append(touched, e.Chunk.ID)
			entries = slices.Replace(entries, i, i+1, repl...)
			i += len(repl) - 1
			count++
		}
		return entries, touched, nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
