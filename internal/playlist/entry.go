package playlist

import (
	"fmt"
	"time"

	"github.com/tacogerbil/chatterboxPro/internal/chunk"
)

// Kind tags the variant held by an [Entry].
type Kind int

const (
	KindChunk Kind = iota
	KindPause
	KindChapter
)

func (k Kind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindPause:
		return "pause"
	case KindChapter:
		return "chapter"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Pause is an explicit stretch of silence. It is never synthesized.
type Pause struct {
	ID       string
	Duration time.Duration
}

// Chapter starts a new chapter range.
type Chapter struct {
	ID    string
	Title string
}

// Entry is one playlist position. Exactly one of Chunk, Pause or Chapter is
// set, matching Kind. The pointed-to values are immutable; replacing an entry
// means storing a new pointer.
type Entry struct {
	Kind    Kind
	Chunk   *chunk.Chunk
	Pause   *Pause
	Chapter *Chapter
}

// ID returns the id of the held variant.
func (e Entry) ID() string {
	switch e.Kind {
	case KindChunk:
		return e.Chunk.ID
	case KindPause:
		return e.Pause.ID
	case KindChapter:
		return e.Chapter.ID
	}
	return ""
}

// Status returns the chunk status, or [chunk.Skipped] for pauses and chapters.
func (e Entry) Status() chunk.Status {
	if e.Kind == KindChunk {
		return e.Chunk.Status
	}
	return chunk.Skipped
}

// Item is the input form of an entry, used by Insert and the file codecs.
type Item struct {
	Kind   Kind
	Text   string // chunk text or chapter title
	Pause  time.Duration
	Params chunk.Params
}

// ChunkItem returns an Item for a chunk of text.
func ChunkItem(text string) Item { return Item{Kind: KindChunk, Text: text} }

// PauseItem returns an Item for a pause of d.
func PauseItem(d time.Duration) Item { return Item{Kind: KindPause, Pause: d} }

// ChapterItem returns an Item for a chapter marker.
func ChapterItem(title string) Item { return Item{Kind: KindChapter, Text: title} }
