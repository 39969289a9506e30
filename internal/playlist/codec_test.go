package playlist_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/internal/playlist"
	"github.com/tacogerbil/chatterboxPro/pkg/audio"
)

const sampleYAML = `
format: 1
entries:
  - chapter: "Chapter One"
  - chunk: "It was a dark and stormy night."
  - pause_ms: 500
  - chunk: "The rain fell in torrents."
    params:
      voice_id: narrator
      speed: 1.1
`

func TestDecode_YAML(t *testing.T) {
	doc, err := playlist.Decode(strings.NewReader(sampleYAML), playlist.FormatYAML)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	entries, err := doc.ToEntries("", seqIDs())
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	if entries[0].Kind != playlist.KindChapter || entries[0].Chapter.Title != "Chapter One" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[2].Pause.Duration != 500*time.Millisecond {
		t.Errorf("pause = %v", entries[2].Pause.Duration)
	}
	c := entries[3].Chunk
	if c.Params.VoiceID != "narrator" || c.Params.Speed != 1.1 || c.Status != chunk.Pending {
		t.Errorf("chunk = %+v", c)
	}
	if entries[1].Chunk.Ordinal != 1 || c.Ordinal != 2 {
		t.Errorf("ordinals = %d, %d", entries[1].Chunk.Ordinal, c.Ordinal)
	}
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	tests := []struct {
		format playlist.Format
		input  string
	}{
		{playlist.FormatYAML, "entries:\n  - chunk: a\n    colour: red\n"},
		{playlist.FormatJSON, `{"entries":[{"chunk":"a","colour":"red"}]}`},
		{playlist.FormatTOML, "[[entries]]\nchunk = \"a\"\ncolour = \"red\"\n"},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if _, err := playlist.Decode(strings.NewReader(tt.input), tt.format); err == nil {
				t.Error("expected error for unknown field")
			}
		})
	}
}

func TestToEntries_RecordProblemsJoined(t *testing.T) {
	in := `{"entries":[{"chunk":"a","pause_ms":10},{"pause_ms":-5}]}`
	doc, err := playlist.Decode(strings.NewReader(in), playlist.FormatJSON)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	_, err = doc.ToEntries("", seqIDs())
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "entry 0") || !strings.Contains(msg, "entry 1") {
		t.Errorf("error should report both entries: %v", err)
	}
}

func TestToEntries_BlankChunkText(t *testing.T) {
	in := "entries:\n  - chunk: ok\n  - chunk: \"   \"\n"
	doc, err := playlist.Decode(strings.NewReader(in), playlist.FormatYAML)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	_, err = doc.ToEntries("", seqIDs())
	if !errors.Is(err, playlist.ErrIntegrity) {
		t.Fatalf("ToEntries: got %v, want ErrIntegrity", err)
	}
	if !strings.Contains(err.Error(), "entry 1") || strings.Contains(err.Error(), "entry 0") {
		t.Errorf("error should name entry 1 only: %v", err)
	}
}

func TestEncodeDecode_AllFormats(t *testing.T) {
	p := newPlaylist(t,
		playlist.ChapterItem("One"),
		playlist.ChunkItem("Hello there."),
		playlist.PauseItem(250*time.Millisecond),
	)
	setStatus(t, p, "id-2", chunk.FailedPermanent)
	doc := playlist.Export(p.Snapshot(), "")

	for _, f := range []playlist.Format{playlist.FormatYAML, playlist.FormatJSON, playlist.FormatTOML} {
		t.Run(string(f), func(t *testing.T) {
			var buf bytes.Buffer
			if err := playlist.Encode(&buf, doc, f); err != nil {
				t.Fatalf("Encode: %v", err)
			}
			back, err := playlist.Decode(&buf, f)
			if err != nil {
				t.Fatalf("Decode: %v\n%s", err, buf.String())
			}
			entries, err := back.ToEntries("", seqIDs())
			if err != nil {
				t.Fatalf("Entries: %v", err)
			}
			if len(entries) != 3 {
				t.Fatalf("entries = %d", len(entries))
			}
			if entries[1].Chunk.ID != "id-2" || entries[1].Chunk.Status != chunk.FailedPermanent {
				t.Errorf("chunk = %+v", entries[1].Chunk)
			}
			if entries[2].Pause.Duration != 250*time.Millisecond {
				t.Errorf("pause = %v", entries[2].Pause.Duration)
			}
		})
	}
}

func TestSaveLoad_WithTakes(t *testing.T) {
	dir := t.TempDir()
	take := audio.Silence(audio.Format{SampleRate: 16000, Channels: 1}, 1600)
	takePath := filepath.Join(dir, "takes", "0001.wav")
	if err := os.MkdirAll(filepath.Dir(takePath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := audio.WriteWAVFile(takePath, take); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}

	p := newPlaylist(t, playlist.ChunkItem("Kept."), playlist.ChunkItem("Lost."))
	_, err := p.Apply("id-1", func(c chunk.Chunk) (chunk.Chunk, error) {
		c, err := c.Claim(1)
		if err != nil {
			return c, err
		}
		c, err = c.Attach(take, takePath)
		if err != nil {
			return c, err
		}
		return c.Pass(chunk.Verdict{Kind: chunk.VerdictPassed})
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// id-2 claims Passed but has no take on disk.
	setStatus(t, p, "id-2", chunk.Passed)

	path := filepath.Join(dir, "book.yaml")
	if err := playlist.Save(path, p.Snapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := playlist.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := loaded.Snapshot()
	kept, _ := s.Chunk("id-1")
	if kept.Status != chunk.Passed || kept.Audio == nil || kept.Audio.Duration() != 100*time.Millisecond {
		t.Errorf("kept = status %s audio %v", kept.Status, kept.Audio != nil)
	}
	lost, _ := s.Chunk("id-2")
	if lost.Status != chunk.Pending {
		t.Errorf("lost status = %s, want pending", lost.Status)
	}

	// New chunks continue after the highest saved ordinal.
	newIDs, err := loaded.Insert(-1, playlist.ChunkItem("Next."))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if c, _ := loaded.Snapshot().Chunk(newIDs[0]); c.Ordinal != 3 {
		t.Errorf("ordinal = %d, want 3", c.Ordinal)
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]playlist.Format{
		"a.yaml": playlist.FormatYAML,
		"a.YML":  playlist.FormatYAML,
		"a.json": playlist.FormatJSON,
		"a.toml": playlist.FormatTOML,
	}
	for path, want := range tests {
		if got, err := playlist.FormatFromPath(path); err != nil || got != want {
			t.Errorf("FormatFromPath(%q) = %q, %v", path, got, err)
		}
	}
	if _, err := playlist.FormatFromPath("a.txt"); err == nil {
		t.Error("expected error for .txt")
	}
}
