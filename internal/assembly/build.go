package assembly

import (
	"bytes"
	"fmt"
	"time"

	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/internal/fault"
	"github.com/tacogerbil/chatterboxPro/internal/playlist"
	"github.com/tacogerbil/chatterboxPro/pkg/audio"
)

type builder struct {
	format audio.Format
	conv   *audio.FormatConverter
}

// part concatenates ranges into one buffer.
func (b *builder) part(snap *playlist.Snapshot, ranges []playlist.ChapterRange, leadIn, leadOut time.Duration) (Part, error) {
	p := Part{Number: ranges[0].Number, Title: ranges[0].Title}
	var pcm bytes.Buffer
	sil := silencer{format: b.format}

	p.LeadIn = sil.write(&pcm, leadIn)
	for _, r := range ranges {
		for i := r.Start; i < r.End; i++ {
			e := snap.At(i)
			switch e.Kind {
			case playlist.KindChunk:
				c := e.Chunk
				if c.Status != chunk.Passed {
					p.Omitted = append(p.Omitted, c.ID)
					continue
				}
				if c.Audio == nil {
					return Part{}, fmt.Errorf("assembly: chunk %s passed without audio: %w", c.ID, fault.ErrPlaylistIntegrity)
				}
				take, err := b.conv.Convert(*c.Audio)
				if err != nil {
					return Part{}, fmt.Errorf("assembly: chunk %s: %w", c.ID, err)
				}
				pcm.Write(take.PCM)
				p.Chunks++
			case playlist.KindPause:
				p.PauseTime += sil.write(&pcm, e.Pause.Duration)
				p.Pauses++
			case playlist.KindChapter:
				// Markers carry no audio.
			}
		}
	}
	p.LeadOut = sil.write(&pcm, leadOut)
	p.Audio = audio.NewBuffer(pcm.Bytes(), b.format)
	return p, nil
}

// silencer emits silence so that the total written stays within one frame
// of the total requested, however many short pauses there are.
type silencer struct {
	format    audio.Format
	requested time.Duration
	frames    int
}

// write appends d of silence and returns d.
func (s *silencer) write(w *bytes.Buffer, d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	s.requested += d
	target := s.format.FramesFor(s.requested)
	n := target - s.frames
	s.frames = target
	w.Write(make([]byte, n*s.format.FrameSize()))
	return d
}
