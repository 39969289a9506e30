// Package assembly concatenates verified takes, pauses and chapter structure
// into finished audio.
//
// Output is sample accurate: a part lasts exactly the sum of its takes plus
// its pauses (plus lead-in and lead-out), with pause rounding kept within one
// frame over the whole part. Assembling the same snapshot twice yields
// identical PCM.
//
// Every chunk in scope must be Passed. An [Override] lets an operator
// assemble anyway; it is journaled to the audit log before any audio is
// produced, and the chunks it covers are left out of the output.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tacogerbil/chatterboxPro/internal/audit"
	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/internal/fault"
	"github.com/tacogerbil/chatterboxPro/internal/observe"
	"github.com/tacogerbil/chatterboxPro/internal/playlist"
	"github.com/tacogerbil/chatterboxPro/pkg/audio"
)

// WholeBook selects every chapter range. Chapter numbers start at 0 for
// front matter.
const WholeBook = -1

var (
	// ErrNotReady is returned when chunks in scope have not passed and no
	// override was given.
	ErrNotReady = fmt.Errorf("assembly: chunks not passed: %w", fault.ErrPlaylistIntegrity)

	// ErrUnknownChapter is returned for a chapter number the playlist does
	// not have.
	ErrUnknownChapter = fmt.Errorf("assembly: unknown chapter: %w", fault.ErrPlaylistIntegrity)
)

// Config sets the output layout.
type Config struct {
	// Format is the output format. Takes in another format are converted.
	// The zero value uses the format of the first take in scope.
	Format audio.Format

	// LeadIn and LeadOut add room tone at the start and end of every part.
	LeadIn  time.Duration
	LeadOut time.Duration
}

// Override authorises assembling chunks that have not passed.
type Override struct {
	Actor  string
	Reason string
}

// Request selects what to assemble.
type Request struct {
	// Chapter is a chapter number or [WholeBook].
	Chapter int

	// PerChapter produces one part per chapter range. Otherwise chapter
	// markers add nothing and the scope becomes a single part.
	PerChapter bool

	Override *Override
}

// Part is one assembled output.
type Part struct {
	// Number is the chapter number, or [WholeBook] for a single-file part.
	Number int
	Title  string
	Audio  audio.Buffer

	Chunks int
	Pauses int

	// Omitted lists the ids of chunks left out under an override.
	Omitted []string

	// PauseTime, LeadIn and LeadOut break down the silence in Audio.
	PauseTime time.Duration
	LeadIn    time.Duration
	LeadOut   time.Duration
}

// Duration is the length of the part's audio.
func (p Part) Duration() time.Duration { return p.Audio.Duration() }

// Result holds every part of one assembly.
type Result struct {
	Version uint64
	Parts   []Part
}

// Duration is the combined length of all parts.
func (r Result) Duration() time.Duration {
	var d time.Duration
	for _, p := range r.Parts {
		d += p.Duration()
	}
	return d
}

// Option configures an [Engine].
type Option func(*Engine)

// WithAuditLog journals overrides to l. The default is an in-memory log.
func WithAuditLog(l audit.Log) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine assembles snapshots. It holds no state between calls.
type Engine struct {
	cfg     Config
	log     audit.Log
	metrics *observe.Metrics
}

// New returns an engine producing output in the layout of cfg.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{cfg: cfg}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = audit.NewMemory()
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Assemble builds the parts selected by req from snap.
func (e *Engine) Assemble(ctx context.Context, snap *playlist.Snapshot, req Request) (Result, error) {
	ctx, span := observe.StartAssemblySpan(ctx, req.Chapter, req.PerChapter)
	defer span.End()
	start := time.Now()

	ranges, err := scope(snap, req.Chapter)
	if err != nil {
		return Result{}, err
	}

	pending := unpassed(snap, ranges)
	if len(pending) > 0 {
		if req.Override == nil {
			return Result{}, fmt.Errorf("%w: %d in scope", ErrNotReady, len(pending))
		}
		if err := e.journal(ctx, req, pending); err != nil {
			return Result{}, err
		}
	}

	format, err := e.format(snap, ranges)
	if err != nil {
		return Result{}, err
	}
	b := builder{format: format, conv: &audio.FormatConverter{Target: format}}

	var groups [][]playlist.ChapterRange
	if req.PerChapter {
		for _, r := range ranges {
			groups = append(groups, []playlist.ChapterRange{r})
		}
	} else {
		groups = [][]playlist.ChapterRange{ranges}
	}

	res := Result{Version: snap.Version}
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		part, err := b.part(snap, g, e.cfg.LeadIn, e.cfg.LeadOut)
		if err != nil {
			return Result{}, err
		}
		if !req.PerChapter {
			part.Number = req.Chapter
			if req.Chapter == WholeBook {
				part.Title = ""
			}
		}
		res.Parts = append(res.Parts, part)
	}

	e.metrics.AssemblyDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.Bool("per_chapter", req.PerChapter)))
	slog.Info("assembly finished",
		"parts", len(res.Parts),
		"duration", res.Duration().Round(time.Millisecond),
		"omitted", len(pending),
		"version", res.Version)
	return res, nil
}

// journal records an override before any audio is built. A rejected or
// failed journal write refuses the assembly.
func (e *Engine) journal(ctx context.Context, req Request, pending []string) error {
	ev := audit.Event{
		Kind:    audit.KindOverride,
		Op:      "assemble",
		Detail:  scopeName(req.Chapter),
		Actor:   req.Override.Actor,
		Reason:  req.Override.Reason,
		Related: pending,
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("assembly: %w: %w", err, fault.ErrPlaylistIntegrity)
	}
	if _, err := e.log.Append(ctx, ev); err != nil {
		return fmt.Errorf("assembly: journal override: %w", err)
	}
	slog.Warn("assembling with override",
		"actor", ev.Actor,
		"reason", ev.Reason,
		"omitted", len(pending),
		"scope", ev.Detail)
	return nil
}

func scopeName(chapter int) string {
	if chapter == WholeBook {
		return "book"
	}
	return fmt.Sprintf("chapter %d", chapter)
}

func scope(snap *playlist.Snapshot, chapter int) ([]playlist.ChapterRange, error) {
	if chapter == WholeBook {
		return snap.Chapters(), nil
	}
	r, ok := snap.Chapter(chapter)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChapter, chapter)
	}
	return []playlist.ChapterRange{r}, nil
}

// unpassed returns the ids of chunks in ranges that are not Passed.
func unpassed(snap *playlist.Snapshot, ranges []playlist.ChapterRange) []string {
	var ids []string
	for _, r := range ranges {
		for i := r.Start; i < r.End; i++ {
			if e := snap.At(i); e.Kind == playlist.KindChunk && e.Chunk.Status != chunk.Passed {
				ids = append(ids, e.Chunk.ID)
			}
		}
	}
	return ids
}

func (e *Engine) format(snap *playlist.Snapshot, ranges []playlist.ChapterRange) (audio.Format, error) {
	if e.cfg.Format.SampleRate > 0 && e.cfg.Format.Channels > 0 {
		return e.cfg.Format, nil
	}
	for _, r := range ranges {
		for i := r.Start; i < r.End; i++ {
			if en := snap.At(i); en.Kind == playlist.KindChunk && en.Chunk.Status == chunk.Passed && en.Chunk.Audio != nil {
				return en.Chunk.Audio.Format(), nil
			}
		}
	}
	return audio.Format{}, errors.New("assembly: no output format configured and no take in scope")
}
