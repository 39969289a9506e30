// Package scheduler drives chunks through their lifecycle.
//
// One generation worker runs per device and pulls claimed chunks from a
// bounded channel fed in playlist order. Finished takes go to an
// independently sized validation pool that runs the signal gate, the
// transcriber and the validator. A single coordinator goroutine, the one
// calling [Scheduler.Run], applies every transition to the playlist; workers
// only report results over channels.
//
// Stopping (cancelling the context given to Run, or calling
// [Scheduler.Stop]) ends claiming at once. In-flight jobs may finish until
// the drain timeout, after which they are abandoned and their chunks
// released. Run returns only once no chunk is Generating.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tacogerbil/chatterboxPro/internal/audit"
	"github.com/tacogerbil/chatterboxPro/internal/autofix"
	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/internal/observe"
	"github.com/tacogerbil/chatterboxPro/internal/playlist"
	"github.com/tacogerbil/chatterboxPro/internal/signalgate"
	"github.com/tacogerbil/chatterboxPro/internal/validate"
	"github.com/tacogerbil/chatterboxPro/pkg/audio"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/stt"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/tts"
	"github.com/tacogerbil/chatterboxPro/pkg/types"
)

// ErrRunning is returned by [Scheduler.Run] while another run is active.
var ErrRunning = errors.New("scheduler: already running")

const (
	defaultDrainTimeout = 30 * time.Second
	defaultPortBackoff  = time.Second
	maxPortBackoff      = 30 * time.Second
)

// Device is one generation slot, typically a GPU running its own
// synthesizer instance.
type Device struct {
	ID string

	// Provider labels metrics, e.g. "coqui".
	Provider string

	TTS tts.Provider
}

// Config tunes a [Scheduler].
type Config struct {
	// Devices must hold at least one entry.
	Devices []Device

	// ValidationWorkers sizes the validation pool. Default: 2.
	ValidationWorkers int

	// DrainTimeout bounds how long a stop waits for in-flight jobs.
	// Default: 30s.
	DrainTimeout time.Duration

	// KeepFailedTakes keeps rejected takes attached to their chunk.
	KeepFailedTakes bool

	// TakeDir, when set, receives every accepted take as a WAV file.
	TakeDir string

	// Candidates is the number of takes generated per attempt, with
	// consecutive seeds. Validation keeps the shortest passing take, or the
	// closest failing one when none pass. Default: 1.
	Candidates int

	// Format is the format takes are converted to before validation. The
	// zero value keeps whatever the synthesizer returned.
	Format audio.Format

	// Voice is used for chunks without a voice of their own.
	Voice types.VoiceProfile

	// PortBackoff is the initial pause in claiming after a synthesis port
	// error. It doubles on consecutive errors up to 30s. Default: 1s.
	PortBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.ValidationWorkers <= 0 {
		c.ValidationWorkers = 2
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.PortBackoff <= 0 {
		c.PortBackoff = defaultPortBackoff
	}
	if c.Candidates <= 0 {
		c.Candidates = 1
	}
	return c
}

// Components are the collaborators a scheduler runs takes through.
type Components struct {
	Gate        *signalgate.Gate
	Transcriber stt.Provider
	// TranscriberName labels metrics, e.g. "whisper".
	TranscriberName string
	Validator       *validate.Validator
	Fixer           *autofix.Fixer
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithRecorder journals every transition to r.
func WithRecorder(r *audit.Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithHub publishes every transition to h.
func WithHub(h *Hub) Option {
	return func(s *Scheduler) { s.hub = h }
}

// Summary reports the state of the playlist when a run ended.
type Summary struct {
	Stats     map[chunk.Status]int
	Converged bool
	Stopped   bool
	Attempts  int
	Elapsed   time.Duration
}

// Scheduler runs generation and validation over one playlist.
type Scheduler struct {
	pl       *playlist.Playlist
	cfg      Config
	comps    Components
	metrics  *observe.Metrics
	recorder *audit.Recorder
	hub      *Hub
	conv     *audio.FormatConverter

	running  atomic.Bool
	mu       sync.Mutex
	stop     context.CancelFunc
	attempts atomic.Int64
}

// New validates cfg and returns a scheduler for pl.
func New(pl *playlist.Playlist, cfg Config, comps Components, opts ...Option) (*Scheduler, error) {
	if pl == nil {
		return nil, errors.New("scheduler: nil playlist")
	}
	if len(cfg.Devices) == 0 {
		return nil, errors.New("scheduler: at least one device is required")
	}
	seen := make(map[string]bool, len(cfg.Devices))
	for i, d := range cfg.Devices {
		if d.ID == "" || d.TTS == nil {
			return nil, fmt.Errorf("scheduler: device %d needs an id and a synthesizer", i)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("scheduler: duplicate device %q", d.ID)
		}
		seen[d.ID] = true
	}
	if comps.Gate == nil || comps.Transcriber == nil || comps.Validator == nil || comps.Fixer == nil {
		return nil, errors.New("scheduler: gate, transcriber, validator and fixer are required")
	}
	s := &Scheduler{
		pl:    pl,
		cfg:   cfg.withDefaults(),
		comps: comps,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.cfg.Format.SampleRate > 0 && s.cfg.Format.Channels > 0 {
		s.conv = &audio.FormatConverter{Target: s.cfg.Format}
	}
	return s, nil
}

// Running reports whether a run is in progress.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Stop asks the active run to stop. It does not wait; Run returns once the
// drain has finished.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		s.stop()
	}
}

// Run generates and validates until every chunk is Passed or
// FailedPermanent, ctx ends, or a fatal integrity error occurs. Chunk
// failures never end a run. Leftover state from an earlier run is picked
// up: Generating chunks are released, AwaitingValidation chunks are
// validated and FailedTransient chunks go through auto-fix.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Summary{}, ErrRunning
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.stop = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.stop = nil
		s.mu.Unlock()
	}()

	start := time.Now()
	s.attempts.Store(0)
	slog.Info("scheduler starting",
		"devices", len(s.cfg.Devices),
		"validation_workers", s.cfg.ValidationWorkers)

	r := newRun(s)
	err := r.loop(ctx)

	snap := s.pl.Snapshot()
	sum := Summary{
		Stats:     snap.Stats(),
		Converged: snap.Converged(),
		Stopped:   ctx.Err() != nil && err == nil && !snap.Converged(),
		Attempts:  int(s.attempts.Load()),
		Elapsed:   time.Since(start),
	}
	slog.Info("scheduler stopped",
		"converged", sum.Converged,
		"stopped", sum.Stopped,
		"attempts", sum.Attempts,
		"elapsed", sum.Elapsed.Round(time.Millisecond))
	return sum, err
}

// report publishes a status change of c that started from from.
func (s *Scheduler) report(ctx context.Context, c chunk.Chunk, from chunk.Status, op string) {
	if from == c.Status {
		return
	}
	s.metrics.RecordTransition(ctx, from.String(), c.Status.String())

	verdict := ""
	if c.Verdict != nil {
		verdict = c.Verdict.Kind.String()
	}
	slog.Debug("chunk transition",
		"chunk_id", c.ID,
		"ordinal", c.Ordinal,
		"status", c.Status.String(),
		"from", from.String(),
		"op", op)

	if s.recorder != nil {
		s.recorder.Record(audit.Event{
			Kind:    audit.KindTransition,
			ChunkID: c.ID,
			From:    from.String(),
			To:      c.Status.String(),
			Op:      op,
			Detail:  c.FailureReason,
		})
	}
	if s.hub != nil {
		s.hub.Publish(Event{
			ChunkID: c.ID,
			Ordinal: c.Ordinal,
			From:    from.String(),
			To:      c.Status.String(),
			Op:      op,
			Verdict: verdict,
			Reason:  c.FailureReason,
		})
	}
}

// reportSplit publishes an in-place split of id into parts.
func (s *Scheduler) reportSplit(ctx context.Context, id, op string, parts []string) {
	s.metrics.Splits.Add(ctx, 1)
	slog.Info("chunk split", "chunk_id", id, "parts", len(parts), "op", op)
	if s.recorder != nil {
		s.recorder.Record(audit.Event{Kind: audit.KindSplit, ChunkID: id, Op: op, Related: parts})
	}
	if s.hub != nil {
		s.hub.Publish(Event{ChunkID: id, From: chunk.FailedTransient.String(), Op: op, Related: parts})
	}
}
