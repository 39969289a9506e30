// Package app wires the chatterbox subsystems into a running engine.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems around one playlist, [App.Runs] drives generation in the
// background, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithAuditLog,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tacogerbil/chatterboxPro/internal/assembly"
	"github.com/tacogerbil/chatterboxPro/internal/audit"
	"github.com/tacogerbil/chatterboxPro/internal/autofix"
	"github.com/tacogerbil/chatterboxPro/internal/config"
	"github.com/tacogerbil/chatterboxPro/internal/health"
	"github.com/tacogerbil/chatterboxPro/internal/observe"
	"github.com/tacogerbil/chatterboxPro/internal/playlist"
	"github.com/tacogerbil/chatterboxPro/internal/resilience"
	"github.com/tacogerbil/chatterboxPro/internal/scheduler"
	"github.com/tacogerbil/chatterboxPro/internal/signalgate"
	"github.com/tacogerbil/chatterboxPro/internal/validate"
)

// recorderQueue is the number of journal events buffered ahead of the
// audit backend.
const recorderQueue = 4096

// App owns all subsystem lifetimes for one playlist.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	providers    *Providers
	pl           *playlist.Playlist
	playlistPath string
	level        *slog.LevelVar

	metrics   *observe.Metrics
	journal   audit.Log
	recorder  *audit.Recorder
	hub       *scheduler.Hub
	gate      *signalgate.Gate
	validator *validate.Validator
	fixer     *autofix.Fixer
	sched     *scheduler.Scheduler
	assembler *assembly.Engine
	runs      *RunManager
	health    *health.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithAuditLog injects a journal instead of opening one from config.
func WithAuditLog(l audit.Log) Option {
	return func(a *App) { a.journal = l }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the level of the process logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithHub streams transitions to h instead of a hub created by New. Pass
// the hub that [PublishChanges] feeds so structural edits and transitions
// share one stream.
func WithHub(h *scheduler.Hub) Option {
	return func(a *App) { a.hub = h }
}

// WithPlaylistPath saves the playlist to path after every run and on
// shutdown.
func WithPlaylistPath(path string) Option {
	return func(a *App) { a.playlistPath = path }
}

// New creates an App for pl. The providers come from the caller, typically
// built with [BuildProviders].
func New(ctx context.Context, cfg *config.Config, providers *Providers, pl *playlist.Playlist, opts ...Option) (*App, error) {
	if providers == nil || pl == nil {
		return nil, errors.New("app: providers and playlist are required")
	}
	a := &App{cfg: cfg, providers: providers, pl: pl}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initAudit(ctx); err != nil {
		return nil, fmt.Errorf("app: init audit: %w", err)
	}

	var gateOpts []signalgate.Option
	if providers.VAD != nil {
		gateOpts = append(gateOpts, signalgate.WithVAD(providers.VAD))
	}
	a.gate = signalgate.New(GateThresholds(cfg.Engine), gateOpts...)
	a.validator = validate.New(ValidatorPolicy(cfg.Engine))
	a.fixer = autofix.NewFixer(pl, FixPolicy(cfg.Engine))
	if a.hub == nil {
		a.hub = scheduler.NewHub()
	}

	sched, err := scheduler.New(pl, schedulerConfig(cfg, providers.Devices), scheduler.Components{
		Gate:            a.gate,
		Transcriber:     providers.STT,
		TranscriberName: providers.STTName,
		Validator:       a.validator,
		Fixer:           a.fixer,
	},
		scheduler.WithMetrics(a.metrics),
		scheduler.WithRecorder(a.recorder),
		scheduler.WithHub(a.hub),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.sched = sched
	a.runs = NewRunManager(sched, a.afterRun)

	a.assembler = assembly.New(AssemblyConfig(cfg),
		assembly.WithAuditLog(a.journal),
		assembly.WithMetrics(a.metrics))

	a.health = health.New(
		health.Checker{Name: "providers", Check: a.checkBreakers},
		health.Checker{Name: "audit", Check: a.checkJournal},
	)
	a.closers = append(a.closers, providers.Close)
	a.health.SetReady(true)

	snap := pl.Snapshot()
	slog.Info("app ready",
		"entries", snap.Len(),
		"version", snap.Version,
		"audit", cfg.Audit.Driver)
	return a, nil
}

func (a *App) initAudit(ctx context.Context) error {
	if a.journal == nil {
		l, err := audit.Open(ctx, a.cfg.Audit.Driver, a.cfg.Audit.DSN)
		if err != nil {
			return err
		}
		a.journal = l
	}
	a.recorder = audit.NewRecorder(a.journal, recorderQueue)
	return nil
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Playlist returns the playlist the app drives.
func (a *App) Playlist() *playlist.Playlist { return a.pl }

// Runs returns the background run manager.
func (a *App) Runs() *RunManager { return a.runs }

// Hub returns the transition event hub.
func (a *App) Hub() *scheduler.Hub { return a.hub }

// Journal returns the audit log.
func (a *App) Journal() audit.Log { return a.journal }

// Health returns the probe handler.
func (a *App) Health() *health.Handler { return a.health }

// Metrics returns the metric instruments the app records to.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// ─── Assembly ────────────────────────────────────────────────────────────────

// Assemble builds req from the current snapshot. When export is set the
// parts are written under the configured output directory and their paths
// returned.
func (a *App) Assemble(ctx context.Context, req assembly.Request, export bool) (assembly.Result, []string, error) {
	res, err := a.assembler.Assemble(ctx, a.pl.Snapshot(), req)
	if err != nil {
		return assembly.Result{}, nil, err
	}
	if !export {
		return res, nil, nil
	}
	paths, err := assembly.Export(a.Config().Assembly.OutputDir, res)
	if err != nil {
		return res, nil, fmt.Errorf("app: %w", err)
	}
	return res, paths, nil
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of a config change to the
// running engine. Changes that need a restart are logged and otherwise
// ignored.
func (a *App) ApplyConfig(old, new *config.Config) config.ConfigDiff {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(ParseLevel(d.NewLogLevel))
	}
	if d.GateChanged {
		a.gate.SetThresholds(GateThresholds(new.Engine))
	}
	if d.ValidatorChanged {
		a.validator.SetPolicy(ValidatorPolicy(new.Engine))
	}
	if d.RetryChanged {
		a.fixer.SetPolicy(FixPolicy(new.Engine))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
	if !d.Empty() {
		a.mu.Lock()
		a.cfg = new
		a.mu.Unlock()
		slog.Info("config applied",
			"log_level", d.LogLevelChanged,
			"gate", d.GateChanged,
			"validator", d.ValidatorChanged,
			"retry", d.RetryChanged)
	}
	return d
}

// ParseLevel maps a config log level to a slog level.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Persistence ─────────────────────────────────────────────────────────────

// Save writes the playlist to the configured path. It is a no-op without
// [WithPlaylistPath].
func (a *App) Save() error {
	if a.playlistPath == "" {
		return nil
	}
	if err := playlist.Save(a.playlistPath, a.pl.Snapshot()); err != nil {
		return fmt.Errorf("app: save playlist: %w", err)
	}
	return nil
}

func (a *App) afterRun(_ scheduler.Summary, _ error) {
	if err := a.Save(); err != nil {
		slog.Error("saving playlist after run failed", "err", err)
	}
}

// ─── Health ──────────────────────────────────────────────────────────────────

func (a *App) checkBreakers(context.Context) error {
	var open []string
	for _, b := range a.providers.Breakers {
		if b.State() == resilience.StateOpen {
			open = append(open, b.Name())
		}
	}
	if len(open) > 0 {
		return fmt.Errorf("circuit open: %v", open)
	}
	return nil
}

func (a *App) checkJournal(ctx context.Context) error {
	_, err := a.journal.Recent(ctx, 1)
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops any active run, waits for it to drain, flushes the journal
// and tears down subsystems in order. If ctx expires first, the remaining
// steps are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.health.SetReady(false)

		a.runs.Stop()
		if _, err := a.runs.Wait(ctx); err != nil {
			slog.Warn("shutdown deadline exceeded waiting for run", "err", err)
			shutdownErr = err
			return
		}
		if err := a.Save(); err != nil {
			slog.Warn("saving playlist failed", "err", err)
		}

		if err := a.recorder.Close(ctx); err != nil {
			slog.Warn("audit flush incomplete", "err", err)
			shutdownErr = err
			return
		}
		a.closers = append(a.closers, a.journal.Close)

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
