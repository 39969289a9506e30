// Command chatterbox drives an audiobook through synthesis, verification and
// assembly.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/tacogerbil/chatterboxPro/internal/app"
	"github.com/tacogerbil/chatterboxPro/internal/config"
	"github.com/tacogerbil/chatterboxPro/internal/observe"
	"github.com/tacogerbil/chatterboxPro/internal/playlist"
	"github.com/tacogerbil/chatterboxPro/internal/scheduler"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath   string
	playlistPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "chatterbox",
		Short: "Generate, verify and assemble audiobook narration",
		Long: `chatterbox turns a playlist of text chunks into finished audio.

Every chunk is synthesized, checked for signal quality, transcribed and
compared against its source text. Chunks that fail are re-rolled, split or
flagged until the book converges, then passed takes are assembled into
chapter files.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "chatterbox.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVarP(&opts.playlistPath, "playlist", "p", "", "playlist file (.yaml, .toml or .json)")

	root.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newAssembleCmd(opts),
		newCheckConfigCmd(opts),
	)
	return root
}

// session is everything a command needs once configuration is loaded.
type session struct {
	cfg     *config.Config
	level   *slog.LevelVar
	metrics *observe.Metrics
	// shutdownObs flushes the meter and tracer providers.
	shutdownObs func(context.Context) error
}

// loadConfig reads the configuration and installs the logger. Config errors
// are printed to stderr since no logger exists yet.
func loadConfig(path string) (*config.Config, *slog.LevelVar, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "chatterbox: config file %q not found; copy configs/example.yaml to get started\n", path)
		} else {
			fmt.Fprintf(os.Stderr, "chatterbox: %v\n", err)
		}
		return nil, nil, err
	}
	level := new(slog.LevelVar)
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))
	return cfg, level, nil
}

func newSession(ctx context.Context, configPath string) (*session, error) {
	cfg, level, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "chatterbox",
		ServiceVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return &session{cfg: cfg, level: level, metrics: m, shutdownObs: shutdown}, nil
}

func (s *session) close(ctx context.Context) {
	if err := s.shutdownObs(ctx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
}

// loadPlaylist opens the playlist named by --playlist. Edits are streamed
// to hub when it is non-nil.
func (s *session) loadPlaylist(path string, hub *scheduler.Hub) (*playlist.Playlist, error) {
	if path == "" {
		return nil, errors.New("--playlist is required")
	}
	opts := []playlist.Option{playlist.WithPauseGranularity(s.cfg.Engine.PauseGranularity())}
	if hub != nil {
		opts = append(opts, playlist.WithOnChange(app.PublishChanges(hub)))
	}
	pl, err := playlist.Load(path, opts...)
	if err != nil {
		return nil, err
	}
	return pl, nil
}

// newApp builds the providers and the application around the playlist.
func (s *session) newApp(ctx context.Context, playlistPath string) (*app.App, error) {
	hub := scheduler.NewHub()
	pl, err := s.loadPlaylist(playlistPath, hub)
	if err != nil {
		return nil, err
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := app.BuildProviders(s.cfg, reg, s.metrics)
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, s.cfg, providers, pl,
		app.WithMetrics(s.metrics),
		app.WithLogLevel(s.level),
		app.WithPlaylistPath(playlistPath),
		app.WithHub(hub),
	)
	if err != nil {
		_ = providers.Close()
		return nil, err
	}
	return a, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
