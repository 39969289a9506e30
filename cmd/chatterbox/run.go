package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tacogerbil/chatterboxPro/internal/app"
	"github.com/tacogerbil/chatterboxPro/internal/assembly"
	"github.com/tacogerbil/chatterboxPro/internal/config"
)

const shutdownTimeout = 30 * time.Second

type assembleFlags struct {
	chapter    int
	perChapter bool
	actor      string
	reason     string
}

func (f *assembleFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.chapter, "chapter", assembly.WholeBook, "chapter number to assemble (-1 for the whole book)")
	cmd.Flags().BoolVar(&f.perChapter, "per-chapter", false, "write one file per chapter (defaults to assembly.per_chapter)")
	cmd.Flags().StringVar(&f.actor, "actor", os.Getenv("USER"), "name recorded in the audit journal")
	cmd.Flags().StringVar(&f.reason, "override", "", "assemble chunks that have not passed, journaling this reason")
}

func (f *assembleFlags) request(cmd *cobra.Command, cfg *config.Config) assembly.Request {
	req := assembly.Request{Chapter: f.chapter, PerChapter: cfg.Assembly.PerChapter}
	if cmd.Flags().Changed("per-chapter") {
		req.PerChapter = f.perChapter
	}
	if f.reason != "" {
		req.Override = &assembly.Override{Actor: f.actor, Reason: f.reason}
	}
	return req
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		assemble bool
		af       assembleFlags
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate and verify every chunk until the book converges",
		Long: `run claims pending chunks, synthesizes them on every configured device,
validates the takes and applies the auto-fix policy until every chunk is in a
resting state. Ctrl+C stops claiming new work and drains in-flight jobs.

The playlist is saved after the run, so an interrupted book resumes where it
left off.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := newSession(ctx, opts.configPath)
			if err != nil {
				return err
			}
			defer s.close(context.Background())

			a, err := s.newApp(ctx, opts.playlistPath)
			if err != nil {
				slog.Error("failed to initialise application", "err", err)
				return err
			}
			printBox(os.Stdout, startupSummary(s.cfg))

			w := watchConfig(opts.configPath, a)
			if w != nil {
				defer w.Stop()
			}

			runErr := runOnce(ctx, a, af.actor)
			if runErr == nil && assemble && ctx.Err() == nil {
				runErr = assembleAndExport(ctx, a, af.request(cmd, a.Config()))
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.Shutdown(shutdownCtx); err != nil {
				slog.Error("shutdown error", "err", err)
				return errors.Join(runErr, err)
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&assemble, "assemble", false, "assemble and export once the book converges")
	af.register(cmd)
	return cmd
}

// runOnce starts a run and waits for it. Cancelling ctx stops the run and
// waits for the drain; a stopped run is not an error.
func runOnce(ctx context.Context, a *app.App, actor string) error {
	if _, err := a.Runs().Start(ctx, actor); err != nil {
		return err
	}
	info, err := a.Runs().Wait(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	printBox(os.Stdout, runSummary(info))
	if info.Err != "" {
		return fmt.Errorf("run %s: %s", info.ID, info.Err)
	}
	return nil
}

func assembleAndExport(ctx context.Context, a *app.App, req assembly.Request) error {
	res, paths, err := a.Assemble(ctx, req, true)
	if err != nil {
		if errors.Is(err, assembly.ErrNotReady) {
			slog.Error("book has chunks that did not pass; fix them or pass --override with a reason", "err", err)
		}
		return err
	}
	printBox(os.Stdout, assemblySummary(res, paths))
	return nil
}

// watchConfig applies hot-reloadable config changes to a. Failing to watch is
// not fatal.
func watchConfig(path string, a *app.App) *config.Watcher {
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		a.ApplyConfig(old, new)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "path", path, "err", err)
		return nil
	}
	return w
}
