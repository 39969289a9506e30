package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tacogerbil/chatterboxPro/internal/api"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		startRun bool
		origins  []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP control API",
		Long: `serve exposes run control, playlist inspection and edits, assembly and a
websocket stream of chunk transitions on server.listen_addr. Health probes
are at /healthz and /readyz and Prometheus metrics at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := newSession(ctx, opts.configPath)
			if err != nil {
				return err
			}
			defer s.close(context.Background())
			if s.cfg.Server.ListenAddr == "" {
				return errors.New("server.listen_addr is not set")
			}

			a, err := s.newApp(ctx, opts.playlistPath)
			if err != nil {
				slog.Error("failed to initialise application", "err", err)
				return err
			}
			printBox(os.Stdout, startupSummary(s.cfg))

			if w := watchConfig(opts.configPath, a); w != nil {
				defer w.Stop()
			}

			srv := &http.Server{
				Addr:              s.cfg.Server.ListenAddr,
				Handler:           api.New(a, api.WithVersion(version), api.WithOriginPatterns(origins...)).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			if startRun {
				if _, err := a.Runs().Start(ctx, "serve"); err != nil {
					slog.Warn("initial run not started", "err", err)
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				slog.Info("api listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				slog.Info("shutdown signal received, stopping…")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				// Readiness drops first so load balancers stop sending work.
				appErr := a.Shutdown(shutdownCtx)
				srvErr := srv.Shutdown(shutdownCtx)
				return errors.Join(appErr, srvErr)
			})
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&startRun, "run", false, "start a run as soon as the server is up")
	cmd.Flags().StringSliceVar(&origins, "allow-origin", nil, "extra origins allowed to open the event stream")
	return cmd
}
