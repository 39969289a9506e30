package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tacogerbil/chatterboxPro/internal/app"
	"github.com/tacogerbil/chatterboxPro/internal/assembly"
	"github.com/tacogerbil/chatterboxPro/internal/audit"
)

func newAssembleCmd(opts *rootOptions) *cobra.Command {
	var af assembleFlags
	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Assemble a saved playlist into audio files",
		Long: `assemble reads a playlist whose chunks carry take files and writes the
book (or one file per chapter) to assembly.output_dir. No synthesis or
transcription provider is contacted.

Every chunk in scope must have passed. --override assembles anyway, leaving
unpassed chunks out; the override is written to the audit journal first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx, opts.configPath)
			if err != nil {
				return err
			}
			defer s.close(context.Background())

			pl, err := s.loadPlaylist(opts.playlistPath, nil)
			if err != nil {
				return err
			}
			journal, err := audit.Open(ctx, s.cfg.Audit.Driver, s.cfg.Audit.DSN)
			if err != nil {
				return err
			}
			defer journal.Close()

			eng := assembly.New(app.AssemblyConfig(s.cfg),
				assembly.WithAuditLog(journal),
				assembly.WithMetrics(s.metrics))
			res, err := eng.Assemble(ctx, pl.Snapshot(), af.request(cmd, s.cfg))
			if err != nil {
				if errors.Is(err, assembly.ErrNotReady) {
					slog.Error("book has chunks that did not pass; pass --override with a reason to assemble anyway", "err", err)
				}
				return err
			}
			paths, err := assembly.Export(s.cfg.Assembly.OutputDir, res)
			if err != nil {
				return err
			}
			printBox(os.Stdout, assemblySummary(res, paths))
			return nil
		},
	}
	af.register(cmd)
	return cmd
}
