package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tacogerbil/chatterboxPro/internal/config"
)

func newCheckConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and the playlist without running anything",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}

			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			var errs []error
			for _, p := range []struct {
				kind     string
				entry    config.ProviderEntry
				required bool
			}{
				{"tts", cfg.Providers.TTS, true},
				{"stt", cfg.Providers.STT, true},
				{"vad", cfg.Providers.VAD, false},
			} {
				switch {
				case p.entry.Name == "" && p.required:
					errs = append(errs, fmt.Errorf("providers.%s.name is required", p.kind))
				case p.entry.Name != "" && !reg.Has(p.kind, p.entry.Name):
					errs = append(errs, fmt.Errorf("providers.%s.name %q is not a built-in provider", p.kind, p.entry.Name))
				}
			}
			if err := errors.Join(errs...); err != nil {
				return err
			}
			printBox(os.Stdout, startupSummary(cfg))

			if opts.playlistPath != "" {
				s := &session{cfg: cfg}
				pl, err := s.loadPlaylist(opts.playlistPath, nil)
				if err != nil {
					return err
				}
				snap := pl.Snapshot()
				fmt.Printf("playlist %s: %d entries, %d chapters, converged=%v\n",
					opts.playlistPath, snap.Len(), len(snap.Chapters()), snap.Converged())
			}
			fmt.Println("configuration OK")
			return nil
		},
	}
}
