package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/tacogerbil/chatterboxPro/internal/app"
	"github.com/tacogerbil/chatterboxPro/internal/assembly"
	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/internal/config"
)

var (
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Width(18).Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type row struct{ label, value string }

func box(title string, rows []row) string {
	lines := []string{titleStyle.Render(title)}
	for _, r := range rows {
		lines = append(lines, labelStyle.Render(r.label)+r.value)
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// ── Startup summary ───────────────────────────────────────────────────────────

func startupSummary(cfg *config.Config) string {
	devices := make([]string, 0, len(cfg.Scheduler.Devices))
	for _, d := range cfg.Scheduler.Devices {
		devices = append(devices, d.ID)
	}
	rows := []row{
		{"TTS", providerLabel(cfg.Providers.TTS)},
		{"STT", providerLabel(cfg.Providers.STT)},
		{"VAD", providerLabel(cfg.Providers.VAD)},
		{"Devices", strings.Join(devices, ", ")},
		{"Strictness", strictnessLabel(cfg.Engine)},
		{"Retries", retriesLabel(cfg.Engine)},
		{"Format", fmt.Sprintf("%d Hz / %d ch", cfg.Engine.SampleRate, cfg.Engine.Channels)},
		{"Audit", cfg.Audit.Driver},
		{"Output", cfg.Assembly.OutputDir},
	}
	if cfg.Server.ListenAddr != "" {
		rows = append(rows, row{"Listen addr", cfg.Server.ListenAddr})
	}
	return box("chatterbox "+version, rows)
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	default:
		return e.Name
	}
}

func strictnessLabel(e config.EngineConfig) string {
	if e.StrictnessMode == config.ModeLenient {
		return fmt.Sprintf("lenient (%s >= %.2f)", e.SimilarityMetric, e.SimilarityThreshold)
	}
	return string(e.StrictnessMode)
}

func retriesLabel(e config.EngineConfig) string {
	p := app.FixPolicy(e)
	retries := "unbounded"
	if p.MaxRetries >= 0 {
		retries = humanize.Comma(int64(p.MaxRetries))
	}
	if p.SplitEnabled {
		retries += ", then split"
	}
	return retries
}

// ── Run summary ───────────────────────────────────────────────────────────────

func runSummary(info app.RunInfo) string {
	rows := []row{
		{"Run", info.ID},
		{"Started", humanize.Time(info.StartedAt)},
	}
	if info.Err != "" {
		rows = append(rows, row{"Error", failStyle.Render(info.Err)})
	}
	if s := info.Summary; s != nil {
		outcome := okStyle.Render("converged")
		switch {
		case s.Stopped:
			outcome = warnStyle.Render("stopped")
		case !s.Converged:
			outcome = failStyle.Render("not converged")
		}
		rows = append(rows,
			row{"Outcome", outcome},
			row{"Attempts", humanize.Comma(int64(s.Attempts))},
			row{"Elapsed", s.Elapsed.Round(time.Millisecond).String()},
		)
		for _, st := range chunk.AllStatuses {
			if n := s.Stats[st]; n > 0 {
				rows = append(rows, row{st.String(), statusStyle(st).Render(humanize.Comma(int64(n)))})
			}
		}
	}
	return box("Run summary", rows)
}

func statusStyle(s chunk.Status) lipgloss.Style {
	switch s {
	case chunk.Passed:
		return okStyle
	case chunk.FailedPermanent:
		return failStyle
	case chunk.Skipped, chunk.FailedTransient:
		return warnStyle
	}
	return lipgloss.NewStyle()
}

// ── Assembly summary ──────────────────────────────────────────────────────────

func assemblySummary(res assembly.Result, paths []string) string {
	rows := []row{
		{"Playlist version", humanize.Comma(int64(res.Version))},
		{"Total", res.Duration().Round(time.Millisecond).String()},
	}
	for i, p := range res.Parts {
		label := p.Title
		if label == "" {
			label = "book"
		}
		value := fmt.Sprintf("%s, %d chunks", p.Duration().Round(time.Millisecond), p.Chunks)
		if n := len(p.Omitted); n > 0 {
			value += warnStyle.Render(fmt.Sprintf(", %d omitted", n))
		}
		if i < len(paths) {
			value += ", " + fileLabel(paths[i])
		}
		rows = append(rows, row{label, value})
	}
	return box("Assembly", rows)
}

func fileLabel(path string) string {
	fi, err := os.Stat(path)
	if err != nil {
		return path
	}
	return fmt.Sprintf("%s (%s)", path, humanize.Bytes(uint64(fi.Size())))
}

func printBox(w io.Writer, s string) {
	fmt.Fprintln(w, s)
}
