package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tacogerbil/chatterboxPro/internal/config"
	"github.com/tacogerbil/chatterboxPro/internal/observe"
	"github.com/tacogerbil/chatterboxPro/internal/resilience"
	"github.com/tacogerbil/chatterboxPro/internal/scheduler"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/stt"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/vad"
)

// Providers holds the ports the engine runs against. VAD is nil when no
// speech-presence check is configured.
type Providers struct {
	Devices []scheduler.Device
	STT     stt.Provider
	STTName string
	VAD     vad.Engine

	// Breakers guard every port; readiness fails while one is open.
	Breakers []*resilience.CircuitBreaker

	closers []io.Closer
}

// Close releases providers that hold native resources.
func (p *Providers) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildProviders creates every port from cfg through reg. Each synthesis
// device gets its own provider instance, pointed at the device's base URL
// when one is set, behind its own breaker and rate limiter.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	p := &Providers{}

	for _, d := range cfg.Scheduler.Devices {
		entry := cfg.Providers.TTS
		if d.BaseURL != "" {
			entry.BaseURL = d.BaseURL
		}
		raw, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("app: tts for device %q: %w", d.ID, err)
		}
		p.track(raw)
		guarded := resilience.NewTTSFallback(raw, entry.Name+"@"+d.ID, fallbackConfig(entry, m))
		p.Breakers = append(p.Breakers, guarded.Breakers()...)
		p.Devices = append(p.Devices, scheduler.Device{ID: d.ID, Provider: entry.Name, TTS: guarded})
	}

	raw, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("app: stt: %w", err)
	}
	p.track(raw)
	sttGuarded := resilience.NewSTTFallback(raw, cfg.Providers.STT.Name, fallbackConfig(cfg.Providers.STT, m))
	p.Breakers = append(p.Breakers, sttGuarded.Breakers()...)
	p.STT = sttGuarded
	p.STTName = cfg.Providers.STT.Name

	if cfg.Providers.VAD.Name != "" {
		eng, err := reg.CreateVAD(cfg.Providers.VAD)
		if err != nil {
			return nil, fmt.Errorf("app: vad: %w", err)
		}
		p.VAD = eng
	}

	slog.Info("providers ready",
		"tts", cfg.Providers.TTS.Name,
		"devices", len(p.Devices),
		"stt", p.STTName,
		"vad", cfg.Providers.VAD.Name)
	return p, nil
}

func (p *Providers) track(v any) {
	if c, ok := v.(io.Closer); ok {
		p.closers = append(p.closers, c)
	}
}

func fallbackConfig(entry config.ProviderEntry, m *observe.Metrics) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		RatePerMinute: entry.RateLimitPerMinute,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				m.RecordBreakerTransition(context.Background(), name, to.String())
				slog.Warn("circuit breaker transition", "breaker", name, "from", from.String(), "to", to.String())
			},
		},
	}
}
