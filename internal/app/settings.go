package app

import (
	"time"

	"github.com/tacogerbil/chatterboxPro/internal/assembly"
	"github.com/tacogerbil/chatterboxPro/internal/autofix"
	"github.com/tacogerbil/chatterboxPro/internal/config"
	"github.com/tacogerbil/chatterboxPro/internal/scheduler"
	"github.com/tacogerbil/chatterboxPro/internal/signalgate"
	"github.com/tacogerbil/chatterboxPro/internal/validate"
	"github.com/tacogerbil/chatterboxPro/pkg/audio"
	"github.com/tacogerbil/chatterboxPro/pkg/types"
)

// GateThresholds converts the engine config into signal gate thresholds.
func GateThresholds(e config.EngineConfig) signalgate.Thresholds {
	return signalgate.Thresholds{
		EnergyFloor:      e.EnergyFloor,
		TrailingWindow:   e.TrailingWindow(),
		TrailingFloor:    e.TrailingFloor,
		MinDuration:      e.MinDuration(),
		MaxClippingRatio: e.MaxClippingRatio,
		MinSpeechRatio:   e.MinSpeechRatio,

		MaxZeroCrossingRate: e.MaxZeroCrossingRate,
	}
}

// ValidatorPolicy converts the engine config into a validator policy.
func ValidatorPolicy(e config.EngineConfig) validate.Policy {
	return validate.Policy{
		Mode:      validate.Mode(e.StrictnessMode),
		Threshold: e.SimilarityThreshold,
		Metric:    validate.Metric(e.SimilarityMetric),

		MaxNoSpeechProb:     e.MaxNoSpeechProb,
		MaxCompressionRatio: e.MaxCompressionRatio,
	}
}

// FixPolicy converts the engine config into an auto-fix policy.
func FixPolicy(e config.EngineConfig) autofix.Policy {
	p := autofix.Policy{
		MaxRetries:       3,
		SplitEnabled:     true,
		SplitExcessWords: e.SplitExcessWords,
		MasterSeed:       e.MasterSeed,
	}
	if e.MaxRetries != nil {
		p.MaxRetries = *e.MaxRetries
	}
	if e.SplitEnabled != nil {
		p.SplitEnabled = *e.SplitEnabled
	}
	return p
}

// Format is the engine's working audio format.
func Format(e config.EngineConfig) audio.Format {
	return audio.Format{SampleRate: e.SampleRate, Channels: e.Channels}
}

func schedulerConfig(cfg *config.Config, devices []scheduler.Device) scheduler.Config {
	return scheduler.Config{
		Devices:           devices,
		ValidationWorkers: cfg.Scheduler.ValidationWorkers,
		DrainTimeout:      cfg.Scheduler.DrainTimeout,
		KeepFailedTakes:   cfg.Engine.KeepFailedTakes,
		TakeDir:           cfg.Scheduler.TakeDir,
		Candidates:        cfg.Scheduler.Candidates,
		Format:            Format(cfg.Engine),
		Voice:             types.VoiceProfile{ID: cfg.Engine.Voice, Provider: cfg.Providers.TTS.Name},
	}
}

// AssemblyConfig is the assembly layout for cfg.
func AssemblyConfig(cfg *config.Config) assembly.Config {
	return assembly.Config{
		Format:  Format(cfg.Engine),
		LeadIn:  time.Duration(cfg.Assembly.LeadInMS) * time.Millisecond,
		LeadOut: time.Duration(cfg.Assembly.LeadOutMS) * time.Millisecond,
	}
}
