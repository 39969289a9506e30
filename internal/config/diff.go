package config

import "reflect"

// ConfigDiff describes what changed between two configs, split into what
// can be applied to a running engine and what needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GateChanged covers the energy, trailing and artifact thresholds.
	GateChanged bool
	// ValidatorChanged covers strictness mode, threshold and metric.
	ValidatorChanged bool
	// RetryChanged covers max_retries, splitting and the master seed.
	RetryChanged bool

	// RestartRequired names changed sections that are not hot-reloadable.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.GateChanged && !d.ValidatorChanged && !d.RetryChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	o, n := old.Engine, new.Engine
	d.GateChanged = o.EnergyFloor != n.EnergyFloor ||
		o.TrailingWindowMS != n.TrailingWindowMS ||
		o.TrailingFloor != n.TrailingFloor ||
		o.MinSpeechRatio != n.MinSpeechRatio ||
		o.MaxClippingRatio != n.MaxClippingRatio ||
		o.MaxZeroCrossingRate != n.MaxZeroCrossingRate ||
		o.MinDuration() != n.MinDuration()
	d.ValidatorChanged = o.StrictnessMode != n.StrictnessMode ||
		o.SimilarityThreshold != n.SimilarityThreshold ||
		o.SimilarityMetric != n.SimilarityMetric ||
		o.MaxNoSpeechProb != n.MaxNoSpeechProb ||
		o.MaxCompressionRatio != n.MaxCompressionRatio
	d.RetryChanged = !reflect.DeepEqual(o.MaxRetries, n.MaxRetries) ||
		!reflect.DeepEqual(o.SplitEnabled, n.SplitEnabled) ||
		o.SplitExcessWords != n.SplitExcessWords ||
		o.MasterSeed != n.MasterSeed

	if o.SampleRate != n.SampleRate || o.Channels != n.Channels ||
		o.PauseGranularityMS != n.PauseGranularityMS || o.Voice != n.Voice ||
		o.KeepFailedTakes != n.KeepFailedTakes {
		d.RestartRequired = append(d.RestartRequired, "engine")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	sections := []struct {
		name     string
		old, new any
	}{
		{"providers", old.Providers, new.Providers},
		{"scheduler", old.Scheduler, new.Scheduler},
		{"assembly", old.Assembly, new.Assembly},
		{"audit", old.Audit, new.Audit},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
