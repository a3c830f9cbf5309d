package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs. Only the log level
// and the monitor's threshold and min_silence can be hot-applied; every other
// change is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     float64

	MinSilenceChanged bool
	NewMinSilence     time.Duration

	// RestartRequired lists config sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// HasChanges reports whether anything at all differs between the configs.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.ThresholdChanged || d.MinSilenceChanged || len(d.RestartRequired) > 0
}

// Diff reports the differences between two configs, split into hot-applicable
// changes and sections that need a restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Monitor.Threshold != new.Monitor.Threshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.Monitor.Threshold
	}
	if old.Monitor.MinSilence != new.Monitor.MinSilence {
		d.MinSilenceChanged = true
		d.NewMinSilence = new.Monitor.MinSilence.Std()
	}

	// Blank out the hot-applied fields on copies, then compare the rest
	// section by section. ProvidersConfig holds maps and slices, but only
	// scalar fields are zeroed so sharing them with the originals is fine.
	oc, nc := *old, *new
	oc.Server.LogLevel, nc.Server.LogLevel = "", ""
	oc.Monitor.Threshold, nc.Monitor.Threshold = 0, 0
	oc.Monitor.MinSilence, nc.Monitor.MinSilence = 0, 0

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oc.Server, nc.Server},
		{"conversation", oc.Conversation, nc.Conversation},
		{"monitor", oc.Monitor, nc.Monitor},
		{"segmenter", oc.Segmenter, nc.Segmenter},
		{"translation", oc.Translation, nc.Translation},
		{"renderer", oc.Renderer, nc.Renderer},
		{"providers", oc.Providers, nc.Providers},
		{"history", oc.History, nc.History},
		{"telemetry", oc.Telemetry, nc.Telemetry},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}

	return d
}
