package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/tandemvoice/tandem/internal/config"
)

// base returns a fully-populated config for diffing.
func base() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   config.LogInfo,
		},
		Conversation: config.ConversationConfig{
			LangA:     "en",
			LangB:     "es",
			StartSide: "A",
			FlipDelay: config.Duration(500 * time.Millisecond),
		},
		Monitor: config.MonitorConfig{
			Threshold:      0.02,
			MinSilence:     config.Duration(1500 * time.Millisecond),
			SamplePeriod:   config.Duration(100 * time.Millisecond),
			SmoothingAlpha: 0.7,
		},
		Translation: config.TranslationConfig{
			CacheCapacity: 1000,
			Attempts:      3,
		},
		Providers: config.ProvidersConfig{
			Recognizer: config.ProviderEntry{Name: "whisper"},
			Translator: config.ProviderEntry{Name: "libre"},
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := base()
	d := config.Diff(cfg, cfg)
	if d.HasChanges() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := base(), base()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel: got %q, want debug", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level is hot-applied, got RestartRequired=%v", d.RestartRequired)
	}
}

func TestDiff_ThresholdChanged(t *testing.T) {
	t.Parallel()
	old, new := base(), base()
	new.Monitor.Threshold = 0.05

	d := config.Diff(old, new)
	if !d.ThresholdChanged {
		t.Error("expected ThresholdChanged=true")
	}
	if d.NewThreshold != 0.05 {
		t.Errorf("NewThreshold: got %v, want 0.05", d.NewThreshold)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("threshold is hot-applied, got RestartRequired=%v", d.RestartRequired)
	}
}

func TestDiff_MinSilenceChanged(t *testing.T) {
	t.Parallel()
	old, new := base(), base()
	new.Monitor.MinSilence = config.Duration(2 * time.Second)

	d := config.Diff(old, new)
	if !d.MinSilenceChanged {
		t.Error("expected MinSilenceChanged=true")
	}
	if d.NewMinSilence != 2*time.Second {
		t.Errorf("NewMinSilence: got %v, want 2s", d.NewMinSilence)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("min_silence is hot-applied, got RestartRequired=%v", d.RestartRequired)
	}
}

func TestDiff_SamplePeriodRequiresRestart(t *testing.T) {
	t.Parallel()
	old, new := base(), base()
	new.Monitor.SamplePeriod = config.Duration(50 * time.Millisecond)

	d := config.Diff(old, new)
	if d.ThresholdChanged || d.MinSilenceChanged {
		t.Error("sample period change should not flag hot-applied fields")
	}
	if !slices.Contains(d.RestartRequired, "monitor") {
		t.Errorf("expected monitor in RestartRequired, got %v", d.RestartRequired)
	}
}

func TestDiff_ProviderChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old, new := base(), base()
	new.Providers.Translator.Name = "llm"

	d := config.Diff(old, new)
	if !slices.Contains(d.RestartRequired, "providers") {
		t.Errorf("expected providers in RestartRequired, got %v", d.RestartRequired)
	}
	if !d.HasChanges() {
		t.Error("expected HasChanges=true")
	}
}

func TestDiff_MultipleSectionsRequireRestart(t *testing.T) {
	t.Parallel()
	old, new := base(), base()
	new.Server.ListenAddr = ":9090"
	new.Translation.CacheCapacity = 50

	d := config.Diff(old, new)
	for _, want := range []string{"server", "translation"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("expected %s in RestartRequired, got %v", want, d.RestartRequired)
		}
	}
}

func TestDiff_MixedHotAndRestart(t *testing.T) {
	t.Parallel()
	old, new := base(), base()
	new.Monitor.Threshold = 0.1
	new.Conversation.FlipDelay = config.Duration(time.Second)

	d := config.Diff(old, new)
	if !d.ThresholdChanged {
		t.Error("expected ThresholdChanged=true")
	}
	if !slices.Contains(d.RestartRequired, "conversation") {
		t.Errorf("expected conversation in RestartRequired, got %v", d.RestartRequired)
	}
	if slices.Contains(d.RestartRequired, "monitor") {
		t.Errorf("threshold-only monitor change should not require restart, got %v", d.RestartRequired)
	}
}
