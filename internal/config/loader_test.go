package config_test

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/tandemvoice/tandem/internal/config"
)

// minimalYAML carries only the required fields; everything else defaults.
const minimalYAML = `
conversation:
  lang_a: en
  lang_b: es
providers:
  recognizer:
    name: mock
  translator:
    name: mock
  synthesizer:
    name: mock
  audio:
    name: mock
`

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Conversation.StartSide != "A" {
		t.Errorf("start_side: got %q, want A", cfg.Conversation.StartSide)
	}
	if cfg.Conversation.FlipDelay.Std() != 500*time.Millisecond {
		t.Errorf("flip_delay: got %v, want 500ms", cfg.Conversation.FlipDelay.Std())
	}
	if cfg.Conversation.RecoveryDelay.Std() != 5*time.Second {
		t.Errorf("recovery_delay: got %v, want 5s", cfg.Conversation.RecoveryDelay.Std())
	}
	if cfg.Conversation.LogCapacity != 500 {
		t.Errorf("log_capacity: got %d, want 500", cfg.Conversation.LogCapacity)
	}
	if cfg.Monitor.Threshold != config.DefaultThreshold {
		t.Errorf("threshold: got %v, want %v", cfg.Monitor.Threshold, config.DefaultThreshold)
	}
	if cfg.Monitor.MinSilence.Std() != 1500*time.Millisecond {
		t.Errorf("min_silence: got %v, want 1.5s", cfg.Monitor.MinSilence.Std())
	}
	if cfg.Monitor.SamplePeriod.Std() != 100*time.Millisecond {
		t.Errorf("sample_period: got %v, want 100ms", cfg.Monitor.SamplePeriod.Std())
	}
	if cfg.Monitor.SmoothingAlpha != config.DefaultSmoothingAlpha {
		t.Errorf("smoothing_alpha: got %v, want %v", cfg.Monitor.SmoothingAlpha, config.DefaultSmoothingAlpha)
	}
	if cfg.Segmenter.MinRunes != 2 {
		t.Errorf("min_runes: got %d, want 2", cfg.Segmenter.MinRunes)
	}
	if cfg.Segmenter.QueueCapacity != 4 {
		t.Errorf("queue_capacity: got %d, want 4", cfg.Segmenter.QueueCapacity)
	}
	if cfg.Translation.CacheCapacity != 1000 {
		t.Errorf("cache_capacity: got %d, want 1000", cfg.Translation.CacheCapacity)
	}
	if cfg.Translation.Attempts != 3 {
		t.Errorf("attempts: got %d, want 3", cfg.Translation.Attempts)
	}
	if cfg.Translation.AttemptTimeout.Std() != 30*time.Second {
		t.Errorf("attempt_timeout: got %v, want 30s", cfg.Translation.AttemptTimeout.Std())
	}
	if cfg.Translation.PivotLang != "en" {
		t.Errorf("pivot_lang: got %q, want en", cfg.Translation.PivotLang)
	}
	if cfg.Renderer.MaxChunkRunes != 200 {
		t.Errorf("max_chunk_runes: got %d, want 200", cfg.Renderer.MaxChunkRunes)
	}
	if cfg.Telemetry.ServiceName != "tandem" {
		t.Errorf("service_name: got %q, want tandem", cfg.Telemetry.ServiceName)
	}
	// No DSN means no defaulted dimensions.
	if cfg.History.EmbeddingDimensions != 0 {
		t.Errorf("embedding_dimensions: got %d, want 0", cfg.History.EmbeddingDimensions)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TANDEM_TEST_API_KEY", "sk-from-env")

	yaml := minimalYAML + `
  embeddings:
    name: openai
    api_key: ${TANDEM_TEST_API_KEY}
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Providers.Embeddings.APIKey; got != "sk-from-env" {
		t.Errorf("api_key: got %q, want %q", got, "sk-from-env")
	}
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	yaml := minimalYAML + `
  embeddings:
    name: openai
    api_key: ${TANDEM_DEFINITELY_UNSET_VAR}
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Providers.Embeddings.APIKey; got != "" {
		t.Errorf("api_key: got %q, want empty", got)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_MissingLanguages(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  recognizer:
    name: mock
  translator:
    name: mock
  synthesizer:
    name: mock
  audio:
    name: mock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing languages, got nil")
	}
	if !strings.Contains(err.Error(), "lang_a") || !strings.Contains(err.Error(), "lang_b") {
		t.Errorf("error should mention lang_a and lang_b, got: %v", err)
	}
}

func TestValidate_MissingProviders(t *testing.T) {
	t.Parallel()
	yaml := `
conversation:
  lang_a: en
  lang_b: es
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing providers, got nil")
	}
	for _, kind := range []string{"recognizer", "translator", "synthesizer", "audio"} {
		if !strings.Contains(err.Error(), kind) {
			t.Errorf("error should mention %s, got: %v", kind, err)
		}
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_InvalidStartSide(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(minimalYAML, "lang_a: en", "lang_a: en\n  start_side: C", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid start_side, got nil")
	}
	if !strings.Contains(err.Error(), "start_side") {
		t.Errorf("error should mention start_side, got: %v", err)
	}
}

func TestValidate_InvalidSmoothingAlpha(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
monitor:
  smoothing_alpha: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid smoothing_alpha, got nil")
	}
	if !strings.Contains(err.Error(), "smoothing_alpha") {
		t.Errorf("error should mention smoothing_alpha, got: %v", err)
	}
}

func TestValidate_HistoryRequiresEmbeddings(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
history:
  postgres_dsn: postgres://localhost/tandem
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for history without embeddings, got nil")
	}
	if !strings.Contains(err.Error(), "embeddings") {
		t.Errorf("error should mention embeddings, got: %v", err)
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
server:
  tls:
    cert_file: /etc/tandem/cert.pem
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for partial TLS config, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: shouty
conversation:
  lang_a: en
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "lang_b") {
		t.Errorf("error should mention lang_b, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	for _, kind := range []string{"recognizer", "translator", "synthesizer", "audio", "embeddings"} {
		names := config.ValidProviderNames[kind]
		if len(names) == 0 {
			t.Errorf("ValidProviderNames[%q] should not be empty", kind)
		}
		if !slices.Contains(names, "mock") {
			t.Errorf("ValidProviderNames[%q] should contain \"mock\"", kind)
		}
	}
}
