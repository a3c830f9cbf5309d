package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames is the spelling reference for provider names, keyed by
// kind. [Validate] warns when a configured name is not on it.
var ValidProviderNames = map[string][]string{
	"recognizer":  {"whisper", "whisper-native", "deepgram", "mock"},
	"translator":  {"libre", "llm", "mock"},
	"synthesizer": {"openai", "piper", "mock"},
	"audio":       {"portaudio", "wsbridge", "mock"},
	"embeddings":  {"openai", "ollama", "mock"},
}

// envVarPattern matches ${VAR} references in the raw config document.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and validates the YAML config at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, expands ${VAR} references from the
// environment, fills defaults, and validates. Tests use it to build configs
// straight from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${VAR} references with the value of the named
// environment variable. Unset variables expand to the empty string.
func expandEnv(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// applyDefaults fills zero-valued fields with the package defaults.
// Runs before [Validate] so validation sees the effective config.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Conversation.StartSide == "" {
		cfg.Conversation.StartSide = DefaultStartSide
	}
	if cfg.Conversation.FlipDelay == 0 {
		cfg.Conversation.FlipDelay = Duration(DefaultFlipDelay)
	}
	if cfg.Conversation.RecoveryDelay == 0 {
		cfg.Conversation.RecoveryDelay = Duration(DefaultRecoveryDelay)
	}
	if cfg.Conversation.LogCapacity == 0 {
		cfg.Conversation.LogCapacity = DefaultLogCapacity
	}
	if cfg.Monitor.Threshold == 0 {
		cfg.Monitor.Threshold = DefaultThreshold
	}
	if cfg.Monitor.MinSilence == 0 {
		cfg.Monitor.MinSilence = Duration(DefaultMinSilence)
	}
	if cfg.Monitor.SamplePeriod == 0 {
		cfg.Monitor.SamplePeriod = Duration(DefaultSamplePeriod)
	}
	if cfg.Monitor.SmoothingAlpha == 0 {
		cfg.Monitor.SmoothingAlpha = DefaultSmoothingAlpha
	}
	if cfg.Segmenter.MinRunes == 0 {
		cfg.Segmenter.MinRunes = DefaultMinRunes
	}
	if cfg.Segmenter.QueueCapacity == 0 {
		cfg.Segmenter.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.Translation.CacheCapacity == 0 {
		cfg.Translation.CacheCapacity = DefaultCacheCapacity
	}
	if cfg.Translation.Attempts == 0 {
		cfg.Translation.Attempts = DefaultAttempts
	}
	if cfg.Translation.AttemptTimeout == 0 {
		cfg.Translation.AttemptTimeout = Duration(DefaultAttemptTimeout)
	}
	if cfg.Translation.PivotLang == "" {
		cfg.Translation.PivotLang = DefaultPivotLang
	}
	if cfg.Renderer.MaxChunkRunes == 0 {
		cfg.Renderer.MaxChunkRunes = DefaultMaxChunkRunes
	}
	if cfg.History.PostgresDSN != "" && cfg.History.EmbeddingDimensions == 0 {
		cfg.History.EmbeddingDimensions = DefaultEmbeddingDims
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate cross-checks cfg. Hard problems come back together as one joined
// error; suspicious but workable values only produce log warnings.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Conversation
	if cfg.Conversation.LangA == "" {
		errs = append(errs, errors.New("conversation.lang_a is required"))
	}
	if cfg.Conversation.LangB == "" {
		errs = append(errs, errors.New("conversation.lang_b is required"))
	}
	if s := cfg.Conversation.StartSide; !strings.EqualFold(s, "A") && !strings.EqualFold(s, "B") {
		errs = append(errs, fmt.Errorf("conversation.start_side %q is invalid; valid values: A, B", s))
	}
	if cfg.Conversation.FlipDelay < 0 {
		errs = append(errs, errors.New("conversation.flip_delay must not be negative"))
	}
	if cfg.Conversation.LangA != "" && cfg.Conversation.Pair().Same() {
		slog.Warn("conversation.lang_a equals lang_b; translations will pass text through unchanged")
	}

	// Monitor
	if t := cfg.Monitor.Threshold; t < 0 || t > 1 {
		slog.Warn("monitor.threshold out of range [0,1]; it will be clamped", "threshold", t)
	}
	if a := cfg.Monitor.SmoothingAlpha; a < 0 || a >= 1 {
		errs = append(errs, fmt.Errorf("monitor.smoothing_alpha %.2f is out of range [0, 1)", a))
	}
	if cfg.Monitor.MinSilence.Std() < 500*time.Millisecond {
		slog.Warn("monitor.min_silence below the 500ms floor; it will be raised",
			"min_silence", cfg.Monitor.MinSilence.Std())
	}

	// Segmenter
	if cfg.Segmenter.MinRunes < 0 {
		errs = append(errs, errors.New("segmenter.min_runes must not be negative"))
	}
	if cfg.Segmenter.QueueCapacity < 1 {
		errs = append(errs, errors.New("segmenter.queue_capacity must be at least 1"))
	}

	// Translation
	if cfg.Translation.Attempts < 1 {
		errs = append(errs, errors.New("translation.attempts must be at least 1"))
	}
	if cfg.Translation.CacheCapacity < 0 {
		errs = append(errs, errors.New("translation.cache_capacity must not be negative"))
	}

	// Renderer
	if cfg.Renderer.MaxChunkRunes < 1 {
		errs = append(errs, errors.New("renderer.max_chunk_runes must be at least 1"))
	}

	// Providers — the pipeline cannot run without these four.
	if cfg.Providers.Recognizer.Name == "" {
		errs = append(errs, errors.New("providers.recognizer.name is required"))
	}
	if cfg.Providers.Translator.Name == "" {
		errs = append(errs, errors.New("providers.translator.name is required"))
	}
	if cfg.Providers.Synthesizer.Name == "" {
		errs = append(errs, errors.New("providers.synthesizer.name is required"))
	}
	if cfg.Providers.Audio.Name == "" {
		errs = append(errs, errors.New("providers.audio.name is required"))
	}

	validateProviderName("recognizer", cfg.Providers.Recognizer.Name)
	validateProviderName("translator", cfg.Providers.Translator.Name)
	for _, fb := range cfg.Providers.TranslatorFallbacks {
		validateProviderName("translator", fb.Name)
	}
	validateProviderName("synthesizer", cfg.Providers.Synthesizer.Name)
	validateProviderName("synthesizer", cfg.Providers.SynthesizerBaseline.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// History ↔ embeddings
	if cfg.History.PostgresDSN != "" && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("history.postgres_dsn requires providers.embeddings to be configured"))
	}
	if cfg.History.PostgresDSN == "" {
		slog.Debug("history.postgres_dsn is empty; turn history will not be persisted")
	}

	return errors.Join(errs...)
}

// validateProviderName warns when a non-empty name is missing from the
// [ValidProviderNames] spelling reference for its kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if name == "" || !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("provider name not recognised; a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
