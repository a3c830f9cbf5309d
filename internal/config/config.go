// Package config provides the configuration schema, loader, and provider
// registry for the tandem interpretation engine.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tandemvoice/tandem/pkg/types"
)

// Defaults applied by [Load] when the corresponding field is absent or zero.
const (
	DefaultListenAddr     = ":8080"
	DefaultStartSide      = "A"
	DefaultFlipDelay      = 500 * time.Millisecond
	DefaultRecoveryDelay  = 5 * time.Second
	DefaultLogCapacity    = 500
	DefaultThreshold      = 0.02
	DefaultMinSilence     = 1500 * time.Millisecond
	DefaultSamplePeriod   = 100 * time.Millisecond
	DefaultSmoothingAlpha = 0.7
	DefaultMinRunes       = 2
	DefaultQueueCapacity  = 4
	DefaultCacheCapacity  = 1000
	DefaultAttempts       = 3
	DefaultAttemptTimeout = 30 * time.Second
	DefaultPivotLang      = "en"
	DefaultMaxChunkRunes  = 200
	DefaultEmbeddingDims  = 1536
	DefaultServiceName    = "tandem"
)

// LogLevel controls log verbosity for the tandem server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l names one of the four levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to the corresponding slog level. Unknown values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Duration is a [time.Duration] that unmarshals from YAML strings in Go
// duration syntax, e.g. "500ms" or "1.5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("config: duration must be a scalar like \"500ms\"")
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a standard [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for tandem. [Load] parses it
// from a YAML file; defaults and validation are applied on the way in.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Conversation ConversationConfig `yaml:"conversation"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Segmenter    SegmenterConfig    `yaml:"segmenter"`
	Translation  TranslationConfig  `yaml:"translation"`
	Renderer     RendererConfig     `yaml:"renderer"`
	Providers    ProvidersConfig    `yaml:"providers"`
	History      HistoryConfig      `yaml:"history"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the tandem server.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel sets the slog threshold.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS, when set, upgrades the listener to HTTPS. Nil means plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig points at the certificate pair on disk.
type TLSConfig struct {
	// CertFile locates the PEM-encoded certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile locates the PEM-encoded private key.
	KeyFile string `yaml:"key_file"`
}

// ConversationConfig describes the two-party conversation the device mediates.
type ConversationConfig struct {
	// LangA and LangB are the BCP-47 language codes spoken on each side.
	LangA string `yaml:"lang_a"`
	LangB string `yaml:"lang_b"`

	// StartSide selects which side the engine listens to first: "A" or "B".
	StartSide string `yaml:"start_side"`

	// FlipDelay is the pause between the end of spoken output and switching
	// the listening role to the other side.
	FlipDelay Duration `yaml:"flip_delay"`

	// RecoveryDelay is how long the engine waits in the error state before
	// attempting an automatic restart.
	RecoveryDelay Duration `yaml:"recovery_delay"`

	// LogCapacity bounds the in-memory conversation log. Oldest entries are
	// dropped once the cap is reached.
	LogCapacity int `yaml:"log_capacity"`
}

// Pair returns the configured language pair.
func (c ConversationConfig) Pair() types.LanguagePair {
	return types.LanguagePair{A: c.LangA, B: c.LangB}
}

// Side returns the configured starting side. Anything other than "B"
// (case-insensitive) selects side A.
func (c ConversationConfig) Side() types.Side {
	if strings.EqualFold(c.StartSide, "B") {
		return types.SideB
	}
	return types.SideA
}

// MonitorConfig tunes the audio level monitor.
type MonitorConfig struct {
	// Threshold is the normalized RMS level [0,1] below which audio counts
	// as silence.
	Threshold float64 `yaml:"threshold"`

	// MinSilence is how long the smoothed level must stay below Threshold
	// before a silence event fires. Values under 500ms are raised to 500ms.
	MinSilence Duration `yaml:"min_silence"`

	// SamplePeriod is the interval between level samples.
	SamplePeriod Duration `yaml:"sample_period"`

	// SmoothingAlpha is the exponential smoothing weight given to the
	// previous smoothed value, in [0,1). 0 selects the default.
	SmoothingAlpha float64 `yaml:"smoothing_alpha"`
}

// SegmenterConfig tunes utterance segmentation.
type SegmenterConfig struct {
	// MinRunes is the minimum trimmed utterance length; shorter text is
	// discarded.
	MinRunes int `yaml:"min_runes"`

	// ExtraDisfluencies extends the built-in filler-word stoplist
	// ("um", "uh", ...) with additional tokens, e.g. for non-English fillers.
	ExtraDisfluencies []string `yaml:"extra_disfluencies"`

	// QueueCapacity bounds how many flushed utterances may wait for the
	// turn controller before the segmenter blocks further flushes.
	QueueCapacity int `yaml:"queue_capacity"`
}

// TranslationConfig tunes the translation coordinator.
type TranslationConfig struct {
	// CacheCapacity bounds the FIFO translation cache.
	CacheCapacity int `yaml:"cache_capacity"`

	// Attempts is the number of backend tries per utterance.
	Attempts int `yaml:"attempts"`

	// AttemptTimeout bounds each individual backend call.
	AttemptTimeout Duration `yaml:"attempt_timeout"`

	// PivotLang is the intermediate language used when the backend does not
	// support a direct pair.
	PivotLang string `yaml:"pivot_lang"`
}

// RendererConfig tunes chunked speech output.
type RendererConfig struct {
	// MaxChunkRunes is the soft upper bound on synthesized chunk length.
	// Text is split on sentence boundaries first, then on words.
	MaxChunkRunes int `yaml:"max_chunk_runes"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline capability. Each entry selects a named factory registered in the
// [Registry].
type ProvidersConfig struct {
	// Recognizer converts speech to text.
	Recognizer ProviderEntry `yaml:"recognizer"`

	// Translator converts text between languages. TranslatorFallbacks are
	// tried in order when the primary keeps failing.
	Translator          ProviderEntry   `yaml:"translator"`
	TranslatorFallbacks []ProviderEntry `yaml:"translator_fallbacks"`

	// Synthesizer renders speech. SynthesizerBaseline, when set, is the
	// cheaper fallback used if the primary is unreachable at startup.
	Synthesizer         ProviderEntry `yaml:"synthesizer"`
	SynthesizerBaseline ProviderEntry `yaml:"synthesizer_baseline"`

	// Audio selects the capture/playback device.
	Audio ProviderEntry `yaml:"audio"`

	// Embeddings vectorizes text for history search. Optional; required only
	// when history.postgres_dsn is set.
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper",
	// "libre", "piper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// Supports ${VAR} environment interpolation like every string field.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Voice is the synthesizer voice identifier. Ignored by other kinds.
	Voice string `yaml:"voice"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// HistoryConfig holds settings for the persistent turn history.
type HistoryConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the pgvector-backed
	// history store. Empty disables persistence.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the vector dimension of the embeddings column.
	// Must match the model configured in providers.embeddings.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	// ServiceName is reported as the OTel service.name resource attribute.
	ServiceName string `yaml:"service_name"`
}
