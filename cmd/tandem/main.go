// Command tandem is the main entry point for the tandem translation device
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/tandemvoice/tandem/internal/app"
	"github.com/tandemvoice/tandem/internal/config"
	"github.com/tandemvoice/tandem/pkg/audio"
	audiomock "github.com/tandemvoice/tandem/pkg/audio/mock"
	"github.com/tandemvoice/tandem/pkg/audio/portaudio"
	"github.com/tandemvoice/tandem/pkg/audio/wsbridge"
	"github.com/tandemvoice/tandem/pkg/provider/embeddings"
	embedmock "github.com/tandemvoice/tandem/pkg/provider/embeddings/mock"
	olembed "github.com/tandemvoice/tandem/pkg/provider/embeddings/ollama"
	oaembed "github.com/tandemvoice/tandem/pkg/provider/embeddings/openai"
	"github.com/tandemvoice/tandem/pkg/provider/stt"
	"github.com/tandemvoice/tandem/pkg/provider/stt/deepgram"
	sttmock "github.com/tandemvoice/tandem/pkg/provider/stt/mock"
	"github.com/tandemvoice/tandem/pkg/provider/stt/whisper"
	"github.com/tandemvoice/tandem/pkg/provider/translate"
	"github.com/tandemvoice/tandem/pkg/provider/translate/libre"
	"github.com/tandemvoice/tandem/pkg/provider/translate/llm"
	translatemock "github.com/tandemvoice/tandem/pkg/provider/translate/mock"
	"github.com/tandemvoice/tandem/pkg/provider/tts"
	ttsmock "github.com/tandemvoice/tandem/pkg/provider/tts/mock"
	oatts "github.com/tandemvoice/tandem/pkg/provider/tts/openai"
	"github.com/tandemvoice/tandem/pkg/provider/tts/piper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── Flags & configuration ─────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tandem: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tandem: %v\n", err)
		}
		return 1
	}

	// ── Logging ───────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("tandem server starting",
		"languages", cfg.Conversation.LangA+"/"+cfg.Conversation.LangB,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"config", *configPath,
	)

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("provider construction failed", "error", err)
		return 1
	}

	// ── Lifecycle ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(logLevel))
	if err != nil {
		slog.Error("application init failed", "error", err)
		return 1
	}

	// Config hot-reload; a broken watcher is not fatal, edits just need a
	// restart until the next start.
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot-reload disabled", "error", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("tandem ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("engine stopped with error", "error", err)
		return 1
	}

	// ── Shutdown ──────────────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		return 1
	}
	slog.Info("stopped cleanly")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders fills reg with a factory per supported backend.
// Factories turn a config.ProviderEntry (name, key, URL, options map) into a
// live provider; unknown option keys are simply ignored.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Recognizers ───────────────────────────────────────────────────────────

	reg.RegisterRecognizer("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, whisper.WithSampleRate(rate))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterRecognizer("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, whisper.WithNativeSampleRate(rate))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterRecognizer("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, deepgram.WithSampleRate(rate))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterRecognizer("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})

	// ── Translators ───────────────────────────────────────────────────────────

	reg.RegisterTranslator("libre", func(entry config.ProviderEntry) (translate.Provider, error) {
		var opts []libre.Option
		if entry.APIKey != "" {
			opts = append(opts, libre.WithAPIKey(entry.APIKey))
		}
		return libre.New(entry.BaseURL, opts...)
	})

	// The llm translator rides any chat-completion backend any-llm-go knows;
	// the backend is picked with options.provider (openai, ollama, ...).
	reg.RegisterTranslator("llm", func(entry config.ProviderEntry) (translate.Provider, error) {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return llm.New(optString(entry.Options, "provider"), entry.Model, opts...)
	})

	reg.RegisterTranslator("mock", func(config.ProviderEntry) (translate.Provider, error) {
		return &translatemock.Provider{}, nil
	})

	// ── Synthesizers ──────────────────────────────────────────────────────────

	reg.RegisterSynthesizer("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if entry.Voice != "" {
			opts = append(opts, oatts.WithVoice(entry.Voice))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	reg.RegisterSynthesizer("piper", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []piper.Option
		if rate := optInt(entry.Options, "output_sample_rate"); rate > 0 {
			opts = append(opts, piper.WithOutputSampleRate(rate))
		}
		return piper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSynthesizer("mock", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})

	// ── Audio platforms ───────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry) (audio.Platform, error) {
		var opts []portaudio.Option
		if rate := optInt(entry.Options, "capture_rate"); rate > 0 {
			opts = append(opts, portaudio.WithCaptureRate(rate))
		}
		if rate := optInt(entry.Options, "playback_rate"); rate > 0 {
			opts = append(opts, portaudio.WithPlaybackRate(rate))
		}
		if n := optInt(entry.Options, "frames_per_buffer"); n > 0 {
			opts = append(opts, portaudio.WithFramesPerBuffer(n))
		}
		if name := optString(entry.Options, "input_device"); name != "" {
			opts = append(opts, portaudio.WithInputDevice(name))
		}
		if name := optString(entry.Options, "output_device"); name != "" {
			opts = append(opts, portaudio.WithOutputDevice(name))
		}
		return portaudio.New(opts...), nil
	})

	reg.RegisterAudio("wsbridge", func(config.ProviderEntry) (audio.Platform, error) {
		return wsbridge.New(), nil
	})

	reg.RegisterAudio("mock", func(config.ProviderEntry) (audio.Platform, error) {
		return &audiomock.Platform{
			OpenFunc: func(context.Context) (audio.Device, error) {
				return audiomock.NewDevice(audio.Format{SampleRate: 16000, Channels: 1}), nil
			},
		}, nil
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []olembed.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, olembed.WithDimensions(dims))
		}
		if ka := optString(entry.Options, "keep_alive"); ka != "" {
			opts = append(opts, olembed.WithKeepAlive(ka))
		}
		return olembed.New(entry.BaseURL, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("mock", func(config.ProviderEntry) (embeddings.Provider, error) {
		return &embedmock.Provider{DimensionsValue: 4}, nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders resolves every provider named in cfg through the registry.
// Optional slots (baseline synthesizer, embeddings) stay nil when the config
// leaves them blank.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	p, err := reg.CreateRecognizer(cfg.Providers.Recognizer)
	if err != nil {
		return nil, fmt.Errorf("create recognizer %q: %w", cfg.Providers.Recognizer.Name, err)
	}
	ps.Recognizer = p
	slog.Info("provider created", "kind", "recognizer", "name", cfg.Providers.Recognizer.Name)

	tr, err := reg.CreateTranslator(cfg.Providers.Translator)
	if err != nil {
		return nil, fmt.Errorf("create translator %q: %w", cfg.Providers.Translator.Name, err)
	}
	ps.Translator = tr
	slog.Info("provider created", "kind", "translator", "name", cfg.Providers.Translator.Name)

	for _, entry := range cfg.Providers.TranslatorFallbacks {
		fb, err := reg.CreateTranslator(entry)
		if err != nil {
			return nil, fmt.Errorf("create fallback translator %q: %w", entry.Name, err)
		}
		ps.TranslatorFallbacks = append(ps.TranslatorFallbacks, fb)
		slog.Info("provider created", "kind", "translator fallback", "name", entry.Name)
	}

	syn, err := reg.CreateSynthesizer(cfg.Providers.Synthesizer)
	if err != nil {
		return nil, fmt.Errorf("create synthesizer %q: %w", cfg.Providers.Synthesizer.Name, err)
	}
	ps.Synthesizer = syn
	slog.Info("provider created", "kind", "synthesizer", "name", cfg.Providers.Synthesizer.Name)

	if name := cfg.Providers.SynthesizerBaseline.Name; name != "" {
		base, err := reg.CreateSynthesizer(cfg.Providers.SynthesizerBaseline)
		if err != nil {
			return nil, fmt.Errorf("create baseline synthesizer %q: %w", name, err)
		}
		ps.SynthesizerBaseline = base
		slog.Info("provider created", "kind", "baseline synthesizer", "name", name)
	}

	au, err := reg.CreateAudio(cfg.Providers.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio platform %q: %w", cfg.Providers.Audio.Name, err)
	}
	ps.Audio = au
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	if name := cfg.Providers.Embeddings.Name; name != "" {
		emb, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = emb
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

const summaryWidth = 44

func printStartupSummary(cfg *config.Config) {
	border := strings.Repeat("═", summaryWidth)
	fmt.Fprintln(os.Stderr, "╔"+border+"╗")
	fmt.Fprintf(os.Stderr, "║ %-*s ║\n", summaryWidth-2, "tandem: turn-taking translation device")
	fmt.Fprintln(os.Stderr, "╠"+border+"╣")
	summaryRow("Languages", cfg.Conversation.LangA+" ↔ "+cfg.Conversation.LangB)
	summaryRow("Start side", cfg.Conversation.Side().String())
	summaryRow("Recognizer", providerLabel(cfg.Providers.Recognizer))
	summaryRow("Translator", providerLabel(cfg.Providers.Translator))
	summaryRow("Synthesizer", providerLabel(cfg.Providers.Synthesizer))
	summaryRow("Baseline", providerLabel(cfg.Providers.SynthesizerBaseline))
	summaryRow("Audio", providerLabel(cfg.Providers.Audio))
	summaryRow("Embeddings", providerLabel(cfg.Providers.Embeddings))
	if cfg.History.PostgresDSN != "" {
		summaryRow("History", "postgres")
	} else {
		summaryRow("History", "(disabled)")
	}
	summaryRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(os.Stderr, "╚"+border+"╝")
}

func summaryRow(label, value string) {
	width := summaryWidth - 18
	if len([]rune(value)) > width {
		value = string([]rune(value)[:width-1]) + "…"
	}
	fmt.Fprintf(os.Stderr, "║  %-12s : %-*s ║\n", label, width, value)
}

func providerLabel(entry config.ProviderEntry) string {
	if entry.Name == "" {
		return "(not configured)"
	}
	if entry.Model != "" {
		return entry.Name + " / " + entry.Model
	}
	return entry.Name
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned LevelVar lets the config
// watcher retune verbosity at runtime.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(level.Level())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString reads a string-typed value from a provider options map, returning
// "" when the key is absent or holds another type.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt reads an integer from a provider options map. YAML decodes small
// numbers as int but sometimes float64, so both are accepted; anything else
// reads as 0.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
