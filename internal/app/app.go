// Package app wires the tandem subsystems into a running engine.
//
// The App owns the full lifecycle: New constructs and connects every
// subsystem, Run starts the turn controller and serves the HTTP surface until
// the context is cancelled, and Shutdown releases what Run left open.
//
// For testing, inject doubles via functional options (WithMetrics,
// WithHistoryStore, ...). When an option is absent, New builds the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/tandemvoice/tandem/internal/config"
	"github.com/tandemvoice/tandem/internal/conversation"
	"github.com/tandemvoice/tandem/internal/health"
	"github.com/tandemvoice/tandem/internal/monitor"
	"github.com/tandemvoice/tandem/internal/observe"
	"github.com/tandemvoice/tandem/internal/render"
	"github.com/tandemvoice/tandem/internal/resilience"
	"github.com/tandemvoice/tandem/internal/segment"
	"github.com/tandemvoice/tandem/internal/status"
	"github.com/tandemvoice/tandem/internal/translate"
	"github.com/tandemvoice/tandem/internal/turn"
	"github.com/tandemvoice/tandem/pkg/audio"
	"github.com/tandemvoice/tandem/pkg/audio/wsbridge"
	"github.com/tandemvoice/tandem/pkg/history"
	"github.com/tandemvoice/tandem/pkg/history/postgres"
	"github.com/tandemvoice/tandem/pkg/provider/embeddings"
	"github.com/tandemvoice/tandem/pkg/provider/stt"
	translateprov "github.com/tandemvoice/tandem/pkg/provider/translate"
	"github.com/tandemvoice/tandem/pkg/provider/tts"
)

const (
	// httpShutdownTimeout bounds the graceful drain of in-flight requests.
	httpShutdownTimeout = 5 * time.Second

	// calibrationSettle is how long after startup the monitor samples the
	// room before the threshold suggestion is published.
	calibrationSettle = 3 * time.Second
)

// Providers holds one value per provider slot, populated by main via the
// config registry. Recognizer, Translator, Audio, and at least one
// synthesizer are required; the rest are optional.
type Providers struct {
	// Recognizer turns captured speech into transcripts.
	Recognizer stt.Provider

	// Translator is the primary translation backend. TranslatorFallbacks
	// are tried in order once the primary keeps failing.
	Translator          translateprov.Provider
	TranslatorFallbacks []translateprov.Provider

	// Synthesizer is the rich speech backend; SynthesizerBaseline the
	// cheaper one used when the rich backend is absent or unreachable at
	// startup.
	Synthesizer         tts.Provider
	SynthesizerBaseline tts.Provider

	// Audio is the capture/playback platform.
	Audio audio.Platform

	// Embeddings vectorises history entries. Required when history
	// persistence is configured.
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes of one tandem engine instance.
type App struct {
	cfg       *config.Config
	providers *Providers

	logLevel *slog.LevelVar
	metrics  *observe.Metrics

	feed       *status.Feed
	transcript *conversation.Log
	meter      *audio.LevelMeter
	monitor    *monitor.Monitor

	coordinator *translate.Coordinator
	player      *enginePlayer
	renderer    *render.Renderer
	controller  *turn.Controller

	store    history.Store
	recorder *recorder

	gate    *health.Gate
	handler http.Handler

	// closers release long-lived resources, LIFO, during Shutdown.
	closers []func() error

	stopOnce sync.Once

	mu        sync.Mutex
	boundAddr string
}

// Option adjusts New, mainly so tests can slot in doubles.
type Option func(*App)

// WithMetrics injects a metrics sink and skips the OpenTelemetry setup.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithHistoryStore injects a history store instead of opening PostgreSQL
// from the config. The caller keeps ownership; Shutdown will not close it.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLogLevel hands the app the level var behind the process logger so
// config reloads can retune verbosity.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring every subsystem together. The providers
// struct comes from main, populated via the config registry.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		gate:      &health.Gate{},
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.validateProviders(); err != nil {
		return nil, err
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Feed, transcript, level monitor ───────────────────────────────
	a.initConversation()

	// ── 3. Translation ───────────────────────────────────────────────────
	a.initTranslation()

	// ── 4. Speech output ─────────────────────────────────────────────────
	a.initRenderer(ctx)

	// ── 5. History ───────────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 6. Turn controller ───────────────────────────────────────────────
	if err := a.initController(); err != nil {
		return nil, fmt.Errorf("app: init controller: %w", err)
	}

	// ── 7. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) validateProviders() error {
	switch {
	case a.providers == nil:
		return errors.New("app: providers must not be nil")
	case a.providers.Recognizer == nil:
		return errors.New("app: a recognizer provider is required")
	case a.providers.Translator == nil:
		return errors.New("app: a translator provider is required")
	case a.providers.Synthesizer == nil && a.providers.SynthesizerBaseline == nil:
		return errors.New("app: a synthesizer provider is required")
	case a.providers.Audio == nil:
		return errors.New("app: an audio platform is required")
	}
	return nil
}

// initTelemetry sets up the OTel SDK with the Prometheus exporter, unless a
// metrics sink was injected (tests own their own telemetry then).
func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: a.cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return shutdown(sctx)
	})

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// initConversation creates the status feed, the transcript log, and the
// level monitor the turn controller will drive.
func (a *App) initConversation() {
	a.feed = status.NewFeed(status.WithMetrics(a.metrics))
	a.transcript = conversation.NewLog(a.cfg.Conversation.LogCapacity)
	a.meter = &audio.LevelMeter{}
	a.monitor = monitor.New(a.meter,
		a.cfg.Monitor.Threshold,
		a.cfg.Monitor.MinSilence.Std(),
		monitor.WithSamplePeriod(a.cfg.Monitor.SamplePeriod.Std()),
		monitor.WithSmoothingAlpha(a.cfg.Monitor.SmoothingAlpha),
	)
}

// initTranslation stacks the coordinator on the configured backend, wrapped
// in a fallback group when fallback translators are configured.
func (a *App) initTranslation() {
	backend := a.providers.Translator
	if len(a.providers.TranslatorFallbacks) > 0 {
		fb := resilience.NewTranslatorFallback(backend, resilience.FallbackConfig{})
		for _, p := range a.providers.TranslatorFallbacks {
			fb.AddFallback(p)
		}
		backend = fb
	}

	a.coordinator = translate.New(backend,
		translate.WithCacheCapacity(a.cfg.Translation.CacheCapacity),
		translate.WithRetry(resilience.RetryConfig{
			Attempts:       a.cfg.Translation.Attempts,
			AttemptTimeout: a.cfg.Translation.AttemptTimeout.Std(),
		}),
		translate.WithPivotLanguage(a.cfg.Translation.PivotLang),
		translate.WithMetrics(a.metrics),
	)
}

// initRenderer probes for the richer synthesizer and builds the speech
// renderer on the winner. Chunk progress is mirrored onto the status feed.
func (a *App) initRenderer(ctx context.Context) {
	backend := render.SelectBackend(ctx, a.providers.Synthesizer, a.providers.SynthesizerBaseline)
	a.player = &enginePlayer{}
	a.renderer = render.New(backend, a.player,
		render.WithMaxChunkRunes(a.cfg.Renderer.MaxChunkRunes),
		render.WithVoice(a.cfg.Providers.Synthesizer.Voice),
		render.WithMetrics(a.metrics),
		render.WithHooks(render.Hooks{
			OnChunkEnd: func(i, n int) {
				a.feed.Publishf(status.SeverityActive, "spoke chunk %d/%d", i+1, n)
			},
		}),
	)
}

// initHistory opens the PostgreSQL history store when a DSN is configured
// and builds the background recorder. Without a DSN (and without an injected
// store) persistence is disabled.
func (a *App) initHistory(ctx context.Context) error {
	if a.store == nil {
		dsn := a.cfg.History.PostgresDSN
		if dsn == "" {
			slog.Info("app: history persistence disabled")
			return nil
		}
		if a.providers.Embeddings == nil {
			return errors.New("history.postgres_dsn is set but no embeddings provider is configured")
		}
		if dims := a.cfg.History.EmbeddingDimensions; dims != 0 && dims != a.providers.Embeddings.Dimensions() {
			return fmt.Errorf("history.embedding_dimensions is %d but the embeddings provider produces %d-dimensional vectors",
				dims, a.providers.Embeddings.Dimensions())
		}

		store, err := postgres.NewStore(ctx, dsn, a.providers.Embeddings)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		slog.Info("app: history persistence enabled")
	}

	a.recorder = newRecorder(a.store, a.metrics)
	return nil
}

// initController assembles the turn controller from the pieces built above.
func (a *App) initController() error {
	segOpts := []segment.Option{
		segment.WithMinRunes(a.cfg.Segmenter.MinRunes),
		segment.WithQueueCapacity(a.cfg.Segmenter.QueueCapacity),
		segment.WithMetrics(a.metrics),
	}
	if len(a.cfg.Segmenter.ExtraDisfluencies) > 0 {
		segOpts = append(segOpts, segment.WithExtraDisfluencies(a.cfg.Segmenter.ExtraDisfluencies))
	}

	opts := []turn.Option{
		turn.WithStartSide(a.cfg.Conversation.Side()),
		turn.WithFlipDelay(a.cfg.Conversation.FlipDelay.Std()),
		turn.WithRecoveryDelay(a.cfg.Conversation.RecoveryDelay.Std()),
		turn.WithMetrics(a.metrics),
		turn.WithSegmenterOptions(segOpts...),
	}
	if a.recorder != nil {
		opts = append(opts, turn.WithTurnSink(a.recorder.sink))
	}

	ctrl, err := turn.New(turn.Deps{
		Platform:   a.providers.Audio,
		Meter:      a.meter,
		Monitor:    a.monitor,
		Recognizer: a.providers.Recognizer,
		Translator: a.coordinator,
		Speaker:    a.renderer,
		Transcript: a.transcript,
		Feed:       a.feed,
	}, a.cfg.Conversation.Pair(), opts...)
	if err != nil {
		return err
	}
	a.controller = ctrl
	a.player.controller = ctrl
	return nil
}

// initHTTP assembles the served routes: probes, metrics, the status feed
// websocket, and the audio bridge when the configured platform is one.
func (a *App) initHTTP() {
	mux := http.NewServeMux()

	checks := []health.Check{a.gate.Check()}
	if a.store != nil {
		store := a.store
		checks = append(checks, health.Check{Name: "history", Probe: func(ctx context.Context) error {
			_, err := store.Recent(ctx, 1)
			return err
		}})
	}
	hh := health.New(checks, health.WithEngineState(func() string {
		return a.controller.State().String()
	}))
	hh.Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /ws/status", status.NewHandler(a.feed))
	if bridge, ok := a.providers.Audio.(*wsbridge.Platform); ok {
		mux.Handle("GET /ws/audio", bridge)
	}

	a.handler = observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the turn engine, serves the HTTP surface, and blocks until ctx
// is cancelled or the server fails. A clean teardown returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.cfg.Server.ListenAddr, err)
	}
	a.setBoundAddr(ln.Addr().String())

	if err := a.controller.Start(ctx); err != nil {
		ln.Close()
		return fmt.Errorf("app: start engine: %w", err)
	}
	a.gate.MarkReady()

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("app: serving https", "addr", a.BoundAddr())
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("app: serving http", "addr", a.BoundAddr())
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})

	// The recorder outlives gctx so entries from the engine's final turn
	// are still written; it is stopped once the controller is down.
	recorderCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()
	if a.recorder != nil {
		g.Go(func() error {
			a.recorder.run(recorderCtx)
			return nil
		})
	}

	g.Go(func() error {
		a.publishCalibration(gctx)
		return nil
	})

	<-gctx.Done()

	// Teardown order: stop accepting traffic, finish the turn in flight,
	// then let the recorder drain what that turn produced.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("app: http shutdown", "error", err)
	}
	cancel()
	a.controller.Stop()
	stopRecorder()

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// BoundAddr returns the address the HTTP listener is bound to, or "" before
// Run. Useful when listening on port 0.
func (a *App) BoundAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.boundAddr
}

// Handler returns the HTTP surface (probes, metrics, status feed, audio
// bridge) for embedding in another server.
func (a *App) Handler() http.Handler { return a.handler }

// Transcript returns the in-memory conversation log.
func (a *App) Transcript() *conversation.Log { return a.transcript }

func (a *App) setBoundAddr(addr string) {
	a.mu.Lock()
	a.boundAddr = addr
	a.mu.Unlock()
}

// publishCalibration reports ambient level statistics and a suggested
// silence threshold on the status feed once the monitor has sampled the
// room.
func (a *App) publishCalibration(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(calibrationSettle):
	}

	st := a.monitor.Stats()
	if st.Samples == 0 {
		return
	}
	suggested := a.monitor.SuggestThreshold()
	a.feed.Publishf(status.SeverityInfo,
		"calibration: ambient %.4f..%.4f (mean %.4f), suggested threshold %.4f",
		st.Min, st.Max, st.Mean, suggested)
	slog.Info("app: calibration",
		"samples", st.Samples,
		"mean", st.Mean,
		"threshold", a.monitor.Threshold(),
		"suggested", suggested)
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig hot-applies a reloaded configuration. Only the log level and
// the monitor's threshold and minimum silence change while running; every
// other difference is logged as requiring a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.HasChanges() {
		return
	}

	if d.LogLevelChanged {
		if a.logLevel != nil {
			a.logLevel.Set(d.NewLogLevel.Level())
			slog.Info("app: log level changed", "level", d.NewLogLevel)
		} else {
			slog.Warn("app: log level change ignored, no level var attached")
		}
	}
	if d.ThresholdChanged {
		a.monitor.SetThreshold(d.NewThreshold)
		a.feed.Publishf(status.SeverityInfo, "silence threshold set to %.4f", d.NewThreshold)
	}
	if d.MinSilenceChanged {
		a.monitor.SetSilenceDuration(d.NewMinSilence)
		a.feed.Publishf(status.SeverityInfo, "minimum silence set to %s", d.NewMinSilence)
	}
	for _, section := range d.RestartRequired {
		slog.Warn("app: config change requires restart", "section", section)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases everything Run left open: the history store and the
// telemetry pipeline. Closers run in reverse creation order; when ctx
// expires first, the remaining closers are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.controller.Stop()
		a.feed.Close()

		for i := len(a.closers) - 1; i >= 0; i-- {
			if ctx.Err() != nil {
				slog.Warn("app: shutdown deadline exceeded", "remaining", i+1)
				errs = append(errs, ctx.Err())
				return
			}
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		slog.Info("app: shutdown complete")
	})
	return errors.Join(errs...)
}

// ─── Playback ────────────────────────────────────────────────────────────────

// enginePlayer adapts the turn controller's current device to the
// renderer's [render.Player]. The controller reopens devices across
// recoveries, so the device is looked up per call instead of captured at
// wiring time.
type enginePlayer struct {
	controller *turn.Controller
}

func (p *enginePlayer) Play(ctx context.Context, frame audio.AudioFrame) error {
	dev := p.controller.Device()
	if dev == nil {
		return errors.New("app: no audio device open")
	}
	return dev.Play(ctx, frame)
}
