// Package render turns translated text into audible speech.
//
// A [Renderer] owns one synthesis backend and one playback sink. Speak splits
// an utterance into chunks, synthesizes each one, and plays them strictly in
// order: chunk N+1 does not start before chunk N has finished playing.
// Callers observe progress through [Hooks] and can stop an utterance outright
// or pause it at the next chunk boundary.
//
// The backend is chosen once at startup with [SelectBackend] and never
// changes mid-conversation, so a flaky premium voice cannot cause the engine
// to flip-flop between voices within a single turn.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tandemvoice/tandem/internal/observe"
	"github.com/tandemvoice/tandem/pkg/audio"
	"github.com/tandemvoice/tandem/pkg/provider/tts"
	"github.com/tandemvoice/tandem/pkg/types"
)

const (
	// DefaultMaxChunkRunes bounds the text sent in a single synthesis
	// request. Roughly two spoken sentences.
	DefaultMaxChunkRunes = 200

	// probeText is the throwaway phrase synthesized to check a backend at
	// startup.
	probeText = "ok"

	// probeTimeout bounds the startup reachability probe.
	probeTimeout = 5 * time.Second
)

// Player is the playback half of an [audio.Device]. Play blocks until the
// frame has been handed to the output transport, which may be before the
// audio has actually been heard.
type Player interface {
	Play(ctx context.Context, frame audio.AudioFrame) error
}

// Hooks are optional callbacks fired on the rendering goroutine as an
// utterance progresses. Nil fields are skipped.
type Hooks struct {
	// OnStart fires once per utterance, before the first chunk is
	// synthesized.
	OnStart func()

	// OnChunkEnd fires after chunk i of n has finished playing. i is
	// zero-based.
	OnChunkEnd func(i, n int)

	// OnEnd fires after the final chunk has played. It does not fire when
	// the utterance was stopped or failed partway through.
	OnEnd func()
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithMaxChunkRunes caps the rune length of a synthesis chunk. Values < 1
// keep [DefaultMaxChunkRunes].
func WithMaxChunkRunes(n int) Option {
	return func(r *Renderer) {
		if n > 0 {
			r.maxRunes = n
		}
	}
}

// WithVoice selects a provider-specific voice for every request.
func WithVoice(voice string) Option {
	return func(r *Renderer) { r.voice = voice }
}

// WithSpeed sets the speaking rate passed to the backend. Zero keeps the
// provider default.
func WithSpeed(speed float64) Option {
	return func(r *Renderer) { r.speed = speed }
}

// WithHooks installs progress callbacks.
func WithHooks(h Hooks) Option {
	return func(r *Renderer) { r.hooks = h }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Renderer) { r.metrics = m }
}

// Renderer synthesizes and plays one utterance at a time.
type Renderer struct {
	backend  tts.Provider
	player   Player
	metrics  *observe.Metrics
	maxRunes int
	voice    string
	speed    float64
	hooks    Hooks

	mu       sync.Mutex
	speaking bool
	stopped  bool
	cancel   context.CancelFunc
	gate     chan struct{} // open while paused, closed on resume, nil otherwise
}

// New creates a Renderer speaking through backend and player.
func New(backend tts.Provider, player Player, opts ...Option) *Renderer {
	r := &Renderer{
		backend:  backend,
		player:   player,
		maxRunes: DefaultMaxChunkRunes,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// SelectBackend picks the synthesis backend for the process lifetime: rich
// when it is configured and answers a short probe, baseline otherwise.
// Either argument may be nil.
func SelectBackend(ctx context.Context, rich, baseline tts.Provider) tts.Provider {
	if rich == nil {
		return baseline
	}
	if baseline == nil {
		return rich
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if _, err := rich.Synthesize(probeCtx, tts.Request{Text: probeText, Lang: "en"}); err != nil {
		slog.Warn("render: synthesizer probe failed, falling back",
			"backend", rich.Name(), "fallback", baseline.Name(), "error", err)
		return baseline
	}
	slog.Info("render: synthesizer selected", "backend", rich.Name())
	return rich
}

// Speak renders text in lang and blocks until every chunk has played, the
// utterance is stopped, or ctx is cancelled. Empty text returns nil without
// firing hooks. Only one utterance may be in flight; a concurrent call fails.
// A stopped utterance returns nil; synthesis or playback failures return a
// [types.EngineError] with kind [types.SpeechError].
func (r *Renderer) Speak(ctx context.Context, text, lang string) error {
	chunks := chunkText(text, r.maxRunes)
	if len(chunks) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.speaking {
		r.mu.Unlock()
		return errors.New("render: utterance already in progress")
	}
	r.speaking = true
	r.stopped = false
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.speaking = false
		r.cancel = nil
		r.mu.Unlock()
	}()

	ctx, span := observe.StartSpan(ctx, "render.utterance")
	defer span.End()

	slog.Debug("render: speaking", "lang", lang, "chunks", len(chunks))
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	for i, chunk := range chunks {
		if err := r.waitIfPaused(ctx); err != nil {
			return r.swallowStop(err)
		}
		if err := r.renderChunk(ctx, chunk, lang, i, len(chunks)); err != nil {
			return r.swallowStop(err)
		}
		if r.hooks.OnChunkEnd != nil {
			r.hooks.OnChunkEnd(i, len(chunks))
		}
	}
	if r.hooks.OnEnd != nil {
		r.hooks.OnEnd()
	}
	return nil
}

// Stop aborts the utterance in progress: the current chunk is cut off and
// the remaining chunks are dropped. Speak returns nil after a stop and OnEnd
// does not fire. Any pending pause is cleared. No-op when idle.
func (r *Renderer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gate != nil {
		close(r.gate)
		r.gate = nil
	}
	if r.cancel == nil {
		return
	}
	r.stopped = true
	r.cancel()
}

// Pause suspends playback at the next chunk boundary. The chunk currently
// playing finishes first; the position within the utterance is kept. No-op
// while already paused.
func (r *Renderer) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gate != nil {
		return
	}
	r.gate = make(chan struct{})
	slog.Debug("render: paused")
}

// Resume releases a pause, letting the next chunk start. No-op when not
// paused.
func (r *Renderer) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gate == nil {
		return
	}
	close(r.gate)
	r.gate = nil
	slog.Debug("render: resumed")
}

// Speaking reports whether an utterance is currently in flight.
func (r *Renderer) Speaking() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speaking
}

// Paused reports whether playback is gated at a chunk boundary.
func (r *Renderer) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gate != nil
}

// renderChunk synthesizes one chunk and plays it to completion. The wait
// after Play paces the pipeline on the clip's play time, since Play may
// return as soon as the frame reaches the transport.
func (r *Renderer) renderChunk(ctx context.Context, chunk, lang string, i, n int) error {
	synthStart := time.Now()
	clip, err := r.backend.Synthesize(ctx, tts.Request{
		Text:  chunk,
		Lang:  lang,
		Voice: r.voice,
		Speed: r.speed,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.metrics.RecordProviderError(ctx, r.backend.Name(), types.SpeechError.String())
		return types.NewEngineError(types.SpeechError,
			fmt.Errorf("render: synthesize chunk %d/%d: %w", i+1, n, err))
	}
	r.metrics.SynthesisDuration.Record(ctx, time.Since(synthStart).Seconds())

	playStart := time.Now()
	err = r.player.Play(ctx, audio.AudioFrame{
		Data:       clip.PCM,
		SampleRate: clip.Format.SampleRate,
		Channels:   clip.Format.Channels,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return types.NewEngineError(types.SpeechError,
			fmt.Errorf("render: play chunk %d/%d: %w", i+1, n, err))
	}
	if wait := clip.Duration() - time.Since(playStart); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// waitIfPaused blocks at a chunk boundary while the renderer is paused. The
// loop re-checks so a pause installed between wake-up and the next chunk is
// honored too.
func (r *Renderer) waitIfPaused(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.mu.Lock()
		gate := r.gate
		r.mu.Unlock()
		if gate == nil {
			return nil
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// swallowStop maps errors caused by [Renderer.Stop] to nil. A deliberate
// stop is not a failure.
func (r *Renderer) swallowStop(err error) error {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		slog.Debug("render: utterance stopped")
		return nil
	}
	return err
}
