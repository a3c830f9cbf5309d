// NativeProvider runs whisper.cpp in process through its CGO bindings.
// Building this file needs libwhisper.a and whisper.h reachable through
// LIBRARY_PATH and C_INCLUDE_PATH.

package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/tandemvoice/tandem/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider runs recognition in process over the whisper.cpp Go
// bindings, so clips never leave the machine. One loaded model serves every
// session.
type NativeProvider struct {
	tuning
	model whisperlib.Model
}

// NativeOption configures a NativeProvider. Each mirrors the HTTP provider
// option of the same base name.
type NativeOption func(*NativeProvider)

// WithNativeLanguage picks the recognition language used whenever a session's
// StreamConfig leaves Language blank. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSampleRate declares the PCM sample rate in Hz. Defaults to 16000.
func WithNativeSampleRate(rate int) NativeOption {
	return func(p *NativeProvider) { p.sampleRate = rate }
}

// WithNativeFlushAfterMs sets how much uninterrupted silence closes a clip
// and runs inference on it. Defaults to 500 ms.
func WithNativeFlushAfterMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.flushAfterMs = ms }
}

// WithNativeMaxClipMs caps a single clip's length regardless of silence.
// Defaults to 10 s.
func WithNativeMaxClipMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.maxClipMs = ms }
}

// NewNative loads the whisper.cpp model at modelPath and returns a provider
// sharing it across all sessions. Close must be called to release the model.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		tuning: defaultTuning(),
		model:  model,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the shared whisper model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// StartStream opens a transcription session that accepts audio immediately.
// Zero/empty fields in cfg fall back to the provider-level defaults.
//
// Each inference builds its own whisper.cpp context from the shared model, so
// the frequent session restarts on side flips never reload the weights.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	lang, rate, channels := p.resolve(cfg)
	engine := &nativeTranscriber{
		model:    p.model,
		language: lang,
		channels: channels,
	}
	gate := newSpeechGate(rate, channels, p.flushAfterMs, p.maxClipMs)
	return newBatchSession(ctx, gate, engine), nil
}

// nativeTranscriber runs clips through the whisper.cpp bindings in process.
// Binding contexts are not goroutine-safe, so each inference creates a fresh
// one; the expensive part, loading the weights, happened once in NewNative.
type nativeTranscriber struct {
	model    whisperlib.Model
	language string
	channels int
}

func (t *nativeTranscriber) transcribe(_ context.Context, pcm []byte) (string, stt.FailureCause, error) {
	wctx, err := t.model.NewContext()
	if err != nil {
		return "", stt.CauseAudioCapture, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(t.language); err != nil {
		slog.Warn("whisper native language not applied", "language", t.language, "error", err)
	}

	if err := wctx.Process(pcmToSamples(pcm, t.channels), nil, nil, nil); err != nil {
		slog.Error("whisper native inference failed", "error", err)
		return "", stt.CauseAudioCapture, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", stt.CauseAudioCapture, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), 0, nil
}

// pcmToSamples converts interleaved 16-bit little-endian PCM to the mono
// [-1, 1] float32 samples whisper.cpp consumes, averaging channels per frame.
// A trailing incomplete frame is ignored.
func pcmToSamples(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	samples := make([]float32, frames)
	for i := range samples {
		var sum float32
		for c := range channels {
			off := (i*channels + c) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[off:]))) / 32768
		}
		samples[i] = sum / float32(channels)
	}
	return samples
}
