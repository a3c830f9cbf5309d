// Shared batching machinery for both whisper providers. whisper.cpp only
// transcribes complete clips, so the HTTP and the native provider fake a
// stream the same way: gate incoming PCM on energy, collect one voiced clip,
// and hand it to a transcriber once the speaker goes quiet.

package whisper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tandemvoice/tandem/pkg/audio"
	"github.com/tandemvoice/tandem/pkg/provider/stt"
)

const (
	// voiceThreshold is the normalized RMS level (see audio.RMS16) separating
	// voiced chunks from quiet ones. Roughly 300 in raw 16-bit PCM units.
	voiceThreshold = 0.009

	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// defaultFlushAfterMs is how much consecutive quiet commits a clip.
	defaultFlushAfterMs = 500

	// defaultMaxClipMs caps a single clip so continuous speech cannot grow
	// the buffer without bound.
	defaultMaxClipMs = 10_000

	// closeFlushTimeout bounds the last inference issued for audio still
	// buffered when a session shuts down.
	closeFlushTimeout = 30 * time.Second
)

// transcriber runs one batch inference over a finished clip of 16-bit
// little-endian PCM. The cause is consulted only when err is non-nil.
type transcriber interface {
	transcribe(ctx context.Context, pcm []byte) (text string, cause stt.FailureCause, err error)
}

// tuning holds the knobs shared by both providers. Per-stream values from
// StreamConfig override it via resolve.
type tuning struct {
	language     string
	sampleRate   int
	flushAfterMs int
	maxClipMs    int
}

func defaultTuning() tuning {
	return tuning{
		language:     defaultLanguage,
		sampleRate:   defaultSampleRate,
		flushAfterMs: defaultFlushAfterMs,
		maxClipMs:    defaultMaxClipMs,
	}
}

// resolve merges per-stream overrides onto the provider defaults.
func (t tuning) resolve(cfg stt.StreamConfig) (lang string, sampleRate, channels int) {
	lang = cfg.Language
	if lang == "" {
		lang = t.language
	}
	sampleRate = cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = t.sampleRate
	}
	channels = cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	return lang, sampleRate, channels
}

// speechGate turns a continuous PCM feed into discrete voiced clips. Quiet
// before any speech is discarded; once a voiced chunk arrives everything
// buffers until either flushAfterMs of consecutive quiet or maxBytes of
// audio, at which point feed returns the finished clip.
//
// Not safe for concurrent use. batchSession confines the gate to its single
// session goroutine.
type speechGate struct {
	flushAfterMs int
	maxBytes     int
	bytesPerMs   int

	buf     []byte
	voiced  bool
	quietMs int
}

func newSpeechGate(sampleRate, channels, flushAfterMs, maxClipMs int) *speechGate {
	perMs := sampleRate * channels * 2 / 1000
	if perMs <= 0 {
		perMs = 32 // 16 kHz mono 16-bit
	}
	g := &speechGate{
		flushAfterMs: flushAfterMs,
		bytesPerMs:   perMs,
	}
	if maxClipMs > 0 {
		g.maxBytes = maxClipMs * perMs
	}
	return g
}

// feed consumes one chunk and returns a completed clip, or nil while one is
// still building.
func (g *speechGate) feed(chunk []byte) []byte {
	if audio.RMS16(chunk) >= voiceThreshold {
		g.voiced = true
		g.quietMs = 0
		g.buf = append(g.buf, chunk...)
		if g.maxBytes > 0 && len(g.buf) >= g.maxBytes {
			return g.take()
		}
		return nil
	}
	if !g.voiced {
		// Quiet before any speech never buffers.
		return nil
	}
	g.buf = append(g.buf, chunk...)
	g.quietMs += len(chunk) / g.bytesPerMs
	if g.quietMs >= g.flushAfterMs {
		return g.take()
	}
	return nil
}

// take hands back whatever voiced audio is pending and re-arms the gate. It
// returns nil when nothing voiced has been buffered yet.
func (g *speechGate) take() []byte {
	clip, voiced := g.buf, g.voiced
	g.buf, g.voiced, g.quietMs = nil, false, 0
	if !voiced || len(clip) == 0 {
		return nil
	}
	return clip
}

// batchSession adapts a batch transcriber to the streaming stt.SessionHandle
// contract. A single goroutine owns the gate: it drains queued audio, runs
// one inference per completed clip, and publishes the text on both output
// channels. whisper.cpp cannot produce true interims, so each partial carries
// the same text as the final it accompanies — the partial keeps the interim
// buffer warm while the final feeds the segmenter.
type batchSession struct {
	gate   *speechGate
	engine transcriber

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript
	events   chan stt.SessionEvent

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ stt.SessionHandle = (*batchSession)(nil)

func newBatchSession(ctx context.Context, gate *speechGate, engine transcriber) *batchSession {
	s := &batchSession{
		gate:     gate,
		engine:   engine,
		audioCh:  make(chan []byte, 256),
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		events:   make(chan stt.SessionEvent, 16),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop(ctx)
	return s
}

// SendAudio queues one chunk of raw 16-bit little-endian PCM for gating. The
// chunk must match the sample rate and channel count agreed in StreamConfig.
// Calling SendAudio after Close returns an error.
func (s *batchSession) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("whisper: session is closed")
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errors.New("whisper: session is closed")
	}
}

// Partials returns the interim transcript channel. Closed when the session ends.
func (s *batchSession) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns the committed transcript channel. Closed when the session ends.
func (s *batchSession) Finals() <-chan stt.Transcript { return s.finals }

// Events returns the classified recognition event channel. Closed when the
// session ends.
func (s *batchSession) Events() <-chan stt.SessionEvent { return s.events }

// Close flushes buffered speech through one last inference, closes the output
// channels, and releases the session goroutine. Calling Close more than once
// is safe and returns nil.
func (s *batchSession) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// emit delivers one event without ever blocking the session goroutine.
func (s *batchSession) emit(ev stt.SessionEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

// loop is the only goroutine touching the gate.
func (s *batchSession) loop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)
	defer close(s.events)

	for {
		select {
		case <-ctx.Done():
			s.closeFlush()
			return
		case <-s.done:
			s.closeFlush()
			return
		case chunk := <-s.audioCh:
			if clip := s.gate.feed(chunk); clip != nil {
				s.publish(ctx, clip)
			}
		}
	}
}

// closeFlush submits whatever the gate is still holding. The session context
// may already be cancelled here, so the last inference gets its own deadline.
func (s *batchSession) closeFlush() {
	clip := s.gate.take()
	if clip == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
	defer cancel()
	s.publish(ctx, clip)
}

// publish runs one inference and fans the result out. Channel sends never
// block: the output buffers are generous, and a full buffer during shutdown
// must not wedge the loop.
func (s *batchSession) publish(ctx context.Context, clip []byte) {
	text, cause, err := s.engine.transcribe(ctx, clip)
	if err != nil {
		s.emit(stt.SessionEvent{Cause: cause, Err: err})
		return
	}
	if text == "" {
		s.emit(stt.SessionEvent{Cause: stt.CauseNoSpeech})
		return
	}
	select {
	case s.partials <- stt.Transcript{Text: text}:
	default:
	}
	select {
	case s.finals <- stt.Transcript{Text: text, IsFinal: true}:
	default:
	}
}
