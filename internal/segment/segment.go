// Package segment assembles the recognizer's incremental transcript stream
// into discrete utterances ready for translation.
//
// Finalized fragments accumulate in a buffer; the latest interim transcript
// is retained alongside. When the level monitor detects a silence window (or
// a caller forces a flush), the buffer is concatenated, filtered for filler
// and noise, and emitted as a [types.Utterance] stamped with the side and
// language pair active at that moment.
//
// Flushing is gated: while an emitted utterance awaits translation, further
// silence events accumulate text instead of emitting, so a slow downstream
// never loses speech. [Segmenter.Release] re-arms flushing.
package segment

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tandemvoice/tandem/internal/observe"
	"github.com/tandemvoice/tandem/pkg/types"
)

const (
	// DefaultQueueCapacity bounds utterances waiting on a busy pipeline.
	DefaultQueueCapacity = 4

	// DefaultMinRunes is the smallest trimmed utterance worth translating.
	DefaultMinRunes = 2
)

// SideSource reports the active conversation side and the language pair. The
// turn controller implements it. The segmenter consults it at flush time so
// each utterance is stamped with the side that actually spoke it.
type SideSource interface {
	ActiveSide() types.Side
	Languages() types.LanguagePair
}

// Option configures a [Segmenter] during construction.
type Option func(*Segmenter)

// WithQueueCapacity sets how many flushed utterances may wait for the
// pipeline before the segmenter holds text in its buffer instead. Values
// below 1 are raised to 1. The default is [DefaultQueueCapacity].
func WithQueueCapacity(n int) Option {
	return func(s *Segmenter) {
		s.queueCap = max(n, 1)
	}
}

// WithMinRunes sets the minimum trimmed utterance length, in runes, that
// survives the discard filter. The default is [DefaultMinRunes].
func WithMinRunes(n int) Option {
	return func(s *Segmenter) {
		s.minRunes = max(n, 0)
	}
}

// WithExtraDisfluencies appends filler words to the built-in stoplist.
// Useful for language-specific fillers ("este", "pues", "äh").
func WithExtraDisfluencies(words []string) Option {
	return func(s *Segmenter) {
		s.extra = words
	}
}

// WithMetrics sets the metrics instance used to record discarded segments
// and queue depth. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Segmenter) {
		s.metrics = m
	}
}

// Segmenter buffers transcript fragments and emits utterances on silence.
// All methods are safe for concurrent use.
type Segmenter struct {
	sides   SideSource
	metrics *observe.Metrics

	queueCap int
	minRunes int
	extra    []string
	filter   *filter

	mu       sync.Mutex
	finals   []string
	interim  string
	inFlight bool

	out chan types.Utterance
}

// New creates a Segmenter reading side and language state from sides.
func New(sides SideSource, opts ...Option) *Segmenter {
	s := &Segmenter{
		sides:    sides,
		queueCap: DefaultQueueCapacity,
		minRunes: DefaultMinRunes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.filter = newFilter(s.minRunes, s.extra)
	s.out = make(chan types.Utterance, s.queueCap)
	return s
}

// AddFinal appends a finalized transcript fragment to the buffer. The
// fragment supersedes any retained interim text, which the recognizer has by
// then folded into the final. Empty fragments are ignored.
func (s *Segmenter) AddFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	s.finals = append(s.finals, text)
	s.interim = ""
	s.mu.Unlock()
}

// SetInterim retains the latest interim transcript. Interim-only text is
// never discarded: if no final arrives before the next flush, the interim
// text is included in the emitted utterance.
func (s *Segmenter) SetInterim(text string) {
	s.mu.Lock()
	s.interim = strings.TrimSpace(text)
	s.mu.Unlock()
}

// OnSilence flushes the buffer in response to a detected silence window.
func (s *Segmenter) OnSilence() {
	s.flush("silence")
}

// FlushNow forces a flush outside the silence path, for manual triggers and
// side switches. It applies the same filtering and gating as [Segmenter.OnSilence].
func (s *Segmenter) FlushNow() {
	s.flush("manual")
}

// Release re-arms flushing after the in-flight utterance has cleared
// translation. The turn controller calls it exactly once per emitted
// utterance. Calling Release with nothing in flight is a no-op.
func (s *Segmenter) Release() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// Reset discards buffered text without emitting and re-arms flushing. Called
// on side flips and stop so one side's leftovers never leak into the other
// side's first utterance.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	s.clearLocked()
	s.inFlight = false
	s.mu.Unlock()
}

// Utterances returns the channel on which flushed utterances are delivered.
// The channel is buffered and never closed. When the queue is full the
// segmenter keeps text in its buffer rather than dropping it; the text rides
// along with the next flush.
func (s *Segmenter) Utterances() <-chan types.Utterance {
	return s.out
}

// flush assembles buffered text, filters it, and emits an utterance. The
// trigger is only used for logging.
func (s *Segmenter) flush(trigger string) {
	// Read side state before taking the buffer lock; flips only happen
	// between turns, never during a flush.
	side := s.sides.ActiveSide()
	pair := s.sides.Languages()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		slog.Debug("segment: flush skipped, utterance in flight", "trigger", trigger)
		return
	}

	text := s.assembleLocked()
	if text == "" {
		return
	}

	if reason := s.filter.discardReason(text); reason != "" {
		s.clearLocked()
		s.metrics.RecordDiscard(context.Background(), reason)
		slog.Debug("segment: segment discarded",
			"reason", reason,
			"runes", utf8.RuneCountInString(text),
			"trigger", trigger)
		return
	}

	utt := types.Utterance{
		ID:         uuid.New(),
		Side:       side,
		Text:       text,
		SourceLang: pair.For(side),
		TargetLang: pair.TargetFor(side),
		CapturedAt: time.Now(),
	}

	select {
	case s.out <- utt:
		s.clearLocked()
		s.inFlight = true
		s.metrics.QueuedUtterances.Add(context.Background(), 1)
		slog.Debug("segment: utterance flushed",
			"id", utt.ID,
			"side", utt.Side.String(),
			"runes", utf8.RuneCountInString(text),
			"trigger", trigger)
	default:
		// Queue full. Keep the buffer so the text rides the next flush.
		slog.Warn("segment: utterance queue full, holding buffer", "trigger", trigger)
	}
}

// assembleLocked joins finals and the trailing interim with single spaces.
// Fragments are trimmed on entry, so no further cleanup is needed here.
func (s *Segmenter) assembleLocked() string {
	text := strings.Join(s.finals, " ")
	if s.interim != "" {
		if text != "" {
			text += " "
		}
		text += s.interim
	}
	return text
}

func (s *Segmenter) clearLocked() {
	s.finals = nil
	s.interim = ""
}
