// Package types defines the shared types used across all tandem packages.
//
// These types form the lingua franca between audio platforms, providers, the
// turn pipeline, and the history layer. They are intentionally minimal — each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Side identifies one of the two parties in the conversation.
type Side int

const (
	// SideA is the party speaking the pair's first language.
	SideA Side = iota

	// SideB is the party speaking the pair's second language.
	SideB
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// String returns the human-readable side name.
func (s Side) String() string {
	switch s {
	case SideA:
		return "A"
	case SideB:
		return "B"
	default:
		return "UNKNOWN"
	}
}

// LanguagePair holds the two BCP-47 language codes of a conversation.
// Side A speaks A, side B speaks B.
type LanguagePair struct {
	A string
	B string
}

// For returns the language spoken on the given side.
func (p LanguagePair) For(s Side) string {
	if s == SideA {
		return p.A
	}
	return p.B
}

// TargetFor returns the language the given side's speech is translated into,
// i.e. the language of the opposite side.
func (p LanguagePair) TargetFor(s Side) string {
	return p.For(s.Other())
}

// Same reports whether both codes denote the same language. Comparison is
// case-insensitive so "en-US" and "EN-us" match.
func (p LanguagePair) Same() bool {
	return strings.EqualFold(strings.TrimSpace(p.A), strings.TrimSpace(p.B))
}

// String returns the pair in "a<->b" form for logs and the startup summary.
func (p LanguagePair) String() string {
	return p.A + "<->" + p.B
}

// Utterance is one finished segment of speech captured from the active side,
// ready for translation. It is the unit of work flowing from the segmenter
// through the coordinator to the renderer.
type Utterance struct {
	// ID uniquely identifies the utterance across logs, metrics, and history.
	ID uuid.UUID

	// Side is the party that spoke.
	Side Side

	// Text is the assembled transcript text.
	Text string

	// SourceLang is the language the text was spoken in.
	SourceLang string

	// TargetLang is the language the text must be rendered in.
	TargetLang string

	// CapturedAt is when the segment was flushed.
	CapturedAt time.Time
}

// Translation is the outcome of translating one utterance.
type Translation struct {
	// Utterance is the input this translation belongs to.
	Utterance Utterance

	// TranslatedText is the text in the target language. On fallback it
	// equals the original text.
	TranslatedText string

	// FromCache indicates the result was served from the coordinator cache
	// without a backend call.
	FromCache bool

	// Pivoted indicates the translation went through an English intermediate.
	Pivoted bool

	// Fallback indicates all attempts failed and the original text was
	// passed through untranslated.
	Fallback bool

	// Dur is the wall time spent producing the result, zero for cache hits.
	Dur time.Duration
}

// ErrorKind classifies pipeline failures by how the turn controller must
// react to them.
type ErrorKind int

const (
	// AudioUnavailable means the audio device cannot be read. Fatal.
	AudioUnavailable ErrorKind = iota

	// RecognitionError means the recognizer failed. Fatality depends on the
	// underlying cause; see the stt provider's error classification.
	RecognitionError

	// TranslationFailed means all translation attempts were exhausted.
	// Recoverable: the original text is passed through.
	TranslationFailed

	// SpeechError means synthesis or playback failed mid-utterance.
	// Recoverable: the turn completes as if the speech had finished.
	SpeechError
)

// String returns the stable name of the error kind used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case AudioUnavailable:
		return "audio_unavailable"
	case RecognitionError:
		return "recognition_error"
	case TranslationFailed:
		return "translation_failed"
	case SpeechError:
		return "speech_error"
	default:
		return "unknown"
	}
}

// Fatal reports whether the kind always forces the engine into the error
// state. Recognition errors carry their own per-cause fatality and report
// false here.
func (k ErrorKind) Fatal() bool {
	return k == AudioUnavailable
}

// EngineError pairs a pipeline failure with its classification.
type EngineError struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error { return e.Err }

// NewEngineError wraps err with the given kind.
func NewEngineError(kind ErrorKind, err error) *EngineError {
	return &EngineError{Kind: kind, Err: err}
}
