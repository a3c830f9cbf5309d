// Package stt defines the recognizer contract shared by all speech-to-text
// backends.
//
// A recognizer wraps a transcription engine (a whisper.cpp server, the
// whisper.cpp CGO bindings, or a mock) behind one streaming shape. Opening a
// session yields a SessionHandle that swallows raw PCM and hands back
// Transcript values on two channels: quick provisional partials and committed
// finals. A third channel carries classified recognition events, which is how
// the turn controller tells a transient hiccup from a configuration that can
// never work.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// StreamConfig fixes the audio format and recognition language for one
// session. Providers validate it in StartStream and reject combinations they
// cannot serve.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The engine captures at 16000.
	SampleRate int

	// Channels is the channel count. Recognition wants mono; providers may
	// downmix wider input themselves.
	Channels int

	// Language is the BCP-47 tag to recognize ("en", "de"). The turn
	// controller restarts the session with the other side's language on
	// every flip. Empty means auto-detect where the backend supports it.
	Language string
}

// FailureCause classifies a recognition failure by how the engine must react.
type FailureCause int

const (
	// CauseNoSpeech means a flushed audio window produced no recognizable
	// speech. The engine keeps listening without surfacing anything.
	CauseNoSpeech FailureCause = iota

	// CauseAudioCapture means a transient capture or backend problem dropped
	// one inference. The engine keeps the session running.
	CauseAudioCapture

	// CausePermissionDenied means the backend refused access (bad credentials,
	// revoked key). Fatal: retrying cannot succeed.
	CausePermissionDenied

	// CauseNotSupported means the requested configuration (language, format)
	// is not supported by the backend. Fatal.
	CauseNotSupported
)

// String returns the stable name used in logs and metrics.
func (c FailureCause) String() string {
	switch c {
	case CauseNoSpeech:
		return "no_speech"
	case CauseAudioCapture:
		return "audio_capture"
	case CausePermissionDenied:
		return "permission_denied"
	case CauseNotSupported:
		return "not_supported"
	default:
		return "unknown"
	}
}

// Fatal reports whether the cause ends the engine rather than being retried.
func (c FailureCause) Fatal() bool {
	return c == CausePermissionDenied || c == CauseNotSupported
}

// SessionEvent reports a non-transcript occurrence inside a session.
type SessionEvent struct {
	// Cause classifies the failure.
	Cause FailureCause

	// Err is the underlying error, nil for CauseNoSpeech.
	Err error
}

// SessionHandle is an open recognition session. It is an interface so tests
// can stand in a fake without a live backend.
//
// Sessions hold goroutines and often network connections, so callers must
// Close them when done. All methods may be called concurrently.
type SessionHandle interface {
	// SendAudio feeds one chunk of raw PCM to the recognizer. The bytes
	// must be in the format fixed by StreamConfig. After Close, SendAudio
	// returns an error.
	SendAudio(chunk []byte) error

	// Partials emits provisional transcripts while the recognizer is still
	// guessing. They feed the segmenter's interim buffer and carry no
	// authority. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits transcripts the recognizer has committed to; these are
	// the fragments the segmenter accumulates. Closed when the session
	// ends.
	Finals() <-chan Transcript

	// Events emits classified recognition events. Non-fatal causes are
	// informational; a fatal cause obliges the caller to stop the engine.
	// Closed when the session ends.
	Events() <-chan SessionEvent

	// Close ends the session, flushing pending audio and releasing its
	// resources. Partials, Finals, and Events are closed by the time it
	// returns. Closing twice is safe and returns nil.
	Close() error
}

// Provider is one recognition backend.
//
// The engine runs a single session at a time but reopens one on every side
// flip, so StartStream must be cheap.
type Provider interface {
	// StartStream opens a session with the given format and language; the
	// handle accepts audio immediately. An error means the session could
	// not be established: bad credentials, an unsupported configuration, or
	// a context that is already cancelled. The caller owns the handle and
	// must Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
