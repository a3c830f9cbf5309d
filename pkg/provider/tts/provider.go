// Package tts defines the synthesizer contract shared by all text-to-speech
// backends.
//
// A synthesizer wraps a speech service (the OpenAI speech API, a local Piper
// instance) and renders one chunk of text per call. The playback pipeline
// splits utterances into chunks, keeps them strictly ordered, and calls
// Synthesize once per chunk, so the contract is request/response rather than
// streaming.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is one speech synthesis backend.
type Provider interface {
	// Synthesize renders req.Text as speech and returns the PCM audio.
	// Implementations must honor ctx cancellation and deadlines; a chunk that
	// cannot be synthesised returns a zero Audio and an error.
	Synthesize(ctx context.Context, req Request) (Audio, error)

	// Name returns a short identifier for logs and status messages.
	Name() string
}
