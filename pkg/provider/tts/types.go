package tts

import (
	"time"

	"github.com/tandemvoice/tandem/pkg/audio"
)

// Request is a single synthesis request.
type Request struct {
	// Text is the text to speak.
	Text string

	// Lang is the lowercase language code of Text (e.g. "en", "es"). Backends
	// with a fixed-language model may ignore it.
	Lang string

	// Voice selects a provider-specific voice. Empty picks the provider
	// default.
	Voice string

	// Speed adjusts the speaking rate (0.5–2.0). Zero means the provider
	// default of 1.0.
	Speed float64
}

// Audio is synthesized speech as 16-bit little-endian PCM.
type Audio struct {
	// PCM holds the samples.
	PCM []byte

	// Format describes the sample rate and channel count of PCM.
	Format audio.Format
}

// Duration returns the playing time of the audio.
func (a Audio) Duration() time.Duration {
	return audio.FrameDuration(len(a.PCM), a.Format)
}
