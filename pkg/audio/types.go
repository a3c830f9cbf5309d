package audio

import "time"

// AudioFrame is one slice of PCM moving through the pipeline. Capture devices
// emit frames, the level meter and mono converter pass them along, and
// playback consumes them.
type AudioFrame struct {
	// Data holds 16-bit little-endian signed samples, channels interleaved.
	Data []byte

	// SampleRate in Hz. Transport runs at 48000, recognition at 16000.
	SampleRate int

	// Channels counts the interleaved channels. The pipeline is mono end
	// to end; anything wider is downmixed on entry.
	Channels int

	// Timestamp is the capture time relative to stream start.
	Timestamp time.Duration
}
