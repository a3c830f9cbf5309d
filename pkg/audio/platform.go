// Package audio defines the interfaces and types for audio device access
// and PCM stream handling within tandem.
//
// Two abstractions carry the package:
//
//   - [Platform] opens the audio transport and returns a [Device].
//   - [Device] is one full-duplex endpoint: a capture stream of mono PCM
//     frames and a blocking playback path.
//
// Implementations are provided by transport-specific adapter packages
// (audio/portaudio for the local sound card, audio/wsbridge for a remote
// handset over a websocket). The interfaces are intentionally narrow to keep
// the turn pipeline decoupled from transport details.
//
// This package lives under pkg/ because external code (third-party device
// adapters) is expected to implement [Platform] and [Device].
package audio

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the audio device cannot be opened or has stopped
// delivering frames. The turn controller treats this as fatal.
var ErrUnavailable = errors.New("audio: device unavailable")

// Device represents an open full-duplex audio endpoint.
//
// A Device is obtained by calling [Platform.Open] and remains valid until
// [Device.Close] is called or the transport fails. Implementations must be
// safe for concurrent use.
type Device interface {
	// Frames returns the capture stream. Frames carry 16-bit little-endian
	// mono PCM in the device's capture [Format]. The channel is closed when
	// the device is closed or the transport fails; after it closes, [Device.Err]
	// distinguishes failure from clean shutdown.
	Frames() <-chan AudioFrame

	// Play submits one frame for playback and blocks until the frame has been
	// handed to the output transport (not necessarily until it was heard).
	// Implementations convert sample rate and channel count to their output
	// format as needed. ctx bounds the wait.
	Play(ctx context.Context, frame AudioFrame) error

	// Format reports the capture format of frames delivered by [Device.Frames].
	Format() Format

	// Err returns the terminal capture error once the Frames channel is
	// closed, or nil after a clean Close. Before the channel closes the
	// result is always nil.
	Err() error

	// Close stops capture and playback and releases the device. It is safe
	// to call Close more than once; subsequent calls are no-ops.
	Close() error
}

// Platform is the entry point for an audio transport.
// Implementations wrap transport-specific stacks (PortAudio, websocket+Opus)
// and expose a uniform [Device] abstraction.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Name returns the transport identifier used in config and logs
	// (e.g., "portaudio", "wsbridge", "mock").
	Name() string

	// Open establishes the device. ctx governs the lifetime of the open
	// attempt only; once open, the Device remains alive until [Device.Close].
	// Implementations that wait for a remote peer must honor ctx cancellation.
	//
	// Returns an error (wrapping [ErrUnavailable] where detectable) if the
	// transport cannot be established.
	Open(ctx context.Context) (Device, error)

	// Close releases platform-wide resources. Devices opened from this
	// platform become invalid.
	Close() error
}
