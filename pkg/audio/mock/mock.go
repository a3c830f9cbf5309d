// Package mock fakes [audio.Platform] and [audio.Device] for tests.
//
// The doubles capture every call for later assertions and take their return
// values from exported fields. Safe for concurrent use.
//
// Typical usage:
//
//	dev := mock.NewDevice(audio.Format{SampleRate: 16000, Channels: 1})
//	platform := &mock.Platform{OpenResult: dev}
//	dev.EmitFrame(audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1})
//	dev.FailCapture(errors.New("stream died"))
package mock

import (
	"context"
	"sync"

	"github.com/tandemvoice/tandem/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// PlayCall records the frame of a single [Device.Play] invocation.
type PlayCall struct {
	// Frame is the frame passed to Play.
	Frame audio.AudioFrame
}

// Device implements [audio.Device] with scripted behavior.
// Create it with [NewDevice]; feed capture frames with [Device.EmitFrame];
// inspect PlayCalls after the code under test ran.
type Device struct {
	mu sync.Mutex

	format audio.Format
	frames chan audio.AudioFrame
	closed bool

	// CaptureErr is reported by Err after FailCapture closed the frame stream.
	CaptureErr error

	// PlayError is returned by every Play call.
	PlayError error

	// PlayFunc, if set, is invoked by Play instead of the default recording
	// behavior (the call is still recorded first).
	PlayFunc func(ctx context.Context, frame audio.AudioFrame) error

	// PlayCalls records all Play invocations in order.
	PlayCalls []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewDevice creates a mock device reporting the given capture format.
// The internal frame channel is buffered (64 frames).
func NewDevice(format audio.Format) *Device {
	return &Device{
		format: format,
		frames: make(chan audio.AudioFrame, 64),
	}
}

// Frames implements [audio.Device].
func (d *Device) Frames() <-chan audio.AudioFrame { return d.frames }

// Play implements [audio.Device]. Records the call and returns PlayError,
// or delegates to PlayFunc when set.
func (d *Device) Play(ctx context.Context, frame audio.AudioFrame) error {
	d.mu.Lock()
	d.PlayCalls = append(d.PlayCalls, PlayCall{Frame: frame})
	fn := d.PlayFunc
	err := d.PlayError
	d.mu.Unlock()
	if fn != nil {
		return fn(ctx, frame)
	}
	return err
}

// Format implements [audio.Device].
func (d *Device) Format() audio.Format { return d.format }

// Err implements [audio.Device]. Returns CaptureErr.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CaptureErr
}

// Close implements [audio.Device]. Closes the frame stream on first call.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	if !d.closed {
		d.closed = true
		close(d.frames)
	}
	return nil
}

// EmitFrame delivers one capture frame to the code under test.
// Panics if the device was closed or failed.
func (d *Device) EmitFrame(frame audio.AudioFrame) {
	d.frames <- frame
}

// FailCapture simulates a transport failure: records err for Err and closes
// the frame stream.
func (d *Device) FailCapture(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.CaptureErr = err
	close(d.frames)
}

// PlayedBytes returns the total number of PCM bytes passed to Play.
func (d *Device) PlayedBytes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, c := range d.PlayCalls {
		total += len(c.Frame.Data)
	}
	return total
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// Platform implements [audio.Platform] with scripted behavior.
type Platform struct {
	mu sync.Mutex

	// NameResult is returned by Name. Defaults to "mock".
	NameResult string

	// OpenResult is the [audio.Device] returned by Open.
	OpenResult audio.Device

	// OpenError is the error returned by Open.
	OpenError error

	// OpenFunc, if non-nil, computes the result per call and overrides
	// OpenResult and OpenError. Callers exercising reopen cycles can hand
	// out a fresh device per attempt.
	OpenFunc func(ctx context.Context) (audio.Device, error)

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Name implements [audio.Platform].
func (p *Platform) Name() string {
	if p.NameResult == "" {
		return "mock"
	}
	return p.NameResult
}

// Open implements [audio.Platform]. Records the call, then delegates to
// OpenFunc when set, otherwise returns OpenResult / OpenError.
func (p *Platform) Open(ctx context.Context) (audio.Device, error) {
	p.mu.Lock()
	p.CallCountOpen++
	fn := p.OpenFunc
	dev, err := p.OpenResult, p.OpenError
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return dev, err
}

// Close implements [audio.Platform]. Records the call.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountClose++
	return nil
}

// Compile-time interface assertions.
var (
	_ audio.Device   = (*Device)(nil)
	_ audio.Platform = (*Platform)(nil)
)
