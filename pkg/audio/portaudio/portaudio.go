// Package portaudio implements [audio.Platform] on top of the local sound
// card via the PortAudio CGO bindings. The PortAudio C library must be
// available at link time.
//
// Capture runs at 16 kHz mono (the recognition rate); playback runs at
// 48 kHz mono. Both rates are configurable through options.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	palib "github.com/gordonklaus/portaudio"
	"github.com/tandemvoice/tandem/pkg/audio"
)

// Compile-time assertion that Platform satisfies audio.Platform.
var _ audio.Platform = (*Platform)(nil)

const (
	defaultCaptureRate     = 16000
	defaultPlaybackRate    = 48000
	defaultFramesPerBuffer = 1600 // 100 ms at 16 kHz
)

// Platform opens the local sound card.
type Platform struct {
	captureRate     int
	playbackRate    int
	framesPerBuffer int
	inputName       string
	outputName      string

	initOnce    sync.Once
	initialized bool
	initErr     error
}

// Option is a functional option for configuring a Platform.
type Option func(*Platform)

// WithCaptureRate sets the capture sample rate in Hz. Defaults to 16000.
func WithCaptureRate(rate int) Option {
	return func(p *Platform) { p.captureRate = rate }
}

// WithPlaybackRate sets the playback sample rate in Hz. Defaults to 48000.
func WithPlaybackRate(rate int) Option {
	return func(p *Platform) { p.playbackRate = rate }
}

// WithFramesPerBuffer sets the capture buffer size in samples. Defaults to
// 1600 (100 ms at 16 kHz).
func WithFramesPerBuffer(n int) Option {
	return func(p *Platform) { p.framesPerBuffer = n }
}

// WithInputDevice selects the capture device by case-insensitive substring
// match on the device name. Empty selects the system default.
func WithInputDevice(name string) Option {
	return func(p *Platform) { p.inputName = name }
}

// WithOutputDevice selects the playback device by case-insensitive substring
// match on the device name. Empty selects the system default.
func WithOutputDevice(name string) Option {
	return func(p *Platform) { p.outputName = name }
}

// New creates a PortAudio platform. The PortAudio runtime is initialized
// lazily on the first Open.
func New(opts ...Option) *Platform {
	p := &Platform{
		captureRate:     defaultCaptureRate,
		playbackRate:    defaultPlaybackRate,
		framesPerBuffer: defaultFramesPerBuffer,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements [audio.Platform].
func (p *Platform) Name() string { return "portaudio" }

// Open implements [audio.Platform]. It initializes PortAudio, resolves the
// input and output devices, and starts the capture stream.
func (p *Platform) Open(ctx context.Context) (audio.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("portaudio: context already cancelled: %w", err)
	}
	p.initOnce.Do(func() {
		p.initErr = palib.Initialize()
		p.initialized = p.initErr == nil
	})
	if p.initErr != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w (%w)", p.initErr, audio.ErrUnavailable)
	}

	inDev, err := findDevice(p.inputName, true)
	if err != nil {
		return nil, fmt.Errorf("portaudio: input device: %w (%w)", err, audio.ErrUnavailable)
	}
	outDev, err := findDevice(p.outputName, false)
	if err != nil {
		return nil, fmt.Errorf("portaudio: output device: %w (%w)", err, audio.ErrUnavailable)
	}

	d := &device{
		format:       audio.Format{SampleRate: p.captureRate, Channels: 1},
		playbackRate: p.playbackRate,
		frames:       make(chan audio.AudioFrame, 64),
		done:         make(chan struct{}),
	}

	inBuf := make([]int16, p.framesPerBuffer)
	inStream, err := palib.OpenStream(palib.StreamParameters{
		Input: palib.StreamDeviceParameters{
			Device:   inDev,
			Channels: 1,
			Latency:  inDev.DefaultLowInputLatency,
		},
		SampleRate:      float64(p.captureRate),
		FramesPerBuffer: p.framesPerBuffer,
	}, inBuf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open capture stream: %w (%w)", err, audio.ErrUnavailable)
	}

	outBuf := make([]int16, p.framesPerBuffer)
	outStream, err := palib.OpenStream(palib.StreamParameters{
		Output: palib.StreamDeviceParameters{
			Device:   outDev,
			Channels: 1,
			Latency:  outDev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(p.playbackRate),
		FramesPerBuffer: p.framesPerBuffer,
	}, outBuf)
	if err != nil {
		inStream.Close()
		return nil, fmt.Errorf("portaudio: open playback stream: %w (%w)", err, audio.ErrUnavailable)
	}

	if err := inStream.Start(); err != nil {
		inStream.Close()
		outStream.Close()
		return nil, fmt.Errorf("portaudio: start capture: %w (%w)", err, audio.ErrUnavailable)
	}
	if err := outStream.Start(); err != nil {
		inStream.Stop()
		inStream.Close()
		outStream.Close()
		return nil, fmt.Errorf("portaudio: start playback: %w (%w)", err, audio.ErrUnavailable)
	}

	d.inStream = inStream
	d.inBuf = inBuf
	d.outStream = outStream
	d.outBuf = outBuf

	slog.Info("portaudio device opened",
		"input", inDev.Name,
		"output", outDev.Name,
		"captureRate", p.captureRate,
		"playbackRate", p.playbackRate,
	)

	d.wg.Add(1)
	go d.captureLoop()
	return d, nil
}

// Close implements [audio.Platform]. Terminates the PortAudio runtime.
func (p *Platform) Close() error {
	p.initOnce.Do(func() {}) // mark consumed if Open never ran
	if !p.initialized {
		return nil
	}
	if err := palib.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// findDevice resolves a device by name substring, or the system default when
// name is empty. input selects between capture and playback device sets.
func findDevice(name string, input bool) (*palib.DeviceInfo, error) {
	if name == "" {
		if input {
			return palib.DefaultInputDevice()
		}
		return palib.DefaultOutputDevice()
	}
	devices, err := palib.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	needle := strings.ToLower(name)
	for _, dev := range devices {
		if !strings.Contains(strings.ToLower(dev.Name), needle) {
			continue
		}
		if input && dev.MaxInputChannels < 1 {
			continue
		}
		if !input && dev.MaxOutputChannels < 1 {
			continue
		}
		return dev, nil
	}
	return nil, fmt.Errorf("no device matching %q", name)
}

// ─── device ───────────────────────────────────────────────────────────────────

// device is an open sound card pair (capture + playback stream).
type device struct {
	format       audio.Format
	playbackRate int

	inStream *palib.Stream
	inBuf    []int16
	frames   chan audio.AudioFrame

	outStream *palib.Stream
	outBuf    []int16
	playMu    sync.Mutex
	conv      audio.MonoConverter

	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	errMu   sync.Mutex
	err     error
	dropped int
}

// Frames implements [audio.Device].
func (d *device) Frames() <-chan audio.AudioFrame { return d.frames }

// Format implements [audio.Device].
func (d *device) Format() audio.Format { return d.format }

// Err implements [audio.Device].
func (d *device) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.err
}

// Play implements [audio.Device]. Converts the frame to the playback format
// and writes it to the output stream in buffer-sized slices.
func (d *device) Play(ctx context.Context, frame audio.AudioFrame) error {
	d.playMu.Lock()
	defer d.playMu.Unlock()

	d.conv.TargetRate = d.playbackRate
	converted := d.conv.Convert(frame)
	pcm := converted.Data
	if len(pcm) == 0 {
		return nil
	}

	for off := 0; off < len(pcm); off += len(d.outBuf) * 2 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.done:
			return fmt.Errorf("portaudio: device closed")
		default:
		}

		n := 0
		for ; n < len(d.outBuf) && off+n*2+1 < len(pcm); n++ {
			d.outBuf[n] = int16(pcm[off+n*2]) | int16(pcm[off+n*2+1])<<8
		}
		// Zero-pad the final partial buffer.
		for i := n; i < len(d.outBuf); i++ {
			d.outBuf[i] = 0
		}
		if err := d.outStream.Write(); err != nil {
			return fmt.Errorf("portaudio: write playback: %w", err)
		}
	}
	return nil
}

// Close implements [audio.Device].
func (d *device) Close() error {
	var err error
	d.once.Do(func() {
		close(d.done)
		stopErr := d.inStream.Stop()
		d.wg.Wait()
		err = errors.Join(
			stopErr,
			d.inStream.Close(),
			d.outStream.Stop(),
			d.outStream.Close(),
		)
	})
	return err
}

// captureLoop reads buffers from the capture stream and forwards them as
// frames. A read failure closes the frame channel with the error recorded.
func (d *device) captureLoop() {
	defer d.wg.Done()
	defer close(d.frames)

	var elapsed time.Duration
	frameDur := audio.FrameDuration(len(d.inBuf)*2, d.format)

	for {
		select {
		case <-d.done:
			return
		default:
		}

		if err := d.inStream.Read(); err != nil {
			select {
			case <-d.done:
				// Stop() aborts a pending Read; not a failure.
				return
			default:
			}
			d.errMu.Lock()
			d.err = fmt.Errorf("portaudio: read capture: %w (%w)", err, audio.ErrUnavailable)
			d.errMu.Unlock()
			return
		}

		data := make([]byte, len(d.inBuf)*2)
		for i, s := range d.inBuf {
			data[i*2] = byte(s)
			data[i*2+1] = byte(s >> 8)
		}

		frame := audio.AudioFrame{
			Data:       data,
			SampleRate: d.format.SampleRate,
			Channels:   1,
			Timestamp:  elapsed,
		}
		elapsed += frameDur

		select {
		case d.frames <- frame:
		default:
			d.dropped++
			if d.dropped == 1 || d.dropped%100 == 0 {
				slog.Warn("portaudio: capture frames dropped, consumer too slow", "dropped", d.dropped)
			}
		}
	}
}

// Compile-time assertion that device satisfies audio.Device.
var _ audio.Device = (*device)(nil)
