// Package wsbridge implements [audio.Platform] for a remote handset bridged
// over a websocket. The platform doubles as an [http.Handler]; the app mounts
// it on the engine's HTTP server (conventionally at /ws/audio) and a handset
// client connects to it.
//
// Wire protocol, both directions:
//
//   - Binary messages carry one 20 ms Opus frame of 48 kHz mono audio.
//   - Text messages carry small JSON control payloads. The only one currently
//     defined is the client hello: {"type":"hello","device":"<name>"}.
//
// Inbound frames are decoded and resampled to the 16 kHz mono capture format;
// playback audio is resampled to 48 kHz and Opus-encoded per frame. A newly
// connecting handset replaces the previous one, which keeps a flaky handset's
// reconnect from wedging the bridge. The capture stream stays open across
// handset reconnects; while no handset is connected the device simply
// delivers no frames.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/tandemvoice/tandem/pkg/audio"
)

// Compile-time assertions.
var (
	_ audio.Platform = (*Platform)(nil)
	_ http.Handler   = (*Platform)(nil)
	_ audio.Device   = (*device)(nil)
)

const captureRate = 16000

// helloMessage is the control payload a handset sends after connecting.
type helloMessage struct {
	Type   string `json:"type"`
	Device string `json:"device"`
}

// Platform bridges one remote handset into the engine.
type Platform struct {
	mu     sync.Mutex
	dev    *device
	opened bool
}

// New creates a websocket bridge platform. Mount it on an HTTP server and
// pass it to the engine as its audio platform.
func New() *Platform {
	return &Platform{dev: newDevice()}
}

// Name implements [audio.Platform].
func (p *Platform) Name() string { return "wsbridge" }

// Open implements [audio.Platform]. The device is ready immediately; frames
// start flowing once a handset connects to the HTTP endpoint. A device that
// was closed is replaced by a fresh one, so the engine can reopen the bridge
// after a teardown; only one live device exists at a time.
func (p *Platform) Open(ctx context.Context) (audio.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("wsbridge: context already cancelled: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opened && !p.dev.closed() {
		return nil, errors.New("wsbridge: device already open")
	}
	if p.dev.closed() {
		p.dev = newDevice()
	}
	p.opened = true
	return p.dev, nil
}

// Close implements [audio.Platform].
func (p *Platform) Close() error {
	p.mu.Lock()
	dev := p.dev
	p.mu.Unlock()
	return dev.Close()
}

// ServeHTTP implements [http.Handler]. Each upgrade attaches the connection
// as the current handset, replacing any previous one.
func (p *Platform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	dev := p.dev
	p.mu.Unlock()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("wsbridge: websocket accept failed", "error", err)
		return
	}
	if err := dev.attach(conn); err != nil {
		slog.Warn("wsbridge: handset rejected", "error", err)
		conn.Close(websocket.StatusInternalError, "attach failed")
		return
	}
}

// ─── device ───────────────────────────────────────────────────────────────────

// device is the bridged audio endpoint. At most one handset connection is
// active at a time.
type device struct {
	frames chan audio.AudioFrame

	connMu sync.Mutex
	conn   *websocket.Conn
	enc    *opusEncoder

	playMu sync.Mutex
	conv   audio.MonoConverter

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup

	elapsedNs atomic.Int64
	dropped   atomic.Int64
}

func newDevice() *device {
	ctx, cancel := context.WithCancel(context.Background())
	return &device{
		frames: make(chan audio.AudioFrame, 64),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Frames implements [audio.Device].
func (d *device) Frames() <-chan audio.AudioFrame { return d.frames }

// closed reports whether Close has run.
func (d *device) closed() bool {
	select {
	case <-d.ctx.Done():
		return true
	default:
		return false
	}
}

// Format implements [audio.Device].
func (d *device) Format() audio.Format {
	return audio.Format{SampleRate: captureRate, Channels: 1}
}

// Err implements [audio.Device]. The bridge survives handset disconnects, so
// the capture stream only ends on Close; there is no terminal failure mode.
func (d *device) Err() error { return nil }

// Play implements [audio.Device]. Fails when no handset is connected; the
// renderer reports that as a speech failure and the turn still completes.
func (d *device) Play(ctx context.Context, frame audio.AudioFrame) error {
	d.connMu.Lock()
	conn, enc := d.conn, d.enc
	d.connMu.Unlock()
	if conn == nil {
		return errors.New("wsbridge: no handset connected")
	}

	d.playMu.Lock()
	defer d.playMu.Unlock()

	d.conv.TargetRate = opusSampleRate
	pcm := d.conv.Convert(frame).Data

	for off := 0; off < len(pcm); off += opusFrameBytes {
		end := off + opusFrameBytes
		chunk := make([]byte, opusFrameBytes)
		if end > len(pcm) {
			// Zero-pad the trailing partial frame; Opus needs full frames.
			copy(chunk, pcm[off:])
		} else {
			copy(chunk, pcm[off:end])
		}
		packet, err := enc.encode(chunk)
		if err != nil {
			return err
		}
		if err := conn.Write(ctx, websocket.MessageBinary, packet); err != nil {
			return fmt.Errorf("wsbridge: write frame: %w", err)
		}
	}
	return nil
}

// Close implements [audio.Device]. Disconnects the handset and ends the
// capture stream.
func (d *device) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		d.connMu.Lock()
		conn := d.conn
		d.conn = nil
		d.enc = nil
		d.connMu.Unlock()
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "device closed")
		}
		d.wg.Wait()
		close(d.frames)
	})
	return nil
}

// attach makes conn the current handset, replacing and closing any previous
// connection, and starts its read loop.
func (d *device) attach(conn *websocket.Conn) error {
	select {
	case <-d.ctx.Done():
		return errors.New("wsbridge: device closed")
	default:
	}

	dec, err := newOpusDecoder()
	if err != nil {
		return err
	}
	enc, err := newOpusEncoder()
	if err != nil {
		return err
	}

	d.connMu.Lock()
	old := d.conn
	d.conn = conn
	d.enc = enc
	d.connMu.Unlock()

	if old != nil {
		slog.Info("wsbridge: handset replaced by new connection")
		old.Close(websocket.StatusNormalClosure, "replaced by new connection")
	}

	d.wg.Add(1)
	go d.readLoop(conn, dec)
	return nil
}

// readLoop drains one handset connection until it fails or is replaced.
func (d *device) readLoop(conn *websocket.Conn, dec *opusDecoder) {
	defer d.wg.Done()

	for {
		typ, data, err := conn.Read(d.ctx)
		if err != nil {
			d.connMu.Lock()
			current := d.conn == conn
			if current {
				d.conn = nil
				d.enc = nil
			}
			d.connMu.Unlock()
			if current && d.ctx.Err() == nil {
				slog.Info("wsbridge: handset disconnected", "error", err)
			}
			return
		}

		switch typ {
		case websocket.MessageText:
			var hello helloMessage
			if err := json.Unmarshal(data, &hello); err == nil && hello.Type == "hello" {
				slog.Info("wsbridge: handset connected", "device", hello.Device)
			}

		case websocket.MessageBinary:
			pcm48, err := dec.decode(data)
			if err != nil {
				slog.Warn("wsbridge: dropping undecodable frame", "error", err)
				continue
			}
			pcm16 := audio.ResampleMono16(pcm48, opusSampleRate, captureRate)

			frameDur := audio.FrameDuration(len(pcm16), d.Format())
			ts := d.elapsedNs.Add(int64(frameDur)) - int64(frameDur)
			frame := audio.AudioFrame{
				Data:       pcm16,
				SampleRate: captureRate,
				Channels:   1,
				Timestamp:  time.Duration(ts),
			}
			select {
			case d.frames <- frame:
			default:
				if n := d.dropped.Add(1); n == 1 || n%100 == 0 {
					slog.Warn("wsbridge: capture frames dropped, consumer too slow", "dropped", n)
				}
			}
		}
	}
}
