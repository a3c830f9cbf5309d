package wsbridge

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

// Bridge audio is 48 kHz mono Opus in 20 ms frames, both directions.
const (
	opusSampleRate  = 48000
	opusChannels    = 1
	opusFrameSizeMs = 20
	opusFrameSize   = opusSampleRate * opusFrameSizeMs / 1000 // samples per frame
	opusFrameBytes  = opusFrameSize * 2                       // 16-bit mono

	// maxPacketBytes is the Opus hard upper bound for one encoded frame.
	maxPacketBytes = 1275
)

// opusDecoder turns incoming packets back into little-endian PCM. Packets
// depend on decoder state, so every handset connection keeps its own.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

func (d *opusDecoder) decode(packet []byte) ([]byte, error) {
	samples, err := d.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: opus decode: %w", err)
	}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm, nil
}

// opusEncoder compresses one playback frame at a time. The sample buffer is
// reused, which is fine because each device runs a single playback goroutine.
type opusEncoder struct {
	enc *gopus.Encoder
	buf []int16
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc, buf: make([]int16, opusFrameSize)}, nil
}

// encode compresses exactly one frame of little-endian PCM; the playback loop
// pads the tail chunk, so anything else is a bug upstream.
func (e *opusEncoder) encode(pcm []byte) ([]byte, error) {
	if len(pcm) != opusFrameBytes {
		return nil, fmt.Errorf("wsbridge: opus encode: frame is %d bytes, want %d", len(pcm), opusFrameBytes)
	}
	for i := range e.buf {
		e.buf[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	packet, err := e.enc.Encode(e.buf, opusFrameSize, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: opus encode: %w", err)
	}
	return packet, nil
}
