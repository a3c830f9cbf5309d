package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// Format is the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// MonoConverter normalizes AudioFrames onto the engine's working format:
// 16-bit mono PCM at TargetRate. Since the whole pipeline runs single-channel,
// conversion only ever moves toward mono: multi-channel input is downmixed
// first, then resampled, which keeps the interpolation on one channel instead
// of N.
//
// A converter belongs to a single stream and must not be shared between
// goroutines.
type MonoConverter struct {
	TargetRate int

	mismatchOnce sync.Once
	corruptOnce  sync.Once
}

// Convert normalizes one frame. A frame already in the target format is
// returned unchanged without allocating. Frames whose byte count does not
// divide into whole 16-bit frames are dropped (empty Data), with a warning
// logged once per converter.
func (c *MonoConverter) Convert(frame AudioFrame) AudioFrame {
	channels := max(frame.Channels, 1)

	if len(frame.Data)%(2*channels) != 0 {
		c.corruptOnce.Do(func() {
			slog.Warn("audio converter: PCM does not divide into whole frames, dropping",
				"bytes", len(frame.Data),
				"sample_rate", frame.SampleRate,
				"channels", channels,
			)
		})
		return AudioFrame{SampleRate: c.TargetRate, Channels: 1, Timestamp: frame.Timestamp}
	}

	if channels == 1 && frame.SampleRate == c.TargetRate {
		return frame
	}

	c.mismatchOnce.Do(func() {
		slog.Warn("audio converter: normalizing stream",
			"from_rate", frame.SampleRate,
			"from_channels", channels,
			"to_rate", c.TargetRate,
		)
	})

	pcm := DownmixMono(frame.Data, channels)
	pcm = ResampleMono16(pcm, frame.SampleRate, c.TargetRate)

	return AudioFrame{
		Data:       pcm,
		SampleRate: c.TargetRate,
		Channels:   1,
		Timestamp:  frame.Timestamp,
	}
}

// DownmixMono collapses interleaved 16-bit PCM of any channel count to mono
// by averaging the channels of each frame. Mono input is returned unchanged.
// The average of int16 values is always in int16 range, so no clamping is
// needed.
func DownmixMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := (i*channels + ch) * 2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/int32(channels))))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate by linear
// interpolation, stepping through the input in 16.16 fixed point so long
// clips accumulate no float error. The input is returned unchanged when no
// work is needed or either rate is invalid.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	step := (int64(srcRate) << 16) / int64(dstRate)

	var pos int64
	for i := range dstSamples {
		j := int(pos >> 16)
		frac := pos & 0xffff

		s0 := int64(int16(binary.LittleEndian.Uint16(pcm[j*2:])))
		s1 := s0
		if j+1 < srcSamples {
			s1 = int64(int16(binary.LittleEndian.Uint16(pcm[(j+1)*2:])))
		}
		v := s0 + ((s1-s0)*frac)>>16
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
		pos += step
	}
	return out
}
